package config

// Config is the full daemon configuration.
//
// Files may be YAML or JSON; YAML is coerced to JSON and both formats are
// decoded strictly (unknown fields are errors). All durations are Go
// duration strings (e.g. "500ms", "10s", "30m").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Rotation RotationConfig `json:"rotation,omitempty"`
	Bulk     BulkConfig     `json:"bulk,omitempty"`

	// Accounts seeds the identity pool at startup.
	Accounts []AccountConfig `json:"accounts,omitempty"`

	Notifier    *NotifierConfig    `json:"notifier,omitempty"`
	Storage     *StorageConfig     `json:"storage,omitempty"`
	Maintenance *MaintenanceConfig `json:"maintenance,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"`
	Console *bool  `json:"console,omitempty"`
	File    struct {
		Enabled bool   `json:"enabled,omitempty"`
		Path    string `json:"path,omitempty"`
	} `json:"file,omitempty"`
}

// RotationConfig tunes account selection.
//
// Cooldown tiers are evaluated in order, so list the tightest window
// first. Omitting the section keeps the built-in table
// (30m -> 0.3, 1h -> 0.5).
type RotationConfig struct {
	CooldownTiers []CooldownTierConfig `json:"cooldown_tiers,omitempty"`
}

type CooldownTierConfig struct {
	Within  string  `json:"within"`
	Penalty float64 `json:"penalty"`
}

// BulkConfig carries scheduling defaults and the peak-hour activity table.
//
// PeakHours rows overlay the built-in table per zone; unknown zones fall
// back to UTC at plan time.
type BulkConfig struct {
	AddActionsPerHour    int              `json:"add_actions_per_hour,omitempty"`
	ScrapeActionsPerHour int              `json:"scrape_actions_per_hour,omitempty"`
	DefaultZone          string           `json:"default_zone,omitempty"`
	PeakHours            map[string][]int `json:"peak_hours,omitempty"`
}

type AccountConfig struct {
	Phone   string `json:"phone"`
	Session string `json:"session"`
	Proxy   string `json:"proxy,omitempty"`
}

// NotifierConfig controls the Telegram ops notifier.
type NotifierConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig selects the audit/stats persistence backend.
// Driver is "none" (default), "file", or "sqlite".
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// MaintenanceConfig controls the periodic cron jobs.
//
// Defaults: stats_every "10m", sweep_every "5m".
type MaintenanceConfig struct {
	Enabled    *bool  `json:"enabled,omitempty"`
	StatsEvery string `json:"stats_every,omitempty"`
	SweepEvery string `json:"sweep_every,omitempty"`
}

// ConsoleEnabled defaults console logging on when the field is omitted.
func (l LoggingConfig) ConsoleEnabled() bool {
	if l.Console == nil {
		return true
	}
	return *l.Console
}

// MaintenanceEnabled defaults the maintenance jobs on when the section or
// its enabled flag is omitted.
func (c *Config) MaintenanceEnabled() bool {
	if c.Maintenance == nil || c.Maintenance.Enabled == nil {
		return true
	}
	return *c.Maintenance.Enabled
}

package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"bulkbot/internal/rotation"
)

// Load reads, decodes, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	j, format, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, fmt.Errorf("parse %s config: %w", format, err)
	}

	dec := json.NewDecoder(bytes.NewReader(j))
	dec.DisallowUnknownFields()

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	seen := map[string]bool{}
	for i, a := range c.Accounts {
		phone := strings.TrimSpace(a.Phone)
		if phone == "" {
			return fmt.Errorf("accounts[%d]: phone is required", i)
		}
		if seen[phone] {
			return fmt.Errorf("accounts[%d]: duplicate phone %q", i, phone)
		}
		seen[phone] = true
	}

	if _, err := c.CooldownTiers(); err != nil {
		return err
	}

	if c.Notifier != nil && c.Notifier.Enabled {
		if strings.TrimSpace(c.Notifier.Token) == "" {
			return fmt.Errorf("notifier: token is required when enabled")
		}
		if c.Notifier.ChatID == 0 {
			return fmt.Errorf("notifier: chat_id is required when enabled")
		}
	}

	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("storage: unknown driver %q", c.Storage.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}

	if c.Maintenance != nil {
		if _, err := ParseDurationField("maintenance.stats_every", c.Maintenance.StatsEvery); err != nil {
			return err
		}
		if _, err := ParseDurationField("maintenance.sweep_every", c.Maintenance.SweepEvery); err != nil {
			return err
		}
	}
	return nil
}

// CooldownTiers resolves the configured penalty table, or the built-in
// default when the section is omitted.
func (c *Config) CooldownTiers() ([]rotation.CooldownTier, error) {
	if len(c.Rotation.CooldownTiers) == 0 {
		return rotation.DefaultCooldownTiers(), nil
	}
	out := make([]rotation.CooldownTier, 0, len(c.Rotation.CooldownTiers))
	for i, t := range c.Rotation.CooldownTiers {
		d, err := ParseDurationField(fmt.Sprintf("rotation.cooldown_tiers[%d].within", i), t.Within)
		if err != nil {
			return nil, err
		}
		if d <= 0 {
			return nil, fmt.Errorf("rotation.cooldown_tiers[%d]: within must be > 0", i)
		}
		if t.Penalty < 0 || t.Penalty > 1 {
			return nil, fmt.Errorf("rotation.cooldown_tiers[%d]: penalty must be in [0,1]", i)
		}
		out = append(out, rotation.CooldownTier{Within: d, Penalty: t.Penalty})
	}
	return out, nil
}

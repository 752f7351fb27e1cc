package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
logging:
  level: debug
  console: false
rotation:
  cooldown_tiers:
    - within: 15m
      penalty: 0.2
    - within: 45m
      penalty: 0.6
bulk:
  add_actions_per_hour: 120
  default_zone: Europe/London
  peak_hours:
    Europe/London: [8, 9, 10]
accounts:
  - phone: "+15550001"
    session: sessions/a.session
  - phone: "+15550002"
    session: sessions/b.session
    proxy: socks5://127.0.0.1:1080
storage:
  driver: file
  path: /var/lib/bulkbot/audit
maintenance:
  stats_every: 30m
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.ConsoleEnabled() {
		t.Fatalf("logging section wrong: %+v", cfg.Logging)
	}
	if cfg.Bulk.AddActionsPerHour != 120 || cfg.Bulk.DefaultZone != "Europe/London" {
		t.Fatalf("bulk section wrong: %+v", cfg.Bulk)
	}
	if len(cfg.Bulk.PeakHours["Europe/London"]) != 3 {
		t.Fatalf("peak hours not decoded: %v", cfg.Bulk.PeakHours)
	}
	if len(cfg.Accounts) != 2 || cfg.Accounts[1].Proxy == "" {
		t.Fatalf("accounts wrong: %+v", cfg.Accounts)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "file" {
		t.Fatalf("storage wrong: %+v", cfg.Storage)
	}

	tiers, err := cfg.CooldownTiers()
	if err != nil {
		t.Fatalf("tiers: %v", err)
	}
	if len(tiers) != 2 || tiers[0].Within != 15*time.Minute || tiers[0].Penalty != 0.2 {
		t.Fatalf("tiers wrong: %+v", tiers)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
  "logging": {"level": "info"},
  "accounts": [{"phone": "+15550001", "session": "a.session"}]
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Logging.ConsoleEnabled() {
		t.Fatalf("console must default on when omitted")
	}
	if !cfg.MaintenanceEnabled() {
		t.Fatalf("maintenance must default on when omitted")
	}
}

func TestLoadUnknownFieldRejected(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
logging:
  level: info
  verbosity: high
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("got %v, want unknown field error", err)
	}
}

func TestLoadDefaultTiersWhenOmitted(t *testing.T) {
	path := writeConfig(t, "config.yaml", "logging:\n  level: info\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tiers, err := cfg.CooldownTiers()
	if err != nil {
		t.Fatalf("tiers: %v", err)
	}
	if len(tiers) != 2 || tiers[0].Within != 30*time.Minute || tiers[1].Within != time.Hour {
		t.Fatalf("default tiers wrong: %+v", tiers)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name, body, wantErr string
	}{
		{
			"duplicate phone",
			"accounts:\n  - phone: \"+1555\"\n    session: a\n  - phone: \"+1555\"\n    session: b\n",
			"duplicate phone",
		},
		{
			"missing phone",
			"accounts:\n  - session: a\n",
			"phone is required",
		},
		{
			"bad tier duration",
			"rotation:\n  cooldown_tiers:\n    - within: soon\n      penalty: 0.5\n",
			"cooldown_tiers[0]",
		},
		{
			"tier penalty out of range",
			"rotation:\n  cooldown_tiers:\n    - within: 30m\n      penalty: 1.5\n",
			"penalty must be in [0,1]",
		},
		{
			"notifier missing token",
			"notifier:\n  enabled: true\n  chat_id: 123\n",
			"token is required",
		},
		{
			"notifier missing chat id",
			"notifier:\n  enabled: true\n  token: abc\n",
			"chat_id is required",
		},
		{
			"unknown storage driver",
			"storage:\n  driver: postgres\n",
			"unknown driver",
		},
		{
			"bad maintenance interval",
			"maintenance:\n  stats_every: often\n",
			"maintenance.stats_every",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			path := writeConfig(t, "config.yaml", c.body)
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), c.wantErr) {
				t.Fatalf("got %v, want error containing %q", err, c.wantErr)
			}
		})
	}
}

func TestLoadDisabledNotifierSkipsChecks(t *testing.T) {
	path := writeConfig(t, "config.yaml", "notifier:\n  enabled: false\n")
	if _, err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestParseDurationField(t *testing.T) {
	d, err := ParseDurationField("x", "90s")
	if err != nil || d != 90*time.Second {
		t.Fatalf("got %v %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty must be zero: %v %v", d, err)
	}
	if _, err := ParseDurationField("x", "soonish"); err == nil {
		t.Fatalf("bad duration must fail")
	}
	if got, err := ParseDurationOrDefault("x", "", 5*time.Second); err != nil || got != 5*time.Second {
		t.Fatalf("default not applied: %v %v", got, err)
	}
	if got, err := ParseDurationOrDefault("x", "2m", 5*time.Second); err != nil || got != 2*time.Minute {
		t.Fatalf("explicit value ignored: %v %v", got, err)
	}
}

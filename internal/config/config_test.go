package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const validYAML = `
telegram:
  token: "123:abc"
  rate_per_sec: 20
logging:
  level: debug
  console: true
storage:
  path: /var/lib/happbot/state.db
scheduler:
  enabled: true
  tick: 1m
  lease_ttl: 30s
pool:
  url: https://pool.example
  username: admin
  password: secret
  prefix: pool_
`

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Telegram.RatePerSec != 20 {
		t.Fatalf("telegram config: %+v", cfg.Telegram)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging config: %+v", cfg.Logging)
	}
	if !cfg.Scheduler.Enabled || cfg.Scheduler.Tick != "1m" {
		t.Fatalf("scheduler config: %+v", cfg.Scheduler)
	}
	if cfg.Scheduler.UTCOffset() != 5 {
		t.Fatalf("default utc offset = %d, want 5", cfg.Scheduler.UTCOffset())
	}
	if cfg.Pool.URL != "https://pool.example" || cfg.Pool.Prefix != "pool_" {
		t.Fatalf("pool config: %+v", cfg.Pool)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
  "telegram": {"token": "t"},
  "storage": {"path": "s.db"},
  "scheduler": {"enabled": true, "utc_offset_hours": 3}
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Scheduler.UTCOffset() != 3 {
		t.Fatalf("utc offset = %d, want 3", cfg.Scheduler.UTCOffset())
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, "config.yaml", validYAML+"\nmystery_section:\n  a: 1\n")
	if _, err := Load(path); err == nil {
		t.Fatal("unknown top-level section must be rejected")
	}

	path = writeFile(t, "config2.yaml", strings.Replace(validYAML, "rate_per_sec", "rate_per_second", 1))
	if _, err := Load(path); err == nil {
		t.Fatal("misspelled field must be rejected")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HAPPBOT_TELEGRAM_TOKEN", "env-token")
	t.Setenv("HAPPBOT_POOL_PASSWORD", "env-pass")
	t.Setenv("HAPPBOT_LOG_LEVEL", "warn")

	path := writeFile(t, "config.yaml", validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "env-token" {
		t.Fatalf("token override not applied: %q", cfg.Telegram.Token)
	}
	if cfg.Pool.Password != "env-pass" {
		t.Fatalf("pool password override not applied")
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("log level override not applied: %q", cfg.Logging.Level)
	}
	// Untouched fields keep their file values.
	if cfg.Pool.URL != "https://pool.example" {
		t.Fatalf("pool url clobbered: %q", cfg.Pool.URL)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		return &Config{
			Telegram: TelegramConfig{Token: "t"},
			Storage:  StorageConfig{Path: "s.db"},
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("minimal config should validate: %v", err)
	}

	c := base()
	c.Telegram.Token = "  "
	if err := c.Validate(); err == nil {
		t.Fatal("blank token must fail validation")
	}

	c = base()
	c.Storage.Path = ""
	if err := c.Validate(); err == nil {
		t.Fatal("missing storage path must fail validation")
	}

	c = base()
	c.Scheduler.Tick = "sixty seconds"
	if err := c.Validate(); err == nil {
		t.Fatal("bad duration must fail validation")
	}

	c = base()
	off := 20
	c.Scheduler.UTCOffsetHours = &off
	if err := c.Validate(); err == nil {
		t.Fatal("out-of-range utc offset must fail validation")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 42)
	if err != nil || d != 42 {
		t.Fatalf("empty -> default: d=%v err=%v", d, err)
	}
	d, err = ParseDurationOrDefault("x", "90s", 42)
	if err != nil || d.Seconds() != 90 {
		t.Fatalf("explicit value: d=%v err=%v", d, err)
	}
	if _, err := ParseDurationOrDefault("x", "-1s", 42); err == nil {
		t.Fatal("negative duration must error")
	}
}

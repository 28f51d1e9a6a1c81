package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the full happbot configuration.
//
// All durations are Go duration strings (e.g. "500ms", "30s", "1m").
// Secrets (bot token, pool credentials) may be supplied via environment
// variables instead of the file; see Load().
type Config struct {
	Telegram  TelegramConfig  `json:"telegram" yaml:"telegram"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
	Provision ProvisionConfig `json:"provision" yaml:"provision"`
	Pool      PoolConfig      `json:"pool" yaml:"pool"`
}

type TelegramConfig struct {
	Token string `json:"token" yaml:"token"`

	// RequestTimeout bounds every outbound Telegram API call.
	RequestTimeout string `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty"`

	// RatePerSec paces outbound sends (Telegram allows ~30 msg/s bot-wide).
	RatePerSec int `json:"rate_per_sec,omitempty" yaml:"rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level" yaml:"level"`
	Console bool   `json:"console" yaml:"console"`
	File    string `json:"file,omitempty" yaml:"file,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path" yaml:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty" yaml:"busy_timeout,omitempty"`
}

// SchedulerConfig controls the posting loop.
//
// Defaults (when fields are omitted/zero):
//   - tick: "1m"
//   - lease_ttl: "30s"
//   - window: "59m"
//   - utc_offset_hours: 5 (civil-time convention for channel post times)
type SchedulerConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	Tick           string `json:"tick,omitempty" yaml:"tick,omitempty"`
	LeaseTTL       string `json:"lease_ttl,omitempty" yaml:"lease_ttl,omitempty"`
	Window         string `json:"window,omitempty" yaml:"window,omitempty"`
	UTCOffsetHours *int   `json:"utc_offset_hours,omitempty" yaml:"utc_offset_hours,omitempty"`
}

type ProvisionConfig struct {
	RequestTimeout string `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty"`
}

// PoolConfig seeds the shared pooled provisioning source. The live record is
// kept in the store (admins can edit it there); these values are only the
// first-boot defaults.
type PoolConfig struct {
	URL      string `json:"url" yaml:"url"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	Prefix   string `json:"prefix" yaml:"prefix"`
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required (file or HAPPBOT_TELEGRAM_TOKEN)")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	for path, raw := range map[string]string{
		"telegram.request_timeout":  c.Telegram.RequestTimeout,
		"storage.busy_timeout":      c.Storage.BusyTimeout,
		"scheduler.tick":            c.Scheduler.Tick,
		"scheduler.lease_ttl":       c.Scheduler.LeaseTTL,
		"scheduler.window":          c.Scheduler.Window,
		"provision.request_timeout": c.Provision.RequestTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	if c.Scheduler.UTCOffsetHours != nil {
		off := *c.Scheduler.UTCOffsetHours
		if off < -12 || off > 14 {
			return fmt.Errorf("scheduler.utc_offset_hours: %d out of range", off)
		}
	}
	return nil
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// UTCOffset resolves the civil-time convention for channel post times.
func (c SchedulerConfig) UTCOffset() int {
	if c.UTCOffsetHours == nil {
		return 5
	}
	return *c.UTCOffsetHours
}

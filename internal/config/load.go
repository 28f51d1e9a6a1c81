package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	yaml "go.yaml.in/yaml/v3"
)

// envOverrides are applied on top of the file so deployments can keep
// secrets out of the config file. Prefix: HAPPBOT_ (e.g. HAPPBOT_TELEGRAM_TOKEN).
type envOverrides struct {
	TelegramToken string `envconfig:"TELEGRAM_TOKEN"`
	PoolURL       string `envconfig:"POOL_URL"`
	PoolUsername  string `envconfig:"POOL_USERNAME"`
	PoolPassword  string `envconfig:"POOL_PASSWORD"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
}

// Load reads the config file (YAML or JSON, decided by extension), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := Parse(path)
	if err != nil {
		return nil, err
	}

	var env envOverrides
	if err := envconfig.Process("happbot", &env); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	if env.TelegramToken != "" {
		cfg.Telegram.Token = env.TelegramToken
	}
	if env.PoolURL != "" {
		cfg.Pool.URL = env.PoolURL
	}
	if env.PoolUsername != "" {
		cfg.Pool.Username = env.PoolUsername
	}
	if env.PoolPassword != "" {
		cfg.Pool.Password = env.PoolPassword
	}
	if env.LogLevel != "" {
		cfg.Logging.Level = env.LogLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse reads and strictly decodes the file without env overlay or validation.
// Watch() uses it to reject malformed edits before publishing.
func Parse(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	jb, err := coerceToJSONBytes(path, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

// coerceToJSONBytes converts YAML config to JSON bytes so the strict JSON
// decoder (DisallowUnknownFields) covers both formats.
func coerceToJSONBytes(path string, data []byte) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	v = normalizeYAML(v)

	j, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, nil
}

// normalizeYAML ensures all map keys are strings so the result can be JSON-marshaled.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeYAML(v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}

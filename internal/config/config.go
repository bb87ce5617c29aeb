// Package config loads fraudledger settings from an optional TOML file and
// the environment. Environment variables override file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
)

// Duration is a time.Duration that decodes from strings like "300s" or "24h".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the full service configuration.
type Config struct {
	Port           string   `toml:"port"`
	LedgerPath     string   `toml:"ledger_path"`
	DBPath         string   `toml:"db_path"`
	ModeratorsPath string   `toml:"moderators_path"`
	StrictHead     bool     `toml:"strict_head"`
	Tracing        bool     `toml:"tracing"`
	MetricsEvery   Duration `toml:"metrics_interval"`

	Security  SecurityConfig  `toml:"security"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
}

// SecurityConfig controls request authentication.
type SecurityConfig struct {
	// Enabled requires HMAC-signed requests on the /v1 API.
	Enabled bool `toml:"enabled"`

	// APIKeys maps API key ids to shared secrets.
	APIKeys map[string]string `toml:"api_keys"`

	// MaxSkew bounds the difference between X-Timestamp and server time.
	MaxSkew Duration `toml:"max_skew"`

	// IdempotencyTTL is how long X-Idempotency-Key values are remembered.
	IdempotencyTTL Duration `toml:"idempotency_ttl"`

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `toml:"max_body_bytes"`
}

// RateLimitConfig is a token bucket per API key and client address.
type RateLimitConfig struct {
	Capacity     int      `toml:"capacity"`
	RefillTokens int      `toml:"refill_tokens"`
	RefillPeriod Duration `toml:"refill_period"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:         "18920",
		LedgerPath:   filepath.Join("data", "approved-ledger.jsonl"),
		MetricsEvery: Duration{time.Minute},
		Security: SecurityConfig{
			APIKeys:        map[string]string{},
			MaxSkew:        Duration{300 * time.Second},
			IdempotencyTTL: Duration{24 * time.Hour},
			MaxBodyBytes:   1 << 20,
		},
		RateLimit: RateLimitConfig{
			Capacity:     60,
			RefillTokens: 60,
			RefillPeriod: Duration{60 * time.Second},
		},
	}
}

// Load reads the TOML file at path (if non-empty), then applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		for _, key := range md.Undecoded() {
			log.Warn().Str("key", key.String()).Str("path", path).Msg("config: unknown key ignored")
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}

	if cfg.DBPath == "" {
		dbPath, err := defaultDBPath(getenv)
		if err != nil {
			return Config{}, err
		}
		cfg.DBPath = dbPath
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		c.Port = v
	}
	if v := getenv("FRAUDLEDGER_LEDGER_PATH"); v != "" {
		c.LedgerPath = v
	}
	if v := getenv("FRAUDLEDGER_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := getenv("FRAUDLEDGER_MODERATORS"); v != "" {
		c.ModeratorsPath = v
	}

	for name, dst := range map[string]*bool{
		"FRAUDLEDGER_STRICT_HEAD":  &c.StrictHead,
		"FRAUDLEDGER_TRACING":      &c.Tracing,
		"FRAUDLEDGER_AUTH_ENABLED": &c.Security.Enabled,
	} {
		if v := getenv(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return &ConfigError{Field: name, Message: "not a boolean: " + v}
			}
			*dst = b
		}
	}

	// FRAUDLEDGER_API_KEYS is "id:secret,id2:secret2".
	if v := getenv("FRAUDLEDGER_API_KEYS"); v != "" {
		if c.Security.APIKeys == nil {
			c.Security.APIKeys = map[string]string{}
		}
		for _, pair := range strings.Split(v, ",") {
			id, secret, ok := strings.Cut(strings.TrimSpace(pair), ":")
			if !ok || id == "" || secret == "" {
				return &ConfigError{Field: "FRAUDLEDGER_API_KEYS", Message: "expected id:secret pairs"}
			}
			c.Security.APIKeys[id] = secret
		}
	}
	return nil
}

// defaultDBPath uses the XDG data directory so the service can run from a
// read-only working directory.
func defaultDBPath(getenv func(string) string) (string, error) {
	dataDir := getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "fraudledger", "fraudledger.db"), nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Port == "" {
		return &ConfigError{Field: "port", Message: "must not be empty"}
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return &ConfigError{Field: "port", Message: "not a number: " + c.Port}
	}
	if c.LedgerPath == "" {
		return &ConfigError{Field: "ledger_path", Message: "must not be empty"}
	}
	if c.Security.Enabled && len(c.Security.APIKeys) == 0 {
		return &ConfigError{Field: "security.api_keys", Message: "authentication enabled without any API keys"}
	}
	if c.Security.MaxSkew.Duration <= 0 {
		return &ConfigError{Field: "security.max_skew", Message: "must be positive"}
	}
	if c.Security.IdempotencyTTL.Duration <= 0 {
		return &ConfigError{Field: "security.idempotency_ttl", Message: "must be positive"}
	}
	if c.Security.MaxBodyBytes <= 0 {
		return &ConfigError{Field: "security.max_body_bytes", Message: "must be positive"}
	}
	if c.RateLimit.Capacity <= 0 || c.RateLimit.RefillTokens <= 0 || c.RateLimit.RefillPeriod.Duration <= 0 {
		return &ConfigError{Field: "rate_limit", Message: "capacity, refill_tokens and refill_period must be positive"}
	}
	if c.MetricsEvery.Duration <= 0 {
		return &ConfigError{Field: "metrics_interval", Message: "must be positive"}
	}
	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in " + e.Field + ": " + e.Message
}

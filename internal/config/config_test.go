package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefault(t *testing.T) {
	cfg, err := load("", envFrom(map[string]string{"XDG_DATA_HOME": "/var/lib"}))
	require.NoError(t, err)

	assert.Equal(t, "18920", cfg.Port)
	assert.Equal(t, filepath.Join("data", "approved-ledger.jsonl"), cfg.LedgerPath)
	assert.Equal(t, filepath.Join("/var/lib", "fraudledger", "fraudledger.db"), cfg.DBPath)
	assert.False(t, cfg.StrictHead)
	assert.False(t, cfg.Security.Enabled)
	assert.Equal(t, 300*time.Second, cfg.Security.MaxSkew.Duration)
	assert.Equal(t, 24*time.Hour, cfg.Security.IdempotencyTTL.Duration)
	assert.Equal(t, int64(1<<20), cfg.Security.MaxBodyBytes)
	assert.Equal(t, 60, cfg.RateLimit.Capacity)
	assert.Equal(t, 60, cfg.RateLimit.RefillTokens)
	assert.Equal(t, time.Minute, cfg.RateLimit.RefillPeriod.Duration)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fraudledger.toml")
	contents := `
port = "9000"
ledger_path = "/srv/ledger.jsonl"
db_path = "/srv/state.db"
strict_head = true

[security]
enabled = true
max_skew = "2m"
idempotency_ttl = "1h"

[security.api_keys]
Demo-Key = "s3cret"

[rate_limit]
capacity = 10
refill_tokens = 5
refill_period = "30s"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	cfg, err := load(path, envFrom(nil))
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "/srv/ledger.jsonl", cfg.LedgerPath)
	assert.Equal(t, "/srv/state.db", cfg.DBPath)
	assert.True(t, cfg.StrictHead)
	assert.True(t, cfg.Security.Enabled)
	assert.Equal(t, 2*time.Minute, cfg.Security.MaxSkew.Duration)
	assert.Equal(t, time.Hour, cfg.Security.IdempotencyTTL.Duration)
	assert.Equal(t, "s3cret", cfg.Security.APIKeys["Demo-Key"])
	assert.Equal(t, 10, cfg.RateLimit.Capacity)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.RefillPeriod.Duration)
	// Unset keys keep their defaults.
	assert.Equal(t, int64(1<<20), cfg.Security.MaxBodyBytes)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fraudledger.toml")
	require.NoError(t, os.WriteFile(path, []byte(`port = "9000"`+"\n"+`db_path = "/srv/state.db"`), 0644))

	cfg, err := load(path, envFrom(map[string]string{
		"PORT":                     "9100",
		"FRAUDLEDGER_LEDGER_PATH":  "/tmp/l.jsonl",
		"FRAUDLEDGER_MODERATORS":   "/etc/moderators.json",
		"FRAUDLEDGER_STRICT_HEAD":  "true",
		"FRAUDLEDGER_AUTH_ENABLED": "1",
		"FRAUDLEDGER_API_KEYS":     "ops:abc, risk:def",
	}))
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, "/tmp/l.jsonl", cfg.LedgerPath)
	assert.Equal(t, "/srv/state.db", cfg.DBPath)
	assert.Equal(t, "/etc/moderators.json", cfg.ModeratorsPath)
	assert.True(t, cfg.StrictHead)
	assert.True(t, cfg.Security.Enabled)
	assert.Equal(t, map[string]string{"ops": "abc", "risk": "def"}, cfg.Security.APIKeys)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{"bad bool", map[string]string{"FRAUDLEDGER_STRICT_HEAD": "maybe"}, "FRAUDLEDGER_STRICT_HEAD"},
		{"bad api keys", map[string]string{"FRAUDLEDGER_API_KEYS": "nocolon"}, "FRAUDLEDGER_API_KEYS"},
		{"bad port", map[string]string{"PORT": "http"}, "port"},
		{"auth without keys", map[string]string{"FRAUDLEDGER_AUTH_ENABLED": "true"}, "security.api_keys"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.env["FRAUDLEDGER_DB_PATH"] = "/tmp/x.db"
			_, err := load("", envFrom(tt.env))
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("port = "), 0644))

	_, err := load(path, envFrom(nil))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")

	_, err = load(filepath.Join(t.TempDir(), "missing.toml"), envFrom(nil))
	assert.Error(t, err)
}

func TestValidate_RateLimit(t *testing.T) {
	cfg := Default()
	cfg.DBPath = "/tmp/x.db"
	cfg.RateLimit.Capacity = 0
	assert.Error(t, cfg.Validate())
}

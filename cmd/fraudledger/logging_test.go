package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLogging(t *testing.T) {
	originalLogger := log.Logger
	originalLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = originalLogger
		zerolog.SetGlobalLevel(originalLevel)
	})

	t.Run("json format", func(t *testing.T) {
		var buf bytes.Buffer
		setupLogging("info", "json", &buf)

		log.Info().Str("event", "ledger_report_enqueued").Int("pending", 3).Msg("queue: report enqueued")

		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry), buf.String())
		assert.Equal(t, "info", entry["level"])
		assert.Equal(t, "ledger_report_enqueued", entry["event"])
		assert.Equal(t, float64(3), entry["pending"])
		assert.Contains(t, entry, "time")
	})

	t.Run("console format", func(t *testing.T) {
		var buf bytes.Buffer
		setupLogging("", "", &buf)

		log.Info().Msg("hello")
		assert.Contains(t, buf.String(), "hello")
		assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())), "console output is not JSON")
	})

	levels := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range levels {
		t.Run("level "+tt.in, func(t *testing.T) {
			setupLogging(tt.in, "json", &bytes.Buffer{})
			assert.Equal(t, tt.want, zerolog.GlobalLevel())
		})
	}

	t.Run("debug suppressed at info", func(t *testing.T) {
		var buf bytes.Buffer
		setupLogging("info", "json", &buf)
		log.Debug().Msg("hidden")
		assert.Empty(t, buf.String())
	})
}

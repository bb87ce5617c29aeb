package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"fraudledger/internal/metrics"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggingMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		status int
		level  string
	}{
		{"success logs info", http.StatusOK, "info"},
		{"client error logs warn", http.StatusConflict, "warn"},
		{"server error logs error", http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"ok":true}`))
			})
			wrapped := chimw.RequestID(LoggingMiddleware(logger)(handler))

			before := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/v1/ledger/tip", strconv.Itoa(tt.status)))

			req := httptest.NewRequest(http.MethodGet, "/v1/ledger/tip", nil)
			req.Header.Set(HeaderAPIKey, "Risk-Ops")
			req.Header.Set(HeaderSignature, "c2VjcmV0")
			rec := httptest.NewRecorder()
			wrapped.ServeHTTP(rec, req)

			var entry map[string]any
			require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, "/v1/ledger/tip", entry["path"])
			assert.Equal(t, float64(tt.status), entry["status"])
			assert.Equal(t, float64(len(`{"ok":true}`)), entry["bytes_written"])
			assert.Equal(t, "risk_ops", entry["api_key"])
			assert.NotEmpty(t, entry["request_id"])
			assert.NotContains(t, buf.String(), "c2VjcmV0", "signatures are never logged")
			assert.Contains(t, entry, "headers")

			after := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/v1/ledger/tip", strconv.Itoa(tt.status)))
			assert.Equal(t, before+1, after)
		})
	}
}

package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		// Known routes
		{"/", "/"},
		{"/healthz", "/healthz"},
		{"/metrics", "/metrics"},
		{"/v1/ledger/report", "/v1/ledger/report"},
		{"/v1/ledger/report/", "/v1/ledger/report"},
		{"/v1/ledger/pending/count", "/v1/ledger/pending/count"},
		{"/v1/ledger/pending/next", "/v1/ledger/pending/next"},
		{"/v1/ledger/moderate", "/v1/ledger/moderate"},
		{"/v1/ledger/tip", "/v1/ledger/tip"},
		{"/v1/ledger/audit", "/v1/ledger/audit"},

		// Unknown API paths collapse
		{"/v1/ledger/abc123", "/v1/*"},
		{"/v1/other/thing", "/v1/*"},

		// Everything else
		{"/wp-login.php", "other"},
		{"/static/app.js", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizePath(tt.input))
		})
	}
}

func TestStartCollector(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pending := 3
	StartCollector(ctx, StatsSource{
		PendingCount:  func() int { return pending },
		LedgerEntries: func() int { return 7 },
		ApprovedKeys:  func() int { return 6 },
	}, time.Hour)

	// The initial collection runs synchronously.
	assert.Equal(t, float64(3), testutil.ToFloat64(PendingReports))
	assert.Equal(t, float64(7), testutil.ToFloat64(ApprovedEntries))
	assert.Equal(t, float64(6), testutil.ToFloat64(ApprovedKeys))
}

func TestCollect_NilSourcesLeaveGauges(t *testing.T) {
	PendingReports.Set(42)
	collect(StatsSource{})
	assert.Equal(t, float64(42), testutil.ToFloat64(PendingReports))
}

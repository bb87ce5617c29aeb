package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fraudledger_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fraudledger_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "path"})

	HTTPRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fraudledger_http_rejections_total",
		Help: "Requests rejected before reaching a handler",
	}, []string{"reason"})
)

// Intake and moderation counters (incremented on occurrence)
var (
	ReportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fraudledger_reports_total",
		Help: "Total number of fraud reports submitted, by intake result",
	}, []string{"result"})

	ModerationDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fraudledger_moderation_decisions_total",
		Help: "Total number of moderation decisions, by action and result",
	}, []string{"action", "result"})
)

// Ledger metrics
var (
	LedgerAppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fraudledger_ledger_appends_total",
		Help: "Total number of ledger append attempts, by result",
	}, []string{"result"})

	LedgerAppendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fraudledger_ledger_append_duration_seconds",
		Help:    "Duration of durable ledger appends in seconds",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
	})
)

// State gauges (updated periodically by collector)
var (
	PendingReports = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fraudledger_pending_reports",
		Help: "Number of reports awaiting moderation",
	})

	ApprovedEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fraudledger_approved_entries",
		Help: "Number of entries in the approved ledger",
	})

	ApprovedKeys = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fraudledger_approved_keys",
		Help: "Number of distinct dedupe keys finalized in the ledger",
	})
)

// Result label values shared by the counters above.
const (
	ResultCreated   = "created"
	ResultExisting  = "existing"
	ResultDuplicate = "duplicate"
	ResultOK        = "ok"
	ResultError     = "error"
)

var knownPaths = map[string]bool{
	"/":                        true,
	"/healthz":                 true,
	"/metrics":                 true,
	"/v1/ledger/report":        true,
	"/v1/ledger/pending/count": true,
	"/v1/ledger/pending/next":  true,
	"/v1/ledger/pending":       true,
	"/v1/ledger/moderate":      true,
	"/v1/ledger/moderate/head": true,
	"/v1/ledger/tip":           true,
	"/v1/ledger/audit":         true,
}

// NormalizePath bounds the path label space. Known routes are kept as is;
// anything else under /v1/ collapses to /v1/* and the rest to "other".
func NormalizePath(path string) string {
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if knownPaths[path] {
		return path
	}
	if strings.HasPrefix(path, "/v1/") {
		return "/v1/*"
	}
	return "other"
}

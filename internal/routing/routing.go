package routing

import (
	"net/http"

	"fraudledger/internal/handlers"
	"fraudledger/internal/metrics"
	"fraudledger/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Config holds the configuration needed for setting up routes
type Config struct {
	Handlers *handlers.Handler
	Logger   zerolog.Logger

	// Auth guards every /v1 route. Nil disables request authentication.
	Auth *middleware.Authenticator

	// MaxBodyBytes caps request bodies; zero leaves them unbounded.
	MaxBodyBytes int64
}

// SetupRouter creates and configures the HTTP router with all routes and middleware
func SetupRouter(cfg Config) http.Handler {
	h := cfg.Handlers
	r := chi.NewRouter()

	// Outermost first: request id, real ip, logging, panic recovery, headers.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.LoggingMiddleware(cfg.Logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)
	if cfg.MaxBodyBytes > 0 {
		r.Use(middleware.LimitBody(cfg.MaxBodyBytes))
	}

	// Operational endpoints bypass request authentication
	r.Get("/healthz", h.HandleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/ledger", func(r chi.Router) {
		if cfg.Auth != nil {
			r.Use(cfg.Auth.Middleware)
		}

		r.Post("/report", h.HandleReport)
		r.Get("/pending", h.HandlePendingList)
		r.Get("/pending/count", h.HandlePendingCount)
		r.Get("/pending/next", h.HandlePendingNext)
		r.Post("/moderate", h.HandleModerate)
		r.Post("/moderate/head", h.HandleModerateHead)
		r.Get("/tip", h.HandleTip)
		r.Get("/audit", h.HandleAudit)
	})

	return otelhttp.NewHandler(r, "fraudledger",
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return req.Method + " " + metrics.NormalizePath(req.URL.Path)
		}),
	)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fraudledger/internal/config"
	"fraudledger/internal/database/boltstore"
	"fraudledger/internal/handlers"
	"fraudledger/internal/ledger"
	"fraudledger/internal/metrics"
	"fraudledger/internal/middleware"
	"fraudledger/internal/moderation"
	"fraudledger/internal/routing"
	"fraudledger/internal/tracing"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the intake and moderation HTTP API",
		Long: `Open the ledger, restore pending reports from the local database and
serve the /v1/ledger API until SIGINT or SIGTERM.

A ledger that fails chain verification aborts startup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg config.Config) error {
	log.Info().Str("version", Version).Msg("Starting fraudledger")

	if cfg.Tracing {
		tp, err := tracing.Init(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without it")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("Failed to flush traces")
				}
			}()
			log.Info().Msg("OpenTelemetry tracing enabled")
		}
	}

	store, err := boltstore.Open(boltstore.Options{Path: cfg.DBPath})
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}
	defer store.Close()
	log.Info().Str("path", cfg.DBPath).Msg("Database opened")

	writer, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	log.Info().
		Str("path", writer.Path()).
		Int("entries", writer.Entries()).
		Int("approvedKeys", writer.ApprovedCount()).
		Msg("Ledger recovered")

	queue := ledger.NewQueue(writer.Keys(), ledger.WithPendingStore(store.PendingStore()))
	restored, err := queue.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore pending reports: %w", err)
	}
	log.Info().Int("restored", restored).Msg("Pending reports restored")

	roster, err := moderation.NewRoster(cfg.ModeratorsPath)
	if err != nil {
		return err
	}

	svc := moderation.NewService(writer, queue,
		moderation.WithAuditLog(store.AuditStore()),
		moderation.WithRoster(roster),
		moderation.WithStrictHead(cfg.StrictHead),
	)

	var auth *middleware.Authenticator
	var limiter *middleware.RateLimiter
	if cfg.Security.Enabled {
		limiter = middleware.NewRateLimiter(cfg.RateLimit.Capacity, cfg.RateLimit.RefillTokens, cfg.RateLimit.RefillPeriod.Duration)
		auth = middleware.NewAuthenticator(middleware.AuthConfig{
			APIKeys:        cfg.Security.APIKeys,
			MaxSkew:        cfg.Security.MaxSkew.Duration,
			IdempotencyTTL: cfg.Security.IdempotencyTTL.Duration,
			Limiter:        limiter,
			Idempotency:    store.IdempotencyStore(),
		})
		log.Info().Int("apiKeys", len(cfg.Security.APIKeys)).Msg("Request authentication enabled")
	} else {
		log.Warn().Msg("Request authentication disabled")
	}

	router := routing.SetupRouter(routing.Config{
		Handlers:     handlers.NewHandler(svc),
		Logger:       log.Logger,
		Auth:         auth,
		MaxBodyBytes: cfg.Security.MaxBodyBytes,
	})

	metrics.StartCollector(ctx, metrics.StatsSource{
		PendingCount:  svc.PendingCount,
		LedgerEntries: svc.LedgerEntries,
		ApprovedKeys:  svc.ApprovedCount,
	}, cfg.MetricsEvery.Duration)
	store.IdempotencyStore().StartPurger(ctx, time.Hour)

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Str("address", server.Addr).
			Bool("strictHead", cfg.StrictHead).
			Str("ledger", cfg.LedgerPath).
			Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if limiter != nil {
		g.Go(func() error {
			limiter.Run(gCtx, 10*time.Minute)
			return nil
		})
	}
	g.Go(func() error {
		<-gCtx.Done()
		log.Info().Msg("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().
		Int("pending", svc.PendingCount()).
		Int("entries", svc.LedgerEntries()).
		Msg("Stopped")
	return nil
}

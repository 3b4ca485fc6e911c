// Package main is the entry point for the aegis approval and workflow
// tracking server. It wires all dependencies together and starts the HTTP
// server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/aegis/internal/approval"
	"github.com/pitabwire/aegis/internal/audit"
	"github.com/pitabwire/aegis/internal/config"
	"github.com/pitabwire/aegis/internal/livestatus"
	"github.com/pitabwire/aegis/internal/observability"
	"github.com/pitabwire/aegis/internal/pending"
	"github.com/pitabwire/aegis/internal/roles"
	"github.com/pitabwire/aegis/internal/tracker"
	"github.com/pitabwire/aegis/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "aegis", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Connect the relational store. A missing DSN falls back to
	// in-memory stores for local development.
	pool, poolCloser, err := buildPool(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return 1
	}

	var (
		incidentStore approval.IncidentStore
		actionCounter approval.ActionCounter
		auditLog      audit.Writer
		instanceStore tracker.InstanceStore
		sources       []pending.Source
		lookup        pending.Lookup
	)
	if pool != nil {
		pgIncidents := approval.NewPgIncidentStore(pool)
		incidentStore = pgIncidents
		actionCounter = pgIncidents
		auditLog = audit.NewPgWriter(pool)
		instanceStore = tracker.NewPgInstanceStore(pool)
		sources = []pending.Source{
			pending.NewIncidentSource(pool),
			pending.NewGatePassSource(pool),
			pending.NewWorkerSource(pool),
			pending.NewContractorSource(pool),
			pending.NewGenericSource(pool),
		}
		lookup = pending.NewPgLookup(pool)
	} else {
		memIncidents := approval.NewMemoryIncidentStore()
		incidentStore = memIncidents
		actionCounter = memIncidents
		auditLog = audit.NewMemoryWriter()
		instanceStore = tracker.NewMemoryInstanceStore()
	}

	// Step 5: Role directory with a read-through cache in front.
	staticDir, err := roles.NewStaticDirectory(cfg.Roles.StaticPolicyFile)
	if err != nil {
		logger.Error("role directory initialization failed", zap.Error(err))
		return 1
	}
	directory := roles.NewCachedDirectory(staticDir, cfg.Roles.Cache.TTL)

	// Step 6: Outbound notification dispatch (fire-and-forget).
	var notifier approval.Notifier
	if cfg.Notifier.Endpoint != "" {
		notifier = approval.NewHTTPNotifier(cfg.Notifier.Endpoint, cfg.Notifier.Timeout)
	}

	// Step 7: Domain services.
	machine := approval.NewMachine(incidentStore, actionCounter, directory, auditLog, notifier, logger, metrics)

	feed := tracker.NewFeed(metrics)
	trk := tracker.NewTracker(instanceStore, feed, logger, metrics, cfg.Tracker.MaxPageSize)

	statusService := livestatus.NewService(instanceStore, logger, metrics)
	aggregator := pending.NewAggregator(sources, lookup, logger, metrics)

	// Step 8: Build HTTP router.
	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)

	readiness := observability.ReadinessChecks{}
	if hc, ok := incidentStore.(observability.HealthChecker); ok {
		readiness.IncidentStore = hc
	}
	if hc, ok := instanceStore.(observability.HealthChecker); ok {
		readiness.TrackerStore = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Metrics:      metrics,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
		Readiness:    readiness,
		Approval:     transport.NewApprovalHandler(machine, auditLog),
		Tracker:      transport.NewTrackerHandler(trk),
		Status:       transport.NewStatusHandler(statusService),
		Pending:      transport.NewPendingHandler(aggregator, cfg.Approvals.DefaultMinDays),
		Feed:         transport.NewFeedHandler(trk, logger, cfg.Tracker.FeedBuffer),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 9: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Bool("relational_store", pool != nil),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests. Open feed
	// streams end when their request contexts are cancelled.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if poolCloser != nil {
		poolCloser()
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildPool connects the pgx pool from config. Returns a nil pool when no
// DSN is configured so callers can fall back to in-memory stores.
func buildPool(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*pgxpool.Pool, func(), error) {
	if cfg.Driver == "memory" {
		logger.Info("using in-memory stores")
		return nil, nil, nil
	}

	dsn := os.Getenv(cfg.DSNEnv)
	if dsn == "" {
		logger.Warn("store DSN not configured, using in-memory stores",
			zap.String("dsn_env", cfg.DSNEnv))
		return nil, nil, nil
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("store: parse DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("store: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("store: ping: %w", err)
	}

	return pool, pool.Close, nil
}

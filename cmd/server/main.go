// Package main is the entry point for the Experiment Hub API server.
//
// The server hosts the full engine: experiment registry, assignment
// resolution, conversion recording, the analytics pipeline, reporting, and
// the admin control surface.
//
// Architecture follows Clean Architecture and DDD:
// - Domain: assignment, experiment, and analytics logic with no external deps
// - Application: use case orchestration (Commands/Queries)
// - Infrastructure: persistence backends, sinks, scheduler
// - Interface: HTTP endpoints
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exphub/experiment-hub/config"
	"github.com/exphub/experiment-hub/internal/application/command"
	"github.com/exphub/experiment-hub/internal/application/query"
	"github.com/exphub/experiment-hub/internal/domain/analytics"
	"github.com/exphub/experiment-hub/internal/domain/assignment"
	"github.com/exphub/experiment-hub/internal/domain/experiment"
	"github.com/exphub/experiment-hub/internal/infrastructure/flags"
	"github.com/exphub/experiment-hub/internal/infrastructure/messaging"
	"github.com/exphub/experiment-hub/internal/infrastructure/persistence/memory"
	"github.com/exphub/experiment-hub/internal/infrastructure/persistence/postgres"
	"github.com/exphub/experiment-hub/internal/infrastructure/persistence/redis"
	"github.com/exphub/experiment-hub/internal/infrastructure/scheduler"
	"github.com/exphub/experiment-hub/internal/infrastructure/scheduler/jobs"
	"github.com/exphub/experiment-hub/internal/infrastructure/sink"
	httpserver "github.com/exphub/experiment-hub/internal/interface/http"
	"github.com/exphub/experiment-hub/pkg/logger"
	"github.com/exphub/experiment-hub/pkg/retry"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		AddCaller: cfg.App.Debug,
	})
	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	log.Info("starting Experiment Hub",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("store", cfg.Assignment.StoreBackend),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. PERSISTENCE BACKENDS
	// ─────────────────────────────────────────────────────────────────────────
	var (
		store    assignment.Store
		eventLog analytics.EventLog
		dbConn   *postgres.Connection
		rdb      *redis.Client
	)

	if cfg.Database.URL != "" {
		log.Info("connecting to database...")
		err := retry.Do(ctx, 5, time.Second, func(ctx context.Context) error {
			dbConn, err = postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer dbConn.Close()

		log.Info("running database migrations...")
		if err := postgres.NewMigrator(dbConn).Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database ready")
	}

	if !cfg.Redis.Disabled {
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		log.Info("connecting to Redis...")
		err := retry.Do(ctx, 5, time.Second, func(ctx context.Context) error {
			rdb, err = redis.NewClient(redisCfg)
			return err
		})
		if err != nil {
			if cfg.Assignment.StoreBackend == config.StoreRedis {
				return fmt.Errorf("failed to connect to Redis: %w", err)
			}
			log.Warn("Redis unavailable, continuing without it", logger.Err(err))
			rdb = nil
		} else {
			defer rdb.Close()
			log.Info("Redis connection established")
		}
	}

	switch cfg.Assignment.StoreBackend {
	case config.StorePostgres:
		store = postgres.NewAssignmentRepository(dbConn)
	case config.StoreRedis:
		store = redis.NewAssignmentStore(rdb)
	default:
		store = memory.NewAssignmentStore()
	}

	// The event log is the source of truth for reports, so it lands in
	// Postgres whenever a database is configured.
	if dbConn != nil {
		eventLog = postgres.NewEventLogRepository(dbConn)
	} else {
		eventLog = memory.NewEventLog()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. EXPERIMENT REGISTRY
	// ─────────────────────────────────────────────────────────────────────────
	registry := experiment.NewInMemoryRegistry()
	if err := config.SeedRegistry(ctx, registry); err != nil {
		return fmt.Errorf("failed to seed experiment registry: %w", err)
	}
	log.Info("experiment registry seeded")

	// ─────────────────────────────────────────────────────────────────────────
	// 5. EVENT PIPELINE AND SINKS
	// ─────────────────────────────────────────────────────────────────────────
	pipelineCfg := messaging.DefaultPipelineConfig()
	pipelineCfg.EventLog = eventLog
	pipelineCfg.WorkerPoolSize = cfg.Pipeline.Workers
	pipelineCfg.SinkTimeout = cfg.Pipeline.SinkTimeout
	pipelineCfg.Logger = slogger

	if cfg.Sinks.LogSinkEnabled {
		pipelineCfg.Sinks = append(pipelineCfg.Sinks, sink.NewLogSink(slogger))
	}
	if cfg.Sinks.WebhookURL != "" {
		pipelineCfg.Sinks = append(pipelineCfg.Sinks, sink.NewWebhookSink(sink.WebhookConfig{
			Name:    "webhook",
			URL:     cfg.Sinks.WebhookURL,
			Secret:  cfg.Sinks.WebhookSecret,
			Timeout: cfg.Sinks.WebhookTimeout,
		}))
	}

	pipeline := messaging.NewPipeline(pipelineCfg)
	defer func() {
		log.Info("closing event pipeline...")
		_ = pipeline.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 6. EXTERNAL FLAG PROVIDERS
	// ─────────────────────────────────────────────────────────────────────────
	flagProviders := []flags.Provider{
		flags.NewEnvProviderWithPrefix(cfg.Assignment.FlagEnvPrefix),
	}
	if rdb != nil {
		flagProviders = append(flagProviders, redis.NewFlagProvider(rdb))
	}
	flagChain := flags.NewChain(flagProviders...)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	bucketer := assignment.NewBucketer(assignment.NewLockedRNG(time.Now().UnixNano()))

	resolveHandler := command.NewResolveVariantHandler(command.ResolveVariantConfig{
		Registry:       registry,
		Store:          store,
		Bucketer:       bucketer,
		Flags:          flagChain,
		Events:         pipeline,
		Logger:         log,
		PersistTimeout: cfg.Assignment.PersistTimeout,
	})

	var statsCache query.StatsCache
	if rdb != nil {
		statsCache = redis.NewStatsCache(rdb, redis.TTLStatsSnapshot)
	}
	statsHandler := query.NewGetStatsHandler(registry, eventLog, statsCache, log)

	deps := httpserver.Dependencies{
		ResolveVariantHandler:   resolveHandler,
		RecordConversionHandler: command.NewRecordConversionHandler(resolveHandler, pipeline, log),
		ForceVariantHandler:     command.NewForceVariantHandler(registry, store, pipeline, log),
		ResetAssignmentsHandler: command.NewResetAssignmentsHandler(store, log),
		UpsertExperimentHandler: command.NewUpsertExperimentHandler(registry, log),
		SetEnabledHandler:       command.NewSetEnabledHandler(registry, log),
		GetStatsHandler:         statsHandler,
		ListExperimentsHandler:  query.NewListExperimentsHandler(registry),
		GetExperimentHandler:    query.NewGetExperimentHandler(registry),
		Logger:                  log,
		HealthChecker:           &healthChecker{db: dbConn, rdb: rdb},
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	serverCfg := httpserver.DefaultConfig()
	serverCfg.Host = cfg.Server.Host
	serverCfg.Port = cfg.Server.Port
	serverCfg.ReadTimeout = cfg.Server.ReadTimeout
	serverCfg.WriteTimeout = cfg.Server.WriteTimeout
	serverCfg.IdleTimeout = cfg.Server.IdleTimeout
	serverCfg.EnableCORS = cfg.Server.EnableCORS
	serverCfg.AllowedOrigins = cfg.Server.AllowedOrigins
	serverCfg.RateLimitPerMinute = cfg.Server.RateLimitPerMinute
	serverCfg.APIKeyHeader = cfg.Server.APIKeyHeader
	serverCfg.AdminKeyHashes = cfg.Server.AdminKeyHashes

	server := httpserver.NewServer(serverCfg, deps)
	serverErr := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 9. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(slogger)

		warmJob := jobs.NewWarmStatsCacheJob(registry, statsHandler, slogger)
		if err := sched.Register(warmJob, scheduler.NewIntervalSchedule(cfg.Scheduler.WarmStatsInterval)); err != nil {
			return fmt.Errorf("failed to register warm stats job: %w", err)
		}

		sweepJob := jobs.NewSweepLapsedJob(registry, slogger)
		if err := sched.Register(sweepJob, scheduler.NewIntervalSchedule(cfg.Scheduler.SweepLapsedInterval)); err != nil {
			return fmt.Errorf("failed to register sweep job: %w", err)
		}

		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	log.Info("Experiment Hub is running", logger.String("address", server.Address()))

	// ─────────────────────────────────────────────────────────────────────────
	// 10. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", logger.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if sched != nil {
		if err := sched.Stop(); err != nil {
			log.Warn("scheduler stop failed", logger.Err(err))
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown failed", logger.Err(err))
	}

	log.Info("Experiment Hub stopped")
	return nil
}

// healthChecker aggregates backend health for the probe endpoints.
type healthChecker struct {
	db  *postgres.Connection
	rdb *redis.Client
}

func (h *healthChecker) Check(ctx context.Context) httpserver.HealthStatus {
	status := httpserver.HealthStatus{
		Healthy: true,
		Ready:   true,
		Details: make(map[string]string),
	}

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			status.Healthy = false
			status.Ready = false
			status.Message = "database unreachable"
			status.Details["postgres"] = err.Error()
		} else {
			status.Details["postgres"] = "ok"
		}
	}

	if h.rdb != nil {
		if err := h.rdb.Ping(ctx); err != nil {
			// Redis outage degrades caching, not correctness.
			status.Details["redis"] = err.Error()
		} else {
			status.Details["redis"] = "ok"
		}
	}

	return status
}

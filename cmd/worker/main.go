// Package main is the entry point for the Experiment Hub background worker.
//
// The worker runs the periodic jobs separately from the API server:
// - Warming aggregate report snapshots for active experiments
// - Sweeping experiments whose active window has lapsed
//
// Deployments that prefer a single process can instead leave the scheduler
// enabled inside the API server and skip the worker entirely.
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
	"github.com/exphub/experiment-hub/internal/application/query"
	"github.com/exphub/experiment-hub/internal/domain/analytics"
	"github.com/exphub/experiment-hub/internal/domain/experiment"
	"github.com/exphub/experiment-hub/internal/infrastructure/persistence/memory"
	"github.com/exphub/experiment-hub/internal/infrastructure/persistence/postgres"
	"github.com/exphub/experiment-hub/internal/infrastructure/persistence/redis"
	"github.com/exphub/experiment-hub/internal/infrastructure/scheduler"
	"github.com/exphub/experiment-hub/internal/infrastructure/scheduler/jobs"
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
	// 1. CONFIGURATION AND LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Options{
		Output: os.Stdout,
		Level:  logger.ParseLevel(cfg.Observability.LogLevel),
	})
	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	log.Info("starting Experiment Hub worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. PERSISTENCE BACKENDS
	// ─────────────────────────────────────────────────────────────────────────
	var (
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
		eventLog = postgres.NewEventLogRepository(dbConn)
	} else {
		// Without a shared database the worker only sees its own events;
		// useful for development, pointless in production.
		log.Warn("no database configured, using in-memory event log")
		eventLog = memory.NewEventLog()
	}

	if !cfg.Redis.Disabled {
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB

		err := retry.Do(ctx, 5, time.Second, func(ctx context.Context) error {
			rdb, err = redis.NewClient(redisCfg)
			return err
		})
		if err != nil {
			log.Warn("Redis unavailable, snapshot warming disabled", logger.Err(err))
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. REGISTRY AND QUERY SIDE
	// ─────────────────────────────────────────────────────────────────────────
	registry := experiment.NewInMemoryRegistry()
	if err := config.SeedRegistry(ctx, registry); err != nil {
		return fmt.Errorf("failed to seed experiment registry: %w", err)
	}

	var statsCache query.StatsCache
	if rdb != nil {
		statsCache = redis.NewStatsCache(rdb, redis.TTLStatsSnapshot)
	}
	statsHandler := query.NewGetStatsHandler(registry, eventLog, statsCache, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.New(slogger)

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

	log.Info("worker is running")

	// ─────────────────────────────────────────────────────────────────────────
	// 5. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", logger.String("signal", sig.String()))
	case <-ctx.Done():
	}

	if err := sched.Stop(); err != nil {
		log.Warn("scheduler stop failed", logger.Err(err))
	}

	log.Info("worker stopped")
	return nil
}

// Package jobs contains the scheduled jobs for Experiment Hub.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/exphub/experiment-hub/internal/application/query"
	"github.com/exphub/experiment-hub/internal/domain/experiment"
)

// ══════════════════════════════════════════════════════════════════════════════
// WARM STATS CACHE JOB
// ══════════════════════════════════════════════════════════════════════════════

// WarmStatsCacheJob recomputes the aggregate report for every active
// experiment so dashboard reads that allow stale data hit a fresh snapshot
// instead of scanning the event log.
type WarmStatsCacheJob struct {
	registry experiment.Registry
	stats    *query.GetStatsHandler
	logger   *slog.Logger
	timeout  time.Duration
}

// NewWarmStatsCacheJob creates the job.
func NewWarmStatsCacheJob(registry experiment.Registry, stats *query.GetStatsHandler, logger *slog.Logger) *WarmStatsCacheJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &WarmStatsCacheJob{
		registry: registry,
		stats:    stats,
		logger:   logger,
		timeout:  2 * time.Minute,
	}
}

// Name returns the job name.
func (j *WarmStatsCacheJob) Name() string {
	return "warm_stats_cache"
}

// Description returns a human-readable description.
func (j *WarmStatsCacheJob) Description() string {
	return "Recomputes aggregate reports for active experiments and refreshes the snapshot cache"
}

// Run executes the job. Failures on individual experiments are logged and do
// not abort the remaining experiments.
func (j *WarmStatsCacheJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	defs, err := j.registry.List(ctx, true)
	if err != nil {
		return fmt.Errorf("list active experiments: %w", err)
	}

	var failed int
	for _, def := range defs {
		_, err := j.stats.Handle(ctx, query.GetStatsQuery{ExperimentName: def.Name})
		if err != nil {
			failed++
			j.logger.Warn("stats warm-up failed",
				"experiment", def.Name,
				"error", err,
			)
		}
	}

	j.logger.Info("stats cache warmed",
		"experiments", len(defs),
		"failed", failed,
	)

	if failed > 0 {
		return fmt.Errorf("warm-up failed for %d of %d experiments", failed, len(defs))
	}
	return nil
}

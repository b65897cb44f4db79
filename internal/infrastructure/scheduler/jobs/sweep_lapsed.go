package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/exphub/experiment-hub/internal/domain/experiment"
)

// ══════════════════════════════════════════════════════════════════════════════
// SWEEP LAPSED EXPERIMENTS JOB
// ══════════════════════════════════════════════════════════════════════════════

// SweepLapsedJob disables experiments whose active window has closed. The
// resolver already treats an expired window as disabled, so this sweep is a
// bookkeeping pass: it makes the lapsed state explicit in the registry and
// visible in listings.
type SweepLapsedJob struct {
	registry experiment.Registry
	logger   *slog.Logger
	now      func() time.Time
}

// NewSweepLapsedJob creates the job.
func NewSweepLapsedJob(registry experiment.Registry, logger *slog.Logger) *SweepLapsedJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SweepLapsedJob{
		registry: registry,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock, for tests.
func (j *SweepLapsedJob) WithNow(now func() time.Time) *SweepLapsedJob {
	j.now = now
	return j
}

// Name returns the job name.
func (j *SweepLapsedJob) Name() string {
	return "sweep_lapsed_experiments"
}

// Description returns a human-readable description.
func (j *SweepLapsedJob) Description() string {
	return "Disables experiments whose active window has closed"
}

// Run executes the sweep.
func (j *SweepLapsedJob) Run(ctx context.Context) error {
	defs, err := j.registry.List(ctx, false)
	if err != nil {
		return fmt.Errorf("list experiments: %w", err)
	}

	now := j.now()
	var swept int
	for _, def := range defs {
		if def.StatusAt(now) != experiment.StatusExpired {
			continue
		}

		if err := j.registry.SetEnabled(ctx, def.Name, false); err != nil {
			j.logger.Warn("failed to disable lapsed experiment",
				"experiment", def.Name,
				"error", err,
			)
			continue
		}

		swept++
		j.logger.Info("lapsed experiment disabled", "experiment", def.Name)
	}

	if swept > 0 {
		j.logger.Info("lapsed experiment sweep completed", "disabled", swept)
	}
	return nil
}

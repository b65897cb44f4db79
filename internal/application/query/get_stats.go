// Package query contains read operations (CQRS - Queries).
// Queries never modify state.
package query

import (
	"context"
	"time"

	"github.com/exphub/experiment-hub/internal/domain/analytics"
	"github.com/exphub/experiment-hub/internal/domain/experiment"
	"github.com/exphub/experiment-hub/internal/domain/shared"
	"github.com/exphub/experiment-hub/pkg/logger"
	"github.com/exphub/experiment-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET STATS QUERY
// Per-experiment conversion report derived from the event log on demand.
// ══════════════════════════════════════════════════════════════════════════════

// StatsCache holds precomputed snapshots of aggregate reports. The cache is
// never authoritative: a fresh report is always derivable from the event log,
// and every successful recomputation refreshes the snapshot.
type StatsCache interface {
	// Get returns the cached snapshot, or ok=false on a miss.
	Get(ctx context.Context, experimentName string) (analytics.AggregateStat, bool, error)

	// Set stores the snapshot.
	Set(ctx context.Context, stat analytics.AggregateStat) error
}

// GetStatsQuery requests the conversion report for one experiment.
type GetStatsQuery struct {
	ExperimentName string

	// AllowStale permits serving the cached snapshot without scanning the
	// event log. Dashboards polling frequently set this; the admin report
	// endpoint does not.
	AllowStale bool
}

// Validate validates the query.
func (q GetStatsQuery) Validate() error {
	if q.ExperimentName == "" {
		return shared.ErrEmptyExperimentName
	}
	return nil
}

// GetStatsHandler computes aggregate reports.
type GetStatsHandler struct {
	registry experiment.Registry
	eventLog analytics.EventLog
	cache    StatsCache // optional
	clock    timeutil.Clock
	log      *logger.Logger
}

// NewGetStatsHandler creates the handler. cache may be nil.
func NewGetStatsHandler(registry experiment.Registry, eventLog analytics.EventLog, cache StatsCache, log *logger.Logger) *GetStatsHandler {
	if log == nil {
		log = logger.Default()
	}
	return &GetStatsHandler{
		registry: registry,
		eventLog: eventLog,
		cache:    cache,
		clock:    timeutil.System,
		log:      log,
	}
}

// Handle returns the aggregate report. Stats for an experiment with no events
// are an empty report, not an error; the experiment itself does not need to
// exist in the registry (events may outlive their definition).
func (h *GetStatsHandler) Handle(ctx context.Context, q GetStatsQuery) (analytics.AggregateStat, error) {
	if err := q.Validate(); err != nil {
		return analytics.AggregateStat{}, err
	}

	if q.AllowStale && h.cache != nil {
		if snap, ok, err := h.cache.Get(ctx, q.ExperimentName); err == nil && ok {
			return snap, nil
		} else if err != nil {
			h.log.Warn("stats cache read failed",
				logger.ExperimentName(q.ExperimentName), logger.Err(err))
		}
	}

	start := h.clock.Now()

	def, err := h.registry.Get(ctx, q.ExperimentName)
	if err != nil && !shared.IsNotFound(err) {
		return analytics.AggregateStat{}, err
	}

	events, err := h.eventLog.ListByExperiment(ctx, q.ExperimentName)
	if err != nil {
		return analytics.AggregateStat{}, err
	}

	stat := analytics.Aggregate(q.ExperimentName, def, events)

	h.log.Debug("stats computed",
		logger.ExperimentName(q.ExperimentName),
		logger.Int("events", len(events)),
		logger.Latency(time.Since(start)))

	if h.cache != nil {
		if err := h.cache.Set(ctx, stat); err != nil {
			h.log.Warn("stats cache write failed",
				logger.ExperimentName(q.ExperimentName), logger.Err(err))
		}
	}

	return stat, nil
}

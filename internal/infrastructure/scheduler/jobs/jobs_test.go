package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exphub/experiment-hub/internal/application/query"
	"github.com/exphub/experiment-hub/internal/domain/analytics"
	"github.com/exphub/experiment-hub/internal/domain/assignment"
	"github.com/exphub/experiment-hub/internal/domain/experiment"
	"github.com/exphub/experiment-hub/internal/infrastructure/persistence/memory"
)

func twoVariants() []experiment.Variant {
	return []experiment.Variant{
		{Name: "control", Weight: 50},
		{Name: "treatment", Weight: 50},
	}
}

func TestSweepLapsedJob(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	registry := experiment.NewInMemoryRegistry()

	require.NoError(t, registry.Upsert(ctx, &experiment.Definition{
		Name: "running", Enabled: true, Variants: twoVariants(),
	}))

	ended := now.Add(-24 * time.Hour)
	require.NoError(t, registry.Upsert(ctx, &experiment.Definition{
		Name: "lapsed", Enabled: true, Variants: twoVariants(),
		Window: &experiment.Window{End: &ended},
	}))

	job := NewSweepLapsedJob(registry, nil).WithNow(func() time.Time { return now })
	require.NoError(t, job.Run(ctx))

	lapsed, err := registry.Get(ctx, "lapsed")
	require.NoError(t, err)
	assert.False(t, lapsed.Enabled)

	running, err := registry.Get(ctx, "running")
	require.NoError(t, err)
	assert.True(t, running.Enabled, "experiments inside their window are untouched")

	// A second sweep finds nothing to do.
	require.NoError(t, job.Run(ctx))
}

// recordingCache counts snapshot refreshes.
type recordingCache struct {
	puts int
}

func (c *recordingCache) Get(context.Context, string) (analytics.AggregateStat, bool, error) {
	return analytics.AggregateStat{}, false, nil
}

func (c *recordingCache) Set(context.Context, analytics.AggregateStat) error {
	c.puts++
	return nil
}

func TestWarmStatsCacheJob(t *testing.T) {
	ctx := context.Background()

	registry := experiment.NewInMemoryRegistry()
	require.NoError(t, registry.Upsert(ctx, &experiment.Definition{
		Name: "one", Enabled: true, Variants: twoVariants(),
	}))
	require.NoError(t, registry.Upsert(ctx, &experiment.Definition{
		Name: "two", Enabled: true, Variants: twoVariants(),
	}))

	eventLog := memory.NewEventLog()
	require.NoError(t, eventLog.Append(ctx,
		analytics.NewAssignmentEvent("one", "control", "s1", assignment.SourceRandom)))

	cache := &recordingCache{}
	stats := query.NewGetStatsHandler(registry, eventLog, cache, nil)

	job := NewWarmStatsCacheJob(registry, stats, nil)
	require.NoError(t, job.Run(ctx))

	assert.Equal(t, 2, cache.puts, "one snapshot refresh per active experiment")
}

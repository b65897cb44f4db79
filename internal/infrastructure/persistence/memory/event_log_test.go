package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exphub/experiment-hub/internal/domain/analytics"
	"github.com/exphub/experiment-hub/internal/domain/assignment"
)

func TestEventLog_AppendOrderPreserved(t *testing.T) {
	ctx := context.Background()
	log := NewEventLog()

	for i := 0; i < 5; i++ {
		subject := fmt.Sprintf("s%d", i)
		require.NoError(t, log.Append(ctx, analytics.NewAssignmentEvent("exp", "control", subject, assignment.SourceRandom)))
	}

	events, err := log.ListByExperiment(ctx, "exp")
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, fmt.Sprintf("s%d", i), ev.SubjectID)
	}
}

func TestEventLog_PartitionedByExperiment(t *testing.T) {
	ctx := context.Background()
	log := NewEventLog()

	require.NoError(t, log.Append(ctx, analytics.NewAssignmentEvent("a", "control", "s1", assignment.SourceRandom)))
	require.NoError(t, log.Append(ctx, analytics.NewAssignmentEvent("b", "control", "s1", assignment.SourceRandom)))

	events, err := log.ListByExperiment(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, 2, log.Total())

	events, err = log.ListByExperiment(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEventLog_ReadsReturnCopies(t *testing.T) {
	ctx := context.Background()
	log := NewEventLog()
	require.NoError(t, log.Append(ctx, analytics.NewAssignmentEvent("exp", "control", "s1", assignment.SourceRandom)))

	events, err := log.ListByExperiment(ctx, "exp")
	require.NoError(t, err)
	events[0].VariantName = "tampered"

	fresh, err := log.ListByExperiment(ctx, "exp")
	require.NoError(t, err)
	assert.Equal(t, "control", fresh[0].VariantName)
}

func TestEventLog_ConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	log := NewEventLog()

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := analytics.NewAssignmentEvent("exp", "control", fmt.Sprintf("s%d", i), assignment.SourceRandom)
			assert.NoError(t, log.Append(ctx, ev))
		}(i)
	}
	wg.Wait()

	events, err := log.ListByExperiment(ctx, "exp")
	require.NoError(t, err)
	assert.Len(t, events, n)
	assert.Equal(t, n, log.Total())
}

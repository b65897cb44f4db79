package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exphub/experiment-hub/internal/domain/assignment"
	"github.com/exphub/experiment-hub/internal/domain/shared"
)

func TestAssignmentStore_GetOrCreate(t *testing.T) {
	ctx := context.Background()
	store := NewAssignmentStore()

	candidate := assignment.New("exp", "s1", "control", assignment.SourceRandom)
	stored, created, err := store.GetOrCreate(ctx, candidate)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "control", stored.VariantName)

	// Second candidate for the same key loses; the first one is served.
	rival := assignment.New("exp", "s1", "treatment", assignment.SourceRandom)
	stored, created, err = store.GetOrCreate(ctx, rival)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "control", stored.VariantName)

	assert.Equal(t, 1, store.Len("exp"))
}

func TestAssignmentStore_Get(t *testing.T) {
	ctx := context.Background()
	store := NewAssignmentStore()

	_, err := store.Get(ctx, "exp", "s1")
	assert.ErrorIs(t, err, shared.ErrAssignmentNotFound)

	_, _, err = store.GetOrCreate(ctx, assignment.New("exp", "s1", "control", assignment.SourceRandom))
	require.NoError(t, err)

	got, err := store.Get(ctx, "exp", "s1")
	require.NoError(t, err)
	assert.Equal(t, "control", got.VariantName)
}

func TestAssignmentStore_ForceOverwrites(t *testing.T) {
	ctx := context.Background()
	store := NewAssignmentStore()

	_, _, err := store.GetOrCreate(ctx, assignment.New("exp", "s1", "control", assignment.SourceRandom))
	require.NoError(t, err)

	require.NoError(t, store.Force(ctx, assignment.New("exp", "s1", "treatment", assignment.SourceForced)))

	got, err := store.Get(ctx, "exp", "s1")
	require.NoError(t, err)
	assert.Equal(t, "treatment", got.VariantName)
	assert.Equal(t, assignment.SourceForced, got.Source)
}

func TestAssignmentStore_Reset(t *testing.T) {
	ctx := context.Background()
	store := NewAssignmentStore()

	for _, subj := range []string{"s1", "s2", "s3"} {
		_, _, err := store.GetOrCreate(ctx, assignment.New("exp", subj, "control", assignment.SourceRandom))
		require.NoError(t, err)
	}
	_, _, err := store.GetOrCreate(ctx, assignment.New("other", "s1", "control", assignment.SourceRandom))
	require.NoError(t, err)

	require.NoError(t, store.Reset(ctx, "exp", "s2"))
	assert.Equal(t, 2, store.Len("exp"))

	require.NoError(t, store.Reset(ctx, "exp", ""))
	assert.Equal(t, 0, store.Len("exp"))
	assert.Equal(t, 1, store.Len("other"), "other experiments untouched")
}

func TestAssignmentStore_ConcurrentGetOrCreateSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewAssignmentStore()

	const goroutines = 50
	variants := []string{"control", "treatment"}

	var wg sync.WaitGroup
	winners := make([]string, goroutines)
	createdCount := make([]bool, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			candidate := assignment.New("exp", "same", variants[i%2], assignment.SourceRandom)
			stored, created, err := store.GetOrCreate(ctx, candidate)
			assert.NoError(t, err)
			winners[i] = stored.VariantName
			createdCount[i] = created
		}(i)
	}
	wg.Wait()

	var creates int
	for i := range winners {
		assert.Equal(t, winners[0], winners[i], "all callers observe the same stored variant")
		if createdCount[i] {
			creates++
		}
	}
	assert.Equal(t, 1, creates, "exactly one caller wins the write")
	assert.Equal(t, 1, store.Len("exp"))
}

func TestAssignmentStore_CancelledContext(t *testing.T) {
	store := NewAssignmentStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := store.GetOrCreate(ctx, assignment.New("exp", "s1", "control", assignment.SourceRandom))
	assert.ErrorIs(t, err, context.Canceled)

	_, err = store.Get(ctx, "exp", "s1")
	assert.ErrorIs(t, err, context.Canceled)
}

package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exphub/experiment-hub/internal/domain/analytics"
	"github.com/exphub/experiment-hub/internal/domain/assignment"
	"github.com/exphub/experiment-hub/internal/domain/experiment"
	"github.com/exphub/experiment-hub/internal/domain/shared"
)

func TestForceVariant_OverwritesExisting(t *testing.T) {
	ctx := context.Background()
	registry := experiment.NewInMemoryRegistry()
	require.NoError(t, registry.Upsert(ctx, testDefinition()))

	store := newMapStore()
	require.NoError(t, store.Force(ctx, assignment.New("checkout_button", "s1", "control", assignment.SourceRandom)))

	events := &capturePublisher{}
	h := NewForceVariantHandler(registry, store, events, nil)

	err := h.Handle(ctx, ForceVariantCommand{
		ExperimentName: "checkout_button",
		SubjectID:      "s1",
		VariantName:    "treatment",
	})
	require.NoError(t, err)

	stored, err := store.Get(ctx, "checkout_button", "s1")
	require.NoError(t, err)
	assert.Equal(t, "treatment", stored.VariantName)
	assert.Equal(t, assignment.SourceForced, stored.Source)

	captured := events.captured()
	require.Len(t, captured, 1)
	assert.Equal(t, analytics.KindAssignment, captured[0].Kind)
	assert.Equal(t, assignment.SourceForced, captured[0].Source)
}

func TestForceVariant_RejectsUndeclaredVariant(t *testing.T) {
	ctx := context.Background()
	registry := experiment.NewInMemoryRegistry()
	require.NoError(t, registry.Upsert(ctx, testDefinition()))

	store := newMapStore()
	h := NewForceVariantHandler(registry, store, nil, nil)

	err := h.Handle(ctx, ForceVariantCommand{
		ExperimentName: "checkout_button",
		SubjectID:      "s1",
		VariantName:    "no_such_variant",
	})
	assert.ErrorIs(t, err, shared.ErrUnknownVariant)
	assert.Zero(t, store.len())
}

func TestForceVariant_UnknownExperiment(t *testing.T) {
	h := NewForceVariantHandler(experiment.NewInMemoryRegistry(), newMapStore(), nil, nil)

	err := h.Handle(context.Background(), ForceVariantCommand{
		ExperimentName: "nope",
		SubjectID:      "s1",
		VariantName:    "control",
	})
	assert.True(t, shared.IsNotFound(err))
}

func TestForceVariant_Validation(t *testing.T) {
	h := NewForceVariantHandler(experiment.NewInMemoryRegistry(), newMapStore(), nil, nil)

	err := h.Handle(context.Background(), ForceVariantCommand{
		ExperimentName: "checkout_button",
		SubjectID:      "s1",
	})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestResetAssignments_SingleSubject(t *testing.T) {
	ctx := context.Background()
	store := newMapStore()
	require.NoError(t, store.Force(ctx, assignment.New("exp", "s1", "control", assignment.SourceRandom)))
	require.NoError(t, store.Force(ctx, assignment.New("exp", "s2", "treatment", assignment.SourceRandom)))

	h := NewResetAssignmentsHandler(store, nil)
	require.NoError(t, h.Handle(ctx, ResetAssignmentsCommand{ExperimentName: "exp", SubjectID: "s1"}))

	_, err := store.Get(ctx, "exp", "s1")
	assert.ErrorIs(t, err, shared.ErrAssignmentNotFound)

	_, err = store.Get(ctx, "exp", "s2")
	assert.NoError(t, err, "other subjects untouched")
}

func TestResetAssignments_WholeExperiment(t *testing.T) {
	ctx := context.Background()
	store := newMapStore()
	require.NoError(t, store.Force(ctx, assignment.New("exp", "s1", "control", assignment.SourceRandom)))
	require.NoError(t, store.Force(ctx, assignment.New("exp", "s2", "treatment", assignment.SourceRandom)))
	require.NoError(t, store.Force(ctx, assignment.New("other", "s1", "control", assignment.SourceRandom)))

	h := NewResetAssignmentsHandler(store, nil)
	require.NoError(t, h.Handle(ctx, ResetAssignmentsCommand{ExperimentName: "exp"}))

	_, err := store.Get(ctx, "exp", "s1")
	assert.ErrorIs(t, err, shared.ErrAssignmentNotFound)
	_, err = store.Get(ctx, "exp", "s2")
	assert.ErrorIs(t, err, shared.ErrAssignmentNotFound)

	_, err = store.Get(ctx, "other", "s1")
	assert.NoError(t, err, "other experiments untouched")
}

func TestResetAssignments_Validation(t *testing.T) {
	h := NewResetAssignmentsHandler(newMapStore(), nil)
	err := h.Handle(context.Background(), ResetAssignmentsCommand{})
	assert.ErrorIs(t, err, shared.ErrEmptyExperimentName)
}

func TestUpsertExperiment_StoresValidDefinition(t *testing.T) {
	ctx := context.Background()
	registry := experiment.NewInMemoryRegistry()
	h := NewUpsertExperimentHandler(registry, nil)

	err := h.Handle(ctx, UpsertExperimentCommand{Definition: *testDefinition()})
	require.NoError(t, err)

	got, err := registry.Get(ctx, "checkout_button")
	require.NoError(t, err)
	assert.Len(t, got.Variants, 2)
}

func TestUpsertExperiment_RejectsInvalidDefinition(t *testing.T) {
	registry := experiment.NewInMemoryRegistry()
	h := NewUpsertExperimentHandler(registry, nil)

	def := testDefinition()
	def.Variants[0].Weight = -1
	err := h.Handle(context.Background(), UpsertExperimentCommand{Definition: *def})
	assert.ErrorIs(t, err, shared.ErrNonPositiveWeight)
}

func TestSetEnabled_Toggles(t *testing.T) {
	ctx := context.Background()
	registry := experiment.NewInMemoryRegistry()
	require.NoError(t, registry.Upsert(ctx, testDefinition()))

	h := NewSetEnabledHandler(registry, nil)
	require.NoError(t, h.Handle(ctx, SetEnabledCommand{ExperimentName: "checkout_button", Enabled: false}))

	got, err := registry.Get(ctx, "checkout_button")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
}

func TestSetEnabled_DisablingKeepsAssignments(t *testing.T) {
	ctx := context.Background()
	registry := experiment.NewInMemoryRegistry()
	require.NoError(t, registry.Upsert(ctx, testDefinition()))

	store := newMapStore()
	events := &capturePublisher{}
	resolver := NewResolveVariantHandler(ResolveVariantConfig{
		Registry: registry,
		Store:    store,
		Bucketer: assignment.NewBucketer(assignment.NewLockedRNG(3)),
		Events:   events,
	})

	first, err := resolver.Handle(ctx, ResolveVariantCommand{ExperimentName: "checkout_button", SubjectID: "s1"})
	require.NoError(t, err)

	toggler := NewSetEnabledHandler(registry, nil)
	require.NoError(t, toggler.Handle(ctx, SetEnabledCommand{ExperimentName: "checkout_button", Enabled: false}))

	// Disabled: subject sees control regardless of the stored assignment.
	res, err := resolver.Handle(ctx, ResolveVariantCommand{ExperimentName: "checkout_button", SubjectID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "control", res.VariantName)

	// Re-enabled: the previous variant comes back.
	require.NoError(t, toggler.Handle(ctx, SetEnabledCommand{ExperimentName: "checkout_button", Enabled: true}))
	res, err = resolver.Handle(ctx, ResolveVariantCommand{ExperimentName: "checkout_button", SubjectID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, first.VariantName, res.VariantName)
}

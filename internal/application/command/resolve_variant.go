// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"time"

	"github.com/exphub/experiment-hub/internal/domain/analytics"
	"github.com/exphub/experiment-hub/internal/domain/assignment"
	"github.com/exphub/experiment-hub/internal/domain/experiment"
	"github.com/exphub/experiment-hub/internal/domain/shared"
	"github.com/exphub/experiment-hub/pkg/logger"
	"github.com/exphub/experiment-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESOLVE VARIANT COMMAND
// Decides which variant a subject sees, persists the decision so repeated
// lookups are stable, and emits the exposure event.
// ══════════════════════════════════════════════════════════════════════════════

// Publisher abstracts the event pipeline. Publishing is best-effort from the
// resolver's point of view: a pipeline error is logged, never returned.
type Publisher interface {
	Publish(ctx context.Context, event analytics.Event) error
}

// FlagProvider optionally supplies a forced variant from an external
// configuration system, consulted ahead of the random draw.
type FlagProvider interface {
	// Lookup returns the externally pinned variant for the experiment.
	// ok is false when the provider has no opinion.
	Lookup(ctx context.Context, experimentName string) (variant string, ok bool, err error)
}

// ResolveVariantCommand identifies the experiment, the subject, and the
// subject's audience attributes.
type ResolveVariantCommand struct {
	ExperimentName string
	SubjectID      string
	Context        experiment.AudienceContext
}

// Validate validates the command.
func (c ResolveVariantCommand) Validate() error {
	if c.ExperimentName == "" {
		return shared.ErrEmptyExperimentName
	}
	if c.SubjectID == "" {
		return shared.ErrEmptySubjectID
	}
	return nil
}

// ResolveVariantResult is the resolution outcome.
type ResolveVariantResult struct {
	VariantName string            `json:"variant"`
	Source      assignment.Source `json:"source"`

	// Ephemeral is true when the store could not be reached within the
	// persistence deadline and the draw was served without being persisted.
	// An ephemeral result is not sticky and emits no exposure event.
	Ephemeral bool `json:"ephemeral,omitempty"`
}

// ResolveVariantHandler implements the assignment engine.
type ResolveVariantHandler struct {
	registry experiment.Registry
	store    assignment.Store
	bucketer *assignment.Bucketer
	flags    FlagProvider // optional
	events   Publisher    // optional
	clock    timeutil.Clock
	log      *logger.Logger

	// persistTimeout bounds each store call; past it the handler degrades
	// to an ephemeral draw instead of failing the request.
	persistTimeout time.Duration
}

// ResolveVariantConfig bundles the handler dependencies.
type ResolveVariantConfig struct {
	Registry       experiment.Registry
	Store          assignment.Store
	Bucketer       *assignment.Bucketer
	Flags          FlagProvider
	Events         Publisher
	Clock          timeutil.Clock
	Logger         *logger.Logger
	PersistTimeout time.Duration
}

// NewResolveVariantHandler creates the handler.
func NewResolveVariantHandler(cfg ResolveVariantConfig) *ResolveVariantHandler {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.System
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 2 * time.Second
	}
	return &ResolveVariantHandler{
		registry:       cfg.Registry,
		store:          cfg.Store,
		bucketer:       cfg.Bucketer,
		flags:          cfg.Flags,
		events:         cfg.Events,
		clock:          cfg.Clock,
		log:            cfg.Logger,
		persistTimeout: cfg.PersistTimeout,
	}
}

// Handle resolves a variant for (experiment, subject, context).
//
// A missing, disabled, out-of-window, or audience-mismatched experiment is
// not an error: the subject sees control, nothing is persisted, and no event
// is emitted - indistinguishable from "no test" to the caller.
func (h *ResolveVariantHandler) Handle(ctx context.Context, cmd ResolveVariantCommand) (ResolveVariantResult, error) {
	if err := cmd.Validate(); err != nil {
		return ResolveVariantResult{}, err
	}

	def, err := h.registry.Get(ctx, cmd.ExperimentName)
	if err != nil {
		if shared.IsNotFound(err) {
			return controlResult(nil), nil
		}
		return ResolveVariantResult{}, err
	}

	if !def.IsActiveAt(h.clock.Now()) {
		return controlResult(def), nil
	}

	if !def.Audience.Matches(cmd.Context) {
		return controlResult(def), nil
	}

	// Stickiness: always re-read persisted state rather than trusting any
	// cached value, so a force applied mid-flight is observed.
	existing, err := h.getWithDeadline(ctx, cmd)
	switch {
	case err == nil:
		return ResolveVariantResult{VariantName: existing.VariantName, Source: existing.Source}, nil
	case errors.Is(err, shared.ErrAssignmentNotFound):
		// First resolution for this subject; fall through to assign.
	case shared.IsPersistenceUnavailable(err) || errors.Is(err, context.DeadlineExceeded):
		return h.ephemeralFallback(cmd, def, err), nil
	default:
		return ResolveVariantResult{}, err
	}

	candidate := h.pickCandidate(ctx, cmd, def)

	stored, created, err := h.getOrCreateWithDeadline(ctx, candidate)
	if err != nil {
		return h.ephemeralFallback(cmd, def, err), nil
	}

	if created {
		h.emit(ctx, analytics.NewAssignmentEvent(stored.ExperimentName, stored.VariantName, stored.SubjectID, stored.Source))
	}

	return ResolveVariantResult{VariantName: stored.VariantName, Source: stored.Source}, nil
}

// pickCandidate consults the external flag provider first, then performs the
// weighted draw. An override naming an undeclared variant is ignored with a
// warning rather than trusted into persistence.
func (h *ResolveVariantHandler) pickCandidate(ctx context.Context, cmd ResolveVariantCommand, def *experiment.Definition) assignment.Assignment {
	if h.flags != nil {
		variant, ok, err := h.flags.Lookup(ctx, cmd.ExperimentName)
		if err != nil {
			h.log.Warn("external flag lookup failed",
				logger.ExperimentName(cmd.ExperimentName), logger.Err(err))
		} else if ok {
			if def.HasVariant(variant) {
				return assignment.New(cmd.ExperimentName, cmd.SubjectID, variant, assignment.SourceExternal)
			}
			h.log.Warn("external flag names undeclared variant, ignoring",
				logger.ExperimentName(cmd.ExperimentName), logger.VariantName(variant))
		}
	}

	drawn := h.bucketer.Draw(def)
	return assignment.New(cmd.ExperimentName, cmd.SubjectID, drawn, assignment.SourceRandom)
}

// ephemeralFallback serves a degraded-but-available draw when the store is
// unreachable. The result is not persisted and not sticky.
func (h *ResolveVariantHandler) ephemeralFallback(cmd ResolveVariantCommand, def *experiment.Definition, cause error) ResolveVariantResult {
	h.log.Warn("assignment store unavailable, serving ephemeral draw",
		logger.ExperimentName(cmd.ExperimentName),
		logger.SubjectID(cmd.SubjectID),
		logger.Err(cause))

	return ResolveVariantResult{
		VariantName: h.bucketer.Draw(def),
		Source:      assignment.SourceRandom,
		Ephemeral:   true,
	}
}

func (h *ResolveVariantHandler) getWithDeadline(ctx context.Context, cmd ResolveVariantCommand) (assignment.Assignment, error) {
	ctx, cancel := context.WithTimeout(ctx, h.persistTimeout)
	defer cancel()
	return h.store.Get(ctx, cmd.ExperimentName, cmd.SubjectID)
}

func (h *ResolveVariantHandler) getOrCreateWithDeadline(ctx context.Context, candidate assignment.Assignment) (assignment.Assignment, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, h.persistTimeout)
	defer cancel()
	return h.store.GetOrCreate(ctx, candidate)
}

// emit publishes best-effort; pipeline errors are logged, never surfaced.
func (h *ResolveVariantHandler) emit(ctx context.Context, event analytics.Event) {
	if h.events == nil {
		return
	}
	if err := h.events.Publish(ctx, event); err != nil {
		h.log.Warn("event publish failed",
			logger.ExperimentName(event.ExperimentName), logger.Err(err))
	}
}

// controlResult builds the "no test" outcome. When no definition exists at
// all, the conventional control name is used.
func controlResult(def *experiment.Definition) ResolveVariantResult {
	name := experiment.ControlVariantName
	if def != nil {
		name = def.ControlVariant()
	}
	return ResolveVariantResult{VariantName: name, Source: assignment.SourceRandom}
}

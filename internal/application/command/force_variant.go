package command

import (
	"context"

	"github.com/exphub/experiment-hub/internal/domain/analytics"
	"github.com/exphub/experiment-hub/internal/domain/assignment"
	"github.com/exphub/experiment-hub/internal/domain/experiment"
	"github.com/exphub/experiment-hub/internal/domain/shared"
	"github.com/exphub/experiment-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// FORCE VARIANT COMMAND
// Administrative override pinning a subject to a specific variant,
// overwriting any previous assignment.
// ══════════════════════════════════════════════════════════════════════════════

// ForceVariantCommand pins a subject to a variant.
type ForceVariantCommand struct {
	ExperimentName string
	SubjectID      string
	VariantName    string
}

// Validate validates the command.
func (c ForceVariantCommand) Validate() error {
	if c.ExperimentName == "" {
		return shared.ErrEmptyExperimentName
	}
	if c.SubjectID == "" {
		return shared.ErrEmptySubjectID
	}
	if c.VariantName == "" {
		return shared.NewDomainError("assignment", "Force", shared.ErrInvalidInput, "variant name cannot be empty")
	}
	return nil
}

// ForceVariantHandler overwrites assignments on behalf of operators.
type ForceVariantHandler struct {
	registry experiment.Registry
	store    assignment.Store
	events   Publisher
	log      *logger.Logger
}

// NewForceVariantHandler creates the handler.
func NewForceVariantHandler(registry experiment.Registry, store assignment.Store, events Publisher, log *logger.Logger) *ForceVariantHandler {
	if log == nil {
		log = logger.Default()
	}
	return &ForceVariantHandler{registry: registry, store: store, events: events, log: log}
}

// Handle validates the variant against the definition, overwrites the stored
// assignment (last writer wins), and emits a forced exposure event so reports
// reflect the pinned traffic.
func (h *ForceVariantHandler) Handle(ctx context.Context, cmd ForceVariantCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	def, err := h.registry.Get(ctx, cmd.ExperimentName)
	if err != nil {
		return err
	}
	if !def.HasVariant(cmd.VariantName) {
		return shared.ErrUnknownVariant
	}

	forced := assignment.New(cmd.ExperimentName, cmd.SubjectID, cmd.VariantName, assignment.SourceForced)
	if err := h.store.Force(ctx, forced); err != nil {
		return err
	}

	h.log.Info("variant forced",
		logger.ExperimentName(cmd.ExperimentName),
		logger.SubjectID(cmd.SubjectID),
		logger.VariantName(cmd.VariantName))

	if h.events != nil {
		ev := analytics.NewAssignmentEvent(forced.ExperimentName, forced.VariantName, forced.SubjectID, forced.Source)
		if err := h.events.Publish(ctx, ev); err != nil {
			h.log.Warn("event publish failed",
				logger.ExperimentName(cmd.ExperimentName), logger.Err(err))
		}
	}
	return nil
}

package command

import (
	"context"

	"github.com/exphub/experiment-hub/internal/domain/assignment"
	"github.com/exphub/experiment-hub/internal/domain/shared"
	"github.com/exphub/experiment-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESET ASSIGNMENTS COMMAND
// Clears sticky assignments so affected subjects are re-bucketed on their
// next resolution. Historical events are never touched.
// ══════════════════════════════════════════════════════════════════════════════

// ResetAssignmentsCommand clears assignments for one subject or, with an
// empty SubjectID, for every subject in the experiment.
type ResetAssignmentsCommand struct {
	ExperimentName string
	SubjectID      string
}

// Validate validates the command.
func (c ResetAssignmentsCommand) Validate() error {
	if c.ExperimentName == "" {
		return shared.ErrEmptyExperimentName
	}
	return nil
}

// ResetAssignmentsHandler clears sticky assignments.
type ResetAssignmentsHandler struct {
	store assignment.Store
	log   *logger.Logger
}

// NewResetAssignmentsHandler creates the handler.
func NewResetAssignmentsHandler(store assignment.Store, log *logger.Logger) *ResetAssignmentsHandler {
	if log == nil {
		log = logger.Default()
	}
	return &ResetAssignmentsHandler{store: store, log: log}
}

// Handle removes the targeted assignments. Resetting an experiment that no
// longer exists in the registry is allowed: stale assignments may outlive
// their definition and must still be clearable.
func (h *ResetAssignmentsHandler) Handle(ctx context.Context, cmd ResetAssignmentsCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	if err := h.store.Reset(ctx, cmd.ExperimentName, cmd.SubjectID); err != nil {
		return err
	}

	if cmd.SubjectID == "" {
		h.log.Info("all assignments reset", logger.ExperimentName(cmd.ExperimentName))
	} else {
		h.log.Info("assignment reset",
			logger.ExperimentName(cmd.ExperimentName),
			logger.SubjectID(cmd.SubjectID))
	}
	return nil
}

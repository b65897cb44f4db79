package command

import (
	"context"

	"github.com/exphub/experiment-hub/internal/domain/experiment"
	"github.com/exphub/experiment-hub/internal/domain/shared"
	"github.com/exphub/experiment-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPSERT EXPERIMENT / SET ENABLED COMMANDS
// Registry administration. Existing assignments survive a definition edit;
// subjects holding a since-removed variant keep it until reset.
// ══════════════════════════════════════════════════════════════════════════════

// UpsertExperimentCommand creates or replaces an experiment definition.
type UpsertExperimentCommand struct {
	Definition experiment.Definition
}

// Validate validates the command.
func (c UpsertExperimentCommand) Validate() error {
	return c.Definition.Validate()
}

// UpsertExperimentHandler writes definitions into the registry.
type UpsertExperimentHandler struct {
	registry experiment.Registry
	log      *logger.Logger
}

// NewUpsertExperimentHandler creates the handler.
func NewUpsertExperimentHandler(registry experiment.Registry, log *logger.Logger) *UpsertExperimentHandler {
	if log == nil {
		log = logger.Default()
	}
	return &UpsertExperimentHandler{registry: registry, log: log}
}

// Handle validates and stores the definition.
func (h *UpsertExperimentHandler) Handle(ctx context.Context, cmd UpsertExperimentCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	if err := h.registry.Upsert(ctx, &cmd.Definition); err != nil {
		return err
	}
	h.log.Info("experiment upserted",
		logger.ExperimentName(cmd.Definition.Name),
		logger.Int("variants", len(cmd.Definition.Variants)))
	return nil
}

// SetEnabledCommand toggles an experiment without touching its definition.
type SetEnabledCommand struct {
	ExperimentName string
	Enabled        bool
}

// Validate validates the command.
func (c SetEnabledCommand) Validate() error {
	if c.ExperimentName == "" {
		return shared.ErrEmptyExperimentName
	}
	return nil
}

// SetEnabledHandler flips the enabled flag.
type SetEnabledHandler struct {
	registry experiment.Registry
	log      *logger.Logger
}

// NewSetEnabledHandler creates the handler.
func NewSetEnabledHandler(registry experiment.Registry, log *logger.Logger) *SetEnabledHandler {
	if log == nil {
		log = logger.Default()
	}
	return &SetEnabledHandler{registry: registry, log: log}
}

// Handle toggles the experiment. Disabling does not clear assignments: a
// re-enabled experiment serves subjects their previous variants.
func (h *SetEnabledHandler) Handle(ctx context.Context, cmd SetEnabledCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	if err := h.registry.SetEnabled(ctx, cmd.ExperimentName, cmd.Enabled); err != nil {
		return err
	}
	h.log.Info("experiment toggled",
		logger.ExperimentName(cmd.ExperimentName),
		logger.Bool("enabled", cmd.Enabled))
	return nil
}

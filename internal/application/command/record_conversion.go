package command

import (
	"context"

	"github.com/exphub/experiment-hub/internal/domain/analytics"
	"github.com/exphub/experiment-hub/internal/domain/experiment"
	"github.com/exphub/experiment-hub/internal/domain/shared"
	"github.com/exphub/experiment-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD CONVERSION COMMAND
// Attributes an outcome to the variant the subject was assigned.
// ══════════════════════════════════════════════════════════════════════════════

// RecordConversionCommand attributes an outcome to a subject's variant.
// Value is an optional monetary or quantitative payload.
type RecordConversionCommand struct {
	ExperimentName string
	SubjectID      string
	ConversionType string
	Value          *float64
	Context        experiment.AudienceContext
}

// Validate validates the command.
func (c RecordConversionCommand) Validate() error {
	if c.ExperimentName == "" {
		return shared.ErrEmptyExperimentName
	}
	if c.SubjectID == "" {
		return shared.ErrEmptySubjectID
	}
	if c.ConversionType == "" {
		return shared.NewDomainError("analytics", "RecordConversion", shared.ErrInvalidInput, "conversion type cannot be empty")
	}
	return nil
}

// RecordConversionHandler resolves the subject's variant and publishes the
// conversion event.
type RecordConversionHandler struct {
	resolver *ResolveVariantHandler
	events   Publisher
	log      *logger.Logger
}

// NewRecordConversionHandler creates the handler.
func NewRecordConversionHandler(resolver *ResolveVariantHandler, events Publisher, log *logger.Logger) *RecordConversionHandler {
	if log == nil {
		log = logger.Default()
	}
	return &RecordConversionHandler{resolver: resolver, events: events, log: log}
}

// Handle records a conversion against the subject's current variant. A subject
// converting without a prior exposure is assigned on the spot through the
// regular resolution path, so the conversion always lands on a real variant.
func (h *RecordConversionHandler) Handle(ctx context.Context, cmd RecordConversionCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	resolved, err := h.resolver.Handle(ctx, ResolveVariantCommand{
		ExperimentName: cmd.ExperimentName,
		SubjectID:      cmd.SubjectID,
		Context:        cmd.Context,
	})
	if err != nil {
		return err
	}

	if h.events == nil {
		return nil
	}

	ev := analytics.NewConversionEvent(cmd.ExperimentName, resolved.VariantName, cmd.SubjectID, cmd.ConversionType, cmd.Value)
	if err := h.events.Publish(ctx, ev); err != nil {
		h.log.Error("conversion event publish failed",
			logger.ExperimentName(cmd.ExperimentName),
			logger.SubjectID(cmd.SubjectID),
			logger.Err(err))
		return err
	}
	return nil
}

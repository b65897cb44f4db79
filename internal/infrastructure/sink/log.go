// Package sink contains analytics.Sink implementations. Sinks are fire-and-
// forget receivers: a failed push is logged by the pipeline and dropped, never
// retried, since the event log already holds the authoritative copy.
package sink

import (
	"context"
	"log/slog"

	"github.com/exphub/experiment-hub/internal/domain/analytics"
)

// LogSink writes every event to the structured log. Used as the default sink
// in development and as a cheap audit trail in production.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log sink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Name implements analytics.Sink.
func (s *LogSink) Name() string {
	return "log"
}

// Push implements analytics.Sink.
func (s *LogSink) Push(_ context.Context, event analytics.Event) error {
	attrs := []any{
		"event_id", event.ID,
		"kind", string(event.Kind),
		"experiment", event.ExperimentName,
		"variant", event.VariantName,
		"subject_id", event.SubjectID,
	}
	if event.Source != "" {
		attrs = append(attrs, "source", string(event.Source))
	}
	if event.ConversionType != "" {
		attrs = append(attrs, "conversion_type", event.ConversionType)
	}
	if event.Value != nil {
		attrs = append(attrs, "value", *event.Value)
	}

	s.logger.Info("experiment event", attrs...)
	return nil
}

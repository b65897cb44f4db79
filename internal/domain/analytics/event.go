// Package analytics contains the append-only event model that aggregation
// treats as the single source of truth, the ports for the event log and
// external sinks, and the per-variant statistics computation.
package analytics

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/exphub/experiment-hub/internal/domain/assignment"
	"github.com/exphub/experiment-hub/internal/domain/shared"
)

// EventKind discriminates the event union in storage.
type EventKind string

const (
	KindAssignment EventKind = "assignment"
	KindConversion EventKind = "conversion"
)

// Event is a single immutable entry in the experiment event log.
// Assignment events record exposures; conversion events record outcomes.
// Value and ConversionType are only set for conversion events.
type Event struct {
	ID             string            `json:"id"`
	Kind           EventKind         `json:"kind"`
	ExperimentName string            `json:"experiment_name"`
	VariantName    string            `json:"variant_name"`
	SubjectID      string            `json:"subject_id"`
	Source         assignment.Source `json:"source,omitempty"`
	ConversionType string            `json:"conversion_type,omitempty"`
	Value          *float64          `json:"value,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// NewAssignmentEvent records that a subject was exposed to a variant.
func NewAssignmentEvent(experimentName, variantName, subjectID string, source assignment.Source) Event {
	return Event{
		ID:             uuid.NewString(),
		Kind:           KindAssignment,
		ExperimentName: experimentName,
		VariantName:    variantName,
		SubjectID:      subjectID,
		Source:         source,
		Timestamp:      time.Now().UTC(),
	}
}

// NewConversionEvent records an outcome attributed to the subject's variant.
func NewConversionEvent(experimentName, variantName, subjectID, conversionType string, value *float64) Event {
	return Event{
		ID:             uuid.NewString(),
		Kind:           KindConversion,
		ExperimentName: experimentName,
		VariantName:    variantName,
		SubjectID:      subjectID,
		ConversionType: conversionType,
		Value:          value,
		Timestamp:      time.Now().UTC(),
	}
}

// EventType implements shared.Event.
func (e Event) EventType() shared.EventType {
	if e.Kind == KindConversion {
		return shared.EventConversionRecorded
	}
	return shared.EventVariantAssigned
}

// OccurredAt implements shared.Event.
func (e Event) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements shared.Event.
func (e Event) AggregateID() string {
	return e.ExperimentName
}

// Payload implements shared.Event.
func (e Event) Payload() map[string]interface{} {
	p := map[string]interface{}{
		"id":         e.ID,
		"kind":       string(e.Kind),
		"experiment": e.ExperimentName,
		"variant":    e.VariantName,
		"subject_id": e.SubjectID,
	}
	if e.Source != "" {
		p["source"] = string(e.Source)
	}
	if e.ConversionType != "" {
		p["conversion_type"] = e.ConversionType
	}
	if e.Value != nil {
		p["value"] = *e.Value
	}
	return p
}

// EventLog is the persistence port for the append-only event log.
// Events are immutable once appended and are never deleted; the log is the
// only source of truth for aggregation (no auxiliary counters that can
// drift from it).
type EventLog interface {
	// Append durably stores the event.
	Append(ctx context.Context, event Event) error

	// ListByExperiment returns all events for the experiment in append
	// order. A scan may miss events appended after it started but never
	// observes a partial event.
	ListByExperiment(ctx context.Context, experimentName string) ([]Event, error)
}

// Sink receives a copy of every published event. Any number of sinks may be
// registered with the pipeline; each is independently fallible and its
// errors are logged, never propagated to the publishing caller.
type Sink interface {
	// Name identifies the sink in logs.
	Name() string

	// Push delivers the event. The context carries the pipeline's per-sink
	// dispatch deadline.
	Push(ctx context.Context, event Event) error
}

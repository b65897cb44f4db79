// Package shared contains common domain types, errors, and events that are
// used across all domain packages.
package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. The assignment and conversion events form the
// append-only log that aggregation treats as the single source of truth;
// the remaining types drive operational fan-out only.
const (
	// Exposure events
	EventVariantAssigned EventType = "experiment.variant_assigned"

	// Outcome events
	EventConversionRecorded EventType = "experiment.conversion_recorded"

	// Lifecycle events
	EventExperimentUpserted EventType = "experiment.upserted"
	EventExperimentEnabled  EventType = "experiment.enabled"
	EventExperimentDisabled EventType = "experiment.disabled"
	EventAssignmentsReset   EventType = "experiment.assignments_reset"

	// System events
	EventStatsRecomputed EventType = "system.stats_recomputed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	// For experiment events this is the experiment name.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// EventHandler processes a single event. Handlers run inside the pipeline's
// per-sink failure boundary; a returned error is logged, never propagated.
type EventHandler func(event Event) error

package memory

import (
	"context"
	"sync"

	"github.com/exphub/experiment-hub/internal/domain/analytics"
)

// EventLog is an append-only in-memory log. Events are grouped per experiment
// in append order; reads return copies so callers can never mutate the log.
type EventLog struct {
	mu           sync.RWMutex
	byExperiment map[string][]analytics.Event
	total        int
}

// NewEventLog creates an empty in-memory event log.
func NewEventLog() *EventLog {
	return &EventLog{
		byExperiment: make(map[string][]analytics.Event),
	}
}

// Append implements analytics.EventLog.
func (l *EventLog) Append(ctx context.Context, event analytics.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.byExperiment[event.ExperimentName] = append(l.byExperiment[event.ExperimentName], event)
	l.total++
	return nil
}

// ListByExperiment implements analytics.EventLog.
func (l *EventLog) ListByExperiment(ctx context.Context, experimentName string) ([]analytics.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	events := l.byExperiment[experimentName]
	out := make([]analytics.Event, len(events))
	copy(out, events)
	return out, nil
}

// Total returns the number of appended events across all experiments.
func (l *EventLog) Total() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

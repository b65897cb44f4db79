// Package messaging implements the analytics event pipeline for Experiment Hub.
// The pipeline appends every published event to the durable log, then fans the
// event out to registered sinks without letting any sink slow or fail the
// publishing caller.
package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/exphub/experiment-hub/internal/domain/analytics"
	"github.com/exphub/experiment-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVENT PIPELINE
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrPipelineClosed is returned when publishing to a closed pipeline.
	ErrPipelineClosed = errors.New("event pipeline is closed")
)

// Pipeline routes analytics events to the log and the sinks.
//
// The log append is synchronous: an event that cannot be logged is reported
// to the caller, since the log is the source of truth for aggregation. Sink
// dispatch is asynchronous and isolated: one sink failing, hanging, or
// panicking never affects the log, the caller, or the other sinks.
type Pipeline struct {
	mu         sync.RWMutex
	log        analytics.EventLog
	sinks      []analytics.Sink
	workerPool chan struct{}
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *PipelineMetrics
	closed     bool
	closeCh    chan struct{}
	wg         sync.WaitGroup
}

// PipelineConfig contains configuration for Pipeline.
type PipelineConfig struct {
	// EventLog receives every published event synchronously.
	EventLog analytics.EventLog

	// Sinks receive a copy of every event asynchronously.
	Sinks []analytics.Sink

	// WorkerPoolSize bounds concurrent sink dispatches.
	WorkerPoolSize int

	// SinkTimeout bounds each individual sink push.
	SinkTimeout time.Duration

	// Logger for structured logging
	Logger *slog.Logger

	// EnableMetrics enables metrics collection
	EnableMetrics bool
}

// DefaultPipelineConfig returns sensible defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		WorkerPoolSize: 10,
		SinkTimeout:    5 * time.Second,
		EnableMetrics:  true,
	}
}

// NewPipeline creates a new event pipeline.
func NewPipeline(config PipelineConfig) *Pipeline {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 10
	}
	if config.SinkTimeout <= 0 {
		config.SinkTimeout = 5 * time.Second
	}

	p := &Pipeline{
		log:        config.EventLog,
		sinks:      append([]analytics.Sink(nil), config.Sinks...),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		timeout:    config.SinkTimeout,
		logger:     config.Logger,
		closeCh:    make(chan struct{}),
	}

	if config.EnableMetrics {
		p.metrics = NewPipelineMetrics()
	}

	return p
}

// Register adds a sink. Sinks registered after events were published only see
// subsequent events.
func (p *Pipeline) Register(sink analytics.Sink) error {
	if sink == nil {
		return errors.New("sink cannot be nil")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPipelineClosed
	}

	p.sinks = append(p.sinks, sink)
	p.logger.Debug("registered sink", "sink", sink.Name())

	return nil
}

// Publish appends the event to the log and dispatches it to every sink.
// The returned error covers only the log append; sink outcomes are logged.
func (p *Pipeline) Publish(ctx context.Context, event analytics.Event) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPipelineClosed
	}
	sinks := make([]analytics.Sink, len(p.sinks))
	copy(sinks, p.sinks)
	p.mu.RUnlock()

	if p.log != nil {
		if err := p.log.Append(ctx, event); err != nil {
			return shared.WrapError("analytics", "Publish", shared.ErrPersistenceUnavailable, "event log append failed", err)
		}
	}

	if p.metrics != nil {
		p.metrics.RecordPublish(event.Kind)
	}

	for _, sink := range sinks {
		p.dispatchAsync(event, sink)
	}

	return nil
}

// dispatchAsync pushes the event to one sink on the worker pool. The push
// runs on a background context with the pipeline's timeout so an abandoned
// request context cannot cancel delivery mid-flight.
func (p *Pipeline) dispatchAsync(event analytics.Event, sink analytics.Sink) {
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		select {
		case p.workerPool <- struct{}{}:
			defer func() { <-p.workerPool }()
		case <-p.closeCh:
			return
		}

		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("sink panicked",
					"sink", sink.Name(),
					"event_id", event.ID,
					"panic", r,
				)
				if p.metrics != nil {
					p.metrics.RecordDispatch(sink.Name(), 0, false)
				}
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		start := time.Now()
		err := sink.Push(ctx, event)
		duration := time.Since(start)

		if p.metrics != nil {
			p.metrics.RecordDispatch(sink.Name(), duration, err == nil)
		}

		if err != nil {
			p.logger.Error("sink dispatch failed",
				"sink", sink.Name(),
				"event_id", event.ID,
				"experiment", event.ExperimentName,
				"duration", duration,
				"error", err,
			)
		}
	}()
}

// Close stops accepting events and waits for in-flight dispatches.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.closeCh)
	p.mu.Unlock()

	p.wg.Wait()

	p.logger.Info("event pipeline closed")
	return nil
}

// Metrics returns the current metrics.
func (p *Pipeline) Metrics() *PipelineMetrics {
	return p.metrics
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// PipelineMetrics tracks pipeline performance metrics.
type PipelineMetrics struct {
	mu sync.RWMutex

	PublishedTotal map[analytics.EventKind]int64

	DispatchesTotal       int64
	DispatchSuccesses     int64
	DispatchFailures      int64
	DispatchTotalDuration time.Duration
	DispatchesBySink      map[string]int64
	FailuresBySink        map[string]int64
}

// NewPipelineMetrics creates a new metrics tracker.
func NewPipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{
		PublishedTotal:   make(map[analytics.EventKind]int64),
		DispatchesBySink: make(map[string]int64),
		FailuresBySink:   make(map[string]int64),
	}
}

// RecordPublish records a published event.
func (m *PipelineMetrics) RecordPublish(kind analytics.EventKind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PublishedTotal[kind]++
}

// RecordDispatch records a sink dispatch outcome.
func (m *PipelineMetrics) RecordDispatch(sink string, duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DispatchesTotal++
	m.DispatchTotalDuration += duration
	m.DispatchesBySink[sink]++

	if success {
		m.DispatchSuccesses++
	} else {
		m.DispatchFailures++
		m.FailuresBySink[sink]++
	}
}

// Snapshot returns a copy of current metrics.
func (m *PipelineMetrics) Snapshot() PipelineMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var published int64
	for _, v := range m.PublishedTotal {
		published += v
	}

	avg := time.Duration(0)
	if m.DispatchesTotal > 0 {
		avg = m.DispatchTotalDuration / time.Duration(m.DispatchesTotal)
	}

	rate := 1.0
	if m.DispatchesTotal > 0 {
		rate = float64(m.DispatchSuccesses) / float64(m.DispatchesTotal)
	}

	return PipelineMetricsSnapshot{
		TotalPublished:          published,
		TotalDispatches:         m.DispatchesTotal,
		DispatchSuccessRate:     rate,
		AverageDispatchDuration: avg,
	}
}

// PipelineMetricsSnapshot is a point-in-time snapshot of metrics.
type PipelineMetricsSnapshot struct {
	TotalPublished          int64
	TotalDispatches         int64
	DispatchSuccessRate     float64
	AverageDispatchDuration time.Duration
}

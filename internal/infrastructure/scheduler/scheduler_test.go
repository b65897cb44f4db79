package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingJob counts executions and optionally fails.
type countingJob struct {
	name string
	runs atomic.Int64
	err  error
}

func (j *countingJob) Name() string        { return j.name }
func (j *countingJob) Description() string { return "counting job" }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	return j.err
}

func TestScheduler_Register(t *testing.T) {
	s := New(nil)
	job := &countingJob{name: "warm"}

	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Minute)))

	assert.ErrorIs(t, s.Register(job, NewIntervalSchedule(time.Minute)), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Minute)), ErrNilJob)
	assert.ErrorIs(t, s.Register(&countingJob{name: "other"}, nil), ErrNilSchedule)

	jobs := s.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "warm", jobs[0].Name)
	assert.Equal(t, "@every 1m0s", jobs[0].Schedule)
	assert.False(t, jobs[0].NextRun.IsZero())
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(nil)
	job := &countingJob{name: "warm"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))

	result, err := s.RunNow(context.Background(), "warm")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "warm", result.JobName)
	assert.Equal(t, int64(1), job.runs.Load())

	last, ok := s.LastResult("warm")
	require.True(t, ok)
	assert.True(t, last.Success)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestScheduler_RunNowRecordsFailure(t *testing.T) {
	s := New(nil)
	boom := errors.New("boom")
	job := &countingJob{name: "flaky", err: boom}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))

	result, err := s.RunNow(context.Background(), "flaky")
	require.ErrorIs(t, err, boom)
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Error, boom)
}

func TestScheduler_StartStop(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Register(&countingJob{name: "warm"}, NewIntervalSchedule(time.Hour)))

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	assert.True(t, s.IsRunning())
	assert.ErrorIs(t, s.Start(ctx), ErrAlreadyRunning)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.ErrorIs(t, s.Stop(), ErrNotRunning)
}

func TestIntervalSchedule(t *testing.T) {
	sched := NewIntervalSchedule(5 * time.Minute)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, base.Add(5*time.Minute), sched.Next(base))
	assert.Equal(t, "@every 5m0s", sched.String())
}

package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remedy-copilot/pkg/governor"
	"remedy-copilot/pkg/store"
	"remedy-copilot/pkg/types"
)

type scriptedRunner struct {
	calls    atomic.Int32
	failures int32 // first N calls return a retryable error
	fatal    error
}

func (r *scriptedRunner) Execute(_ context.Context, run *types.FixPipelineRun) error {
	n := r.calls.Add(1)
	if r.fatal != nil {
		return r.fatal
	}
	if n <= r.failures {
		return &governor.RetryableError{Countdown: time.Millisecond, Reason: "transient"}
	}
	run.Status = types.RunPRCreated
	return nil
}

type poolFixture struct {
	pool   *Pool
	events store.EventStore
	runner *scriptedRunner
	cancel context.CancelFunc
}

func newPoolFixture(t *testing.T, runner *scriptedRunner, govCfg governor.Config) *poolFixture {
	t.Helper()
	logger := zerolog.Nop()
	events := store.NewMemoryEventStore()
	runs := store.NewMemoryRunStore()
	gov := governor.New(governor.NewMemoryCoordinator(), runs, govCfg, logger)

	p := New(Config{Workers: 2, QueueSize: 8, MaxRetries: 5}, gov, runner, events, logger)
	p.sleep = func(context.Context, time.Duration) {}

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)
	t.Cleanup(cancel)
	return &poolFixture{pool: p, events: events, runner: runner, cancel: cancel}
}

func (f *poolFixture) dispatch(t *testing.T) *types.PipelineEvent {
	t.Helper()
	event := &types.PipelineEvent{
		IdempotencyKey: types.BuildIdempotencyKey(types.ProviderGitHub, "acme/app", "100", "42", 1),
		Provider:       types.ProviderGitHub,
		Repo:           "acme/app",
		PipelineID:     "100",
		JobID:          "42",
		Attempt:        1,
	}
	stored, created, err := f.events.Insert(context.Background(), event)
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, f.pool.Dispatch(stored))
	return stored
}

func eventStatus(t *testing.T, events store.EventStore, id string) types.EventStatus {
	t.Helper()
	e, err := events.Get(context.Background(), id)
	require.NoError(t, err)
	return e.Status
}

func TestPoolCompletesHappyTask(t *testing.T) {
	f := newPoolFixture(t, &scriptedRunner{}, governor.Config{MaxPipelineAttempts: 3})
	event := f.dispatch(t)

	assert.Eventually(t, func() bool {
		return eventStatus(t, f.events, event.ID) == types.EventStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), f.runner.calls.Load())
}

func TestPoolReschedulesRetryableThenSucceeds(t *testing.T) {
	f := newPoolFixture(t, &scriptedRunner{failures: 2}, governor.Config{MaxPipelineAttempts: 5})
	event := f.dispatch(t)

	assert.Eventually(t, func() bool {
		return eventStatus(t, f.events, event.ID) == types.EventStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(3), f.runner.calls.Load())
}

func TestPoolStopsAtAttemptCeiling(t *testing.T) {
	f := newPoolFixture(t, &scriptedRunner{failures: 100}, governor.Config{MaxPipelineAttempts: 2})
	event := f.dispatch(t)

	assert.Eventually(t, func() bool {
		return eventStatus(t, f.events, event.ID) == types.EventStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	e, err := f.events.Get(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, "max_attempts", e.ErrorMessage)
	assert.Equal(t, int32(2), f.runner.calls.Load())
}

func TestPoolMarksFatalFailures(t *testing.T) {
	f := newPoolFixture(t, &scriptedRunner{fatal: errors.New("contract violation")}, governor.Config{MaxPipelineAttempts: 3})
	event := f.dispatch(t)

	assert.Eventually(t, func() bool {
		return eventStatus(t, f.events, event.ID) == types.EventStatusFailed
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), f.runner.calls.Load())
}

func TestDispatchMarksEventDispatched(t *testing.T) {
	logger := zerolog.Nop()
	events := store.NewMemoryEventStore()
	gov := governor.New(governor.NewMemoryCoordinator(), store.NewMemoryRunStore(), governor.Config{}, logger)
	// pool not running, so the status cannot advance past dispatched
	p := New(Config{Workers: 1, QueueSize: 8}, gov, &scriptedRunner{}, events, logger)

	event := &types.PipelineEvent{
		IdempotencyKey: types.BuildIdempotencyKey(types.ProviderGitHub, "acme/app", "100", "42", 1),
		Provider:       types.ProviderGitHub,
		Repo:           "acme/app",
	}
	stored, _, err := events.Insert(context.Background(), event)
	require.NoError(t, err)
	require.NoError(t, p.Dispatch(stored))

	assert.Equal(t, types.EventStatusDispatched, eventStatus(t, events, stored.ID))
}

func TestDispatchRejectsWhenQueueFull(t *testing.T) {
	logger := zerolog.Nop()
	gov := governor.New(governor.NewMemoryCoordinator(), store.NewMemoryRunStore(), governor.Config{}, logger)
	p := New(Config{Workers: 1, QueueSize: 1}, gov, &scriptedRunner{}, store.NewMemoryEventStore(), logger)
	// Pool not running, so the first event sits in the queue.
	require.NoError(t, p.Dispatch(&types.PipelineEvent{ID: "e1"}))
	assert.ErrorIs(t, p.Dispatch(&types.PipelineEvent{ID: "e2"}), ErrQueueFull)
	assert.Equal(t, 1, p.QueueDepth())
}

// Package worker runs pipeline tasks on a bounded pool. Each task owns
// one FixPipelineRun; the governor serializes tasks per run key.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"remedy-copilot/pkg/governor"
	"remedy-copilot/pkg/store"
	"remedy-copilot/pkg/types"
)

// ErrQueueFull is returned by Dispatch when the event queue is at
// capacity.
var ErrQueueFull = errors.New("worker queue full")

// Runner executes one pipeline run. Satisfied by pipeline.Orchestrator.
type Runner interface {
	Execute(ctx context.Context, run *types.FixPipelineRun) error
}

// Config bounds the pool.
type Config struct {
	Workers    int
	QueueSize  int
	MaxRetries int // reschedules per event on retryable outcomes
}

// DefaultConfig returns the pool defaults.
func DefaultConfig() Config {
	return Config{Workers: 4, QueueSize: 256, MaxRetries: 10}
}

type task struct {
	event   *types.PipelineEvent
	retries int
}

// Pool dispatches events from webhooks to governed orchestrator runs.
type Pool struct {
	cfg    Config
	gov    *governor.Governor
	runner Runner
	events store.EventStore
	queue  chan task
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	logger zerolog.Logger

	// sleep is replaced in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration)
}

// New creates a pool.
func New(cfg Config, gov *governor.Governor, runner Runner, events store.EventStore, logger zerolog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	return &Pool{
		cfg:    cfg,
		gov:    gov,
		runner: runner,
		events: events,
		queue:  make(chan task, cfg.QueueSize),
		sem:    semaphore.NewWeighted(int64(cfg.Workers)),
		logger: logger.With().Str("component", "worker_pool").Logger(),
		sleep:  sleepCtx,
	}
}

// Dispatch enqueues an event without blocking. Implements
// server.Dispatcher.
func (p *Pool) Dispatch(event *types.PipelineEvent) error {
	select {
	case p.queue <- task{event: event}:
	default:
		return ErrQueueFull
	}
	// The stores keep status monotonic, so this cannot undo a
	// processing mark from a worker that already picked the task up.
	if err := p.events.UpdateStatus(context.Background(), event.ID, types.EventStatusDispatched, ""); err != nil {
		p.logger.Error().Err(err).Str("event_id", event.ID).Msg("failed to mark event dispatched")
	}
	return nil
}

// Run consumes the queue until ctx is cancelled, then waits for
// in-flight tasks.
func (p *Pool) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			return
		case t := <-p.queue:
			if err := p.sem.Acquire(ctx, 1); err != nil {
				p.wg.Wait()
				return
			}
			p.wg.Add(1)
			go func(t task) {
				defer p.wg.Done()
				defer p.sem.Release(1)
				p.process(ctx, t)
			}(t)
		}
	}
}

// QueueDepth returns the number of events waiting for a worker.
func (p *Pool) QueueDepth() int { return len(p.queue) }

func (p *Pool) process(ctx context.Context, t task) {
	event := t.event
	log := p.logger.With().Str("event_id", event.ID).Str("repo", event.Repo).Logger()

	if err := p.events.UpdateStatus(ctx, event.ID, types.EventStatusProcessing, ""); err != nil {
		log.Error().Err(err).Msg("failed to mark event processing")
	}

	err := p.gov.Execute(ctx, event.IdempotencyKey, event.ID, event.Repo, p.runner.Execute)
	switch {
	case err == nil:
		p.finish(ctx, event, types.EventStatusCompleted, "")
	case errors.Is(err, governor.ErrAlreadyRunning):
		log.Debug().Msg("run held elsewhere, dropping task")
	case errors.Is(err, governor.ErrMaxAttempts):
		p.finish(ctx, event, types.EventStatusFailed, "max_attempts")
	case governor.IsRetryable(err):
		p.reschedule(ctx, t, err, log)
	default:
		log.Error().Err(err).Msg("pipeline task failed")
		p.finish(ctx, event, types.EventStatusFailed, err.Error())
	}
}

// reschedule re-enqueues a task after its countdown. A zero countdown
// falls back to the governor's backoff for the next attempt.
func (p *Pool) reschedule(ctx context.Context, t task, err error, log zerolog.Logger) {
	if t.retries >= p.cfg.MaxRetries {
		log.Warn().Int("retries", t.retries).Msg("retry budget exhausted, dropping task")
		p.finish(ctx, t.event, types.EventStatusFailed, "retry budget exhausted")
		return
	}

	var r *governor.RetryableError
	errors.As(err, &r)
	countdown := r.Countdown
	if countdown <= 0 {
		countdown = p.gov.Backoff(t.retries + 1)
	}
	log.Info().Dur("countdown", countdown).Str("reason", r.Reason).Msg("rescheduling task")

	t.retries++
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.sleep(ctx, countdown)
		if ctx.Err() != nil {
			return
		}
		select {
		case p.queue <- t:
		default:
			p.logger.Warn().Str("event_id", t.event.ID).Msg("queue full, dropping rescheduled task")
		}
	}()
}

func (p *Pool) finish(ctx context.Context, event *types.PipelineEvent, status types.EventStatus, message string) {
	if err := p.events.UpdateStatus(ctx, event.ID, status, message); err != nil {
		p.logger.Error().Err(err).Str("event_id", event.ID).Msg("failed to update event status")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Package governor serializes pipeline work per run key and throttles
// it per repository. Every orchestrator execution passes through four
// gates: run-key try-lock, cooldown, attempt ceiling, and per-repo
// concurrency slots.
package governor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"remedy-copilot/pkg/store"
	"remedy-copilot/pkg/types"
)

// ErrAlreadyRunning signals that another worker holds the run key.
// It is neither fatal nor retryable: the holder will finish the work.
var ErrAlreadyRunning = errors.New("run already in progress")

// ErrMaxAttempts signals that a run exhausted its attempt budget and
// has been persisted as terminally blocked.
var ErrMaxAttempts = errors.New("max pipeline attempts reached")

// RetryableError asks the dispatcher to reschedule after Countdown.
type RetryableError struct {
	Countdown time.Duration
	Reason    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retry in %s: %s", e.Countdown, e.Reason)
}

// IsRetryable reports whether err should rearm the dispatcher.
func IsRetryable(err error) bool {
	var r *RetryableError
	return errors.As(err, &r)
}

// Config bounds retry and concurrency behavior.
type Config struct {
	Cooldown             time.Duration
	MaxPipelineAttempts  int
	RepoConcurrencyLimit int
	BackoffBase          time.Duration
	BackoffMax           time.Duration
	LockTTL              time.Duration
	SlotTTL              time.Duration
}

// DefaultConfig returns the governor defaults.
func DefaultConfig() Config {
	return Config{
		Cooldown:             60 * time.Second,
		MaxPipelineAttempts:  3,
		RepoConcurrencyLimit: 2,
		BackoffBase:          30 * time.Second,
		BackoffMax:           10 * time.Minute,
		LockTTL:              15 * time.Minute,
		SlotTTL:              15 * time.Minute,
	}
}

// Governor wraps orchestrator executions with the four gates.
type Governor struct {
	coord  Coordinator
	runs   store.RunStore
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a governor.
func New(coord Coordinator, runs store.RunStore, cfg Config, logger zerolog.Logger) *Governor {
	if cfg.MaxPipelineAttempts <= 0 {
		cfg.MaxPipelineAttempts = DefaultConfig().MaxPipelineAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultConfig().BackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = DefaultConfig().BackoffMax
	}
	return &Governor{
		coord:  coord,
		runs:   runs,
		cfg:    cfg,
		logger: logger.With().Str("component", "governor").Logger(),
		now:    time.Now,
	}
}

// Execute runs fn for the given run under the gates. The run's attempt
// count is incremented and persisted before fn starts; the caller's fn
// receives the refreshed run.
func (g *Governor) Execute(ctx context.Context, runKey, eventID, repo string, fn func(ctx context.Context, run *types.FixPipelineRun) error) error {
	// gate 1: run-key try-lock
	acquired, err := g.coord.TryLock(ctx, runKey, g.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	if !acquired {
		g.logger.Debug().Str("run_key", runKey).Msg("run key locked elsewhere")
		return ErrAlreadyRunning
	}
	defer g.coord.Unlock(ctx, runKey)

	run, err := g.runs.GetOrCreate(ctx, runKey, eventID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if run.Status.Terminal() {
		g.logger.Debug().Str("run_key", runKey).Str("status", string(run.Status)).Msg("run already terminal")
		return nil
	}

	// gate 2: cooldown
	if run.AttemptCount > 0 && g.cfg.Cooldown > 0 {
		elapsed := g.now().Sub(run.UpdatedAt)
		if elapsed < g.cfg.Cooldown {
			return &RetryableError{Countdown: g.cfg.Cooldown - elapsed, Reason: "cooldown"}
		}
	}

	// gate 3: attempt ceiling. The run status stays on its last
	// pipeline state: exhaustion is carried by the blocked_reason
	// sentinel, and this gate re-trips on every later dispatch so the
	// run is never executed again.
	if run.AttemptCount >= g.cfg.MaxPipelineAttempts {
		run.BlockedReason = "max_attempts"
		if uerr := g.runs.Update(ctx, run); uerr != nil {
			return fmt.Errorf("persist max_attempts block: %w", uerr)
		}
		g.logger.Warn().Str("run_key", runKey).Int("attempts", run.AttemptCount).Msg("attempt budget exhausted")
		return ErrMaxAttempts
	}

	// gate 4: per-repo concurrency slots
	if g.cfg.RepoConcurrencyLimit > 0 {
		slot, err := g.coord.AcquireSlot(ctx, repo, g.cfg.RepoConcurrencyLimit, g.cfg.SlotTTL)
		if err != nil {
			return fmt.Errorf("acquire repo slot: %w", err)
		}
		if !slot {
			return &RetryableError{
				Countdown: g.Backoff(run.AttemptCount + 1),
				Reason:    "repo concurrency limit reached",
			}
		}
		defer g.coord.ReleaseSlot(ctx, repo)
	}

	run.AttemptCount++
	if err := g.runs.Update(ctx, run); err != nil {
		return fmt.Errorf("persist attempt: %w", err)
	}

	return fn(ctx, run)
}

// Backoff computes the delay before the given attempt,
// min(base * 2^(attempt-1), max).
func (g *Governor) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := g.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= g.cfg.BackoffMax {
			return g.cfg.BackoffMax
		}
	}
	if d > g.cfg.BackoffMax {
		return g.cfg.BackoffMax
	}
	return d
}

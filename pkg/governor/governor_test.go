package governor

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remedy-copilot/pkg/logger"
	"remedy-copilot/pkg/store"
	"remedy-copilot/pkg/types"
)

func testGovernor(t *testing.T, cfg Config) (*Governor, *store.MemoryRunStore) {
	t.Helper()
	runs := store.NewMemoryRunStore()
	return New(NewMemoryCoordinator(), runs, cfg, logger.Nop()), runs
}

func TestExecuteRunsFunctionAndCountsAttempt(t *testing.T) {
	g, runs := testGovernor(t, DefaultConfig())
	var seen *types.FixPipelineRun

	err := g.Execute(context.Background(), "key-1", "evt-1", "acme/app", func(_ context.Context, run *types.FixPipelineRun) error {
		seen = run
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, seen.AttemptCount)

	stored, err := runs.Get(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.AttemptCount)
}

func TestExecuteSecondConcurrentAttemptIsAlreadyRunning(t *testing.T) {
	g, _ := testGovernor(t, DefaultConfig())

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- g.Execute(context.Background(), "key-1", "evt-1", "acme/app", func(_ context.Context, _ *types.FixPipelineRun) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := g.Execute(context.Background(), "key-1", "evt-1", "acme/app", func(_ context.Context, _ *types.FixPipelineRun) error {
		t.Fatal("second holder must not run")
		return nil
	})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(release)
	require.NoError(t, <-done)
}

func TestExecuteCooldownIsRetryable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cooldown = time.Minute
	g, _ := testGovernor(t, cfg)

	require.NoError(t, g.Execute(context.Background(), "key-1", "evt-1", "acme/app", func(_ context.Context, _ *types.FixPipelineRun) error {
		return nil
	}))

	err := g.Execute(context.Background(), "key-1", "evt-1", "acme/app", func(_ context.Context, _ *types.FixPipelineRun) error {
		t.Fatal("must not run during cooldown")
		return nil
	})
	require.True(t, IsRetryable(err))
	var retry *RetryableError
	require.ErrorAs(t, err, &retry)
	assert.Greater(t, retry.Countdown, time.Duration(0))
	assert.LessOrEqual(t, retry.Countdown, time.Minute)
}

func TestExecuteMaxAttemptsPersistsBlockedReason(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cooldown = 0
	cfg.MaxPipelineAttempts = 2
	g, runs := testGovernor(t, cfg)

	for i := 0; i < 2; i++ {
		require.NoError(t, g.Execute(context.Background(), "key-1", "evt-1", "acme/app", func(_ context.Context, _ *types.FixPipelineRun) error {
			return nil
		}))
	}

	err := g.Execute(context.Background(), "key-1", "evt-1", "acme/app", func(_ context.Context, _ *types.FixPipelineRun) error {
		t.Fatal("must not run past the attempt ceiling")
		return nil
	})
	assert.ErrorIs(t, err, ErrMaxAttempts)
	assert.False(t, IsRetryable(err))

	run, err := runs.Get(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, "max_attempts", run.BlockedReason)
	assert.Equal(t, 2, run.AttemptCount)

	// every later dispatch trips the same gate without executing
	err = g.Execute(context.Background(), "key-1", "evt-1", "acme/app", func(_ context.Context, _ *types.FixPipelineRun) error {
		t.Fatal("exhausted run must never execute again")
		return nil
	})
	assert.ErrorIs(t, err, ErrMaxAttempts)
}

func TestExecuteRepoSlotExhaustionBacksOff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cooldown = 0
	cfg.RepoConcurrencyLimit = 1
	g, _ := testGovernor(t, cfg)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- g.Execute(context.Background(), "key-a", "evt-a", "acme/app", func(_ context.Context, _ *types.FixPipelineRun) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := g.Execute(context.Background(), "key-b", "evt-b", "acme/app", func(_ context.Context, _ *types.FixPipelineRun) error {
		t.Fatal("must not run without a slot")
		return nil
	})
	var retry *RetryableError
	require.ErrorAs(t, err, &retry)
	assert.Equal(t, cfg.BackoffBase, retry.Countdown)

	close(release)
	require.NoError(t, <-done)
}

func TestExecuteSkipsTerminalRuns(t *testing.T) {
	g, runs := testGovernor(t, DefaultConfig())
	run, err := runs.GetOrCreate(context.Background(), "key-1", "evt-1")
	require.NoError(t, err)
	run.Status = types.RunPRCreated
	require.NoError(t, runs.Update(context.Background(), run))

	called := false
	require.NoError(t, g.Execute(context.Background(), "key-1", "evt-1", "acme/app", func(_ context.Context, _ *types.FixPipelineRun) error {
		called = true
		return nil
	}))
	assert.False(t, called)
}

func TestBackoffIsExponentialAndCapped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BackoffBase = 30 * time.Second
	cfg.BackoffMax = 10 * time.Minute
	g, _ := testGovernor(t, cfg)

	assert.Equal(t, 30*time.Second, g.Backoff(1))
	assert.Equal(t, time.Minute, g.Backoff(2))
	assert.Equal(t, 4*time.Minute, g.Backoff(4))
	assert.Equal(t, 10*time.Minute, g.Backoff(10))
}

func TestRedisCoordinatorLockAndSlots(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCoordinator(client, logger.Nop())
	ctx := context.Background()

	ok, err := c.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	c.Unlock(ctx, "k")
	ok, err = c.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	for i := 0; i < 2; i++ {
		got, err := c.AcquireSlot(ctx, "acme/app", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, got)
	}
	got, err := c.AcquireSlot(ctx, "acme/app", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, got)

	c.ReleaseSlot(ctx, "acme/app")
	got, err = c.AcquireSlot(ctx, "acme/app", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestRedisCoordinatorReleaseAfterExpiryKeepsCapacity(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCoordinator(client, logger.Nop())
	ctx := context.Background()

	got, err := c.AcquireSlot(ctx, "acme/app", 1, time.Second)
	require.NoError(t, err)
	require.True(t, got)

	// slot TTL expires while the holder is still working
	mr.FastForward(2 * time.Second)
	c.ReleaseSlot(ctx, "acme/app")

	// the release of the expired slot must not inflate capacity
	got, err = c.AcquireSlot(ctx, "acme/app", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = c.AcquireSlot(ctx, "acme/app", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestRedisCoordinatorFailsOpenWhenDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()
	c := NewRedisCoordinator(client, logger.Nop())

	ok, err := c.TryLock(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := c.AcquireSlot(context.Background(), "acme/app", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, got)
}

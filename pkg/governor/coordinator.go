package governor

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Coordinator provides the distributed primitives the governor needs:
// a try-lock per run key and TTL-backed concurrency slots per repo.
// Implementations fail open on coordinator outage.
type Coordinator interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string)
	AcquireSlot(ctx context.Context, repo string, limit int, ttl time.Duration) (bool, error)
	ReleaseSlot(ctx context.Context, repo string)
}

// slot increment bounded by the limit, with TTL set on first holder
var acquireSlotScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then
	return 0
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return 1
`)

// slot decrement guarded against the key having expired between
// acquire and release, which would drive the counter negative
var releaseSlotScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current > 0 then
	redis.call('DECR', KEYS[1])
end
return current
`)

// RedisCoordinator backs the governor with Redis. Lock keys use SET NX,
// slot counters use a compare-and-increment script. Any Redis error is
// treated as "allow" so a coordinator outage never stalls the pipeline;
// duplicates that slip through are absorbed by the idempotent stores.
type RedisCoordinator struct {
	client *redis.Client
	logger zerolog.Logger
}

var _ Coordinator = (*RedisCoordinator)(nil)

func NewRedisCoordinator(client *redis.Client, logger zerolog.Logger) *RedisCoordinator {
	return &RedisCoordinator{
		client: client,
		logger: logger.With().Str("component", "redis_coordinator").Logger(),
	}
}

func lockKey(key string) string  { return "fixlock:" + key }
func slotKey(repo string) string { return "fixslots:" + repo }

func (c *RedisCoordinator) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, lockKey(key), "1", ttl).Result()
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("lock coordinator unreachable, failing open")
		return true, nil
	}
	return ok, nil
}

func (c *RedisCoordinator) Unlock(ctx context.Context, key string) {
	if err := c.client.Del(ctx, lockKey(key)).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("failed to release lock")
	}
}

func (c *RedisCoordinator) AcquireSlot(ctx context.Context, repo string, limit int, ttl time.Duration) (bool, error) {
	res, err := acquireSlotScript.Run(ctx, c.client, []string{slotKey(repo)}, limit, int(ttl.Seconds())).Int()
	if err != nil {
		c.logger.Warn().Err(err).Str("repo", repo).Msg("slot coordinator unreachable, failing open")
		return true, nil
	}
	return res == 1, nil
}

func (c *RedisCoordinator) ReleaseSlot(ctx context.Context, repo string) {
	if err := releaseSlotScript.Run(ctx, c.client, []string{slotKey(repo)}).Err(); err != nil {
		c.logger.Warn().Err(err).Str("repo", repo).Msg("failed to release slot")
	}
}

// MemoryCoordinator is a process-local coordinator for tests and
// single-node deployments.
type MemoryCoordinator struct {
	mu    sync.Mutex
	locks map[string]time.Time
	slots map[string]int
}

var _ Coordinator = (*MemoryCoordinator)(nil)

func NewMemoryCoordinator() *MemoryCoordinator {
	return &MemoryCoordinator{
		locks: make(map[string]time.Time),
		slots: make(map[string]int),
	}
}

func (c *MemoryCoordinator) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if expiry, held := c.locks[key]; held && time.Now().Before(expiry) {
		return false, nil
	}
	c.locks[key] = time.Now().Add(ttl)
	return true, nil
}

func (c *MemoryCoordinator) Unlock(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, key)
}

func (c *MemoryCoordinator) AcquireSlot(_ context.Context, repo string, limit int, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slots[repo] >= limit {
		return false, nil
	}
	c.slots[repo]++
	return true, nil
}

func (c *MemoryCoordinator) ReleaseSlot(_ context.Context, repo string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slots[repo] > 0 {
		c.slots[repo]--
	}
}

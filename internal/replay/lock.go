package replay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/propshare/share-indexer/internal/types"
)

// ErrLockHeld is returned when a run for the source is already in flight.
var ErrLockHeld = errors.New("run already in flight for source")

// RunLocker admits at most one in-flight run per source. Overlapping runs
// for the same source could interleave checkpoint writes; disjoint sources
// may run concurrently.
type RunLocker interface {
	Acquire(ctx context.Context, source types.SourceID) (release func(), err error)
}

// RedisLocker implements RunLocker with a per-source Redis key. The token
// written with SET NX fences the release so an expired lock taken over by
// another process is never deleted by the first owner.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// NewRedisLocker creates a locker whose locks expire after ttl, bounding
// how long a crashed run can block its source.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl}
}

// Acquire takes the source's lock or fails with ErrLockHeld.
func (l *RedisLocker) Acquire(ctx context.Context, source types.SourceID) (func(), error) {
	key := lockKey(source)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock for %s: %w", source, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLockHeld, source)
	}

	release := func() {
		// The run's context may already be cancelled when the deferred
		// release fires; the lock must still be dropped.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
	}
	return release, nil
}

func lockKey(source types.SourceID) string {
	return fmt.Sprintf("runlock:%s", source)
}

// MemoryLocker is an in-process RunLocker for tests and single-binary runs.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[types.SourceID]bool
}

// NewMemoryLocker creates an empty in-memory locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[types.SourceID]bool)}
}

// Acquire takes the source's lock or fails with ErrLockHeld.
func (l *MemoryLocker) Acquire(_ context.Context, source types.SourceID) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[source] {
		return nil, fmt.Errorf("%w: %s", ErrLockHeld, source)
	}
	l.held[source] = true

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, source)
	}, nil
}

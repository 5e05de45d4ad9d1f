package replay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/propshare/share-indexer/internal/types"
)

func setupRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisLocker(client, time.Minute), mr
}

func TestRedisLockerExcludesSecondRun(t *testing.T) {
	locker, _ := setupRedisLocker(t)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, types.SourceShareToken)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if _, err := locker.Acquire(ctx, types.SourceShareToken); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("second Acquire() error = %v, want ErrLockHeld", err)
	}

	// A different source is independent.
	releaseOther, err := locker.Acquire(ctx, types.SourceMarketplace)
	if err != nil {
		t.Fatalf("Acquire(other source) error = %v", err)
	}
	releaseOther()

	release()

	release2, err := locker.Acquire(ctx, types.SourceShareToken)
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	release2()
}

func TestRedisLockerReleaseIsFenced(t *testing.T) {
	locker, mr := setupRedisLocker(t)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, types.SourceShareToken)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// Simulate TTL expiry and takeover by another process.
	mr.FastForward(2 * time.Minute)
	release2, err := locker.Acquire(ctx, types.SourceShareToken)
	if err != nil {
		t.Fatalf("Acquire() after expiry error = %v", err)
	}

	// The stale release must not delete the new owner's lock.
	release()
	if _, err := locker.Acquire(ctx, types.SourceShareToken); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("Acquire() error = %v, want ErrLockHeld while new owner holds", err)
	}

	release2()
}

func TestMemoryLocker(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	release, err := locker.Acquire(ctx, types.SourceShareToken)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := locker.Acquire(ctx, types.SourceShareToken); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("second Acquire() error = %v, want ErrLockHeld", err)
	}

	release()
	release2, err := locker.Acquire(ctx, types.SourceShareToken)
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	release2()
}

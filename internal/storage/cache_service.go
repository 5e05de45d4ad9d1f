package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheService provides JSON read-through caching for the query API. The
// projection is the source of truth; cached entries just absorb repeated
// reads and expire on a short TTL, so staleness is bounded and no
// invalidation wiring is needed on the write path.
type CacheService struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewCacheService creates a new cache service
func NewCacheService(redis *RedisCache, ttl time.Duration) *CacheService {
	return &CacheService{
		redis: redis,
		ttl:   ttl,
	}
}

// PropertyKey builds the cache key for one property.
// Format: property:<id>
func (c *CacheService) PropertyKey(id int64) string {
	return fmt.Sprintf("property:%d", id)
}

// HolderKey builds the cache key for one holder position.
// Format: holder:<propertyId>:<address>
func (c *CacheService) HolderKey(propertyID int64, address string) string {
	return fmt.Sprintf("holder:%d:%s", propertyID, strings.ToLower(address))
}

// ListingKey builds the cache key for one listing.
// Format: listing:<id>
func (c *CacheService) ListingKey(id int64) string {
	return fmt.Sprintf("listing:%d", id)
}

// ListingsKey builds the cache key for a filtered listing page.
// Format: listings:<state>:<limit>:<offset>
func (c *CacheService) ListingsKey(state string, limit, offset int) string {
	if state == "" {
		state = "all"
	}
	return fmt.Sprintf("listings:%s:%d:%d", state, limit, offset)
}

// SetJSON marshals the value and stores it under key with the configured
// TTL. Cache write failures are reported but never fatal to the caller.
func (c *CacheService) SetJSON(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value for %s: %w", key, err)
	}
	if err := c.redis.Set(ctx, key, data, c.ttl); err != nil {
		return fmt.Errorf("failed to cache %s: %w", key, err)
	}
	return nil
}

// GetJSON fetches and unmarshals the cached value into out, reporting
// whether the key was present.
func (c *CacheService) GetJSON(ctx context.Context, key string, out interface{}) (bool, error) {
	data, err := c.redis.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read cache %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return false, fmt.Errorf("failed to unmarshal cache value for %s: %w", key, err)
	}
	return true, nil
}

// Invalidate drops the given keys.
func (c *CacheService) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...)
}

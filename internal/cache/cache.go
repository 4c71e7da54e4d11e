// Package cache is a best-effort TTL store for externally sourced lookups and
// derived aggregate views. Misses and backend faults never surface as errors.
package cache

import (
	"context"
	"time"

	"pricewatch/internal/metrics"
)

// DefaultTTL applies when callers have no better idea.
const DefaultTTL = 5 * time.Minute

// DefaultSweepInterval is how often expired entries are purged in the background.
const DefaultSweepInterval = 5 * time.Minute

// Cache is implemented by the in-process Memory store and the Redis store.
//
// Values are encoded on Set and decoded into dst on Get, so a caller never holds a
// reference into cached state. A ttl <= 0 expires the key immediately.
type Cache interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration)
	Get(ctx context.Context, key string, dst any) bool
	Delete(ctx context.Context, key string) bool
	DeleteByPattern(ctx context.Context, match func(key string) bool) int
	Clear(ctx context.Context)
	Stats(ctx context.Context) Stats
	Close() error
}

// Stats describes the current cache contents.
type Stats struct {
	Size        int      `json:"size"`
	Keys        []string `json:"keys"`
	ApproxBytes int      `json:"approxByteSize"`
}

// Lookup memoises fn under key for ttl. Only successful results are cached: an error
// (including a "not found" the caller chooses to report as one) is returned as is and
// the next call runs fn again.
func Lookup[T any](ctx context.Context, c Cache, key string, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if c != nil {
		var cached T
		if c.Get(ctx, key, &cached) {
			metrics.IncCacheLookup("hit")
			return cached, nil
		}
		metrics.IncCacheLookup("miss")
	}

	value, err := fn(ctx)
	if err != nil {
		return value, err
	}
	if c != nil {
		c.Set(ctx, key, value, ttl)
	}
	return value, nil
}

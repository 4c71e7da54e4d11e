package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const scanBatch = 200

// RedisOptions configure the shared cache backend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key so Clear and pattern scans stay inside this app.
	Prefix string
}

// Redis keeps entries in Redis with native expiry. Backend faults are logged and
// read as misses.
type Redis struct {
	rdb    *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, opts RedisOptions, logger zerolog.Logger) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "pricewatch:"
	}
	return &Redis{
		rdb:    rdb,
		prefix: prefix,
		logger: logger.With().Str("component", "cache_redis").Logger(),
	}, nil
}

func (r *Redis) fullKey(key string) string { return r.prefix + key }

// Set writes value with the given expiry; ttl <= 0 deletes the key.
func (r *Redis) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		r.Delete(ctx, key)
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("value not cacheable")
		return
	}
	if err := r.rdb.Set(ctx, r.fullKey(key), raw, ttl).Err(); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("redis set failed")
	}
}

// Get decodes the stored value into dst.
func (r *Redis) Get(ctx context.Context, key string, dst any) bool {
	raw, err := r.rdb.Get(ctx, r.fullKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn().Err(err).Str("key", key).Msg("redis get failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("cached value does not fit destination")
		return false
	}
	return true
}

// Delete removes key and reports whether it existed.
func (r *Redis) Delete(ctx context.Context, key string) bool {
	n, err := r.rdb.Del(ctx, r.fullKey(key)).Result()
	if err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("redis del failed")
		return false
	}
	return n > 0
}

// DeleteByPattern scans the namespace and deletes keys accepted by match.
func (r *Redis) DeleteByPattern(ctx context.Context, match func(key string) bool) int {
	keys := r.scan(ctx)
	doomed := make([]string, 0, len(keys))
	for _, key := range keys {
		if match(key) {
			doomed = append(doomed, r.fullKey(key))
		}
	}

	removed := 0
	for start := 0; start < len(doomed); start += scanBatch {
		end := start + scanBatch
		if end > len(doomed) {
			end = len(doomed)
		}
		n, err := r.rdb.Del(ctx, doomed[start:end]...).Result()
		if err != nil {
			r.logger.Warn().Err(err).Msg("redis bulk del failed")
			continue
		}
		removed += int(n)
	}
	return removed
}

// Clear removes every key in the namespace.
func (r *Redis) Clear(ctx context.Context) {
	r.DeleteByPattern(ctx, func(string) bool { return true })
}

// Stats lists the namespace and sums value lengths.
func (r *Redis) Stats(ctx context.Context) Stats {
	keys := r.scan(ctx)
	sort.Strings(keys)
	stats := Stats{Size: len(keys), Keys: keys}
	for _, key := range keys {
		n, err := r.rdb.StrLen(ctx, r.fullKey(key)).Result()
		if err != nil {
			continue
		}
		stats.ApproxBytes += len(key) + int(n)
	}
	return stats
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

func (r *Redis) scan(ctx context.Context) []string {
	var keys []string
	iter := r.rdb.Scan(ctx, 0, r.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.prefix))
	}
	if err := iter.Err(); err != nil {
		r.logger.Warn().Err(err).Msg("redis scan failed")
	}
	return keys
}

var _ Cache = (*Redis)(nil)

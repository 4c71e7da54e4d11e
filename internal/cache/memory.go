package cache

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MemoryOptions tune the in-process store.
type MemoryOptions struct {
	SweepInterval time.Duration
	// Now overrides the clock; tests use it to step past TTL boundaries.
	Now func() time.Time
}

type entry struct {
	value    []byte
	storedAt time.Time
	ttl      time.Duration
}

func (e entry) expired(now time.Time) bool {
	return !now.Before(e.storedAt.Add(e.ttl))
}

// Memory is a mutex guarded map with lazy eviction on read and a periodic sweeper.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
	logger  zerolog.Logger

	ticker    *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemory builds the store and starts its background sweeper. Call Close to stop it.
func NewMemory(opts MemoryOptions, logger zerolog.Logger) *Memory {
	interval := opts.SweepInterval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	m := &Memory{
		entries: make(map[string]entry),
		now:     now,
		logger:  logger.With().Str("component", "cache_memory").Logger(),
		ticker:  time.NewTicker(interval),
		done:    make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

func (m *Memory) sweepLoop() {
	for {
		select {
		case <-m.ticker.C:
			if n := m.EvictExpired(); n > 0 {
				m.logger.Debug().Int("evicted", n).Msg("expired cache entries purged")
			}
		case <-m.done:
			m.ticker.Stop()
			return
		}
	}
}

// Close stops the sweeper. It is safe to call more than once.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

// Set stores value under key. Values that cannot be encoded are dropped.
func (m *Memory) Set(_ context.Context, key string, value any, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ttl <= 0 {
		delete(m.entries, key)
		return
	}

	raw, err := json.Marshal(value)
	if err != nil {
		m.logger.Warn().Err(err).Str("key", key).Msg("value not cacheable")
		delete(m.entries, key)
		return
	}
	m.entries[key] = entry{value: raw, storedAt: m.now(), ttl: ttl}
}

// Get decodes the live value for key into dst.
func (m *Memory) Get(_ context.Context, key string, dst any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return false
	}
	if e.expired(m.now()) {
		delete(m.entries, key)
		return false
	}
	if err := json.Unmarshal(e.value, dst); err != nil {
		m.logger.Warn().Err(err).Str("key", key).Msg("cached value does not fit destination")
		return false
	}
	return true
}

// Delete removes key and reports whether it was present.
func (m *Memory) Delete(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.entries[key]
	delete(m.entries, key)
	return ok
}

// DeleteByPattern removes every key for which match returns true.
func (m *Memory) DeleteByPattern(_ context.Context, match func(key string) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key := range m.entries {
		if match(key) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Clear drops everything.
func (m *Memory) Clear(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]entry)
}

// EvictExpired purges all entries past their TTL and returns how many were removed.
func (m *Memory) EvictExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Stats reports size, sorted keys and the encoded byte size of keys plus values.
func (m *Memory) Stats(context.Context) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{Size: len(m.entries), Keys: make([]string, 0, len(m.entries))}
	for key, e := range m.entries {
		stats.Keys = append(stats.Keys, key)
		stats.ApproxBytes += len(key) + len(e.value)
	}
	sort.Strings(stats.Keys)
	return stats
}

var _ Cache = (*Memory)(nil)

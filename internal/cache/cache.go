package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is a cached payload with its freshness metadata. Stale is computed
// from elapsed age against the configured stale threshold, which is
// independent of (and smaller than) the hard TTL.
type Entry struct {
	Data      json.RawMessage `json:"data"`
	CachedAt  time.Time       `json:"cached_at"`
	ExpiresAt time.Time       `json:"expires_at"`
	Stale     bool            `json:"stale"`
}

// Stats tracks cache performance counters.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
}

// Cache is a Redis-backed string-keyed cache with per-key TTL and staleness
// detection. Backend errors are treated as misses, never surfaced to the
// read path.
type Cache struct {
	redis      *redis.Client
	prefix     string
	ttl        time.Duration
	staleAfter time.Duration
	logger     *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// envelope is the stored wire form of an entry.
type envelope struct {
	Data      json.RawMessage `json:"data"`
	CachedAt  time.Time       `json:"cached_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// New creates a cache on top of an existing Redis client. staleAfter must be
// smaller than ttl; config validation enforces that upstream.
func New(redisClient *redis.Client, prefix string, ttl, staleAfter time.Duration, logger *slog.Logger) *Cache {
	return &Cache{
		redis:      redisClient,
		prefix:     prefix,
		ttl:        ttl,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// Get returns the raw payload for key, or false on miss. Expired or
// unreadable entries count as misses.
func (c *Cache) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	entry, ok := c.GetEntry(ctx, key)
	if !ok {
		return nil, false
	}
	return entry.Data, true
}

// GetEntry returns the payload plus freshness metadata for key.
func (c *Cache) GetEntry(ctx context.Context, key string) (*Entry, bool) {
	raw, err := c.redis.Get(ctx, c.prefix+key).Result()
	if err == redis.Nil {
		c.recordMiss()
		return nil, false
	}
	if err != nil {
		c.logger.Warn("Cache read failed, treating as miss", "key", key, "error", err)
		c.recordMiss()
		return nil, false
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		c.logger.Warn("Cache entry corrupt, treating as miss", "key", key, "error", err)
		c.recordMiss()
		return nil, false
	}

	now := time.Now()
	if now.After(env.ExpiresAt) {
		// Redis TTL should have evicted this already; belt and braces.
		c.recordMiss()
		return nil, false
	}

	c.recordHit()
	return &Entry{
		Data:      env.Data,
		CachedAt:  env.CachedAt,
		ExpiresAt: env.ExpiresAt,
		Stale:     now.Sub(env.CachedAt) > c.staleAfter,
	}, true
}

// Set stores value under key with the given TTL (default TTL when omitted).
// Returns false when the write fails; a failed write is logged, not fatal.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl ...time.Duration) bool {
	expiry := c.ttl
	if len(ttl) > 0 && ttl[0] > 0 {
		expiry = ttl[0]
	}

	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("Cache value not serializable", "key", key, "error", err)
		return false
	}

	now := time.Now()
	env := envelope{
		Data:      data,
		CachedAt:  now,
		ExpiresAt: now.Add(expiry),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		c.logger.Warn("Cache envelope not serializable", "key", key, "error", err)
		return false
	}

	if err := c.redis.Set(ctx, c.prefix+key, payload, expiry).Err(); err != nil {
		c.logger.Warn("Cache write failed", "key", key, "error", err)
		return false
	}

	c.recordSet()
	return true
}

// GetOrSet returns the cached payload for key, computing and storing it on a
// miss. A compute failure propagates; a failed cache write after a successful
// compute does not.
func (c *Cache) GetOrSet(ctx context.Context, key string, compute func(context.Context) (interface{}, error), ttl ...time.Duration) (json.RawMessage, error) {
	if data, ok := c.Get(ctx, key); ok {
		return data, nil
	}

	value, err := compute(ctx)
	if err != nil {
		return nil, err
	}
	c.Set(ctx, key, value, ttl...)

	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("computed value not serializable: %w", err)
	}
	return data, nil
}

// GetWithStaleFallback returns the cached payload with a staleness flag.
// Fresh entries are returned as-is. Stale-but-unexpired entries are returned
// immediately while a detached background refresh recomputes the value; a
// refresh failure only logs. On a full miss the value is computed
// synchronously. Rapid repeated stale reads can trigger concurrent refreshes
// of the same key; no de-duplication is performed.
func (c *Cache) GetWithStaleFallback(ctx context.Context, key string, compute func(context.Context) (interface{}, error), ttl ...time.Duration) (json.RawMessage, bool, error) {
	if entry, ok := c.GetEntry(ctx, key); ok {
		if entry.Stale {
			go c.refreshInBackground(key, compute, ttl...)
		}
		return entry.Data, entry.Stale, nil
	}

	value, err := compute(ctx)
	if err != nil {
		return nil, false, err
	}
	c.Set(ctx, key, value, ttl...)

	data, err := json.Marshal(value)
	if err != nil {
		return nil, false, fmt.Errorf("computed value not serializable: %w", err)
	}
	return data, false, nil
}

// refreshInBackground recomputes a stale key detached from the caller's
// request context.
func (c *Cache) refreshInBackground(key string, compute func(context.Context) (interface{}, error), ttl ...time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	value, err := compute(ctx)
	if err != nil {
		c.logger.Warn("Background cache refresh failed", "key", key, "error", err)
		return
	}
	c.Set(ctx, key, value, ttl...)
	c.logger.Debug("Background cache refresh completed", "key", key)
}

// DeletePattern removes every key matching the glob pattern and returns the
// number of keys deleted.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	var deleted int64
	var cursor uint64
	for {
		keys, next, err := c.redis.Scan(ctx, cursor, c.prefix+pattern, 100).Result()
		if err != nil {
			return deleted, fmt.Errorf("cache scan failed: %w", err)
		}
		if len(keys) > 0 {
			n, err := c.redis.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("cache delete failed: %w", err)
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

// Flush removes every key under the cache prefix.
func (c *Cache) Flush(ctx context.Context) error {
	_, err := c.DeletePattern(ctx, "*")
	return err
}

// HealthCheck pings the backing store and reports up/down plus latency.
func (c *Cache) HealthCheck(ctx context.Context) (bool, time.Duration) {
	start := time.Now()
	err := c.redis.Ping(ctx).Err()
	latency := time.Since(start)
	if err != nil {
		c.logger.Warn("Cache health check failed", "error", err)
		return false, latency
	}
	return true, latency
}

// Stats returns a copy of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// ResetStats zeroes the cache counters.
func (c *Cache) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = Stats{}
}

func (c *Cache) recordHit() {
	c.mu.Lock()
	c.stats.Hits++
	c.mu.Unlock()
}

func (c *Cache) recordMiss() {
	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
}

func (c *Cache) recordSet() {
	c.mu.Lock()
	c.stats.Sets++
	c.mu.Unlock()
}

// Package cache provides a Redis-backed cache with an in-memory fallback.
// Conversation listings, AI responses, and preview assets go through it.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"appforge/internal/metrics"
)

// TTLs for the main cached object classes.
const (
	ConversationTTL = 5 * time.Minute
	MessagesTTL     = 2 * time.Minute
	AIResponseTTL   = 30 * time.Minute
	PreviewTTL      = 10 * time.Minute
)

const defaultMaxMemEntries = 10000

// Cache is safe for concurrent use. When the Redis client is nil every
// operation runs against the in-memory map.
type Cache struct {
	rdb *redis.Client

	memMu      sync.RWMutex
	mem        map[string]*memEntry
	maxEntries int

	hits   int64
	misses int64

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
	MemEntries int     `json:"mem_entries"`
	RedisUp    bool    `json:"redis_up"`
}

// New creates a cache. rdb may be nil to run purely in-memory.
func New(rdb *redis.Client) *Cache {
	c := &Cache{
		rdb:         rdb,
		mem:         make(map[string]*memEntry),
		maxEntries:  defaultMaxMemEntries,
		stopCleanup: make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Get retrieves a raw value. Returns (nil, false) on miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c.rdb != nil {
		val, err := c.rdb.Get(ctx, key).Bytes()
		if err == nil {
			c.recordHit()
			return val, true
		}
		if err != redis.Nil {
			// Redis errored; fall through to memory.
			return c.memGet(key)
		}
		c.recordMiss()
		return nil, false
	}
	return c.memGet(key)
}

func (c *Cache) recordHit() {
	atomic.AddInt64(&c.hits, 1)
	metrics.Get().CacheHitsTotal.Inc()
}

func (c *Cache) recordMiss() {
	atomic.AddInt64(&c.misses, 1)
	metrics.Get().CacheMissesTotal.Inc()
}

// Set stores a raw value with a TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if c.rdb != nil {
		if err := c.rdb.Set(ctx, key, value, ttl).Err(); err == nil {
			return
		}
	}
	c.memSet(key, value, ttl)
}

// GetJSON unmarshals a cached value into dest. Returns false on miss or
// decode failure.
func (c *Cache) GetJSON(ctx context.Context, key string, dest interface{}) bool {
	raw, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	return json.Unmarshal(raw, dest) == nil
}

// SetJSON marshals value and stores it. Marshal failures are dropped; the
// cache never blocks a write path.
func (c *Cache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.Set(ctx, key, raw, ttl)
}

// Delete removes keys from both tiers.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if c.rdb != nil {
		c.rdb.Del(ctx, keys...)
	}
	c.memMu.Lock()
	for _, k := range keys {
		delete(c.mem, k)
	}
	c.memMu.Unlock()
}

// InvalidatePrefix removes every key sharing a prefix. Used when a write
// invalidates a whole listing family (e.g. "conversations:user:42:").
func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) {
	if c.rdb != nil {
		iter := c.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if len(keys) > 0 {
			c.rdb.Del(ctx, keys...)
		}
	}
	c.memMu.Lock()
	for k := range c.mem {
		if strings.HasPrefix(k, prefix) {
			delete(c.mem, k)
		}
	}
	c.memMu.Unlock()
}

// Stats returns a snapshot of counters.
func (c *Cache) Stats() Stats {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	total := hits + misses
	rate := 0.0
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	c.memMu.RLock()
	entries := len(c.mem)
	c.memMu.RUnlock()
	return Stats{
		Hits:       hits,
		Misses:     misses,
		HitRate:    rate,
		MemEntries: entries,
		RedisUp:    c.rdb != nil,
	}
}

// Close stops the cleanup goroutine. The Redis client is owned by the
// caller and is not closed here.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stopCleanup) })
}

func (c *Cache) memGet(key string) ([]byte, bool) {
	c.memMu.RLock()
	entry, ok := c.mem[key]
	c.memMu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		c.recordMiss()
		return nil, false
	}
	c.recordHit()
	return entry.value, true
}

func (c *Cache) memSet(key string, value []byte, ttl time.Duration) {
	c.memMu.Lock()
	defer c.memMu.Unlock()
	if len(c.mem) >= c.maxEntries {
		c.evictExpiredLocked()
		if len(c.mem) >= c.maxEntries {
			// Still full after expiry sweep; drop the write.
			return
		}
	}
	c.mem[key] = &memEntry{value: value, expiresAt: time.Now().Add(ttl)}
}

func (c *Cache) evictExpiredLocked() {
	now := time.Now()
	for k, e := range c.mem {
		if now.After(e.expiresAt) {
			delete(c.mem, k)
		}
	}
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.memMu.Lock()
			c.evictExpiredLocked()
			c.memMu.Unlock()
		case <-c.stopCleanup:
			return
		}
	}
}

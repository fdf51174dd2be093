// Package cache is an in-process memo cache with per-entry TTL and
// approximate LRU eviction.
//
// Expiration is absolute: an entry expires once it is older than its TTL,
// no matter how often it is read. Eviction runs only when a new key is
// inserted into a full cache and drops the oldest-accessed, least-used
// tenth of the entries.
package cache

import (
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sophia-ai/sophia/pkg/logger"
	"github.com/sophia-ai/sophia/pkg/models"
)

const (
	// DefaultTTL is used when Set is called without a TTL.
	DefaultTTL = 300 * time.Second
	// DefaultMaxEntries bounds the cache when no capacity is configured.
	DefaultMaxEntries = 1000
)

// Entry is a cached value plus its access metadata.
type Entry struct {
	Value        any
	CreatedAt    time.Time
	LastAccessed time.Time
	AccessCount  int64
	TTL          time.Duration
}

func (e *Entry) expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > e.TTL
}

// Cache is safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	maxEntries int
	defaultTTL time.Duration
	now        func() time.Time
	log        *zap.Logger

	hits        int64
	misses      int64
	evictions   int64
	expirations int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxEntries sets the capacity that triggers eviction.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithDefaultTTL sets the TTL used by Set.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger used by eviction and the janitor.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.log = logger.OrNop(l) }
}

// New creates an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[string]*Entry),
		maxEntries: DefaultMaxEntries,
		defaultTTL: DefaultTTL,
		now:        time.Now,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value for key. An expired entry is removed and reported
// as a miss.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	now := c.now()
	if e.expired(now) {
		delete(c.entries, key)
		c.expirations++
		c.misses++
		return nil, false
	}

	e.LastAccessed = now
	e.AccessCount++
	c.hits++
	return e.Value, true
}

// Set stores value under key with the default TTL.
func (c *Cache) Set(key string, value any) {
	c.SetWithTTL(key, value, 0)
}

// SetWithTTL stores value under key, replacing any previous entry.
// A non-positive ttl falls back to the default TTL.
func (c *Cache) SetWithTTL(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}

	now := c.now()
	c.entries[key] = &Entry{
		Value:        value,
		CreatedAt:    now,
		LastAccessed: now,
		TTL:          ttl,
	}
}

// Invalidate removes key and reports whether it was present.
func (c *Cache) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// InvalidatePattern removes every key containing substr and returns how
// many were removed. It is a plain substring match.
func (c *Cache) InvalidatePattern(substr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.Contains(key, substr) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// CleanupExpired removes all expired entries and returns the count.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	c.expirations += int64(removed)
	return removed
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() models.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var rate float64
	if total := c.hits + c.misses; total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return models.CacheStats{
		HitRate:      rate,
		TotalEntries: len(c.entries),
		Hits:         c.hits,
		Misses:       c.misses,
		Evictions:    c.evictions,
		Expirations:  c.expirations,
	}
}

// evictLocked drops max(1, n/10) entries ordered by last access, then
// access count, then key. Caller holds c.mu.
func (c *Cache) evictLocked() {
	type candidate struct {
		key string
		e   *Entry
	}
	cands := make([]candidate, 0, len(c.entries))
	for k, e := range c.entries {
		cands = append(cands, candidate{key: k, e: e})
	}
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i].e, cands[j].e
		if !a.LastAccessed.Equal(b.LastAccessed) {
			return a.LastAccessed.Before(b.LastAccessed)
		}
		if a.AccessCount != b.AccessCount {
			return a.AccessCount < b.AccessCount
		}
		return cands[i].key < cands[j].key
	})

	n := len(cands) / 10
	if n < 1 {
		n = 1
	}
	for _, cand := range cands[:n] {
		delete(c.entries, cand.key)
	}
	c.evictions += int64(n)
	c.log.Debug("cache eviction", zap.Int("evicted", n), zap.Int("remaining", len(c.entries)))
}

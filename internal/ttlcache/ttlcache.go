// Package ttlcache is a bounded, time-limited cache of fetched results.
//
// Entries leave in insertion order once the cache is full; reading an entry
// never moves it. An entry older than the TTL is treated as absent and is
// removed the next time it is looked up.
package ttlcache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultTTL  = 5 * time.Minute
	DefaultSize = 1000
)

type entry[V any] struct {
	value     V
	createdAt time.Time
}

// Cache maps fingerprints to values. It knows nothing about what it stores.
type Cache[V any] struct {
	name string
	ttl  time.Duration
	now  func() time.Time

	// Guards the lookup-then-remove of expired entries.
	mu      sync.Mutex
	entries *lru.Cache[string, entry[V]]
}

type options struct {
	ttl  time.Duration
	size int
	now  func() time.Time
}

type Option func(*options)

func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

func WithSize(size int) Option {
	return func(o *options) { o.size = size }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a cache. The name labels its metrics.
func New[V any](name string, opts ...Option) *Cache[V] {
	o := options{
		ttl:  DefaultTTL,
		size: DefaultSize,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.size <= 0 {
		o.size = DefaultSize
	}

	// Only errors on a non-positive size.
	entries, _ := lru.New[string, entry[V]](o.size)

	return &Cache[V]{
		name:    name,
		ttl:     o.ttl,
		now:     o.now,
		entries: entries,
	}
}

// Get returns the value stored under key if it is at most TTL old.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	// Peek so that reads don't change the eviction order.
	e, ok := c.entries.Peek(key)
	if !ok {
		cacheMisses.WithLabelValues(c.name).Inc()
		return zero, false
	}

	if c.now().Sub(e.createdAt) > c.ttl {
		c.entries.Remove(key)
		cacheMisses.WithLabelValues(c.name).Inc()
		cacheEvictions.WithLabelValues(c.name, "expired").Inc()
		return zero, false
	}

	cacheHits.WithLabelValues(c.name).Inc()
	return e.value, true
}

// Put stores value under key. Overwriting a key makes it the newest entry.
func (c *Cache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Remove first so an overwrite is a fresh insertion.
	c.entries.Remove(key)
	if evicted := c.entries.Add(key, entry[V]{value: value, createdAt: c.now()}); evicted {
		cacheEvictions.WithLabelValues(c.name, "capacity").Inc()
	}
}

// Clear drops every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Purge()
}

func (c *Cache[V]) Len() int {
	return c.entries.Len()
}

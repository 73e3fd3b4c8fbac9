// Package cache provides a small in-process TTL cache with loader
// deduplication. Concurrent Gets for a missing key share one loader
// call via singleflight.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Options configures a Cache
type Options struct {
	// TTL is how long a loaded value stays fresh
	TTL time.Duration
	// MaxEntries bounds the cache size; 0 means unbounded. Eviction is
	// oldest-inserted-first.
	MaxEntries int
}

// MetricsHooks lets callers observe cache behavior. All hooks are optional.
type MetricsHooks struct {
	OnHit   func(key string)
	OnMiss  func(key string)
	OnStore func(key string)
}

// Loader produces the value for a missing key
type Loader func(ctx context.Context, key string) (interface{}, bool, error)

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// Cache is a TTL'd key/value store safe for concurrent use
type Cache struct {
	mu    sync.RWMutex
	items map[string]*entry
	order []string
	opts  Options
	hooks MetricsHooks
	sf    singleflight.Group
}

// New creates a Cache
func New(opts Options, hooks MetricsHooks) *Cache {
	return &Cache{
		items: make(map[string]*entry),
		opts:  opts,
		hooks: hooks,
	}
}

type loadResult struct {
	val interface{}
	ok  bool
	err error
}

// Get returns the cached value for key, calling loader on a miss.
// A loader returning ok=false means the value does not exist; such
// results are never cached. Loader errors are not cached either.
func (c *Cache) Get(ctx context.Context, key string, loader Loader) (interface{}, bool, error) {
	c.mu.RLock()
	e, found := c.items[key]
	c.mu.RUnlock()
	if found && time.Now().Before(e.expiresAt) {
		if c.hooks.OnHit != nil {
			c.hooks.OnHit(key)
		}
		return e.value, true, nil
	}
	if found {
		c.Delete(key)
	}

	if c.hooks.OnMiss != nil {
		c.hooks.OnMiss(key)
	}
	result, _, _ := c.sf.Do(key, func() (interface{}, error) {
		val, ok, err := loader(ctx, key)
		if ok && err == nil {
			c.Set(key, val, c.opts.TTL)
		}
		return loadResult{val: val, ok: ok, err: err}, nil
	})
	res := result.(loadResult)
	if res.err != nil {
		return nil, false, res.err
	}
	return res.val, res.ok, nil
}

// Set stores a value under key for ttl
func (c *Cache) Set(key string, val interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists {
		c.order = append(c.order, key)
	}
	c.items[key] = &entry{value: val, expiresAt: time.Now().Add(ttl)}
	c.evictLocked()
	if c.hooks.OnStore != nil {
		c.hooks.OnStore(key)
	}
}

// Peek returns a cached value without loading on a miss
func (c *Cache) Peek(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Delete removes key from the cache
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; !ok {
		return
	}
	delete(c.items, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Cache) evictLocked() {
	if c.opts.MaxEntries <= 0 {
		return
	}
	for len(c.items) > c.opts.MaxEntries && len(c.order) > 0 {
		victim := c.order[0]
		c.order = c.order[1:]
		delete(c.items, victim)
	}
}

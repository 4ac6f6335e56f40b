/*
Copyright © 2025 Cartlabs, Inc.

Released under MIT license.
*/

// Package ttlcache provides an in-memory cache with per-entry TTL
// and coalescing of concurrent fetches for the same key.
package ttlcache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

type cacheEntry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// FetchFunc fetches a value for a key that is missing or expired in the cache.
type FetchFunc[V any] func(ctx context.Context) (V, error)

// inFlightCall is the in-flight marker for a key that is currently being fetched.
// Concurrent callers for the same key attach to it instead of issuing a new fetch.
type inFlightCall[V any] struct {
	wg        sync.WaitGroup
	val       V
	err       error
	forgotten bool
}

// Cache represents an in-memory cache with per-entry TTL, optional entries limit,
// and Prometheus metrics. Expired entries are evicted lazily on access
// or during periodic cleanup (see RunPeriodicCleanup).
type Cache[K comparable, V any] struct {
	defaultTTL time.Duration
	maxEntries int

	mu        sync.Mutex
	evictList *list.List
	entries   map[K]*list.Element // value is an evictList element
	calls     map[K]*inFlightCall[V]

	metricsCollector MetricsCollector
}

// Options represents options for the cache.
type Options struct {
	// MaxEntries limits the number of entries in the cache.
	// When the limit is reached, the oldest entry is evicted. Zero means no limit.
	MaxEntries int

	// MetricsCollector is used to collect statistics about cache usage.
	// It can be nil, in this case metrics will be disabled.
	MetricsCollector MetricsCollector
}

// New creates a new Cache with the provided default TTL for entries.
func New[K comparable, V any](defaultTTL time.Duration) (*Cache[K, V], error) {
	return NewWithOpts[K, V](defaultTTL, Options{})
}

// NewWithOpts creates a new Cache with the provided default TTL for entries and options.
func NewWithOpts[K comparable, V any](defaultTTL time.Duration, opts Options) (*Cache[K, V], error) {
	if defaultTTL <= 0 {
		return nil, fmt.Errorf("defaultTTL must be positive")
	}
	if opts.MaxEntries < 0 {
		return nil, fmt.Errorf("maxEntries must be greater or equal to 0 (no limit)")
	}
	if opts.MetricsCollector == nil {
		opts.MetricsCollector = disabledMetricsCollector
	}
	return &Cache[K, V]{
		defaultTTL:       defaultTTL,
		maxEntries:       opts.MaxEntries,
		evictList:        list.New(),
		entries:          make(map[K]*list.Element),
		calls:            make(map[K]*inFlightCall[V]),
		metricsCollector: opts.MetricsCollector,
	}, nil
}

// Get returns a fresh (non-expired) value from the cache by the provided key.
func (c *Cache[K, V]) Get(key K) (value V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(key)
}

// Set adds a value to the cache with the provided key and the default TTL.
func (c *Cache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL adds a value to the cache with the provided key and TTL.
func (c *Cache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(key, value, ttl)
}

// GetOrFetch returns a cached value for the key or fetches it with fetch.
// Only one fetch for a given key is in flight at a time, concurrent callers
// for the same key share its outcome. A successful result is cached with
// the default TTL, a failed fetch is not cached and the next caller retries.
func (c *Cache[K, V]) GetOrFetch(ctx context.Context, key K, fetch FetchFunc[V]) (V, error) {
	c.mu.Lock()
	if value, ok := c.get(key); ok {
		c.mu.Unlock()
		return value, nil
	}
	if call, ok := c.calls[key]; ok {
		c.mu.Unlock()
		call.wg.Wait()
		return call.val, call.err
	}
	call := &inFlightCall[V]{}
	call.wg.Add(1)
	c.calls[key] = call
	c.mu.Unlock()

	call.val, call.err = fetch(ctx)

	// Clear the in-flight marker and cache the result within one critical
	// section, so that no caller can observe a settled call without the
	// cache being up to date.
	c.mu.Lock()
	if c.calls[key] == call {
		delete(c.calls, key)
	}
	if call.err == nil && !call.forgotten {
		c.set(key, call.val, c.defaultTTL)
	}
	c.mu.Unlock()

	call.wg.Done()
	return call.val, call.err
}

// Invalidate removes the cached value for the key and detaches any in-flight fetch,
// forcing the next access to refetch. Callers already attached to an in-flight
// fetch still receive its outcome, but that outcome is not cached.
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if call, ok := c.calls[key]; ok {
		call.forgotten = true
		delete(c.calls, key)
	}

	elem, ok := c.entries[key]
	if !ok {
		return
	}
	c.evictList.Remove(elem)
	delete(c.entries, key)
	c.metricsCollector.SetAmount(len(c.entries))
}

// Purge clears the cache. In-flight fetches are not affected.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metricsCollector.SetAmount(0)
	c.entries = make(map[K]*list.Element)
	c.evictList.Init()
}

// Len returns the number of items in the cache, including expired but not yet evicted ones.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[K, V]) get(key K) (value V, ok bool) {
	elem, hit := c.entries[key]
	if !hit {
		c.metricsCollector.IncMisses()
		return value, false
	}
	entry := elem.Value.(*cacheEntry[K, V])
	if entry.expiresAt.Before(time.Now()) {
		c.evictList.Remove(elem)
		delete(c.entries, key)
		c.metricsCollector.SetAmount(len(c.entries))
		c.metricsCollector.IncMisses()
		return value, false
	}
	c.metricsCollector.IncHits()
	return entry.value, true
}

func (c *Cache[K, V]) set(key K, value V, ttl time.Duration) {
	expiresAt := time.Now().Add(ttl)
	if elem, ok := c.entries[key]; ok {
		elem.Value = &cacheEntry[K, V]{key: key, value: value, expiresAt: expiresAt}
		return
	}
	c.entries[key] = c.evictList.PushFront(&cacheEntry[K, V]{key: key, value: value, expiresAt: expiresAt})
	if c.maxEntries == 0 || len(c.entries) <= c.maxEntries {
		c.metricsCollector.SetAmount(len(c.entries))
		return
	}
	if c.removeOldest() != nil {
		c.metricsCollector.AddEvictions(1)
	}
}

func (c *Cache[K, V]) removeOldest() *cacheEntry[K, V] {
	elem := c.evictList.Back()
	if elem == nil {
		return nil
	}
	c.evictList.Remove(elem)
	entry := elem.Value.(*cacheEntry[K, V])
	delete(c.entries, entry.key)
	return entry
}

// Cleanup does a single pass over the cache and removes all expired entries.
func (c *Cache[K, V]) Cleanup() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, elem := range c.entries {
		entry := elem.Value.(*cacheEntry[K, V])
		if entry.expiresAt.Before(now) {
			c.evictList.Remove(elem)
			delete(c.entries, key)
		}
	}
	c.metricsCollector.SetAmount(len(c.entries))
}

// RunPeriodicCleanup runs a cycle of periodic cleanup of expired entries.
// It's supposed to be run in a separate goroutine.
func (c *Cache[K, V]) RunPeriodicCleanup(ctx context.Context, cleanupInterval time.Duration) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Cleanup()
		}
	}
}

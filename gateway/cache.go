/*
Copyright © 2025 Cartlabs, Inc.

Released under MIT license.
*/

package gateway

import (
	"context"
	"time"
)

// FetchFunc fetches a value for a cache key that is missing or expired.
// It is typically routed through Execute or ExecutePriority.
type FetchFunc func(ctx context.Context) (*Response, error)

// GetOrFetch returns a cached response for the key or fetches it with fetch.
// Concurrent callers for the same key share one in-flight fetch. A successful
// response is cached with the configured TTL; a failure is not cached, so the
// next caller retries fresh.
func (c *Client) GetOrFetch(ctx context.Context, key string, fetch FetchFunc) (*Response, error) {
	return c.cache.GetOrFetch(ctx, key, func(fetchCtx context.Context) (*Response, error) {
		return fetch(fetchCtx)
	})
}

// Invalidate removes the cached response for the key and detaches any
// in-flight fetch, forcing the next access to refetch.
func (c *Client) Invalidate(key string) {
	c.cache.Invalidate(key)
}

// CacheLen returns the number of responses currently cached.
func (c *Client) CacheLen() int {
	return c.cache.Len()
}

// CleanupCache does a single pass over the response cache and evicts all expired entries.
func (c *Client) CleanupCache() {
	c.cache.Cleanup()
}

// CacheCleanupInterval returns the configured interval between cache cleanup passes.
func (c *Client) CacheCleanupInterval() time.Duration {
	return c.cacheCleanupInterval
}

// RunPeriodicCacheCleanup evicts expired cache entries with the configured
// interval until ctx is done. It's supposed to be run in a separate goroutine.
func (c *Client) RunPeriodicCacheCleanup(ctx context.Context) {
	c.cache.RunPeriodicCleanup(ctx, c.cacheCleanupInterval)
}

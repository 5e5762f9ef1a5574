// Package cache provides a size-bounded TTL cache with request coalescing.
//
// Each cached value is keyed by a canonical fingerprint of the request.
// A singleflight guard ensures at most one in-flight computation per
// fingerprint; concurrent callers await the first result.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Defaults used when the configuration leaves options zero.
const (
	DefaultMaxEntries = 1024
	DefaultTTL        = 60 * time.Second
)

// Cache is a TTL-bounded LRU with a singleflight build guard.
type Cache[V any] struct {
	lru    *expirable.LRU[string, V]
	group  singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache holding at most maxEntries values for at most ttl.
func New[V any](maxEntries int, ttl time.Duration) *Cache[V] {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache[V]{
		lru: expirable.NewLRU[string, V](maxEntries, nil, ttl),
	}
}

// Get returns the cached value for key, if present and unexpired.
func (c *Cache[V]) Get(key string) (V, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Put stores a value under key.
func (c *Cache[V]) Put(key string, v V) {
	c.lru.Add(key, v)
}

// GetOrBuild returns the cached value for key, or runs build exactly once
// across concurrent callers and caches the result. Waiters observe ctx
// cancellation without cancelling the shared build.
func (c *Cache[V]) GetOrBuild(ctx context.Context, key string, build func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		// The build runs on the first caller's behalf but must outlive any
		// single waiter, so it detaches from the caller's cancellation.
		v, err := build(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.lru.Add(key, v)
		return v, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// Invalidate removes the value for key.
func (c *Cache[V]) Invalidate(key string) {
	c.lru.Remove(key)
}

// Purge drops all entries.
func (c *Cache[V]) Purge() {
	c.lru.Purge()
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int { return c.lru.Len() }

// Stats reports hit and miss counts since creation.
func (c *Cache[V]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Fingerprint builds a canonical cache key from request parts. Parts are
// sorted so callers need not agree on ordering; secrets must never be
// included among the parts.
func Fingerprint(parts ...string) string {
	sorted := make([]string, len(parts))
	copy(sorted, parts)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\x00")))
	return hex.EncodeToString(sum[:16])
}

// Package policy caches slow-changing backend documents such as the policy
// prompt, refreshing them lazily after a TTL.
package policy

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entry is a cached value and when it was fetched.
type Entry[T any] struct {
	Value     T
	FetchedAt time.Time
	TTL       time.Duration
}

// Fresh reports whether the entry is still within its TTL at now.
func (e Entry[T]) Fresh(now time.Time) bool {
	return !e.FetchedAt.IsZero() && now.Before(e.FetchedAt.Add(e.TTL))
}

// Cache holds one value of type T. Concurrent refreshes collapse into a single
// fetch. A failed refresh returns the error and leaves any previous value in
// place so the next call retries.
type Cache[T any] struct {
	fetch func(context.Context) (T, error)
	ttl   time.Duration
	now   func() time.Time

	mu    sync.RWMutex
	entry Entry[T]
	group singleflight.Group
}

// NewCache creates a cache that loads its value with fetch.
func NewCache[T any](ttl time.Duration, fetch func(context.Context) (T, error)) *Cache[T] {
	return &Cache[T]{fetch: fetch, ttl: ttl, now: time.Now}
}

// Peek returns the current entry without refreshing.
func (c *Cache[T]) Peek() (Entry[T], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entry, !c.entry.FetchedAt.IsZero()
}

// GetOrRefresh returns the cached value, fetching it first when missing or
// expired.
func (c *Cache[T]) GetOrRefresh(ctx context.Context) (Entry[T], error) {
	c.mu.RLock()
	e := c.entry
	c.mu.RUnlock()
	if e.Fresh(c.now()) {
		return e, nil
	}

	// The shared fetch is detached from any single caller so one cancelled
	// caller cannot fail the others waiting on it.
	ch := c.group.DoChan("refresh", func() (any, error) {
		v, err := c.fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		fresh := Entry[T]{Value: v, FetchedAt: c.now(), TTL: c.ttl}
		c.mu.Lock()
		c.entry = fresh
		c.mu.Unlock()
		return fresh, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero Entry[T]
			return zero, res.Err
		}
		return res.Val.(Entry[T]), nil
	case <-ctx.Done():
		var zero Entry[T]
		return zero, ctx.Err()
	}
}

// Invalidate drops the cached value.
func (c *Cache[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = Entry[T]{}
}

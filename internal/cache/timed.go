// Package cache provides a single-entry, time-bounded cache that degrades to
// a fallback value instead of failing.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yetasya/derivatives-bot/pkg/logging"
)

// ScheduleTTL is how long a fetched trading schedule stays fresh
const ScheduleTTL = 5 * time.Minute

// DefaultFetchTimeout bounds a shared fetch
const DefaultFetchTimeout = 30 * time.Second

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// TimedCache holds at most one fetched value. A value is served while
// now < expiresAt and the validity predicate accepts it. Failed or invalid
// fetches return the fallback and are never cached.
type TimedCache[T any] struct {
	ttl          time.Duration
	fetchTimeout time.Duration
	fetch        func(ctx context.Context) (T, error)
	valid    func(T) bool
	fallback func() T
	now      func() time.Time
	logger   logging.ApplicationLogger

	mu    sync.RWMutex
	entry *entry[T]
	group singleflight.Group
}

// Option customises a TimedCache
type Option[T any] func(*TimedCache[T])

// WithClock replaces time.Now
func WithClock[T any](now func() time.Time) Option[T] {
	return func(c *TimedCache[T]) { c.now = now }
}

// WithFetchTimeout bounds each fetch independently of the callers waiting on it
func WithFetchTimeout[T any](d time.Duration) Option[T] {
	return func(c *TimedCache[T]) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// WithLogger logs fetch failures
func WithLogger[T any](logger logging.ApplicationLogger) Option[T] {
	return func(c *TimedCache[T]) { c.logger = logger }
}

func New[T any](
	ttl time.Duration,
	fetch func(ctx context.Context) (T, error),
	valid func(T) bool,
	fallback func() T,
	opts ...Option[T],
) *TimedCache[T] {
	c := &TimedCache[T]{
		ttl:          ttl,
		fetchTimeout: DefaultFetchTimeout,
		fetch:        fetch,
		valid:        valid,
		fallback:     fallback,
		now:          time.Now,
		logger:       logging.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value, fetching when there is none or it expired.
// Concurrent misses share one fetch. The fetch runs detached from ctx, so a
// caller that gives up gets the fallback while the others keep waiting.
func (c *TimedCache[T]) Get(ctx context.Context) T {
	if v, ok := c.lookup(); ok {
		return v
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan("get", func() (interface{}, error) {
		return c.load(fetchCtx), nil
	})

	select {
	case res := <-ch:
		return res.Val.(T)
	case <-ctx.Done():
		c.logger.Debug("Caller gave up waiting for fetch: %v", ctx.Err())
		return c.fallback()
	}
}

func (c *TimedCache[T]) load(ctx context.Context) T {
	if v, ok := c.lookup(); ok {
		return v
	}

	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	fetched, err := c.fetch(ctx)
	if err != nil {
		c.logger.Warn("Fetch failed, serving fallback: %v", err)
		return c.fallback()
	}
	if !c.valid(fetched) {
		c.logger.Warn("Fetched value failed validation, serving fallback")
		return c.fallback()
	}

	c.mu.Lock()
	c.entry = &entry[T]{value: fetched, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return fetched
}

func (c *TimedCache[T]) lookup() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.entry != nil && c.now().Before(c.entry.expiresAt) && c.valid(c.entry.value) {
		return c.entry.value, true
	}
	var zero T
	return zero, false
}

// IsValid reports whether Get would be served from the cache
func (c *TimedCache[T]) IsValid() bool {
	_, ok := c.lookup()
	return ok
}

// Invalidate drops the cached value
func (c *TimedCache[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = nil
}

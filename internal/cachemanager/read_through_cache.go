package cachemanager

import (
	"context"
	"time"
)

// ReadThroughCache serves values from a CacheManager and falls back to fn on
// a miss. Only found values are cached; a miss from fn is returned as is.
type ReadThroughCache[K ~string, V any] struct {
	cache           CacheManager[K, V]
	fn              func(ctx context.Context, key K) (V, bool)
	shouldSkipCache bool
}

func NewReadThroughCache[K ~string, V any](
	cache CacheManager[K, V],
	fn func(ctx context.Context, key K) (V, bool),
	shouldSkipCache bool,
) *ReadThroughCache[K, V] {
	return &ReadThroughCache[K, V]{
		cache:           cache,
		fn:              fn,
		shouldSkipCache: shouldSkipCache,
	}
}

func (r *ReadThroughCache[K, V]) Get(ctx context.Context, key K, ttl time.Duration) (V, bool) {
	if r.shouldSkipCache {
		return r.fn(ctx, key)
	}

	if value, ok := r.cache.Get(ctx, key); ok {
		return value, true
	}

	value, ok := r.fn(ctx, key)
	if !ok {
		return value, false
	}

	r.cache.Set(ctx, key, value, ttl)

	return value, true
}

func (r *ReadThroughCache[K, V]) GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool) {
	if r.shouldSkipCache {
		return r.fn(ctx, key)
	}

	if value, ok := r.cache.GetWithRefresh(ctx, key, ttl); ok {
		return value, true
	}

	value, ok := r.fn(ctx, key)
	if !ok {
		return value, false
	}

	r.cache.Set(ctx, key, value, ttl)

	return value, true
}

// Invalidate drops keys from the underlying cache.
func (r *ReadThroughCache[K, V]) Invalidate(ctx context.Context, keys ...K) {
	_ = r.cache.Delete(ctx, keys...)
}

// Reset drops every cached value.
func (r *ReadThroughCache[K, V]) Reset(ctx context.Context) {
	_ = r.cache.Flush(ctx)
}

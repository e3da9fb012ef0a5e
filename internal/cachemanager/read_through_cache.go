package cachemanager

import (
	"context"
	"time"
)

// ReadThroughCache fronts a loader with a CacheManager. Cache keys are
// derived from the lookup input. Successful loads are cached for ttl;
// errors never are.
type ReadThroughCache[K ~string, V any, I any] struct {
	cache CacheManager[K, V]
	key   func(I) K
	load  func(ctx context.Context, input I) (V, error)
	ttl   time.Duration
}

// NewReadThroughCache builds a cache over load. A non-positive ttl turns
// every Get into a direct load and Prime into a no-op.
func NewReadThroughCache[K ~string, V any, I any](
	cache CacheManager[K, V],
	key func(I) K,
	load func(ctx context.Context, input I) (V, error),
	ttl time.Duration,
) *ReadThroughCache[K, V, I] {
	return &ReadThroughCache[K, V, I]{cache: cache, key: key, load: load, ttl: ttl}
}

func (r *ReadThroughCache[K, V, I]) enabled() bool { return r.ttl > 0 }

func (r *ReadThroughCache[K, V, I]) Get(ctx context.Context, input I) (V, error) {
	if !r.enabled() {
		return r.load(ctx, input)
	}
	k := r.key(input)
	if value, ok := r.cache.Get(ctx, k); ok {
		return value, nil
	}
	value, err := r.load(ctx, input)
	if err != nil {
		return value, err
	}
	r.cache.Set(ctx, k, value, r.ttl)
	return value, nil
}

// Invalidate evicts input's entry so the next Get reloads it.
func (r *ReadThroughCache[K, V, I]) Invalidate(ctx context.Context, input I) error {
	if !r.enabled() {
		return nil
	}
	return r.cache.Delete(ctx, r.key(input))
}

// Prime stores a value that is known to be current.
func (r *ReadThroughCache[K, V, I]) Prime(ctx context.Context, input I, value V) {
	if !r.enabled() {
		return
	}
	r.cache.Set(ctx, r.key(input), value, r.ttl)
}

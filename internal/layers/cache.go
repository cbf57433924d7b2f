package layers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"visor/core-go/internal/catalog"
	"visor/core-go/internal/metrics"
)

// BuildFunc fetches and builds one layer. It may block on network I/O.
type BuildFunc func(ctx context.Context) (*Layer, error)

// Cache holds built layers for the lifetime of the process. A key's slot is empty, has a
// load in flight, or holds a completed layer; completed layers are never replaced and failed
// loads leave the slot empty.
type Cache struct {
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	entries map[catalog.Key]*Layer

	inflight singleflight.Group
}

func NewCache(log zerolog.Logger, m *metrics.Metrics) *Cache {
	return &Cache{
		log:     log,
		metrics: m,
		entries: make(map[catalog.Key]*Layer),
	}
}

// Get returns the completed layer for key, if any.
func (c *Cache) Get(key catalog.Key) (*Layer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.entries[key]
	return l, ok
}

// Loaded lists keys with a completed layer in catalog order.
func (c *Cache) Loaded() []catalog.Key {
	c.mu.RLock()
	out := make([]catalog.Key, 0, len(c.entries))
	for k := range c.entries {
		out = append(out, k)
	}
	c.mu.RUnlock()
	catalog.SortKeys(out)
	return out
}

// EnsureLoaded returns the cached layer for key or runs build once to produce it. Concurrent
// callers for the same key share a single build. If ctx ends first the caller stops waiting,
// but the build continues and still fills the cache on success.
func (c *Cache) EnsureLoaded(ctx context.Context, key catalog.Key, build BuildFunc) (*Layer, error) {
	if l, ok := c.Get(key); ok {
		c.metrics.IncLayerCacheHit(string(key))
		return l, nil
	}
	if build == nil {
		return nil, fmt.Errorf("layer %s: no loader: %w", key, ErrMissingDependency)
	}

	ch := c.inflight.DoChan(string(key), func() (any, error) {
		// A previous flight may have finished between Get and DoChan.
		if l, ok := c.Get(key); ok {
			return l, nil
		}
		return c.load(context.WithoutCancel(ctx), key, build)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Layer), nil
	}
}

func (c *Cache) load(ctx context.Context, key catalog.Key, build BuildFunc) (*Layer, error) {
	start := time.Now()
	l, err := safeBuild(ctx, key, build)
	elapsed := time.Since(start)
	if err == nil && l == nil {
		err = fmt.Errorf("layer %s: loader returned no layer", key)
	}
	if err != nil {
		c.metrics.ObserveLayerLoad(string(key), "error", elapsed)
		c.log.Warn().Err(err).Str("layer", string(key)).Int64("duration_ms", elapsed.Milliseconds()).Msg("layer load failed")
		return nil, err
	}

	c.mu.Lock()
	if existing, ok := c.entries[key]; ok {
		l = existing
	} else {
		c.entries[key] = l
	}
	c.mu.Unlock()

	c.metrics.ObserveLayerLoad(string(key), "ok", elapsed)
	c.log.Info().
		Str("layer", string(key)).
		Str("origin", string(l.Source.Origin)).
		Int("features", l.FeatureCount()).
		Int64("duration_ms", elapsed.Milliseconds()).
		Msg("layer loaded")
	return l, nil
}

// safeBuild runs build on the singleflight goroutine, where a panic would otherwise be
// re-raised outside any request and kill the process.
func safeBuild(ctx context.Context, key catalog.Key, build BuildFunc) (l *Layer, err error) {
	defer func() {
		if p := recover(); p != nil {
			l, err = nil, fmt.Errorf("layer %s: build panicked: %v", key, p)
		}
	}()
	return build(ctx)
}

// Preload warms keys concurrently, at most limit at a time (no limit when limit <= 0). The
// first error is returned after all loads finish; successful loads stay cached.
func (c *Cache) Preload(ctx context.Context, keys []catalog.Key, limit int, buildFor func(catalog.Key) BuildFunc) error {
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, key := range keys {
		key := key
		g.Go(func() error {
			_, err := c.EnsureLoaded(ctx, key, buildFor(key))
			return err
		})
	}
	return g.Wait()
}

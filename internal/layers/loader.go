package layers

import (
	"context"
	"fmt"
	"time"

	"visor/core-go/internal/catalog"
	"visor/core-go/internal/source"
	"visor/core-go/internal/topology"
)

// Fetcher returns the raw payload stored at a location.
//
// *fetch.Fetcher satisfies this.
type Fetcher interface {
	Fetch(ctx context.Context, loc source.Location) ([]byte, error)
}

// Loader produces the BuildFunc for a key: resolve, fetch, parse, build.
type Loader struct {
	catalog   *catalog.Catalog
	resolver  *source.Resolver
	fetcher   Fetcher
	converter topology.Converter
	now       func() time.Time
}

type LoaderOptions struct {
	Catalog   *catalog.Catalog
	Resolver  *source.Resolver
	Fetcher   Fetcher
	Converter topology.Converter
	Now       func() time.Time
}

func NewLoader(opts LoaderOptions) *Loader {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Loader{
		catalog:   opts.Catalog,
		resolver:  opts.Resolver,
		fetcher:   opts.Fetcher,
		converter: opts.Converter,
		now:       now,
	}
}

// Locate resolves the location for key, applying the entry's fallback path when the
// resolver has nothing.
func (l *Loader) Locate(key catalog.Key) (source.Location, error) {
	entry, ok := l.catalog.Lookup(key)
	if !ok {
		return source.Location{}, fmt.Errorf("%q: %w", key, ErrUnknownLayer)
	}
	if loc, ok := l.resolver.Resolve(key); ok {
		return loc, nil
	}
	if entry.Fallback != "" {
		return source.Location{Origin: source.OriginLocal, Ref: entry.Fallback}, nil
	}
	return source.Location{}, fmt.Errorf("no URL for %s: %w", key, ErrMissingSource)
}

// FetchAndBuild returns the load operation for key, suitable for Cache.EnsureLoaded.
func (l *Loader) FetchAndBuild(key catalog.Key) BuildFunc {
	return func(ctx context.Context) (*Layer, error) {
		entry, ok := l.catalog.Lookup(key)
		if !ok {
			return nil, fmt.Errorf("%q: %w", key, ErrUnknownLayer)
		}
		loc, err := l.Locate(key)
		if err != nil {
			return nil, err
		}
		if l.fetcher == nil {
			return nil, fmt.Errorf("layer %s: fetcher: %w", key, ErrMissingDependency)
		}
		payload, err := l.fetcher.Fetch(ctx, loc)
		if err != nil {
			return nil, err
		}
		layer, err := Build(entry, payload, l.converter)
		if err != nil {
			return nil, err
		}
		layer.Source = loc
		layer.LoadedAt = l.now()
		return layer, nil
	}
}

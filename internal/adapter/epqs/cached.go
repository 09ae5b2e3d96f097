package epqs

import (
	"context"
	"errors"

	"github.com/couchcryptid/flood-dataset/internal/cache"
	"github.com/couchcryptid/flood-dataset/internal/domain"
	"github.com/couchcryptid/flood-dataset/internal/observability"
)

// CachedElevationSource fronts an ElevationSource with the persistent fetch
// cache, keyed by coordinates rounded to four decimal places. Terrain does
// not change between runs, so entries never need a time component.
type CachedElevationSource struct {
	inner   domain.ElevationSource
	store   cache.Store
	metrics *observability.Metrics
}

// NewCachedElevationSource creates a cache decorator around an elevation source.
func NewCachedElevationSource(inner domain.ElevationSource, store cache.Store, metrics *observability.Metrics) *CachedElevationSource {
	return &CachedElevationSource{inner: inner, store: store, metrics: metrics}
}

func (c *CachedElevationSource) FetchElevation(ctx context.Context, lat, lon float64) (*float64, error) {
	key := cache.ElevationKey(lat, lon)
	m, hit, err := cache.Through(ctx, c.store, key, func(ctx context.Context) (*float64, error) {
		return c.inner.FetchElevation(ctx, lat, lon)
	})
	if err != nil {
		var conflict *cache.ConsistencyError
		if errors.As(err, &conflict) {
			c.metrics.CacheConflicts.Inc()
		}
		return nil, err
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.metrics.CacheLookups.WithLabelValues(sourceName, result).Inc()
	return m, nil
}

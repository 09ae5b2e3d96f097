package cdo

import (
	"context"
	"errors"
	"time"

	"github.com/couchcryptid/flood-dataset/internal/cache"
	"github.com/couchcryptid/flood-dataset/internal/domain"
	"github.com/couchcryptid/flood-dataset/internal/observability"
)

// CachedRainfallSource fronts a RainfallSource with the persistent fetch
// cache, keyed by coordinates rounded to four decimal places and UTC day.
type CachedRainfallSource struct {
	inner   domain.RainfallSource
	store   cache.Store
	metrics *observability.Metrics
}

// NewCachedRainfallSource creates a cache decorator around a rainfall source.
func NewCachedRainfallSource(inner domain.RainfallSource, store cache.Store, metrics *observability.Metrics) *CachedRainfallSource {
	return &CachedRainfallSource{inner: inner, store: store, metrics: metrics}
}

func (c *CachedRainfallSource) FetchPrecip(ctx context.Context, lat, lon float64, day time.Time) (*float64, error) {
	key := cache.PrecipKey(lat, lon, day)
	mm, hit, err := cache.Through(ctx, c.store, key, func(ctx context.Context) (*float64, error) {
		return c.inner.FetchPrecip(ctx, lat, lon, day)
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
	return mm, nil
}

package iem

import (
	"context"
	"errors"

	"github.com/couchcryptid/flood-dataset/internal/cache"
	"github.com/couchcryptid/flood-dataset/internal/domain"
	"github.com/couchcryptid/flood-dataset/internal/observability"
)

// CachedAlertSource fronts an AlertSource with the persistent fetch cache.
// A region and month span whose alerts are already stored never reaches the
// inner client again.
type CachedAlertSource struct {
	inner   domain.AlertSource
	store   cache.Store
	metrics *observability.Metrics
}

// NewCachedAlertSource creates a cache decorator around an alert source.
func NewCachedAlertSource(inner domain.AlertSource, store cache.Store, metrics *observability.Metrics) *CachedAlertSource {
	return &CachedAlertSource{inner: inner, store: store, metrics: metrics}
}

func (c *CachedAlertSource) FetchAlerts(ctx context.Context, region domain.Region, span domain.MonthSpan) ([]domain.AlertRecord, error) {
	key := cache.AlertsKey(region.Key(), span.Key())
	alerts, hit, err := cache.Through(ctx, c.store, key, func(ctx context.Context) ([]domain.AlertRecord, error) {
		return c.inner.FetchAlerts(ctx, region, span)
	})
	if err != nil {
		var conflict *cache.ConsistencyError
		if errors.As(err, &conflict) {
			c.metrics.CacheConflicts.Inc()
		}
		return nil, err
	}
	c.metrics.CacheLookups.WithLabelValues(sourceName, lookupResult(hit)).Inc()
	return alerts, nil
}

func lookupResult(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

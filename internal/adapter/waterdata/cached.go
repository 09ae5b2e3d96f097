package waterdata

import (
	"context"
	"errors"
	"time"

	"github.com/couchcryptid/flood-dataset/internal/cache"
	"github.com/couchcryptid/flood-dataset/internal/domain"
	"github.com/couchcryptid/flood-dataset/internal/observability"
)

// CachedStationSource fronts a StationSource with the persistent fetch
// cache, keyed by state FIPS code.
type CachedStationSource struct {
	inner   domain.StationSource
	store   cache.Store
	metrics *observability.Metrics
}

// NewCachedStationSource creates a cache decorator around a station source.
func NewCachedStationSource(inner domain.StationSource, store cache.Store, metrics *observability.Metrics) *CachedStationSource {
	return &CachedStationSource{inner: inner, store: store, metrics: metrics}
}

func (c *CachedStationSource) FetchStations(ctx context.Context, region domain.Region) ([]domain.GaugeStation, error) {
	key := cache.StationsKey(region.FIPS)
	stations, hit, err := cache.Through(ctx, c.store, key, func(ctx context.Context) ([]domain.GaugeStation, error) {
		return c.inner.FetchStations(ctx, region)
	})
	if err != nil {
		observeConflict(c.metrics, err)
		return nil, err
	}
	c.metrics.CacheLookups.WithLabelValues(sourceName, lookupResult(hit)).Inc()
	return stations, nil
}

// CachedGaugeSource fronts a GaugeSource with the persistent fetch cache,
// keyed by station number and UTC day. A day the station reported nothing
// caches as an explicit null, so reruns skip the lookup too.
type CachedGaugeSource struct {
	inner   domain.GaugeSource
	store   cache.Store
	metrics *observability.Metrics
}

// NewCachedGaugeSource creates a cache decorator around a gauge source.
func NewCachedGaugeSource(inner domain.GaugeSource, store cache.Store, metrics *observability.Metrics) *CachedGaugeSource {
	return &CachedGaugeSource{inner: inner, store: store, metrics: metrics}
}

func (c *CachedGaugeSource) FetchGageHeight(ctx context.Context, stationNumber string, day time.Time) (*float64, error) {
	key := cache.GageHeightKey(stationNumber, day)
	ft, hit, err := cache.Through(ctx, c.store, key, func(ctx context.Context) (*float64, error) {
		return c.inner.FetchGageHeight(ctx, stationNumber, day)
	})
	if err != nil {
		observeConflict(c.metrics, err)
		return nil, err
	}
	c.metrics.CacheLookups.WithLabelValues(sourceName, lookupResult(hit)).Inc()
	return ft, nil
}

func observeConflict(m *observability.Metrics, err error) {
	var conflict *cache.ConsistencyError
	if errors.As(err, &conflict) {
		m.CacheConflicts.Inc()
	}
}

func lookupResult(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

package domain

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors classifying upstream failures. Unavailability is transient
// and retried with backoff; a data error is terminal for the fetch that hit
// it, while other fetches continue.
var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrSourceDataError   = errors.New("source data error")
)

// AlertSource yields archived flood alerts for one region and month span.
type AlertSource interface {
	FetchAlerts(ctx context.Context, region Region, span MonthSpan) ([]AlertRecord, error)
}

// StationSource yields the stream-gauge stations of one region.
type StationSource interface {
	FetchStations(ctx context.Context, region Region) ([]GaugeStation, error)
}

// GaugeSource yields the daily gage height for one station and day, in feet.
// A nil reading with a nil error means the station reported nothing that day.
type GaugeSource interface {
	FetchGageHeight(ctx context.Context, stationNumber string, day time.Time) (*float64, error)
}

// RainfallSource yields the 24-hour precipitation total ending on the given
// day at a point, in millimeters.
type RainfallSource interface {
	FetchPrecip(ctx context.Context, lat, lon float64, day time.Time) (*float64, error)
}

// ElevationSource yields the ground elevation at a point, in meters.
type ElevationSource interface {
	FetchElevation(ctx context.Context, lat, lon float64) (*float64, error)
}

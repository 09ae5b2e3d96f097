package domain

import (
	"context"
	"log/slog"
)

// EnrichSample attaches precipitation, elevation, and stream-gauge context
// to a sample. Any source that is nil or fails leaves its fields unset; a
// partially enriched sample is still a valid dataset row (graceful
// degradation).
func EnrichSample(ctx context.Context, s Sample, stations *StationIndex, gauges GaugeSource, rainfall RainfallSource, elevation ElevationSource, logger *slog.Logger) Sample {
	if rainfall != nil {
		mm, err := rainfall.FetchPrecip(ctx, s.Lat, s.Lon, s.Timestamp)
		if err != nil {
			logger.Warn("precipitation lookup failed",
				"sample_id", s.ID,
				"lat", s.Lat,
				"lon", s.Lon,
				"error", err,
			)
		} else {
			s.Precip24hMM = mm
		}
	}

	if elevation != nil {
		m, err := elevation.FetchElevation(ctx, s.Lat, s.Lon)
		if err != nil {
			logger.Warn("elevation lookup failed",
				"sample_id", s.ID,
				"lat", s.Lat,
				"lon", s.Lon,
				"error", err,
			)
		} else {
			s.ElevationM = m
		}
	}

	if stations != nil && gauges != nil {
		if st, _, ok := stations.Nearest(s.Lat, s.Lon); ok {
			s.StationID = st.Number
			ft, err := gauges.FetchGageHeight(ctx, st.Number, s.Timestamp)
			if err != nil {
				logger.Warn("gage height lookup failed",
					"sample_id", s.ID,
					"station", st.Number,
					"error", err,
				)
			} else {
				s.GageHeightFt = ft
			}
		}
	}

	return s
}

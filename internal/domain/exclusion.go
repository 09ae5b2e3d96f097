package domain

import (
	"math"
	"time"
)

// ExclusionIndex answers "is this point+time inside any positive's exclusion
// zone" queries. A zone is a spatiotemporal cylinder: within the radius AND
// within the time window of a positive. Entries are bucketed into grid cells
// sized to the radius and window, so a query only scans the neighborhood of
// its own cell; the longitude scan widens at high latitudes where degrees
// shrink. Built once after extraction and read-only afterwards.
type ExclusionIndex struct {
	radiusKM float64
	window   time.Duration
	latStep  float64 // degrees of latitude per cell
	lonStep  float64 // degrees of longitude per cell at the equator
	cells    map[exclusionCell][]exclusionEntry
}

type exclusionCell struct {
	lat, lon, t int64
}

type exclusionEntry struct {
	geo Geo
	at  time.Time
}

// NewExclusionIndex builds the index over all positives.
func NewExclusionIndex(positives []Sample, radiusKM float64, window time.Duration) *ExclusionIndex {
	x := &ExclusionIndex{
		radiusKM: radiusKM,
		window:   window,
		latStep:  radiusKM / kmPerDegreeLat,
		lonStep:  radiusKM / kmPerDegreeLonEq,
		cells:    make(map[exclusionCell][]exclusionEntry, len(positives)),
	}
	for _, p := range positives {
		c := x.cellFor(p.Lat, p.Lon, p.Timestamp)
		x.cells[c] = append(x.cells[c], exclusionEntry{geo: Geo{Lat: p.Lat, Lon: p.Lon}, at: p.Timestamp})
	}
	return x
}

func (x *ExclusionIndex) cellFor(lat, lon float64, t time.Time) exclusionCell {
	return exclusionCell{
		lat: int64(math.Floor(lat / x.latStep)),
		lon: int64(math.Floor(lon / x.lonStep)),
		t:   int64(math.Floor(float64(t.UTC().UnixNano()) / float64(x.window))),
	}
}

// Excluded reports whether the point+time falls inside any positive's zone.
func (x *ExclusionIndex) Excluded(g Geo, at time.Time) bool {
	if len(x.cells) == 0 {
		return false
	}
	center := x.cellFor(g.Lat, g.Lon, at)
	lonSpan := int64(1)
	if cosLat := math.Cos(g.Lat * math.Pi / 180); cosLat > 0.01 {
		lonSpan = int64(math.Ceil(1 / cosLat))
	} else {
		lonSpan = 100
	}
	for dt := int64(-1); dt <= 1; dt++ {
		for dLat := int64(-1); dLat <= 1; dLat++ {
			for dLon := -lonSpan; dLon <= lonSpan; dLon++ {
				c := exclusionCell{lat: center.lat + dLat, lon: center.lon + dLon, t: center.t + dt}
				for _, e := range x.cells[c] {
					if x.within(g, at, e) {
						return true
					}
				}
			}
		}
	}
	return false
}

func (x *ExclusionIndex) within(g Geo, at time.Time, e exclusionEntry) bool {
	if HaversineKM(g.Lat, g.Lon, e.geo.Lat, e.geo.Lon) > x.radiusKM {
		return false
	}
	d := at.Sub(e.at)
	if d < 0 {
		d = -d
	}
	return d <= x.window
}

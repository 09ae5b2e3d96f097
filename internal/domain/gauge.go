package domain

import "time"

// MaxStationDistanceKM bounds the nearest-station search. A gauge farther
// away says nothing useful about conditions at the sample point.
const MaxStationDistanceKM = 25.0

// GaugeStation is a USGS stream monitoring location.
type GaugeStation struct {
	Number string  `json:"number"` // monitoring location number, e.g. "08158000"
	Name   string  `json:"name"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
}

// StationIndex answers nearest-station queries over a fixed station set.
type StationIndex struct {
	stations []GaugeStation
}

// NewStationIndex builds an index over the given stations.
func NewStationIndex(stations []GaugeStation) *StationIndex {
	return &StationIndex{stations: stations}
}

// Len returns the number of indexed stations.
func (x *StationIndex) Len() int {
	return len(x.stations)
}

// Nearest returns the closest station within MaxStationDistanceKM of the
// point, its distance in kilometers, and whether one exists. Ties break on
// the lower station number so results do not depend on input order.
func (x *StationIndex) Nearest(lat, lon float64) (GaugeStation, float64, bool) {
	best := GaugeStation{}
	bestDist := MaxStationDistanceKM
	found := false
	for _, st := range x.stations {
		d := HaversineKM(lat, lon, st.Lat, st.Lon)
		if d > bestDist {
			continue
		}
		if d == bestDist && found && st.Number >= best.Number {
			continue
		}
		best, bestDist, found = st, d, true
	}
	return best, bestDist, found
}

// HeightKey identifies one daily gage-height observation.
func HeightKey(stationNumber string, day time.Time) string {
	return stationNumber + "|" + day.UTC().Format("2006-01-02")
}

// GaugeHeights maps HeightKey to the observed gage height in feet. A present
// key with a nil value records that the station reported nothing that day.
type GaugeHeights map[string]*float64

// FloodStages maps station number to its flood stage in feet.
type FloodStages map[string]float64

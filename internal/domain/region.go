package domain

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// earthRadiusKM is the mean Earth radius used for great-circle math.
const earthRadiusKM = 6371.0

// Mean surface distances of one degree, used to size grid cells and convert
// kilometer offsets to coordinate deltas.
const (
	kmPerDegreeLat   = 110.574
	kmPerDegreeLonEq = 111.320
)

// HaversineKM returns the great-circle distance between two points in kilometers.
func HaversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	const degToRad = math.Pi / 180
	dLat := (lat2 - lat1) * degToRad
	dLon := (lon2 - lon1) * degToRad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// stateInfo collects the lookup data for one supported state.
type stateInfo struct {
	abbrev string
	fips   string
	wfos   []string
	center Geo
}

// defaultStates lists the flood-prone states covered when no state filter is
// given. Order is fixed so fetch plans and reports are reproducible.
var defaultStates = []string{
	"Texas", "California", "Florida", "Louisiana", "Georgia",
	"South Carolina", "North Carolina", "Virginia", "Illinois", "Indiana",
	"Kentucky", "Tennessee", "Alabama", "Arkansas",
}

var states = map[string]stateInfo{
	"Texas":          {"TX", "48", []string{"EWX", "FWD", "HGX", "SJT", "LUB", "AMA", "CRP", "BRO", "EPZ"}, Geo{31.0, -99.0}},
	"California":     {"CA", "06", []string{"LOX", "SGX", "OXR", "MTR", "STO", "HNX", "EKA", "REV"}, Geo{37.2, -119.3}},
	"Florida":        {"FL", "12", []string{"MFL", "TBW", "MLB", "JAX", "TAE", "KEY"}, Geo{28.6, -82.4}},
	"Louisiana":      {"LA", "22", []string{"LIX", "SHV", "LCH"}, Geo{31.0, -92.0}},
	"Georgia":        {"GA", "13", []string{"FFC"}, Geo{32.6, -83.4}},
	"South Carolina": {"SC", "45", []string{"CHS"}, Geo{33.9, -80.9}},
	"North Carolina": {"NC", "37", []string{"RAH"}, Geo{35.5, -79.4}},
	"Virginia":       {"VA", "51", []string{"LWX"}, Geo{37.5, -78.8}},
	"Illinois":       {"IL", "17", []string{"LOT"}, Geo{40.0, -89.2}},
	"Indiana":        {"IN", "18", []string{"IND"}, Geo{39.9, -86.3}},
	"Kentucky":       {"KY", "21", []string{"JKL"}, Geo{37.5, -85.3}},
	"Tennessee":      {"TN", "47", []string{"MEG"}, Geo{35.8, -86.4}},
	"Alabama":        {"AL", "01", []string{"BMX"}, Geo{32.8, -86.8}},
	"Arkansas":       {"AR", "05", []string{"LZK"}, Geo{34.9, -92.4}},
}

// stateCenters is the abbrev-keyed view of state center points, used as the
// fallback when an alert area names a county that is not in the centroid table.
var stateCenters = func() map[string]Geo {
	out := make(map[string]Geo, len(states))
	for _, info := range states {
		out[info.abbrev] = info.center
	}
	return out
}()

// texasCountyCentroids holds centroid coordinates for the Texas counties that
// appear most often in flood alerts.
var texasCountyCentroids = map[string]Geo{
	"Harris":    {29.7604, -95.3698},
	"Travis":    {30.2672, -97.7431},
	"Bexar":     {29.4241, -98.4936},
	"Dallas":    {32.7767, -96.7970},
	"Tarrant":   {32.7555, -97.3308},
	"Fayette":   {29.8947, -96.9344},
	"DeWitt":    {29.0374, -97.2842},
	"Wilson":    {29.1213, -98.1281},
	"Val Verde": {29.3605, -100.8965},
	"Kerr":      {30.0474, -99.3420},
	"Bandera":   {29.7574, -99.0717},
	"Kinney":    {29.3505, -100.4440},
	"Uvalde":    {29.2097, -99.7864},
	"Llano":     {30.7591, -98.6723},
}

// areaRe parses VTEC area descriptions: "<county> [<state>]",
// e.g. "Fayette [TX]" -> county=Fayette, state=TX.
var areaRe = regexp.MustCompile(`^(.+?)\s*\[([A-Z]{2})\]$`)

// CentroidForArea resolves an alert area description to a representative
// point: the county centroid when known, otherwise the state's center point.
func CentroidForArea(area string) (Geo, bool) {
	m := areaRe.FindStringSubmatch(strings.TrimSpace(area))
	if len(m) != 3 {
		return Geo{}, false
	}
	county, st := strings.TrimSpace(m[1]), m[2]
	if st == "TX" {
		if g, ok := texasCountyCentroids[county]; ok {
			return g, true
		}
	}
	if g, ok := stateCenters[st]; ok {
		return g, true
	}
	return Geo{}, false
}

// Region scopes a dataset build to one state, optionally narrowed to a county.
type Region struct {
	State     string // full name, e.g. "Texas"
	Abbrev    string
	FIPS      string
	WFOs      []string
	County    string // optional county filter
	Anchor    Geo    // representative point, set only with a county filter
	HasAnchor bool
}

// ResolveRegions expands an optional state/county filter into concrete
// regions. An empty state yields the default flood-prone state set.
func ResolveRegions(state, county string) ([]Region, error) {
	if state == "" {
		if county != "" {
			return nil, fmt.Errorf("county filter %q requires a state", county)
		}
		out := make([]Region, 0, len(defaultStates))
		for _, name := range defaultStates {
			r, err := resolveState(name)
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		}
		return out, nil
	}

	r, err := resolveState(state)
	if err != nil {
		return nil, err
	}
	if county != "" {
		r.County = county
		if r.Abbrev == "TX" {
			if g, ok := texasCountyCentroids[county]; ok {
				r.Anchor, r.HasAnchor = g, true
			}
		}
		if !r.HasAnchor {
			r.Anchor, r.HasAnchor = stateCenters[r.Abbrev], true
		}
	}
	return []Region{r}, nil
}

func resolveState(name string) (Region, error) {
	for full, info := range states {
		if strings.EqualFold(full, strings.TrimSpace(name)) {
			return Region{State: full, Abbrev: info.abbrev, FIPS: info.fips, WFOs: info.wfos}, nil
		}
	}
	return Region{}, fmt.Errorf("unsupported state %q", name)
}

// Key is the canonical region identifier used in cache keys.
func (r Region) Key() string {
	if r.County == "" {
		return r.Abbrev
	}
	return r.Abbrev + ":" + strings.ToLower(strings.ReplaceAll(r.County, " ", "_"))
}

// MatchesArea reports whether an alert's area description falls inside the
// region: the bracketed state code must match, and when a county filter is
// set the county name must match case-insensitively.
func (r Region) MatchesArea(area string) bool {
	m := areaRe.FindStringSubmatch(strings.TrimSpace(area))
	if len(m) != 3 {
		return false
	}
	if m[2] != r.Abbrev {
		return false
	}
	if r.County == "" {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(m[1]), r.County)
}

// Contains reports whether a point is inside the region for the purposes of
// negative synthesis. County-anchored regions bound candidates to maxKM of
// the anchor; state-level regions rely on the displacement bound alone.
func (r Region) Contains(g Geo, maxKM float64) bool {
	if !r.HasAnchor {
		return true
	}
	return HaversineKM(r.Anchor.Lat, r.Anchor.Lon, g.Lat, g.Lon) <= maxKM
}

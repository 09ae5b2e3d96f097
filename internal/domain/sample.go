package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"
)

// Label classifies a sample as a flood or non-flood example.
type Label string

const (
	LabelFlood   Label = "flood"
	LabelNoFlood Label = "no_flood"
)

// Binary returns the numeric label encoding used in dataset outputs.
func (l Label) Binary() int {
	if l == LabelFlood {
		return 1
	}
	return 0
}

// Geo is a WGS-84 latitude/longitude coordinate pair.
type Geo struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Sample is one labeled row of the dataset.
type Sample struct {
	ID         string    `json:"id"`
	Label      Label     `json:"label"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	Timestamp  time.Time `json:"timestamp"`
	Provenance string    `json:"provenance"`

	// Alert descriptors, zero-valued for synthesized negatives.
	Event     string `json:"event,omitempty"`
	Area      string `json:"area,omitempty"`
	Severity  string `json:"severity,omitempty"`
	Certainty string `json:"certainty,omitempty"`
	Urgency   string `json:"urgency,omitempty"`

	// Enrichment fields, nil or empty when the upstream had no data.
	Precip24hMM  *float64 `json:"precip_24h_mm,omitempty"`
	ElevationM   *float64 `json:"elevation_m,omitempty"`
	StationID    string   `json:"usgs_station_id,omitempty"`
	GageHeightFt *float64 `json:"usgs_gage_height_ft,omitempty"`
}

// NewSample builds a labeled sample with its deterministic ID.
func NewSample(label Label, lat, lon float64, ts time.Time, provenance string) Sample {
	ts = ts.UTC()
	return Sample{
		ID:         generateID(label, lat, lon, ts),
		Label:      label,
		Lat:        lat,
		Lon:        lon,
		Timestamp:  ts,
		Provenance: provenance,
	}
}

// generateID produces a deterministic ID from the sample's key fields.
// Rebuilding the same window reproduces the same IDs.
func generateID(label Label, lat, lon float64, ts time.Time) string {
	input := fmt.Sprintf("%s|%.4f|%.4f|%s", label, lat, lon, ts.UTC().Format(time.RFC3339))
	hash := sha256.Sum256([]byte(input))
	short := hex.EncodeToString(hash[:8])
	if label == "" {
		return short
	}
	return string(label) + "-" + short
}

// DiscreteKey buckets the sample to a coarse location (0.01 degree, roughly
// one kilometer) and UTC day. Two samples sharing a key describe the same
// place on the same day for deduplication purposes.
func (s Sample) DiscreteKey() string {
	return fmt.Sprintf("%.2f|%.2f|%s", s.Lat, s.Lon, s.Timestamp.UTC().Format("2006-01-02"))
}

// Less orders samples by timestamp, then latitude, longitude, and ID, so a
// rerun over the same inputs emits rows in the same order.
func (s Sample) Less(o Sample) bool {
	if !s.Timestamp.Equal(o.Timestamp) {
		return s.Timestamp.Before(o.Timestamp)
	}
	if s.Lat != o.Lat {
		return s.Lat < o.Lat
	}
	if s.Lon != o.Lon {
		return s.Lon < o.Lon
	}
	return s.ID < o.ID
}

// SortSamples sorts a slice in place into the canonical dataset order.
func SortSamples(samples []Sample) {
	sort.Slice(samples, func(i, j int) bool { return samples[i].Less(samples[j]) })
}

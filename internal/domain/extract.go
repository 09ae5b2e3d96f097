package domain

import (
	"fmt"
	"log/slog"
	"time"
)

// Strictness selects how gauge corroboration treats positives.
type Strictness string

const (
	// StrictnessOff skips gauge corroboration entirely.
	StrictnessOff Strictness = "off"
	// StrictnessLenient discards a positive only on affirmative contrary
	// evidence: a nearby station with a known flood stage observed below it.
	StrictnessLenient Strictness = "lenient"
	// StrictnessStrict keeps a positive only when a nearby station observed
	// at or above its flood stage.
	StrictnessStrict Strictness = "strict"
)

// ExtractOptions tunes positive extraction.
type ExtractOptions struct {
	MinSeverity string // minimum VTEC significance, e.g. SigWarning
	Strictness  Strictness
}

// ExtractStats counts the fate of every alert during extraction.
type ExtractStats struct {
	Alerts         int
	BelowThreshold int
	Unresolvable   int // area gave no representative point
	Discarded      int // failed gauge corroboration
	Duplicates     int // alerts collapsing to an already-emitted sample
	Positives      int
}

// ExtractPositives turns qualifying alerts into flood samples. An alert
// qualifies when its significance meets the threshold, its area resolves to
// a representative point, and gauge corroboration does not rule it out.
// Output is sorted into the canonical dataset order.
func ExtractPositives(alerts []AlertRecord, stations *StationIndex, heights GaugeHeights, stages FloodStages, opts ExtractOptions, logger *slog.Logger) ([]Sample, ExtractStats) {
	stats := ExtractStats{Alerts: len(alerts)}
	seen := make(map[string]bool)
	var out []Sample
	for _, a := range alerts {
		if !a.MeetsSeverity(opts.MinSeverity) {
			stats.BelowThreshold++
			continue
		}
		g, ok := CentroidForArea(a.Area)
		if !ok {
			stats.Unresolvable++
			logger.Warn("no representative point for alert area",
				"wfo", a.WFO,
				"event_id", a.EventID,
				"area", a.Area,
			)
			continue
		}
		if !corroborate(g, a.Issued, stations, heights, stages, opts.Strictness) {
			stats.Discarded++
			continue
		}
		s := NewSample(LabelFlood, g.Lat, g.Lon, a.Issued, fmt.Sprintf("iem:%s:%d", a.WFO, a.EventID))
		if seen[s.ID] {
			stats.Duplicates++
			continue
		}
		seen[s.ID] = true
		s.Event = a.Event
		s.Area = a.Area
		s.Severity = a.Significance
		s.Certainty = a.Certainty
		s.Urgency = a.Urgency
		out = append(out, s)
	}
	SortSamples(out)
	stats.Positives = len(out)
	return out, stats
}

// corroborate weighs the nearest station's gage height against its flood
// stage. Evidence is complete only when a station is in range, its flood
// stage is known, and it reported a height for the alert day.
func corroborate(g Geo, at time.Time, stations *StationIndex, heights GaugeHeights, stages FloodStages, strictness Strictness) bool {
	if strictness == StrictnessOff {
		return true
	}

	evidence := false
	corroborated := false
	if stations != nil {
		if st, _, ok := stations.Nearest(g.Lat, g.Lon); ok {
			if stage, known := stages[st.Number]; known {
				if h, present := heights[HeightKey(st.Number, at)]; present && h != nil {
					evidence = true
					corroborated = *h >= stage
				}
			}
		}
	}

	if strictness == StrictnessStrict {
		return evidence && corroborated
	}
	return !evidence || corroborated
}

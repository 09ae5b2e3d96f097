// Command genmock writes the deterministic fixtures under data/mock that the
// pipeline test suite builds datasets from: archived flood alerts, gauge
// stations, and a flood stage table. It replays the actual domain extraction
// and synthesis over the generated alerts and prints the resulting counts, so
// test assertions can be updated from its output after a fixture change.
//
// Usage:
//
//	go run ./cmd/genmock -out-dir data/mock
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/flood-dataset/internal/domain"
)

// fixtureNow pins window planning to the instant the pipeline tests freeze
// their clock at: with years=1 and months=3 the window covers the first
// quarter of 2023 and 2024, six spans.
var fixtureNow = time.Date(2024, time.June, 15, 0, 0, 0, 0, time.UTC)

// gageHeightFt is the height every fixture gauge reports. It sits above all
// three flood stages, so lenient corroboration keeps every warning.
const gageHeightFt = 40.0

// countyDef pairs a county that has a centroid entry with the office that
// issues flood products for it.
type countyDef struct {
	county string
	wfo    string
}

var fixtureCounties = []countyDef{
	{county: "Travis", wfo: "EWX"},
	{county: "Harris", wfo: "HGX"},
	{county: "Bexar", wfo: "EWX"},
}

// stationDef pairs a gauge within nearest-station range of one fixture
// county's centroid with its flood stage.
type stationDef struct {
	station domain.GaugeStation
	stageFt float64
}

var fixtureStations = []stationDef{
	{station: domain.GaugeStation{Number: "08158000", Name: "Colorado Rv at Austin, TX", Lat: 30.2441, Lon: -97.6944}, stageFt: 21},
	{station: domain.GaugeStation{Number: "08074500", Name: "Whiteoak Bayou at Houston, TX", Lat: 29.7752, Lon: -95.3977}, stageFt: 32},
	{station: domain.GaugeStation{Number: "08178000", Name: "San Antonio Rv at San Antonio, TX", Lat: 29.4093, Lon: -98.488}, stageFt: 15},
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	outDir := flag.String("out-dir", "data/mock", "directory to write fixtures into")
	flag.Parse()

	// Fix the clock so the generated window matches the one the tests plan.
	domain.SetClock(clockwork.NewFakeClockAt(fixtureNow))
	defer domain.SetClock(nil)

	window := domain.NewTimeWindow(1, 3)
	alerts := buildAlerts(window)

	stations := make([]domain.GaugeStation, 0, len(fixtureStations))
	for _, d := range fixtureStations {
		stations = append(stations, d.station)
	}

	if err := writeJSON(filepath.Join(*outDir, "alerts_tx.json"), alerts); err != nil {
		return fmt.Errorf("writing alerts fixture: %w", err)
	}
	log.Printf("alerts: %d records", len(alerts))

	if err := writeJSON(filepath.Join(*outDir, "stations_tx.json"), stations); err != nil {
		return fmt.Errorf("writing stations fixture: %w", err)
	}
	log.Printf("stations: %d records", len(stations))

	if err := writeStages(filepath.Join(*outDir, "flood_stages.csv"), fixtureStations); err != nil {
		return fmt.Errorf("writing flood stage fixture: %w", err)
	}
	log.Printf("flood stages: %d rows", len(fixtureStations))

	regions, err := domain.ResolveRegions("Texas", "")
	if err != nil {
		return err
	}
	printStats(alerts, stations, regions[0], window)
	return nil
}

// buildAlerts generates one warning per county plus one advisory for every
// span, then appends two hand-picked edge cases: an area with no bracketed
// state code, which extraction cannot resolve to a point, and a second office
// issuing for Travis at the same instant as event 6001, which collapses onto
// the same sample.
func buildAlerts(window domain.TimeWindow) []domain.AlertRecord {
	var out []domain.AlertRecord
	for si, span := range window.Spans {
		for ci, c := range fixtureCounties {
			out = append(out, domain.AlertRecord{
				WFO:          c.wfo,
				EventID:      1000*(si+1) + ci + 1,
				Event:        "Flood Warning",
				Significance: domain.SigWarning,
				Area:         c.county + " [TX]",
				Issued:       time.Date(span.Year, span.Month, 3+7*ci, 12, 0, 0, 0, time.UTC),
				Certainty:    domain.CertaintyObserved,
				Urgency:      domain.UrgencyPast,
			})
		}
		out = append(out, domain.AlertRecord{
			WFO:          "HGX",
			EventID:      1000*(si+1) + 90,
			Event:        "Flood Advisory",
			Significance: domain.SigAdvisory,
			Area:         "Harris [TX]",
			Issued:       time.Date(span.Year, span.Month, 20, 12, 0, 0, 0, time.UTC),
			Certainty:    domain.CertaintyObserved,
			Urgency:      domain.UrgencyPast,
		})
	}

	out = append(out,
		domain.AlertRecord{
			WFO:          "HGX",
			EventID:      9001,
			Event:        "Flood Warning",
			Significance: domain.SigWarning,
			Area:         "Guadalupe River above Comfort",
			Issued:       time.Date(2024, time.March, 5, 12, 0, 0, 0, time.UTC),
			Certainty:    domain.CertaintyObserved,
			Urgency:      domain.UrgencyPast,
		},
		domain.AlertRecord{
			WFO:          "FWD",
			EventID:      9002,
			Event:        "Flood Warning",
			Significance: domain.SigWarning,
			Area:         "Travis [TX]",
			Issued:       time.Date(2024, time.March, 3, 12, 0, 0, 0, time.UTC),
			Certainty:    domain.CertaintyObserved,
			Urgency:      domain.UrgencyPast,
		},
	)
	return out
}

// printStats replays the domain pipeline over the fixtures with the options
// the test suite passes and prints every counter a test might assert on.
func printStats(alerts []domain.AlertRecord, stations []domain.GaugeStation, region domain.Region, window domain.TimeWindow) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	stages := domain.FloodStages{}
	for _, d := range fixtureStations {
		stages[d.station.Number] = d.stageFt
	}

	// Mirror the corroboration prefetch: one observed height per station and
	// warning day.
	idx := domain.NewStationIndex(stations)
	heights := domain.GaugeHeights{}
	h := gageHeightFt
	for _, a := range alerts {
		if !a.MeetsSeverity(domain.SigWarning) {
			continue
		}
		g, ok := domain.CentroidForArea(a.Area)
		if !ok {
			continue
		}
		st, _, ok := idx.Nearest(g.Lat, g.Lon)
		if !ok {
			continue
		}
		if _, known := stages[st.Number]; !known {
			continue
		}
		heights[domain.HeightKey(st.Number, a.Issued)] = &h
	}

	positives, extract := domain.ExtractPositives(alerts, idx, heights, stages, domain.ExtractOptions{
		MinSeverity: domain.SigWarning,
		Strictness:  domain.StrictnessLenient,
	}, logger)

	opts := domain.SynthesisOptions{
		Ratio:             1.0,
		RadiusKM:          10,
		Window:            24 * time.Hour,
		MaxDisplacementKM: 55.6,
		MaxTimeShift:      672 * time.Hour,
		MaxRetries:        8,
	}
	exclusion := domain.NewExclusionIndex(positives, opts.RadiusKM, opts.Window)
	negatives, synth := domain.GenerateNegatives(positives, region, window, exclusion, opts, logger)
	_, asm := domain.Assemble(positives, negatives)

	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Spans: %d\n", len(window.Spans))
	fmt.Printf("Alerts: %d\n", extract.Alerts)
	fmt.Printf("Extraction: below_threshold=%d unresolvable=%d uncorroborated=%d duplicates=%d positives=%d\n",
		extract.BelowThreshold, extract.Unresolvable, extract.Discarded, extract.Duplicates, extract.Positives)
	fmt.Printf("Synthesis: target=%d produced=%d rejected=%d exhausted=%d deduped=%d\n",
		synth.Target, synth.Produced, synth.Rejected, synth.Exhausted, synth.Deduped)
	fmt.Printf("Assembly: collisions=%d total=%d (%d flood, %d no_flood)\n",
		asm.Collisions, asm.Total, asm.Positives, asm.Negatives)
	if len(positives) > 0 {
		first := positives[0]
		fmt.Printf("First positive: %s at %s in %s\n",
			first.Provenance, first.Timestamp.Format(time.RFC3339), first.Area)
	}
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

func writeStages(path string, defs []stationDef) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"station_number", "flood_stage_ft"}); err != nil {
		return err
	}
	for _, d := range defs {
		if err := w.Write([]string{d.station.Number, strconv.FormatFloat(d.stageFt, 'f', -1, 64)}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

// Command validate performs end-to-end integrity checks on a built dataset
// CSV: schema and field formats, canonical ordering, deterministic sample
// IDs, label separation, and provenance. It re-derives IDs and exclusion
// zones with the actual domain package, so a pass means the file is
// consistent with what the build pipeline would have produced.
//
// The exclusion flags must match the settings the dataset was built with,
// otherwise the separation phase reports false violations.
//
// Usage:
//
//	go run ./cmd/validate -csv flood_dataset.csv
//	go run ./cmd/validate -csv flood_dataset.csv -radius-km 25 -window 48h
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/flood-dataset/internal/config"
	"github.com/couchcryptid/flood-dataset/internal/domain"
	"github.com/couchcryptid/flood-dataset/internal/output"
)

// colIdx maps dataset column names to their positions, derived from the
// writer's header contract.
var colIdx = func() map[string]int {
	m := make(map[string]int, len(output.CSVHeader))
	for i, h := range output.CSVHeader {
		m[h] = i
	}
	return m
}()

var stationNumberRe = regexp.MustCompile(`^\d{8,15}$`)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// parsedRow is one data row with its typed interpretation. Rows that fail
// core parsing are reported in the schema phase and skipped by later phases.
type parsedRow struct {
	line   int
	fields []string
	sample domain.Sample
	ok     bool
}

func main() {
	csvPath := flag.String("csv", "", "path to the dataset CSV to validate")
	radiusKM := flag.Float64("radius-km", config.DefaultExclusionRadiusKM, "exclusion radius in km the dataset was built with")
	windowStr := flag.String("window", config.DefaultExclusionWindow, "exclusion window the dataset was built with")
	flag.Parse()

	if *csvPath == "" {
		flag.Usage()
		os.Exit(1)
	}
	window, err := time.ParseDuration(*windowStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: -window: %v\n", err)
		os.Exit(1)
	}

	if code := run(*csvPath, *radiusKM, window); code != 0 {
		os.Exit(code)
	}
}

func run(csvPath string, radiusKM float64, window time.Duration) int {
	fmt.Println("=== Flood Dataset Integrity Validation ===")
	fmt.Println()

	dataRows, err := loadDataset(csvPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load dataset: %v\n", err)
		return 1
	}

	schema, parsed := validateSchema(dataRows)
	phases := []*phase{
		schema,
		validateIdentity(parsed),
		validateSeparation(parsed, radiusKM, window),
		validateProvenance(parsed),
	}

	floods, negatives := 0, 0
	for _, r := range parsed {
		if r.sample.Label == domain.LabelFlood {
			floods++
		} else {
			negatives++
		}
	}
	if floods > 0 {
		fmt.Printf("  Note: achieved ratio %.2f (%d no_flood / %d flood)\n",
			float64(negatives)/float64(floods), negatives, floods)
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-46s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Rows: %d data, %d parsed (%d flood, %d no_flood)\n",
		len(dataRows), len(parsed), floods, negatives)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// loadDataset reads the CSV and strips the header after checking it against
// the writer's column contract. A mismatched header means the file is not a
// dataset this tool understands, so it is fatal rather than a phase error.
func loadDataset(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	all, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("no header row in %s", path)
	}
	if !slices.Equal(all[0], output.CSVHeader) {
		return nil, fmt.Errorf("header mismatch:\n  got  %v\n  want %v", all[0], output.CSVHeader)
	}
	return all[1:], nil
}

// ── Phase 1: Schema ──
// Validates field counts, formats, and value ranges row by row.

func validateSchema(rows [][]string) (*phase, []parsedRow) {
	p := &phase{name: "Phase 1: Schema (columns and field formats)"}

	parsed := make([]parsedRow, 0, len(rows))
	for i, f := range rows {
		line := i + 2 // the header is line 1
		if len(f) != len(output.CSVHeader) {
			p.errorf("line %d: %d fields, want %d", line, len(f), len(output.CSVHeader))
			continue
		}
		pr := parseRow(p, line, f)
		if pr.ok {
			parsed = append(parsed, pr)
		}
	}
	return p, parsed
}

func parseRow(p *phase, line int, f []string) parsedRow {
	pr := parsedRow{line: line, fields: f}

	id := f[colIdx["sample_id"]]
	if id == "" {
		p.errorf("line %d: empty sample_id", line)
		return pr
	}

	label, ok := parseLabel(p, line, f[colIdx["flood_occurred"]])
	if !ok {
		return pr
	}

	tsStr := f[colIdx["timestamp"]]
	ts, err := time.Parse(time.RFC3339, tsStr)
	if err != nil {
		p.errorf("line %d: timestamp %q: %v", line, tsStr, err)
		return pr
	}
	if !strings.HasSuffix(tsStr, "Z") {
		p.errorf("line %d: timestamp %q is not UTC", line, tsStr)
	}

	lat, latErr := strconv.ParseFloat(f[colIdx["lat"]], 64)
	lon, lonErr := strconv.ParseFloat(f[colIdx["lon"]], 64)
	if latErr != nil || lonErr != nil {
		p.errorf("line %d: unparseable coordinates %q,%q", line, f[colIdx["lat"]], f[colIdx["lon"]])
		return pr
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		p.errorf("line %d: coordinates %g,%g out of range", line, lat, lon)
	}

	checkDerivedColumns(p, line, f, ts)
	checkOptionalFloats(p, line, f)

	pr.sample = domain.Sample{
		ID:         id,
		Label:      label,
		Lat:        lat,
		Lon:        lon,
		Timestamp:  ts.UTC(),
		Provenance: f[colIdx["provenance"]],
		Event:      f[colIdx["event"]],
		Area:       f[colIdx["area"]],
	}
	pr.ok = true
	return pr
}

func parseLabel(p *phase, line int, v string) (domain.Label, bool) {
	switch v {
	case "1":
		return domain.LabelFlood, true
	case "0":
		return domain.LabelNoFlood, true
	default:
		p.errorf("line %d: flood_occurred %q is not 0 or 1", line, v)
		return "", false
	}
}

// checkDerivedColumns verifies the year and month columns against the
// timestamp they were derived from.
func checkDerivedColumns(p *phase, line int, f []string, ts time.Time) {
	utc := ts.UTC()
	if y, err := strconv.Atoi(f[colIdx["year"]]); err != nil || y != utc.Year() {
		p.errorf("line %d: year %q does not match timestamp year %d", line, f[colIdx["year"]], utc.Year())
	}
	if m, err := strconv.Atoi(f[colIdx["month"]]); err != nil || m != int(utc.Month()) {
		p.errorf("line %d: month %q does not match timestamp month %d", line, f[colIdx["month"]], int(utc.Month()))
	}
}

// checkOptionalFloats verifies the enrichment columns: empty means the
// upstream had no observation, anything else must parse as a number.
func checkOptionalFloats(p *phase, line int, f []string) {
	for _, name := range []string{"precip_24h_mm", "elevation_m", "usgs_gage_height_ft"} {
		v := f[colIdx[name]]
		if v == "" {
			continue
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			p.errorf("line %d: %s %q is not a number", line, name, v)
		}
	}
}

// ── Phase 2: Ordering and Identity ──
// Validates canonical row order, ID uniqueness, and that every ID matches a
// re-derivation from the row's own fields.

func validateIdentity(rows []parsedRow) *phase {
	p := &phase{name: "Phase 2: Ordering and Identity"}

	seen := make(map[string]int, len(rows))
	for i, r := range rows {
		if i > 0 && r.sample.Less(rows[i-1].sample) {
			p.errorf("line %d: out of canonical order (timestamp, lat, lon, id)", r.line)
		}
		if prev, dup := seen[r.sample.ID]; dup {
			p.errorf("line %d: sample_id %s already seen on line %d", r.line, r.sample.ID, prev)
			continue
		}
		seen[r.sample.ID] = r.line

		want := domain.NewSample(r.sample.Label, r.sample.Lat, r.sample.Lon, r.sample.Timestamp, r.sample.Provenance)
		if want.ID != r.sample.ID {
			p.errorf("line %d: sample_id %s does not derive from its fields (want %s)", r.line, r.sample.ID, want.ID)
		}
	}
	return p
}

// ── Phase 3: Label Separation ──
// Validates that no negative sits inside a positive's exclusion zone or
// shares a discretized location and day with one.

func validateSeparation(rows []parsedRow, radiusKM float64, window time.Duration) *phase {
	p := &phase{name: "Phase 3: Label Separation (exclusion zones)"}

	var positives []domain.Sample
	posKeys := map[string]int{}
	for _, r := range rows {
		if r.sample.Label == domain.LabelFlood {
			positives = append(positives, r.sample)
			posKeys[r.sample.DiscreteKey()] = r.line
		}
	}

	idx := domain.NewExclusionIndex(positives, radiusKM, window)
	for _, r := range rows {
		if r.sample.Label != domain.LabelNoFlood {
			continue
		}
		if line, hit := posKeys[r.sample.DiscreteKey()]; hit {
			p.errorf("line %d: negative shares a location and day with the positive on line %d", r.line, line)
		}
		if idx.Excluded(domain.Geo{Lat: r.sample.Lat, Lon: r.sample.Lon}, r.sample.Timestamp) {
			p.errorf("line %d: negative inside an exclusion zone (radius %.1f km, window %s)", r.line, radiusKM, window)
		}
	}
	return p
}

// ── Phase 4: Provenance and Enrichment ──
// Validates provenance formats, synthetic parentage, and enrichment
// column pairing.

func validateProvenance(rows []parsedRow) *phase {
	p := &phase{name: "Phase 4: Provenance and Enrichment"}

	positiveIDs := make(map[string]bool, len(rows))
	for _, r := range rows {
		if r.sample.Label == domain.LabelFlood {
			positiveIDs[r.sample.ID] = true
		}
	}

	for _, r := range rows {
		station := r.fields[colIdx["usgs_station_id"]]
		gage := r.fields[colIdx["usgs_gage_height_ft"]]
		if gage != "" && station == "" {
			p.errorf("line %d: gage height without a station number", r.line)
		}
		if station != "" && !stationNumberRe.MatchString(station) {
			p.errorf("line %d: malformed station number %q", r.line, station)
		}

		switch r.sample.Label {
		case domain.LabelFlood:
			checkFloodProvenance(p, r)
		case domain.LabelNoFlood:
			checkSyntheticProvenance(p, r, positiveIDs)
		}
	}
	return p
}

func checkFloodProvenance(p *phase, r parsedRow) {
	parts := strings.Split(r.sample.Provenance, ":")
	if len(parts) != 3 || parts[0] != "iem" {
		p.errorf("line %d: flood provenance %q is not iem:<wfo>:<event_id>", r.line, r.sample.Provenance)
		return
	}
	if _, err := strconv.Atoi(parts[2]); err != nil {
		p.errorf("line %d: flood provenance %q has a non-numeric event id", r.line, r.sample.Provenance)
	}
	if r.sample.Event == "" {
		p.errorf("line %d: flood sample without an event description", r.line)
	}
}

func checkSyntheticProvenance(p *phase, r parsedRow, positiveIDs map[string]bool) {
	parts := strings.Split(r.sample.Provenance, ":")
	if len(parts) != 4 || parts[0] != "synthetic" {
		p.errorf("line %d: synthetic provenance %q is not synthetic:<positive_id>:<candidate>:<attempt>", r.line, r.sample.Provenance)
		return
	}
	if !positiveIDs[parts[1]] {
		p.errorf("line %d: synthetic parent %s is not a flood sample in this dataset", r.line, parts[1])
	}
	if _, err := strconv.Atoi(parts[2]); err != nil {
		p.errorf("line %d: synthetic provenance %q has a non-numeric candidate index", r.line, r.sample.Provenance)
	}
	if _, err := strconv.Atoi(parts[3]); err != nil {
		p.errorf("line %d: synthetic provenance %q has a non-numeric attempt index", r.line, r.sample.Provenance)
	}
	if r.sample.Event != "" || r.sample.Area != "" {
		p.errorf("line %d: synthetic sample carries alert descriptors", r.line)
	}
}

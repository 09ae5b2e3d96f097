// Package output serializes the assembled dataset to CSV and Parquet and
// renders the run report. Writers preserve the assembler's ordering and never
// re-deduplicate.
package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/couchcryptid/flood-dataset/internal/domain"
)

// CSVHeader is the dataset column contract, in output order.
var CSVHeader = []string{
	"sample_id",
	"timestamp",
	"year",
	"month",
	"lat",
	"lon",
	"event",
	"area",
	"severity",
	"certainty",
	"urgency",
	"precip_24h_mm",
	"elevation_m",
	"usgs_station_id",
	"usgs_gage_height_ft",
	"flood_occurred",
	"provenance",
}

// WriteCSV writes samples as CSV in the order given.
func WriteCSV(w io.Writer, samples []domain.Sample) error {
	return writeCSVWithHeader(w, CSVHeader, func(cw *csv.Writer) error {
		for _, s := range samples {
			if err := cw.Write(csvRow(s)); err != nil {
				return fmt.Errorf("failed to write sample %s: %w", s.ID, err)
			}
		}
		return nil
	})
}

// WriteCSVFile writes samples to path, creating or truncating it.
func WriteCSVFile(path string, samples []domain.Sample) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	return WriteCSV(f, samples)
}

// writeCSVWithHeader creates a CSV writer, writes the header, then the rows.
func writeCSVWithHeader(w io.Writer, header []string, writeRows func(*csv.Writer) error) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	if err := writeRows(cw); err != nil {
		return err
	}

	cw.Flush()
	return cw.Error()
}

func csvRow(s domain.Sample) []string {
	ts := s.Timestamp.UTC()
	return []string{
		s.ID,
		ts.Format(time.RFC3339),
		strconv.Itoa(ts.Year()),
		strconv.Itoa(int(ts.Month())),
		formatFloat(s.Lat),
		formatFloat(s.Lon),
		s.Event,
		s.Area,
		s.Severity,
		s.Certainty,
		s.Urgency,
		formatOptionalFloat(s.Precip24hMM),
		formatOptionalFloat(s.ElevationM),
		s.StationID,
		formatOptionalFloat(s.GageHeightFt),
		strconv.Itoa(s.Label.Binary()),
		s.Provenance,
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatOptionalFloat renders a missing observation as an empty cell, which
// pandas and friends read back as NaN.
func formatOptionalFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

package output

import (
	"fmt"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/couchcryptid/flood-dataset/internal/domain"
)

// Row flattens a sample into the Parquet column contract. Column names match
// CSVHeader so either artifact feeds the same downstream reader; nullable
// enrichment fields use optional columns instead of empty strings.
type Row struct {
	SampleID  string    `parquet:"sample_id,snappy"`
	Timestamp time.Time `parquet:"timestamp,snappy"`
	Year      int32     `parquet:"year,snappy"`
	Month     int32     `parquet:"month,snappy"`
	Lat       float64   `parquet:"lat,snappy"`
	Lon       float64   `parquet:"lon,snappy"`

	Event     string `parquet:"event,snappy"`
	Area      string `parquet:"area,snappy"`
	Severity  string `parquet:"severity,snappy"`
	Certainty string `parquet:"certainty,snappy"`
	Urgency   string `parquet:"urgency,snappy"`

	Precip24hMM      *float64 `parquet:"precip_24h_mm,optional,snappy"`
	ElevationM       *float64 `parquet:"elevation_m,optional,snappy"`
	USGSStationID    string   `parquet:"usgs_station_id,snappy"`
	USGSGageHeightFt *float64 `parquet:"usgs_gage_height_ft,optional,snappy"`

	FloodOccurred int32  `parquet:"flood_occurred,snappy"`
	Provenance    string `parquet:"provenance,snappy"`
}

// ToRows converts samples to Parquet rows, preserving order.
func ToRows(samples []domain.Sample) []Row {
	rows := make([]Row, len(samples))
	for i, s := range samples {
		ts := s.Timestamp.UTC()
		rows[i] = Row{
			SampleID:  s.ID,
			Timestamp: ts,
			Year:      int32(ts.Year()),
			Month:     int32(ts.Month()),
			Lat:       s.Lat,
			Lon:       s.Lon,

			Event:     s.Event,
			Area:      s.Area,
			Severity:  s.Severity,
			Certainty: s.Certainty,
			Urgency:   s.Urgency,

			Precip24hMM:      s.Precip24hMM,
			ElevationM:       s.ElevationM,
			USGSStationID:    s.StationID,
			USGSGageHeightFt: s.GageHeightFt,

			FloodOccurred: int32(s.Label.Binary()),
			Provenance:    s.Provenance,
		}
	}
	return rows
}

// WriteParquetFile writes samples to path using struct schema inference.
func WriteParquetFile(path string, samples []domain.Sample) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	writer := parquet.NewGenericWriter[Row](file)
	if _, err := writer.Write(ToRows(samples)); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}
	// Close flushes the final row group and footer; its error is a write error.
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", path, err)
	}

	return nil
}

package config

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/couchcryptid/flood-dataset/internal/domain"
)

// LoadFloodStages reads the operator-supplied flood stage table. The file is
// CSV with a header row: station_number,flood_stage_ft. The USGS OGC API
// does not publish flood stages, so gauge corroboration depends on this
// table; an empty path returns an empty table and corroboration runs without
// stage evidence.
func LoadFloodStages(path string) (domain.FloodStages, error) {
	stages := domain.FloodStages{}
	if path == "" {
		return stages, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("flood-stage-file: %w", err)
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("flood-stage-file %s: %w", path, err)
	}

	for i, row := range rows {
		if i == 0 && isFloodStageHeader(row) {
			continue
		}
		if len(row) < 2 {
			return nil, fmt.Errorf("flood-stage-file %s row %d: expected station_number,flood_stage_ft", path, i+1)
		}
		station := strings.TrimSpace(row[0])
		stage, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("flood-stage-file %s row %d: invalid flood stage %q", path, i+1, row[1])
		}
		if station == "" {
			return nil, fmt.Errorf("flood-stage-file %s row %d: empty station number", path, i+1)
		}
		stages[station] = stage
	}

	return stages, nil
}

func isFloodStageHeader(row []string) bool {
	return len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), "station_number")
}

package pipeline

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-dataset/internal/adapter/iem"
	"github.com/couchcryptid/flood-dataset/internal/adapter/waterdata"
	"github.com/couchcryptid/flood-dataset/internal/cache"
	"github.com/couchcryptid/flood-dataset/internal/config"
	"github.com/couchcryptid/flood-dataset/internal/domain"
	"github.com/couchcryptid/flood-dataset/internal/observability"
	"github.com/couchcryptid/flood-dataset/internal/output"
)

// --- concurrency-safe fakes: the fetch pool calls these from several workers ---

type scriptedAlertSource struct {
	calls  atomic.Int64
	alerts map[string][]domain.AlertRecord // keyed by span key
	errs   map[string]error                // keyed by span key
}

func (f *scriptedAlertSource) FetchAlerts(_ context.Context, _ domain.Region, span domain.MonthSpan) ([]domain.AlertRecord, error) {
	f.calls.Add(1)
	if err := f.errs[span.Key()]; err != nil {
		return nil, err
	}
	return f.alerts[span.Key()], nil
}

type scriptedStationSource struct {
	calls    atomic.Int64
	stations []domain.GaugeStation
}

func (f *scriptedStationSource) FetchStations(_ context.Context, _ domain.Region) ([]domain.GaugeStation, error) {
	f.calls.Add(1)
	return f.stations, nil
}

type staticGaugeSource struct {
	calls  atomic.Int64
	height *float64
}

func (f *staticGaugeSource) FetchGageHeight(_ context.Context, _ string, _ time.Time) (*float64, error) {
	f.calls.Add(1)
	return f.height, nil
}

type staticRainfallSource struct{ mm float64 }

func (f *staticRainfallSource) FetchPrecip(_ context.Context, _, _ float64, _ time.Time) (*float64, error) {
	v := f.mm
	return &v, nil
}

type staticElevationSource struct{ m float64 }

func (f *staticElevationSource) FetchElevation(_ context.Context, _, _ float64) (*float64, error) {
	v := f.m
	return &v, nil
}

// flakyAlertSource fails a span with a transient error a fixed number of
// times before delegating.
type flakyAlertSource struct {
	inner     domain.AlertSource
	failSpan  string
	remaining atomic.Int64
	calls     atomic.Int64
}

func (f *flakyAlertSource) FetchAlerts(ctx context.Context, region domain.Region, span domain.MonthSpan) ([]domain.AlertRecord, error) {
	f.calls.Add(1)
	if span.Key() == f.failSpan && f.remaining.Add(-1) >= 0 {
		return nil, fmt.Errorf("%w: status 503", domain.ErrSourceUnavailable)
	}
	return f.inner.FetchAlerts(ctx, region, span)
}

type capturingPublisher struct {
	mu      sync.Mutex
	batches [][]domain.Sample
	err     error
}

func (p *capturingPublisher) PublishBatch(_ context.Context, samples []domain.Sample) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.batches = append(p.batches, samples)
	return nil
}

// conflictPutStore rejects every write as an immutability violation.
type conflictPutStore struct{}

func (conflictPutStore) Get(_ context.Context, _ cache.FetchKey) ([]byte, bool, error) {
	return nil, false, nil
}

func (conflictPutStore) Put(_ context.Context, key cache.FetchKey, _ []byte) error {
	return &cache.ConsistencyError{Key: key, Stored: "2c26b46b68ffc68f", Incoming: "fcde2b2edba56bf4"}
}

func (conflictPutStore) Status(_ context.Context) (cache.Status, error) {
	return cache.Status{Backend: "test"}, nil
}

func (conflictPutStore) Clear(_ context.Context) error { return nil }
func (conflictPutStore) Close() error                  { return nil }

// --- fixtures ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// freezeClock pins window planning to mid-June 2024. With years=1 and
// months=3 the window covers 2023-01..03 and 2024-01..03, six spans.
func freezeClock(t *testing.T) {
	t.Helper()
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)))
	t.Cleanup(func() { domain.SetClock(nil) })
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		State:             "Texas",
		County:            "Travis",
		Years:             1,
		Months:            3,
		MinSeverity:       domain.SigWarning,
		Strictness:        domain.StrictnessOff,
		Ratio:             1.0,
		ExclusionRadiusKM: 10,
		ExclusionWindow:   24 * time.Hour,
		MaxDisplacementKM: 55.6,
		MaxTimeShift:      672 * time.Hour,
		MaxRetries:        8,
		Workers:           4,
		OutputFile:        filepath.Join(t.TempDir(), "flood_dataset.csv"),
	}
}

// marchAlerts yields n warnings for Travis county on consecutive March 2024
// days, each a distinct event on a distinct day.
func marchAlerts(n int) []domain.AlertRecord {
	out := make([]domain.AlertRecord, 0, n)
	for i := range n {
		out = append(out, domain.AlertRecord{
			WFO:          "EWX",
			EventID:      100 + i,
			Event:        "Flood Warning",
			Significance: domain.SigWarning,
			Area:         "Travis [TX]",
			Issued:       time.Date(2024, 3, 1+i, 12, 0, 0, 0, time.UTC),
			Certainty:    domain.CertaintyObserved,
			Urgency:      domain.UrgencyPast,
		})
	}
	return out
}

// travisStations places one real gauge about 5 km from the Travis centroid,
// inside the nearest-station range.
func travisStations() []domain.GaugeStation {
	return []domain.GaugeStation{
		{Number: "08158000", Name: "Colorado Rv at Austin, TX", Lat: 30.2441, Lon: -97.6944},
	}
}

func floatPtr(v float64) *float64 { return &v }

func readCSVFile(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func columnIndex(t *testing.T, name string) int {
	t.Helper()
	for i, h := range output.CSVHeader {
		if h == name {
			return i
		}
	}
	t.Fatalf("no column %q", name)
	return -1
}

// --- tests ---

func TestRun_BuildsBalancedDataset(t *testing.T) {
	freezeClock(t)
	cfg := testConfig(t)
	cfg.ParquetFile = filepath.Join(filepath.Dir(cfg.OutputFile), "flood_dataset.parquet")

	alerts := &scriptedAlertSource{alerts: map[string][]domain.AlertRecord{"2024-03": marchAlerts(10)}}
	sources := Sources{
		Alerts:    alerts,
		Stations:  &scriptedStationSource{stations: travisStations()},
		Gauges:    &staticGaugeSource{height: floatPtr(5.0)},
		Rainfall:  &staticRainfallSource{mm: 12.5},
		Elevation: &staticElevationSource{m: 150.0},
	}
	p := New(cfg, nil, sources, nil, nil, discardLogger(), observability.NewMetricsForTesting())

	require.Error(t, p.CheckReadiness(context.Background()), "not ready before a build")

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.CheckReadiness(context.Background()))

	assert.Equal(t, 1, report.Regions)
	assert.Equal(t, 6, report.Spans)
	assert.Equal(t, int64(6), alerts.calls.Load(), "one fetch per span")

	assert.Equal(t, 10, report.Extract.Alerts)
	assert.Equal(t, 10, report.Extract.Positives)
	assert.Equal(t, 10, report.Assemble.Positives)
	assert.Equal(t, 10, report.Synthesis.Target)
	assert.Equal(t, report.Synthesis.Target, report.Synthesis.Produced+report.Synthesis.Exhausted,
		"every slot either produces or exhausts")
	assert.Equal(t, report.Synthesis.Produced-report.Synthesis.Deduped-report.Assemble.Collisions,
		report.Assemble.Negatives)
	assert.Equal(t, report.Assemble.Total, report.Samples)
	assert.Empty(t, report.UnitFailures)
	assert.Equal(t, cfg.OutputFile, report.CSVPath)
	assert.Equal(t, cfg.ParquetFile, report.ParquetPath)

	rows := readCSVFile(t, cfg.OutputFile)
	require.Len(t, rows, report.Samples+1)
	assert.Equal(t, output.CSVHeader, rows[0])

	labelCol := columnIndex(t, "flood_occurred")
	provCol := columnIndex(t, "provenance")
	precipCol := columnIndex(t, "precip_24h_mm")
	elevCol := columnIndex(t, "elevation_m")
	stationCol := columnIndex(t, "usgs_station_id")
	gageCol := columnIndex(t, "usgs_gage_height_ft")

	floods := 0
	for _, row := range rows[1:] {
		switch row[labelCol] {
		case "1":
			floods++
			assert.Contains(t, row[provCol], "iem:EWX:")
			assert.Equal(t, "12.5", row[precipCol])
			assert.Equal(t, "150", row[elevCol])
			assert.Equal(t, "08158000", row[stationCol])
			assert.Equal(t, "5", row[gageCol])
		case "0":
			assert.Contains(t, row[provCol], "synthetic:")
		default:
			t.Fatalf("unexpected label %q", row[labelCol])
		}
	}
	assert.Equal(t, 10, floods)

	info, err := os.Stat(cfg.ParquetFile)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestRun_SecondRunServedFromCache(t *testing.T) {
	freezeClock(t)
	fsStore, err := cache.NewFSStore(t.TempDir())
	require.NoError(t, err)
	defer fsStore.Close()

	alerts := &scriptedAlertSource{alerts: map[string][]domain.AlertRecord{"2024-03": marchAlerts(10)}}
	stations := &scriptedStationSource{stations: travisStations()}

	run := func(outputFile string) output.Report {
		cfg := testConfig(t)
		cfg.OutputFile = outputFile
		counting := cache.NewCountingStore(fsStore)
		metrics := observability.NewMetricsForTesting()
		sources := Sources{
			Alerts:   iem.NewCachedAlertSource(alerts, counting, metrics),
			Stations: waterdata.NewCachedStationSource(stations, counting, metrics),
		}
		p := New(cfg, nil, sources, counting, nil, discardLogger(), metrics)
		report, err := p.Run(context.Background())
		require.NoError(t, err)
		return report
	}

	dir := t.TempDir()
	first := run(filepath.Join(dir, "first.csv"))
	assert.Equal(t, int64(6), alerts.calls.Load())
	assert.Equal(t, int64(1), stations.calls.Load())
	assert.Equal(t, int64(0), first.CacheHits)
	assert.Equal(t, int64(7), first.CacheMisses)

	second := run(filepath.Join(dir, "second.csv"))
	assert.Equal(t, int64(6), alerts.calls.Load(), "rerun must not touch upstream")
	assert.Equal(t, int64(1), stations.calls.Load(), "rerun must not touch upstream")
	assert.Equal(t, int64(7), second.CacheHits)
	assert.Equal(t, int64(0), second.CacheMisses)

	a, err := os.ReadFile(filepath.Join(dir, "first.csv"))
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(dir, "second.csv"))
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(string(a), string(b)), "cached rerun must reproduce the dataset exactly")
}

func TestRun_DeterministicAcrossRuns(t *testing.T) {
	freezeClock(t)

	build := func(outputFile string) {
		cfg := testConfig(t)
		cfg.OutputFile = outputFile
		sources := Sources{
			Alerts:   &scriptedAlertSource{alerts: map[string][]domain.AlertRecord{"2024-03": marchAlerts(10)}},
			Stations: &scriptedStationSource{stations: travisStations()},
		}
		p := New(cfg, nil, sources, nil, nil, discardLogger(), observability.NewMetricsForTesting())
		_, err := p.Run(context.Background())
		require.NoError(t, err)
	}

	dir := t.TempDir()
	build(filepath.Join(dir, "a.csv"))
	build(filepath.Join(dir, "b.csv"))

	a, err := os.ReadFile(filepath.Join(dir, "a.csv"))
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(dir, "b.csv"))
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(string(a), string(b)))
}

func TestRun_DataErrorUnitContinues(t *testing.T) {
	freezeClock(t)
	cfg := testConfig(t)

	alerts := &scriptedAlertSource{
		alerts: map[string][]domain.AlertRecord{"2024-03": marchAlerts(10)},
		errs:   map[string]error{"2024-02": fmt.Errorf("%w: malformed payload", domain.ErrSourceDataError)},
	}
	p := New(cfg, nil, Sources{Alerts: alerts}, nil, nil, discardLogger(), observability.NewMetricsForTesting())

	report, err := p.Run(context.Background())
	require.NoError(t, err, "one bad month must not fail the build")

	require.Len(t, report.UnitFailures, 1)
	assert.Equal(t, "alerts TX:travis 2024-02", report.UnitFailures[0].Unit)
	assert.Contains(t, report.UnitFailures[0].Err, "malformed payload")
	assert.Equal(t, 10, report.Extract.Positives, "healthy months still contribute")

	rows := readCSVFile(t, cfg.OutputFile)
	assert.Len(t, rows, report.Samples+1)
}

func TestRun_RetriesSourceOutage(t *testing.T) {
	freezeClock(t)
	cfg := testConfig(t)

	inner := &scriptedAlertSource{alerts: map[string][]domain.AlertRecord{"2024-03": marchAlerts(10)}}
	flaky := &flakyAlertSource{inner: inner, failSpan: "2024-01"}
	flaky.remaining.Store(1)
	p := New(cfg, nil, Sources{Alerts: flaky}, nil, nil, discardLogger(), observability.NewMetricsForTesting())

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, report.UnitFailures, "a transient outage must be retried away")
	assert.Equal(t, int64(7), flaky.calls.Load(), "six spans plus one retry")
	assert.Equal(t, 10, report.Extract.Positives)
}

func TestRun_ZeroPositivesYieldsEmptyDataset(t *testing.T) {
	freezeClock(t)
	cfg := testConfig(t)

	publisher := &capturingPublisher{}
	p := New(cfg, nil, Sources{Alerts: &scriptedAlertSource{}}, nil, publisher, discardLogger(), observability.NewMetricsForTesting())

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, report.Samples)
	assert.Equal(t, 0, report.Synthesis.Target)
	assert.Equal(t, 0, report.Published)
	assert.Empty(t, publisher.batches, "nothing to publish")
	require.NoError(t, p.CheckReadiness(context.Background()), "an empty dataset is still a finished build")

	rows := readCSVFile(t, cfg.OutputFile)
	require.Len(t, rows, 1, "header only")
	assert.Equal(t, output.CSVHeader, rows[0])
}

func TestRun_ConsistencyViolationAborts(t *testing.T) {
	freezeClock(t)
	cfg := testConfig(t)

	metrics := observability.NewMetricsForTesting()
	inner := &scriptedAlertSource{alerts: map[string][]domain.AlertRecord{"2024-03": marchAlerts(10)}}
	cached := iem.NewCachedAlertSource(inner, conflictPutStore{}, metrics)
	p := New(cfg, nil, Sources{Alerts: cached}, nil, nil, discardLogger(), metrics)

	_, err := p.Run(context.Background())
	require.Error(t, err)
	var conflict *cache.ConsistencyError
	assert.ErrorAs(t, err, &conflict, "a rewritten cache entry must abort the build")
}

func TestRun_StrictCorroboration(t *testing.T) {
	freezeClock(t)
	stages := domain.FloodStages{"08158000": 4.0}

	t.Run("height at flood stage keeps positives", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Strictness = domain.StrictnessStrict
		sources := Sources{
			Alerts:   &scriptedAlertSource{alerts: map[string][]domain.AlertRecord{"2024-03": marchAlerts(10)}},
			Stations: &scriptedStationSource{stations: travisStations()},
			Gauges:   &staticGaugeSource{height: floatPtr(5.0)},
		}
		p := New(cfg, stages, sources, nil, nil, discardLogger(), observability.NewMetricsForTesting())

		report, err := p.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 10, report.Extract.Positives)
		assert.Zero(t, report.Extract.Discarded)
	})

	t.Run("missing readings discard under strict", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Strictness = domain.StrictnessStrict
		sources := Sources{
			Alerts:   &scriptedAlertSource{alerts: map[string][]domain.AlertRecord{"2024-03": marchAlerts(10)}},
			Stations: &scriptedStationSource{stations: travisStations()},
			Gauges:   &staticGaugeSource{height: nil},
		}
		p := New(cfg, stages, sources, nil, nil, discardLogger(), observability.NewMetricsForTesting())

		report, err := p.Run(context.Background())
		require.NoError(t, err)
		assert.Zero(t, report.Extract.Positives)
		assert.Equal(t, 10, report.Extract.Discarded)
	})
}

func TestRun_PublishesAfterFiles(t *testing.T) {
	freezeClock(t)
	cfg := testConfig(t)

	sources := Sources{
		Alerts: &scriptedAlertSource{alerts: map[string][]domain.AlertRecord{"2024-03": marchAlerts(10)}},
	}
	publisher := &capturingPublisher{}
	p := New(cfg, nil, sources, nil, publisher, discardLogger(), observability.NewMetricsForTesting())

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, publisher.batches, 1)
	assert.Len(t, publisher.batches[0], report.Samples)
	assert.Equal(t, report.Samples, report.Published)
}

func TestRun_PublishFailureKeepsArtifacts(t *testing.T) {
	freezeClock(t)
	cfg := testConfig(t)

	sources := Sources{
		Alerts: &scriptedAlertSource{alerts: map[string][]domain.AlertRecord{"2024-03": marchAlerts(10)}},
	}
	publisher := &capturingPublisher{err: fmt.Errorf("broker unreachable")}
	p := New(cfg, nil, sources, nil, publisher, discardLogger(), observability.NewMetricsForTesting())

	report, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish dataset")

	assert.Equal(t, cfg.OutputFile, report.CSVPath, "files land before the stream")
	_, statErr := os.Stat(cfg.OutputFile)
	assert.NoError(t, statErr)
}

func TestFetchWithRetry_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	p := New(cfg, nil, Sources{}, nil, nil, discardLogger(), observability.NewMetricsForTesting())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	unit := fetchUnit{name: "alerts TX 2024-01", run: func(context.Context) error {
		return domain.ErrSourceUnavailable
	}}
	err := p.fetchWithRetry(ctx, unit)
	assert.ErrorIs(t, err, context.Canceled, "backoff must not outlive the context")
}

func TestFetchWithRetry_DataErrorNotRetried(t *testing.T) {
	cfg := testConfig(t)
	p := New(cfg, nil, Sources{}, nil, nil, discardLogger(), observability.NewMetricsForTesting())

	var calls int
	unit := fetchUnit{name: "alerts TX 2024-01", run: func(context.Context) error {
		calls++
		return domain.ErrSourceDataError
	}}
	err := p.fetchWithRetry(context.Background(), unit)
	require.ErrorIs(t, err, domain.ErrSourceDataError)
	assert.Equal(t, 1, calls, "malformed payloads will not improve on retry")
}

func TestMergedStations_DeduplicatesAcrossRegions(t *testing.T) {
	texas := domain.GaugeStation{Number: "08158000", Lat: 30.2441, Lon: -97.6944}
	shared := domain.GaugeStation{Number: "07355500", Lat: 33.0, Lon: -94.0}
	data := &fetched{stations: map[string][]domain.GaugeStation{
		"TX": {texas, shared},
		"LA": {shared},
	}}
	regions := []domain.Region{{Abbrev: "TX"}, {Abbrev: "LA"}}

	idx := mergedStations(data, regions)
	assert.Equal(t, 2, idx.Len())
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 400*time.Millisecond, nextBackoff(200*time.Millisecond, 5*time.Second))
	assert.Equal(t, 5*time.Second, nextBackoff(3*time.Second, 5*time.Second), "doubling clamps at the cap")
}

func TestSleepWithContext(t *testing.T) {
	assert.True(t, sleepWithContext(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, sleepWithContext(ctx, time.Hour))
}

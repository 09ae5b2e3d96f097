// Package pipeline orchestrates a dataset build: resolve the fetch plan,
// pull upstream data through the cache, extract positives, synthesize
// negatives, assemble, enrich, write the artifacts, and optionally publish.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/flood-dataset/internal/cache"
	"github.com/couchcryptid/flood-dataset/internal/config"
	"github.com/couchcryptid/flood-dataset/internal/domain"
	"github.com/couchcryptid/flood-dataset/internal/observability"
	"github.com/couchcryptid/flood-dataset/internal/output"
)

// Sources bundles the upstream capabilities a build draws from. Alerts is
// required; any other source may be nil, which disables the lookups that
// depend on it.
type Sources struct {
	Alerts    domain.AlertSource
	Stations  domain.StationSource
	Gauges    domain.GaugeSource
	Rainfall  domain.RainfallSource
	Elevation domain.ElevationSource
}

// Publisher streams the finished dataset. Nil disables publishing.
type Publisher interface {
	PublishBatch(ctx context.Context, samples []domain.Sample) error
}

// Pipeline drives one dataset build end to end.
type Pipeline struct {
	cfg       *config.Config
	stages    domain.FloodStages
	sources   Sources
	store     *cache.CountingStore
	publisher Publisher
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
}

// New creates a Pipeline with the given sources and observability.
func New(cfg *config.Config, stages domain.FloodStages, sources Sources, store *cache.CountingStore, publisher Publisher, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		stages:    stages,
		sources:   sources,
		store:     store,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
	}
}

// CheckReadiness returns nil once a dataset has been assembled, or an error
// describing why the build is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("dataset has not been assembled yet")
	}
	return nil
}

// Run executes one build and returns its report. Unit-level fetch failures
// are collected into the report; a cache consistency violation, a write
// failure, or a publish failure aborts with an error.
func (p *Pipeline) Run(ctx context.Context) (output.Report, error) {
	start := time.Now()
	p.metrics.BuildRunning.Set(1)
	defer p.metrics.BuildRunning.Set(0)

	report := output.Report{
		State:   p.cfg.State,
		County:  p.cfg.County,
		Years:   p.cfg.Years,
		Months:  p.cfg.Months,
		Ratio:   p.cfg.Ratio,
		Workers: p.cfg.Workers,
	}

	regions, err := domain.ResolveRegions(p.cfg.State, p.cfg.County)
	if err != nil {
		return report, err
	}
	window := domain.NewTimeWindow(p.cfg.Years, p.cfg.Months)
	report.Regions = len(regions)
	report.Spans = len(window.Spans)

	p.logger.Info("build started",
		"regions", len(regions),
		"spans", len(window.Spans),
		"min_severity", p.cfg.MinSeverity,
		"strictness", string(p.cfg.Strictness),
		"workers", p.cfg.Workers,
	)

	data, failures, err := p.fetchPhase(ctx, regions, window)
	if err != nil {
		return report, err
	}
	report.UnitFailures = failures

	heights, gageFailures, err := p.corroborationHeights(ctx, regions, data)
	if err != nil {
		return report, err
	}
	report.UnitFailures = append(report.UnitFailures, gageFailures...)

	positives, byRegion := p.extractAll(data, heights, regions, &report)
	negatives := p.synthesizeAll(positives, byRegion, regions, window, &report)

	samples, assembleStats := domain.Assemble(positives, negatives)
	report.Assemble = assembleStats
	report.Samples = len(samples)
	p.metrics.SamplesExtracted.WithLabelValues(string(domain.LabelFlood)).Add(float64(assembleStats.Positives))
	p.metrics.SamplesExtracted.WithLabelValues(string(domain.LabelNoFlood)).Add(float64(assembleStats.Negatives))
	p.ready.Store(true)

	p.enrichAll(ctx, samples, data, regions)

	if err := output.WriteCSVFile(p.cfg.OutputFile, samples); err != nil {
		return report, err
	}
	report.CSVPath = p.cfg.OutputFile
	if p.cfg.ParquetFile != "" {
		if err := output.WriteParquetFile(p.cfg.ParquetFile, samples); err != nil {
			return report, err
		}
		report.ParquetPath = p.cfg.ParquetFile
	}

	// Streams come after files so a broker outage never costs the artifacts.
	if p.publisher != nil && len(samples) > 0 {
		if err := p.publisher.PublishBatch(ctx, samples); err != nil {
			return report, fmt.Errorf("publish dataset: %w", err)
		}
		report.Published = len(samples)
		p.metrics.SamplesPublished.Add(float64(len(samples)))
	}

	if p.store != nil {
		report.CacheHits = p.store.Hits()
		report.CacheMisses = p.store.Misses()
	}
	report.Duration = time.Since(start)

	p.logger.Info("build finished",
		"samples", report.Samples,
		"positives", report.Assemble.Positives,
		"negatives", report.Assemble.Negatives,
		"unit_failures", len(report.UnitFailures),
		"duration", report.Duration,
	)
	return report, nil
}

// extractAll runs positive extraction region by region, aggregating stats
// into the report. Returns all positives in canonical order plus the
// per-region slices the generator perturbs.
func (p *Pipeline) extractAll(data *fetched, heights domain.GaugeHeights, regions []domain.Region, report *output.Report) ([]domain.Sample, map[string][]domain.Sample) {
	opts := domain.ExtractOptions{MinSeverity: p.cfg.MinSeverity, Strictness: p.cfg.Strictness}

	var positives []domain.Sample
	byRegion := make(map[string][]domain.Sample, len(regions))
	for _, region := range regions {
		stations := domain.NewStationIndex(data.stations[region.Key()])
		samples, stats := domain.ExtractPositives(data.alerts[region.Key()], stations, heights, p.stages, opts, p.logger)
		byRegion[region.Key()] = samples
		positives = append(positives, samples...)

		report.Extract.Alerts += stats.Alerts
		report.Extract.BelowThreshold += stats.BelowThreshold
		report.Extract.Unresolvable += stats.Unresolvable
		report.Extract.Discarded += stats.Discarded
		report.Extract.Duplicates += stats.Duplicates
		report.Extract.Positives += stats.Positives
	}
	domain.SortSamples(positives)
	return positives, byRegion
}

// synthesizeAll generates negatives per region against one exclusion index
// built over every positive, so a candidate near any positive is rejected
// no matter which region produced it.
func (p *Pipeline) synthesizeAll(positives []domain.Sample, byRegion map[string][]domain.Sample, regions []domain.Region, window domain.TimeWindow, report *output.Report) []domain.Sample {
	idx := domain.NewExclusionIndex(positives, p.cfg.ExclusionRadiusKM, p.cfg.ExclusionWindow)
	opts := domain.SynthesisOptions{
		Ratio:             p.cfg.Ratio,
		RadiusKM:          p.cfg.ExclusionRadiusKM,
		Window:            p.cfg.ExclusionWindow,
		MaxDisplacementKM: p.cfg.MaxDisplacementKM,
		MaxTimeShift:      p.cfg.MaxTimeShift,
		MaxRetries:        p.cfg.MaxRetries,
	}

	var negatives []domain.Sample
	for _, region := range regions {
		samples, stats := domain.GenerateNegatives(byRegion[region.Key()], region, window, idx, opts, p.logger)
		negatives = append(negatives, samples...)

		report.Synthesis.Target += stats.Target
		report.Synthesis.Produced += stats.Produced
		report.Synthesis.Rejected += stats.Rejected
		report.Synthesis.Exhausted += stats.Exhausted
		report.Synthesis.Deduped += stats.Deduped
	}
	p.metrics.NegativeCandidates.WithLabelValues("accepted").Add(float64(report.Synthesis.Produced))
	p.metrics.NegativeCandidates.WithLabelValues("rejected").Add(float64(report.Synthesis.Rejected))
	p.metrics.NegativeCandidates.WithLabelValues("exhausted").Add(float64(report.Synthesis.Exhausted))
	p.metrics.NegativeCandidates.WithLabelValues("deduped").Add(float64(report.Synthesis.Deduped))
	domain.SortSamples(negatives)
	return negatives
}

// enrichAll attaches precipitation, elevation, and gauge context in place.
// Each worker writes only its own indices, so the slice needs no lock and
// the assembled ordering is untouched. Lookup failures degrade to nil
// fields and never fail the build.
func (p *Pipeline) enrichAll(ctx context.Context, samples []domain.Sample, data *fetched, regions []domain.Region) {
	if p.sources.Gauges == nil && p.sources.Rainfall == nil && p.sources.Elevation == nil {
		return
	}
	stations := mergedStations(data, regions)

	indexCh := make(chan int, len(samples))
	var wg sync.WaitGroup
	for range p.cfg.Workers {
		wg.Go(func() {
			for i := range indexCh {
				if ctx.Err() != nil {
					continue
				}
				samples[i] = domain.EnrichSample(ctx, samples[i], stations, p.sources.Gauges, p.sources.Rainfall, p.sources.Elevation, p.logger)
			}
		})
	}
	for i := range samples {
		indexCh <- i
	}
	close(indexCh)
	wg.Wait()
}

// mergedStations folds every region's stations into one index so samples
// near a state border still find their true nearest gauge.
func mergedStations(data *fetched, regions []domain.Region) *domain.StationIndex {
	var all []domain.GaugeStation
	seen := make(map[string]bool)
	for _, region := range regions {
		for _, st := range data.stations[region.Key()] {
			if seen[st.Number] {
				continue
			}
			seen[st.Number] = true
			all = append(all, st)
		}
	}
	return domain.NewStationIndex(all)
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

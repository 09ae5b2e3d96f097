package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/couchcryptid/flood-dataset/internal/cache"
	"github.com/couchcryptid/flood-dataset/internal/domain"
	"github.com/couchcryptid/flood-dataset/internal/output"
)

// Backoff bounds for upstream outages. IEM and the USGS endpoints rate-limit
// aggressively, so retries start small and cap well below the HTTP timeout.
const (
	initialBackoff   = 200 * time.Millisecond
	maxBackoff       = 5 * time.Second
	maxFetchAttempts = 5
)

// fetchUnit is one independently retryable piece of the fetch plan.
type fetchUnit struct {
	name string
	run  func(ctx context.Context) error
}

type unitOutcome struct {
	name string
	err  error
}

// fetched holds the raw upstream data for a build, keyed by region.
type fetched struct {
	alerts   map[string][]domain.AlertRecord
	stations map[string][]domain.GaugeStation
}

// fetchPhase pulls alerts and stations for every region and span through the
// cache. Unit failures are collected; only a fatal error (cache consistency
// violation, cancellation, cache I/O) stops the build.
func (p *Pipeline) fetchPhase(ctx context.Context, regions []domain.Region, window domain.TimeWindow) (*fetched, []output.UnitFailure, error) {
	var mu sync.Mutex
	stationsByRegion := make(map[string][]domain.GaugeStation)
	alertsBySpan := make(map[string][]domain.AlertRecord)

	var units []fetchUnit
	for _, region := range regions {
		if p.sources.Stations != nil {
			units = append(units, fetchUnit{
				name: fmt.Sprintf("stations %s", region.Key()),
				run: func(ctx context.Context) error {
					stations, err := p.sources.Stations.FetchStations(ctx, region)
					if err != nil {
						return err
					}
					mu.Lock()
					stationsByRegion[region.Key()] = stations
					mu.Unlock()
					return nil
				},
			})
		}
		for _, span := range window.Spans {
			units = append(units, fetchUnit{
				name: fmt.Sprintf("alerts %s %s", region.Key(), span.Key()),
				run: func(ctx context.Context) error {
					alerts, err := p.sources.Alerts.FetchAlerts(ctx, region, span)
					if err != nil {
						return err
					}
					mu.Lock()
					alertsBySpan[region.Key()+" "+span.Key()] = alerts
					mu.Unlock()
					return nil
				},
			})
		}
	}

	failures, err := p.runUnits(ctx, units)
	if err != nil {
		return nil, nil, err
	}

	// Reassemble in plan order so concurrent completion order never leaks
	// into the dataset.
	data := &fetched{
		alerts:   make(map[string][]domain.AlertRecord, len(regions)),
		stations: stationsByRegion,
	}
	for _, region := range regions {
		var alerts []domain.AlertRecord
		for _, span := range window.Spans {
			alerts = append(alerts, alertsBySpan[region.Key()+" "+span.Key()]...)
		}
		data.alerts[region.Key()] = alerts
	}
	return data, failures, nil
}

// corroborationHeights prefetches the gage heights the extractor will
// consult: one reading per nearest-station/alert-day pair for alerts that
// pass the severity floor and have a known flood stage. Returns an empty map
// when corroboration cannot influence extraction.
func (p *Pipeline) corroborationHeights(ctx context.Context, regions []domain.Region, data *fetched) (domain.GaugeHeights, []output.UnitFailure, error) {
	heights := make(domain.GaugeHeights)
	if p.cfg.Strictness == domain.StrictnessOff || p.sources.Gauges == nil || len(p.stages) == 0 {
		return heights, nil, nil
	}

	type request struct {
		station string
		day     time.Time
	}
	requests := make(map[string]request)
	for _, region := range regions {
		stations := domain.NewStationIndex(data.stations[region.Key()])
		if stations.Len() == 0 {
			continue
		}
		for _, alert := range data.alerts[region.Key()] {
			if !alert.MeetsSeverity(p.cfg.MinSeverity) {
				continue
			}
			g, ok := domain.CentroidForArea(alert.Area)
			if !ok {
				continue
			}
			st, _, ok := stations.Nearest(g.Lat, g.Lon)
			if !ok {
				continue
			}
			if _, ok := p.stages[st.Number]; !ok {
				continue
			}
			key := domain.HeightKey(st.Number, alert.Issued)
			requests[key] = request{station: st.Number, day: alert.Issued}
		}
	}
	if len(requests) == 0 {
		return heights, nil, nil
	}

	keys := make([]string, 0, len(requests))
	for key := range requests {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var mu sync.Mutex
	units := make([]fetchUnit, 0, len(keys))
	for _, key := range keys {
		req := requests[key]
		units = append(units, fetchUnit{
			name: fmt.Sprintf("gage %s", key),
			run: func(ctx context.Context) error {
				h, err := p.sources.Gauges.FetchGageHeight(ctx, req.station, req.day)
				if err != nil {
					return err
				}
				mu.Lock()
				heights[key] = h
				mu.Unlock()
				return nil
			},
		})
	}

	failures, err := p.runUnits(ctx, units)
	if err != nil {
		return nil, nil, err
	}
	return heights, failures, nil
}

// runUnits executes units on the configured worker pool. Source outages and
// malformed payloads become UnitFailures; a cache consistency violation or
// anything outside the source error taxonomy is fatal.
func (p *Pipeline) runUnits(ctx context.Context, units []fetchUnit) ([]output.UnitFailure, error) {
	if len(units) == 0 {
		return nil, nil
	}

	unitCh := make(chan fetchUnit, len(units))
	outcomeCh := make(chan unitOutcome, len(units))

	var wg sync.WaitGroup
	for range p.cfg.Workers {
		wg.Go(func() {
			for unit := range unitCh {
				if ctx.Err() != nil {
					outcomeCh <- unitOutcome{name: unit.name, err: ctx.Err()}
					continue
				}
				outcomeCh <- unitOutcome{name: unit.name, err: p.fetchWithRetry(ctx, unit)}
			}
		})
	}
	for _, unit := range units {
		unitCh <- unit
	}
	close(unitCh)
	wg.Wait()
	close(outcomeCh)

	var failures []output.UnitFailure
	for outcome := range outcomeCh {
		if outcome.err == nil {
			continue
		}
		var consistency *cache.ConsistencyError
		if errors.As(outcome.err, &consistency) {
			return nil, fmt.Errorf("fetch %s: %w", outcome.name, outcome.err)
		}
		if errors.Is(outcome.err, domain.ErrSourceUnavailable) || errors.Is(outcome.err, domain.ErrSourceDataError) {
			p.logger.Error("fetch unit failed", "unit", outcome.name, "error", outcome.err)
			failures = append(failures, output.UnitFailure{Unit: outcome.name, Err: outcome.err.Error()})
			continue
		}
		return nil, fmt.Errorf("fetch %s: %w", outcome.name, outcome.err)
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].Unit < failures[j].Unit })
	return failures, nil
}

// fetchWithRetry runs a unit, backing off and retrying while the source is
// unavailable. Data errors and cache errors surface immediately.
func (p *Pipeline) fetchWithRetry(ctx context.Context, unit fetchUnit) error {
	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		err := unit.run(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrSourceUnavailable) {
			return err
		}
		if attempt >= maxFetchAttempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}
		p.logger.Warn("source unavailable, backing off",
			"unit", unit.name,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		if !sleepWithContext(ctx, backoff) {
			return ctx.Err()
		}
		backoff = nextBackoff(backoff, maxBackoff)
	}
}

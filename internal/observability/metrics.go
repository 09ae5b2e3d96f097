package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for a
// dataset build.
type Metrics struct {
	BuildRunning prometheus.Gauge

	// Upstream fetch metrics. A rerun over a warm cache must show zero
	// upstream requests; that is the observable form of build idempotence.
	UpstreamRequests *prometheus.CounterVec   // labels: source={iem,waterdata,cdo,epqs}, outcome={success,unavailable,data_error}
	UpstreamDuration *prometheus.HistogramVec // labels: source

	// Cache metrics.
	CacheLookups   *prometheus.CounterVec // labels: source, result={hit,miss}
	CacheConflicts prometheus.Counter

	// Sample metrics.
	SamplesExtracted   *prometheus.CounterVec // labels: label={flood,no_flood}
	NegativeCandidates *prometheus.CounterVec // labels: outcome={accepted,rejected,exhausted,deduped}
	SamplesPublished   prometheus.Counter
}

// NewMetrics creates and registers all build metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		BuildRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "floodset",
			Name:      "build_running",
			Help:      "1 while a dataset build is active, 0 otherwise.",
		}),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "floodset",
			Name:      "upstream_requests_total",
			Help:      "Upstream API requests by source and outcome.",
		}, []string{"source", "outcome"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "floodset",
			Name:      "upstream_request_duration_seconds",
			Help:      "Upstream API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "floodset",
			Name:      "cache_lookups_total",
			Help:      "Fetch cache lookups by source and result.",
		}, []string{"source", "result"}),
		CacheConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "floodset",
			Name:      "cache_conflicts_total",
			Help:      "Attempts to overwrite a cache entry with different bytes.",
		}),
		SamplesExtracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "floodset",
			Name:      "samples_total",
			Help:      "Dataset samples produced by label.",
		}, []string{"label"}),
		NegativeCandidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "floodset",
			Name:      "negative_candidates_total",
			Help:      "Negative synthesis candidates by outcome.",
		}, []string{"outcome"}),
		SamplesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "floodset",
			Name:      "samples_published_total",
			Help:      "Samples delivered to the Kafka sink.",
		}),
	}

	prometheus.MustRegister(
		m.BuildRunning,
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.CacheLookups,
		m.CacheConflicts,
		m.SamplesExtracted,
		m.NegativeCandidates,
		m.SamplesPublished,
	)

	return m
}

// NewMetricsForTesting creates Metrics with unregistered collectors to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		BuildRunning:       prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "floodset", Name: "build_running"}),
		UpstreamRequests:   prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "floodset", Name: "upstream_requests_total"}, []string{"source", "outcome"}),
		UpstreamDuration:   prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: "floodset", Name: "upstream_request_duration_seconds"}, []string{"source"}),
		CacheLookups:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "floodset", Name: "cache_lookups_total"}, []string{"source", "result"}),
		CacheConflicts:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: "floodset", Name: "cache_conflicts_total"}),
		SamplesExtracted:   prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "floodset", Name: "samples_total"}, []string{"label"}),
		NegativeCandidates: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "floodset", Name: "negative_candidates_total"}, []string{"outcome"}),
		SamplesPublished:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "floodset", Name: "samples_published_total"}),
	}
}

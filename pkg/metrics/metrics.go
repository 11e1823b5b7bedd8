// Package metrics defines the Prometheus metric collectors used across the
// platform and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the platform.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	ScoreRequestsTotal   *prometheus.CounterVec
	ScoringLatency       *prometheus.HistogramVec
	VerdictsTotal        *prometheus.CounterVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	CompletionsAbsorbed  *prometheus.CounterVec
	NgramsIngestedTotal  *prometheus.CounterVec
	PhrasesTracked       *prometheus.GaugeVec
	WindowEvictions      *prometheus.GaugeVec
	PruneRuns            *prometheus.GaugeVec
	BatchesReceivedTotal *prometheus.CounterVec
	ArchiveFlushesTotal  *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		ScoreRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "score_requests_total",
				Help: "Total score requests by model and outcome (ok, error).",
			},
			[]string{"model", "outcome"},
		),
		ScoringLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scoring_latency_seconds",
				Help:    "Latency of scoring one request in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"model"},
		),
		VerdictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verdicts_total",
				Help: "Per-completion verdicts by model and kind (flagged, clean, prompt_echo).",
			},
			[]string{"model", "kind"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of diagnostics cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of diagnostics cache misses.",
			},
		),
		CompletionsAbsorbed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "completions_absorbed_total",
				Help: "Completions absorbed into engine stores by model.",
			},
			[]string{"model"},
		),
		NgramsIngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ngrams_ingested_total",
				Help: "N-grams ingested into engine stores by model.",
			},
			[]string{"model"},
		),
		PhrasesTracked: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "phrases_tracked",
				Help: "Distinct phrases currently tracked per model store.",
			},
			[]string{"model"},
		),
		WindowEvictions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "window_evictions",
				Help: "Cumulative n-grams evicted from windowed stores by model.",
			},
			[]string{"model"},
		),
		PruneRuns: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "prune_runs",
				Help: "Cumulative lossy-counting prune passes by model.",
			},
			[]string{"model"},
		),
		BatchesReceivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batches_received_total",
				Help: "Completion batches received by source (http, kafka).",
			},
			[]string{"source"},
		),
		ArchiveFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archive_flushes_total",
				Help: "Scored-event archive flushes by status.",
			},
			[]string{"status"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.ScoreRequestsTotal,
		m.ScoringLatency,
		m.VerdictsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CompletionsAbsorbed,
		m.NgramsIngestedTotal,
		m.PhrasesTracked,
		m.WindowEvictions,
		m.PruneRuns,
		m.BatchesReceivedTotal,
		m.ArchiveFlushesTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

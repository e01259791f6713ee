// Package metrics defines the Prometheus metric collectors used by the
// crawler and the read API and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and
// records nothing, so components can be built without a registry in tests.
type Metrics struct {
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestsInFlight  prometheus.Gauge
	UpstreamFetchesTotal  *prometheus.CounterVec
	UpstreamFetchDuration prometheus.Histogram
	RateLimitWait         prometheus.Histogram
	WalksTotal            *prometheus.CounterVec
	PostsUpsertedTotal    prometheus.Counter
	SubjectsUpsertedTotal prometheus.Counter
	CrawlRunsTotal        *prometheus.CounterVec
	CrawlRunDuration      prometheus.Histogram
	CacheHitsTotal        prometheus.Counter
	CacheMissesTotal      prometheus.Counter
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
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
		UpstreamFetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upstream_fetches_total",
				Help: "Upstream stream page fetches by result (ok, error).",
			},
			[]string{"result"},
		),
		UpstreamFetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "upstream_fetch_duration_seconds",
				Help:    "Upstream fetch latency in seconds, excluding rate-limit waits.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		RateLimitWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "upstream_rate_limit_wait_seconds",
				Help:    "Time spent waiting for an upstream request slot.",
				Buckets: []float64{0, 0.5, 1, 2, 3, 4, 5, 10},
			},
		),
		WalksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_walks_total",
				Help: "Subject walks by kind and outcome (exhausted, stalled, failed, skipped).",
			},
			[]string{"kind", "outcome"},
		),
		PostsUpsertedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "posts_upserted_total",
				Help: "Post rows written by committed batches.",
			},
		),
		SubjectsUpsertedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "subjects_upserted_total",
				Help: "Subject rows written by committed batches.",
			},
		),
		CrawlRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_runs_total",
				Help: "Crawl runs by status (ok, error).",
			},
			[]string{"status"},
		),
		CrawlRunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawl_run_duration_seconds",
				Help:    "Wall-clock duration of a crawl run.",
				Buckets: []float64{1, 5, 10, 20, 30, 45, 60, 120},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of popular-post cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of popular-post cache misses.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.UpstreamFetchesTotal,
		m.UpstreamFetchDuration,
		m.RateLimitWait,
		m.WalksTotal,
		m.PostsUpsertedTotal,
		m.SubjectsUpsertedTotal,
		m.CrawlRunsTotal,
		m.CrawlRunDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CircuitBreakerState,
	)

	return m
}

func (m *Metrics) ObserveFetch(err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.UpstreamFetchesTotal.WithLabelValues(result).Inc()
	m.UpstreamFetchDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveRateLimitWait(d time.Duration) {
	if m == nil {
		return
	}
	m.RateLimitWait.Observe(d.Seconds())
}

func (m *Metrics) ObserveWalk(kind, outcome string) {
	if m == nil {
		return
	}
	m.WalksTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) AddUpserted(posts, subjects int) {
	if m == nil {
		return
	}
	m.PostsUpsertedTotal.Add(float64(posts))
	m.SubjectsUpsertedTotal.Add(float64(subjects))
}

func (m *Metrics) ObserveRun(err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.CrawlRunsTotal.WithLabelValues(status).Inc()
	m.CrawlRunDuration.Observe(d.Seconds())
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
}

func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// Handler returns the Prometheus scrape HTTP handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

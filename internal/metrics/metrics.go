// Package metrics exposes Prometheus instrumentation for the scrape
// pipeline: HTTP attempts, challenge detection, bypass refreshes,
// lookups and the record cache.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

// Metrics provides high-performance metrics collection using Prometheus.
type Metrics struct {
	// HTTP client metrics
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	retriesTotal    *prometheus.CounterVec
	challengesTotal *prometheus.CounterVec

	// Bypass metrics
	bypassRefreshTotal    *prometheus.CounterVec
	bypassRefreshDuration *prometheus.HistogramVec

	// Lookup metrics
	lookupsTotal   *prometheus.CounterVec
	lookupDuration *prometheus.HistogramVec
	siteResults    *prometheus.CounterVec

	// Record cache metrics
	cacheHitsTotal   prometheus.Counter
	cacheMissesTotal prometheus.Counter

	logger      *zap.Logger
	httpHandler func(*fasthttp.RequestCtx)
}

// New creates a collector registered on the default registry.
func New(namespace string, logger *zap.Logger) *Metrics {
	return NewWithRegistry(namespace, prometheus.NewRegistry(), logger)
}

// NewWithRegistry creates a collector on a custom registry. Tests use a
// fresh registry to avoid duplicate-registration panics.
func NewWithRegistry(namespace string, registry *prometheus.Registry, logger *zap.Logger) *Metrics {
	m := &Metrics{logger: logger}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP attempts by host and status code",
		},
		[]string{"host", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Wall time of HTTP attempts",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"host"},
	)

	m.retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "retries_total",
			Help:      "Retried attempts by host and reason",
		},
		[]string{"host", "reason"},
	)

	m.challengesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "cf_challenges_total",
			Help:      "Cloudflare challenge pages detected by host",
		},
		[]string{"host"},
	)

	m.bypassRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bypass",
			Name:      "refresh_total",
			Help:      "Bypass binding refreshes by host and result",
		},
		[]string{"host", "result"},
	)

	m.bypassRefreshDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bypass",
			Name:      "refresh_duration_seconds",
			Help:      "Wall time of bypass refresh rounds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 45},
		},
		[]string{"host"},
	)

	m.lookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lookup",
			Name:      "total",
			Help:      "Completed lookups by result",
		},
		[]string{"result"},
	)

	m.lookupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lookup",
			Name:      "duration_seconds",
			Help:      "Wall time of whole lookups including fanout",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 45, 90, 180},
		},
		[]string{},
	)

	m.siteResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lookup",
			Name:      "site_results_total",
			Help:      "Per-site crawl outcomes",
		},
		[]string{"site", "result"},
	)

	m.cacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Record cache hits",
	})

	m.cacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Record cache misses",
	})

	registry.MustRegister(
		m.requestsTotal, m.requestDuration, m.retriesTotal, m.challengesTotal,
		m.bypassRefreshTotal, m.bypassRefreshDuration,
		m.lookupsTotal, m.lookupDuration, m.siteResults,
		m.cacheHitsTotal, m.cacheMissesTotal,
	)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	m.httpHandler = fasthttpadaptor.NewFastHTTPHandlerFunc(handler.ServeHTTP)

	return m
}

// RecordRequest records one HTTP attempt.
func (m *Metrics) RecordRequest(host string, statusCode int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(host, strconv.Itoa(statusCode)).Inc()
	m.requestDuration.WithLabelValues(host).Observe(duration.Seconds())
}

// RecordRetry records a retried attempt.
func (m *Metrics) RecordRetry(host, reason string) {
	m.retriesTotal.WithLabelValues(host, reason).Inc()
}

// RecordChallenge records a detected Cloudflare challenge page.
func (m *Metrics) RecordChallenge(host string) {
	m.challengesTotal.WithLabelValues(host).Inc()
}

// RecordBypassRefresh records a bypass refresh outcome.
func (m *Metrics) RecordBypassRefresh(host, result string, duration time.Duration) {
	m.bypassRefreshTotal.WithLabelValues(host, result).Inc()
	m.bypassRefreshDuration.WithLabelValues(host).Observe(duration.Seconds())
}

// RecordLookup records a completed lookup.
func (m *Metrics) RecordLookup(result string, duration time.Duration) {
	m.lookupsTotal.WithLabelValues(result).Inc()
	m.lookupDuration.WithLabelValues().Observe(duration.Seconds())
}

// RecordSiteResult records one site's crawl outcome within a lookup.
func (m *Metrics) RecordSiteResult(site, result string) {
	m.siteResults.WithLabelValues(site, result).Inc()
}

// RecordCacheHit records a record cache hit.
func (m *Metrics) RecordCacheHit() { m.cacheHitsTotal.Inc() }

// RecordCacheMiss records a record cache miss.
func (m *Metrics) RecordCacheMiss() { m.cacheMissesTotal.Inc() }

// ServeHTTP serves the Prometheus exposition endpoint.
func (m *Metrics) ServeHTTP(ctx *fasthttp.RequestCtx) {
	m.httpHandler(ctx)
}

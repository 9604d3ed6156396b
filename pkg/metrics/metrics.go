// Package metrics provides Prometheus instrumentation for Appledex.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric collectors for Appledex.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ToolCallsTotal   *prometheus.CounterVec
	SearchResults    prometheus.Histogram
	ProviderRetries  *prometheus.CounterVec
	KeyEvictions     prometheus.Counter
	RateLimitDenials *prometheus.CounterVec
	ThreatBlocks     *prometheus.CounterVec
	ActiveRequests   prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all Appledex metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	// Include default Go and process collectors
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appledex_requests_total",
				Help: "Total HTTP requests by endpoint and status code.",
			},
			[]string{"endpoint", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "appledex_request_duration_seconds",
				Help:    "HTTP request latency distribution.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"endpoint"},
		),
		ToolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appledex_tool_calls_total",
				Help: "Total MCP tool invocations by tool and outcome.",
			},
			[]string{"tool", "outcome"},
		),
		SearchResults: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "appledex_search_results",
				Help:    "Number of results returned per search call.",
				Buckets: []float64{0, 1, 2, 4, 6, 8, 10},
			},
		),
		ProviderRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appledex_provider_retries_total",
				Help: "Provider call retries by provider kind.",
			},
			[]string{"provider"},
		),
		KeyEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "appledex_provider_key_evictions_total",
				Help: "Provider API keys evicted after auth failures.",
			},
		),
		RateLimitDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appledex_rate_limit_denials_total",
				Help: "Requests denied by the rate limiter, by window.",
			},
			[]string{"limit_type"},
		),
		ThreatBlocks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appledex_threat_blocks_total",
				Help: "Requests blocked by the threat detector, by reason class.",
			},
			[]string{"reason"},
		),
		ActiveRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "appledex_active_requests",
				Help: "Number of requests currently being processed.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ToolCallsTotal,
		m.SearchResults,
		m.ProviderRetries,
		m.KeyEvictions,
		m.RateLimitDenials,
		m.ThreatBlocks,
		m.ActiveRequests,
	)

	return m
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records a completed request's metrics.
func (m *Metrics) RecordRequest(endpoint string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.RequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordToolCall records one tool invocation.
func (m *Metrics) RecordToolCall(tool, outcome string) {
	m.ToolCallsTotal.WithLabelValues(tool, outcome).Inc()
}

// RecordSearchResults records the size of a search response.
func (m *Metrics) RecordSearchResults(count int) {
	m.SearchResults.Observe(float64(count))
}

// Middleware returns an HTTP middleware that instruments requests.
func (m *Metrics) Middleware(endpoint string, next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.ActiveRequests.Inc()
		defer m.ActiveRequests.Dec()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rw, r)

		m.RecordRequest(endpoint, rw.statusCode, time.Since(start))
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for the capture-and-verify pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	requestsTotal  prometheus.Counter
	errorsTotal    prometheus.Counter
	capturesTotal  *prometheus.CounterVec
	outcomesTotal  *prometheus.CounterVec
	submitDuration *prometheus.HistogramVec
	activeStreams  prometheus.Gauge
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "faceid_http_requests_total",
		Help: "Total number of control API requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "faceid_http_errors_total",
		Help: "Total number of control API responses with error status (4xx or 5xx)",
	})
	capturesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "faceid_captures_total",
		Help: "Capture bursts by route and result",
	}, []string{"route", "result"})
	outcomesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "faceid_outcomes_total",
		Help: "Resolved attempts by route and outcome code",
	}, []string{"route", "code"})
	submitDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "faceid_submit_duration_seconds",
		Help:    "Latency of verification submissions",
		Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 200},
	}, []string{"route"})
	activeStreams := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "faceid_active_streams",
		Help: "Number of live camera streams held by the session",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		capturesTotal,
		outcomesTotal,
		submitDuration,
		activeStreams,
	)

	return &Metrics{
		registry:       registry,
		requestsTotal:  requestsTotal,
		errorsTotal:    errorsTotal,
		capturesTotal:  capturesTotal,
		outcomesTotal:  outcomesTotal,
		submitDuration: submitDuration,
		activeStreams:  activeStreams,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// ObserveCapture counts one burst.
func (m *Metrics) ObserveCapture(route string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.capturesTotal.WithLabelValues(route, result).Inc()
}

// ObserveOutcome counts one resolved attempt.
func (m *Metrics) ObserveOutcome(route, code string) {
	if m == nil {
		return
	}
	m.outcomesTotal.WithLabelValues(route, code).Inc()
}

// ObserveSubmit records submission latency.
func (m *Metrics) ObserveSubmit(route string, d time.Duration) {
	if m == nil {
		return
	}
	m.submitDuration.WithLabelValues(route).Observe(d.Seconds())
}

// SetActiveStreams sets the active streams gauge.
func (m *Metrics) SetActiveStreams(n int) {
	if m == nil {
		return
	}
	m.activeStreams.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

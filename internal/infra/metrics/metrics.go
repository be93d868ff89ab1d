// Package metrics provides Prometheus instrumentation for the player daemon.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for the playback controller and the control API.
// It implements playback.Metrics.
type Metrics struct {
	registry *prometheus.Registry

	loadsStarted  prometheus.Counter
	loadsFinished *prometheus.CounterVec
	loadDuration  *prometheus.HistogramVec
	reconciles    *prometheus.CounterVec
	watchdogTicks prometheus.Counter
	liveSessions  prometheus.Gauge
	subscribers   prometheus.Gauge

	requestsTotal prometheus.Counter
	errorsTotal   prometheus.Counter
}

// New creates and registers the collectors on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		loadsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "retune_loads_started_total",
			Help: "Total number of engine load attempts",
		}),
		loadsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "retune_loads_finished_total",
			Help: "Total number of finished load attempts by outcome",
		}, []string{"outcome"}),
		loadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "retune_load_duration_seconds",
			Help:    "Time spent in engine load calls by outcome",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"outcome"}),
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "retune_reconcile_attempts_total",
			Help: "Total number of playback intent reconciliations by result",
		}, []string{"result"}),
		watchdogTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "retune_watchdog_ticks_total",
			Help: "Total number of retry watchdog ticks",
		}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "retune_live_sessions",
			Help: "Number of engine sessions not yet released",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "retune_status_subscribers",
			Help: "Number of active status stream subscribers",
		}),
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "retune_http_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "retune_http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
	}

	m.registry.MustRegister(
		m.loadsStarted,
		m.loadsFinished,
		m.loadDuration,
		m.reconciles,
		m.watchdogTicks,
		m.liveSessions,
		m.subscribers,
		m.requestsTotal,
		m.errorsTotal,
	)

	return m
}

// LoadStarted counts a load attempt.
func (m *Metrics) LoadStarted() {
	m.loadsStarted.Inc()
}

// LoadFinished records the outcome and latency of a load attempt.
func (m *Metrics) LoadFinished(outcome string, elapsed time.Duration) {
	m.loadsFinished.WithLabelValues(outcome).Inc()
	m.loadDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ReconcileAttempt counts a reconciliation by result.
func (m *Metrics) ReconcileAttempt(result string) {
	m.reconciles.WithLabelValues(result).Inc()
}

// WatchdogTick counts a watchdog tick.
func (m *Metrics) WatchdogTick() {
	m.watchdogTicks.Inc()
}

// SessionOpened increments the live sessions gauge.
func (m *Metrics) SessionOpened() {
	m.liveSessions.Inc()
}

// SessionClosed decrements the live sessions gauge.
func (m *Metrics) SessionClosed() {
	m.liveSessions.Dec()
}

// SetSubscribers sets the status subscribers gauge.
func (m *Metrics) SetSubscribers(n int) {
	m.subscribers.Set(float64(n))
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		h.ServeHTTP(w, r)
	})
}

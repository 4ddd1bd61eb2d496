// Package metrics provides Prometheus metrics for the catalog
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// outbox delivery results
const (
	ResultDelivered = "delivered"
	ResultFailed    = "failed"
)

// Metrics holds all Prometheus metrics of the catalog. Every instance has its own
// registry, so tests can create as many as they need.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	OutboxEventsTotal *prometheus.CounterVec
}

// New creates and registers all metrics
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	m := &Metrics{Registry: reg}
	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geocatalog_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geocatalog_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	m.HTTPRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "geocatalog_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
	m.OutboxEventsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geocatalog_outbox_events_total",
			Help: "Total number of relayed change events by result",
		},
		[]string{"result"},
	)
	return m
}

// RecordHTTPRequest records a served request
func (m *Metrics) RecordHTTPRequest(route, method string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordOutboxEvents records the result of relaying n events
func (m *Metrics) RecordOutboxEvents(result string, n int) {
	m.OutboxEventsTotal.WithLabelValues(result).Add(float64(n))
}

// Middleware is mux middleware which records every request. The route label is the
// path template of the matched route, so ids do not create new series.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if template, err := current.GetPathTemplate(); err == nil {
				route = template
			}
		}
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()
		captured := httpsnoop.CaptureMetrics(next, w, r)
		m.RecordHTTPRequest(route, r.Method, captured.Code, captured.Duration)
	})
}

// Handler serves the metrics in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

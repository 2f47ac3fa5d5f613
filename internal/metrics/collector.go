// Package metrics exposes Prometheus instruments for the try-on service.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tryon/internal/wizard"
)

// Collector groups the service's instruments on its own registry.
type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	uploadsTotal *prometheus.CounterVec

	transitionsTotal *prometheus.CounterVec

	generationsTotal   *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec

	activeSessions prometheus.Gauge
}

// NewCollector registers all instruments under namespace.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{registry: reg}

	c.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	c.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	c.uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Image uploads by slot and result",
		},
		[]string{"slot", "result"},
	)
	c.transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wizard_transitions_total",
			Help:      "Wizard events by name, resulting step and result",
		},
		[]string{"event", "to", "result"},
	)
	c.generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Completed generation attempts by outcome",
		},
		[]string{"outcome"},
	)
	c.generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Remote generation latency in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"outcome"},
	)
	c.activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Wizard sessions currently held in memory",
	})

	reg.MustRegister(
		c.httpRequestsTotal,
		c.httpRequestDuration,
		c.uploadsTotal,
		c.transitionsTotal,
		c.generationsTotal,
		c.generationDuration,
		c.activeSessions,
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one served request.
func (c *Collector) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	c.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordUpload records an upload attempt for slot. result is "ok" or an
// error class.
func (c *Collector) RecordUpload(slot, result string) {
	c.uploadsTotal.WithLabelValues(slot, result).Inc()
}

// SetActiveSessions reports the current session count.
func (c *Collector) SetActiveSessions(n int) {
	c.activeSessions.Set(float64(n))
}

// ObserveTransition implements wizard.Recorder.
func (c *Collector) ObserveTransition(event string, from, to wizard.Step, err error) {
	c.transitionsTotal.WithLabelValues(event, to.String(), transitionResult(err)).Inc()
}

// ObserveGeneration implements wizard.Recorder.
func (c *Collector) ObserveGeneration(outcome string, elapsed time.Duration) {
	c.generationsTotal.WithLabelValues(outcome).Inc()
	c.generationDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func transitionResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, wizard.ErrMissingImages):
		return "validation"
	case errors.Is(err, wizard.ErrGuard):
		return "guard"
	case errors.Is(err, wizard.ErrStaleAttempt):
		return "stale"
	case errors.Is(err, wizard.ErrInvalidTransition):
		return "invalid"
	default:
		return "error"
	}
}

var _ wizard.Recorder = (*Collector)(nil)

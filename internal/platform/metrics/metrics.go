// Package metrics holds the gateway's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pacs_gateway"

// Outcome label values.
const (
	OutcomeSuccess      = "success"
	OutcomeError        = "error"
	OutcomeUnauthorized = "unauthorized"
	OutcomeInvalid      = "invalid"
	OutcomeUnassociated = "unassociated"
	OutcomeIgnored      = "ignored"
	OutcomeNotFound     = "not_found"
	OutcomeFailed       = "failed"
)

// Metrics groups every collector the gateway exports. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	WebhooksTotal          *prometheus.CounterVec
	ArchiveRequestsTotal   *prometheus.CounterVec
	ArchiveRequestDuration prometheus.Histogram
	ViewerTokensIssued     prometheus.Counter
	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg, reg)
}

func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: gatherer,
		WebhooksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_total",
			Help:      "Webhook deliveries received, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		ArchiveRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_requests_total",
			Help:      "Requests sent to the imaging archive, by outcome.",
		}, []string{"outcome"}),
		ArchiveRequestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "archive_request_duration_seconds",
			Help:      "Latency of imaging archive requests.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		ViewerTokensIssued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "viewer_tokens_issued_total",
			Help:      "Viewer tokens issued.",
		}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method, route and status code.",
		}, []string{"method", "route", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) Webhook(kind, outcome string) {
	if m == nil {
		return
	}
	m.WebhooksTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ArchiveRequest(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ArchiveRequestsTotal.WithLabelValues(outcome).Inc()
	m.ArchiveRequestDuration.Observe(d.Seconds())
}

func (m *Metrics) ViewerTokenIssued() {
	if m == nil {
		return
	}
	m.ViewerTokensIssued.Inc()
}

// Middleware records request count and latency per route template, so
// /api/patients/:patientId/studies is one series regardless of the id.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()

			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if !c.Response().Committed {
					status = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}

			m.HTTPRequestsTotal.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
}

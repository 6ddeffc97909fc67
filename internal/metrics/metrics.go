// Package metrics exposes Prometheus collectors for scans, ingestion and
// the HTTP API.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/celerix-dev/celerix-presence/internal/ledger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry     *prometheus.Registry
	scansTotal   *prometheus.CounterVec
	scanDuration prometheus.Histogram
	ingestTotal  *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers every collector on a private registry so several instances
// can coexist in tests.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		scansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_scans_total",
			Help: "Finished scan cycles by outcome.",
		}, []string{"outcome"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "presence_scan_duration_seconds",
			Help:    "Time from trigger to result.",
			Buckets: prometheus.DefBuckets,
		}),
		ingestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_ingest_total",
			Help: "Ingestion attempts by result.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	m.registry.MustRegister(m.scansTotal, m.scanDuration, m.ingestTotal, m.httpRequests, m.httpDuration)
	return m
}

// ObserveScan records one finished cycle.
func (m *Metrics) ObserveScan(outcome string, elapsed time.Duration) {
	m.scansTotal.WithLabelValues(outcome).Inc()
	m.scanDuration.Observe(elapsed.Seconds())
}

// ObserveIngest classifies the error returned by the ledger.
func (m *Metrics) ObserveIngest(err error) {
	m.ingestTotal.WithLabelValues(ingestResult(err)).Inc()
}

func ingestResult(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, ledger.ErrDuplicateForPeriod):
		return "duplicate"
	case errors.Is(err, ledger.ErrUnknownPerson):
		return "unknown_person"
	default:
		return "invalid"
	}
}

// Middleware counts gin requests by matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

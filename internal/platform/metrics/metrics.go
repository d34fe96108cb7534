// Package metrics exposes Prometheus collectors for the image service and the
// HTTP handlers that serve them.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "imageservice"

// Metrics groups the service collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	uploads            *prometheus.CounterVec
	edits              *prometheus.CounterVec
	deletes            prometheus.Counter
	orphanFiles        prometheus.Counter
	fileDeleteFailures prometheus.Counter
	requestDuration    *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Image uploads by result.",
		}, []string{"result"}),
		edits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edits_total",
			Help:      "Derived images produced by edit type and whether lineage was recorded.",
		}, []string{"type", "lineage"}),
		deletes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deletes_total",
			Help:      "Image records deleted.",
		}),
		orphanFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphan_files_total",
			Help:      "Files written whose metadata insert failed.",
		}),
		fileDeleteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_delete_failures_total",
			Help:      "File removals that failed while deleting a record.",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(m.uploads, m.edits, m.deletes, m.orphanFiles, m.fileDeleteFailures, m.requestDuration)
	return m
}

func (m *Metrics) UploadSucceeded() {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues("success").Inc()
}

func (m *Metrics) UploadFailed() {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues("failure").Inc()
}

// EditProduced counts a derived image; lineage is false for degraded edits.
func (m *Metrics) EditProduced(editType string, lineage bool) {
	if m == nil {
		return
	}
	label := "recorded"
	if !lineage {
		label = "dropped"
	}
	m.edits.WithLabelValues(editType, label).Inc()
}

func (m *Metrics) Deleted() {
	if m == nil {
		return
	}
	m.deletes.Inc()
}

func (m *Metrics) OrphanFile() {
	if m == nil {
		return
	}
	m.orphanFiles.Inc()
}

func (m *Metrics) FileDeleteFailed() {
	if m == nil {
		return
	}
	m.fileDeleteFailures.Inc()
}

// Middleware records request latency labelled with the matched route
// template, not the raw path, to keep label cardinality bounded.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.requestDuration.
				WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}

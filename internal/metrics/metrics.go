// Package metrics exposes Prometheus collectors for the relay.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ui_annotator"

// Metrics holds the relay's collectors.
type Metrics struct {
	RequestDuration    *prometheus.HistogramVec
	ModelCalls         *prometheus.CounterVec
	Uploads            *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec
	DroppedAnnotations prometheus.Counter
	UnparsableOutputs  prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry creates the collectors and registers them with reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		ModelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_calls_total",
			Help:      "Vision model calls by model and outcome.",
		}, []string{"model", "outcome"}),
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Image uploads by source and outcome.",
		}, []string{"source", "outcome"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_cache_lookups_total",
			Help:      "Prediction cache lookups by result.",
		}, []string{"result"}),
		DroppedAnnotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_annotations_total",
			Help:      "Model annotations discarded for violating the schema.",
		}),
		UnparsableOutputs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unparsable_model_outputs_total",
			Help:      "Model answers that were not a JSON object with an annotations list.",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.RequestDuration,
		m.ModelCalls,
		m.Uploads,
		m.CacheLookups,
		m.DroppedAnnotations,
		m.UnparsableOutputs,
		collectors.NewGoCollector(),
	)
	return m
}

// Middleware records the latency of every request.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetricsRecorder exports per-operation durations and result
// counters through a Prometheus registry, for deployments that scrape
// /metrics instead of reading expvar.
type PrometheusMetricsRecorder struct {
	durations *prometheus.HistogramVec
	results   *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder registers the service collectors with reg. A
// nil registerer uses the default registry.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) *PrometheusMetricsRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusMetricsRecorder{
		durations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vetcore",
			Subsystem: "record_service",
			Name:      "operation_duration_seconds",
			Help:      "Duration of record service operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		results: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vetcore",
			Subsystem: "record_service",
			Name:      "operation_results_total",
			Help:      "Record service operation outcomes by status.",
		}, []string{"operation", "status"}),
	}
}

// Observe records a service operation outcome.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
	r.results.WithLabelValues(operation, status).Inc()
}

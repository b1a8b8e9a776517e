package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every instrument the archive exposes.
type Metrics struct {
	registry *prometheus.Registry

	RowsAppended  *prometheus.CounterVec
	QualityEvents *prometheus.CounterVec
	FetchRetries  *prometheus.CounterVec
	BackfillJobs  *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
}

// New creates the metric set on its own registry, so tests and
// multiple instances never collide on the global default.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RowsAppended: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "elecdata_rows_appended_total",
			Help: "Observations durably appended, by market and data type.",
		}, []string{"market", "data_type"}),

		QualityEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "elecdata_quality_events_total",
			Help: "Quality events recorded during harmonization, by kind.",
		}, []string{"market", "data_type", "kind"}),

		FetchRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "elecdata_fetch_retries_total",
			Help: "Transient upstream failures that triggered a retry.",
		}, []string{"market", "data_type"}),

		BackfillJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "elecdata_backfill_jobs_total",
			Help: "Backfill jobs by terminal state.",
		}, []string{"state"}),

		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "elecdata_fetch_duration_seconds",
			Help:    "Upstream fetch latency per gap attempt.",
			Buckets: prometheus.DefBuckets,
		}, []string{"market", "data_type"}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

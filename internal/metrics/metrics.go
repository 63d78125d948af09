// Package metrics exports run telemetry to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dispatch/internal/core"
)

const namespace = "dispatch"

// Metrics implements core.Observer.
type Metrics struct {
	registry *prometheus.Registry

	ItemsFetched  *prometheus.CounterVec
	FetchErrors   *prometheus.CounterVec
	Deliveries    *prometheus.CounterVec
	Runs          *prometheus.CounterVec
	RunDuration   *prometheus.HistogramVec
	ItemsSkipped  *prometheus.CounterVec
	ItemsDeferred *prometheus.CounterVec
	LastRun       *prometheus.GaugeVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		ItemsFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_fetched_total",
			Help:      "Items returned by sources",
		}, []string{"pipeline", "source"}),
		FetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Source fetches that failed",
		}, []string{"pipeline", "source"}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Delivery attempts by outcome",
		}, []string{"pipeline", "outcome"}),
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed and aborted runs",
		}, []string{"pipeline", "result"}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a run",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"pipeline"}),
		ItemsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_skipped_total",
			Help:      "Items already present in the ledger",
		}, []string{"pipeline"}),
		ItemsDeferred: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_deferred_total",
			Help:      "Candidates left for a later run by the per-run cap",
		}, []string{"pipeline"}),
		LastRun: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Start time of the most recent run",
		}, []string{"pipeline"}),
	}
}

func (m *Metrics) ObserveFetch(pipeline, source string, items int, err error) {
	m.ItemsFetched.WithLabelValues(pipeline, source).Add(float64(items))
	if err != nil {
		m.FetchErrors.WithLabelValues(pipeline, source).Inc()
	}
}

func (m *Metrics) ObserveDelivery(pipeline string, outcome core.Outcome) {
	m.Deliveries.WithLabelValues(pipeline, outcome.String()).Inc()
}

func (m *Metrics) ObserveRun(summary *core.RunSummary, err error) {
	result := "done"
	if err != nil {
		result = "aborted"
	}

	m.Runs.WithLabelValues(summary.Pipeline, result).Inc()
	m.RunDuration.WithLabelValues(summary.Pipeline).Observe(summary.Duration.Seconds())
	m.ItemsSkipped.WithLabelValues(summary.Pipeline).Add(float64(summary.Skipped))
	m.ItemsDeferred.WithLabelValues(summary.Pipeline).Add(float64(summary.Deferred))
	m.LastRun.WithLabelValues(summary.Pipeline).Set(float64(summary.StartedAt.Unix()))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

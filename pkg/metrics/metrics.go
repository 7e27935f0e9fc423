// Package metrics exposes Prometheus collectors for run execution.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "laitest"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "runs_total",
		Help:      "Count of runs reaching a terminal status",
	}, []string{
		"status",
	})

	runItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_items_total",
		Help:      "Count of executed run items",
	}, []string{
		"status",
	})

	runItemDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "run_item_duration_seconds",
		Help:      "Duration of case execution",
		Buckets:   prometheus.ExponentialBuckets(0.005, 4, 10),
	})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of whole runs",
		Buckets:   prometheus.ExponentialBuckets(0.05, 4, 10),
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_queue_depth",
		Help:      "Number of runs waiting for the worker",
	})

	generatedCasesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "generated_cases_total",
		Help:      "Count of cases created from generated suggestions",
	})
)

// RecordRun counts a run that reached a terminal status.
func RecordRun(status string, duration time.Duration) {
	runsTotal.WithLabelValues(status).Inc()
	runDuration.Observe(duration.Seconds())
}

// RecordRunItem counts an executed item.
func RecordRunItem(status string, duration time.Duration) {
	runItemsTotal.WithLabelValues(status).Inc()
	runItemDuration.Observe(duration.Seconds())
}

// SetQueueDepth records the number of pending runs.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// RecordGeneratedCases counts cases persisted by the generator endpoint.
func RecordGeneratedCases(n int) {
	generatedCasesTotal.Add(float64(n))
}

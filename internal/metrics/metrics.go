// Package metrics exposes Prometheus collectors for enrichment runs.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	itemsTotal           *prometheus.CounterVec
	incidentsTotal       *prometheus.CounterVec
	checkpointsTotal     *prometheus.CounterVec
	workersAlive         prometheus.Gauge
	fetchDurationSeconds prometheus.Histogram

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taxid_items_total",
				Help: "Total number of items looked up, labeled by result status.",
			},
			[]string{"status"},
		)

		incidentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taxid_incidents_total",
				Help: "Total number of times the pause gate was opened, labeled by cause.",
			},
			[]string{"cause"},
		)

		checkpointsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taxid_checkpoints_total",
				Help: "Total number of checkpoint writes, labeled by result.",
			},
			[]string{"result"},
		)

		workersAlive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "taxid_workers_alive",
				Help: "Number of workers that hold or are recovering a lookup session.",
			},
		)

		fetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taxid_fetch_duration_seconds",
				Help:    "Histogram of single variant fetch latencies.",
				Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
			},
		)
	})
}

// ObserveItem counts one recorded result.
func ObserveItem(status string) {
	Init()
	itemsTotal.WithLabelValues(status).Inc()
}

// ObserveIncident counts one gate opening.
func ObserveIncident(cause string) {
	Init()
	incidentsTotal.WithLabelValues(cause).Inc()
}

// ObserveCheckpoint counts one checkpoint attempt; result is "ok", "locked"
// or "error".
func ObserveCheckpoint(result string) {
	Init()
	checkpointsTotal.WithLabelValues(result).Inc()
}

// SetWorkersAlive sets the live worker gauge.
func SetWorkersAlive(n int) {
	Init()
	workersAlive.Set(float64(n))
}

// ObserveFetch records the duration of one fetch.
func ObserveFetch(d time.Duration) {
	Init()
	fetchDurationSeconds.Observe(d.Seconds())
}

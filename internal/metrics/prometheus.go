package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the synchronization engine
type Metrics struct {
	// Run metrics
	SyncsTotal   *prometheus.CounterVec
	SyncDuration *prometheus.HistogramVec

	// Row metrics
	RowsAdded   *prometheus.CounterVec
	RowsDeleted *prometheus.CounterVec

	// Validation metrics
	SchemaMismatches prometheus.Counter
}

// NewMetrics creates and registers Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		SyncsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forklift_syncs_total",
				Help: "Total number of synchronization runs by terminal status",
			},
			[]string{"status"},
		),

		SyncDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forklift_sync_duration_seconds",
				Help:    "Duration of synchronization runs",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"pair"},
		),

		RowsAdded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forklift_rows_added_total",
				Help: "Total number of records inserted into destinations",
			},
			[]string{"pair"},
		),

		RowsDeleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forklift_rows_deleted_total",
				Help: "Total number of records deleted from destinations",
			},
			[]string{"pair"},
		),

		SchemaMismatches: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "forklift_schema_mismatches_total",
				Help: "Total number of runs rejected by schema validation",
			},
		),
	}
}

// Package metrics exposes the change tracking Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsWritten counts persisted change records by entity and modification.
	RecordsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "changetrack_records_written_total",
		Help: "Change records written",
	}, []string{"entity", "modification"})

	// RecordsPurged counts change records removed by the retention policy.
	RecordsPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "changetrack_records_purged_total",
		Help: "Change records purged on delete",
	})

	// TrackingFailures counts abandoned change captures by error kind.
	TrackingFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "changetrack_tracking_failures_total",
		Help: "Change captures abandoned without failing the mutation",
	}, []string{"entity", "kind"})

	// WalkDuration observes the time spent diffing one mutation.
	WalkDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "changetrack_walk_duration_seconds",
		Help:    "Time to diff one mutation across its composition tree",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1},
	}, []string{"entity", "modification"})
)

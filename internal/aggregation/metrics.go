package aggregation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	passesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewtally_aggregation_passes_total",
		Help: "Aggregation passes by outcome and failing stage",
	}, []string{"outcome", "stage"})

	passDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "viewtally_aggregation_pass_duration_seconds",
		Help:    "Wall time of aggregation passes",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
	})

	incrementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "viewtally_increments_total",
		Help: "History records incremented and committed",
	})

	batchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "viewtally_commit_batches_total",
		Help: "Physical batch commits issued by aggregation passes",
	})

	skippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewtally_aggregation_skipped_total",
		Help: "Documents skipped during a pass",
	}, []string{"reason"})
)

package dbqueue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DBQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "newsagg_db_queue_depth",
		Help: "Current number of queued database operations",
	}, []string{"kind"})

	DBQueueOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsagg_db_queue_operations_total",
		Help: "Total number of database operations run through the queue",
	}, []string{"kind", "status"})

	DBQueueWaitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "newsagg_db_queue_wait_seconds",
		Help:    "Time operations spend waiting in the database queue",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	}, []string{"kind"})

	DBQueueConnsAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "newsagg_db_queue_conns_available",
		Help: "Currently available connection slots per queue pool",
	}, []string{"kind"})
)

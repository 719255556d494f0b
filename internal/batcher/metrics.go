package batcher

import "github.com/prometheus/client_golang/prometheus"

var (
	batchRows = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "llmserve",
			Subsystem: "batcher",
			Name:      "batch_rows",
			Help:      "Rows per dispatched batch",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
		},
		[]string{"model"},
	)

	queueDelay = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "llmserve",
			Subsystem: "batcher",
			Name:      "queue_delay_seconds",
			Help:      "Time a request spent queued before dispatch",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		},
		[]string{"model"},
	)

	execDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "llmserve",
			Subsystem: "batcher",
			Name:      "execution_seconds",
			Help:      "Duration of batch execution",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"model", "status"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "llmserve",
			Subsystem: "batcher",
			Name:      "queue_depth",
			Help:      "Requests waiting for a worker",
		},
		[]string{"model"},
	)

	rejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llmserve",
			Subsystem: "batcher",
			Name:      "rejected_total",
			Help:      "Requests rejected before dispatch",
		},
		[]string{"model", "reason"},
	)
)

func init() {
	prometheus.MustRegister(batchRows, queueDelay, execDuration, queueDepth, rejectedTotal)
}

package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for batch execution.
var (
	itemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrapekit_batch_items_total",
		Help: "Total number of items finished by status",
	}, []string{"status"})

	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrapekit_batch_failures_total",
		Help: "Total number of failed items by error kind",
	}, []string{"kind"})

	attemptDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scrapekit_batch_attempt_duration_seconds",
		Help:    "Duration of individual work function calls",
		Buckets: prometheus.DefBuckets,
	})

	inflightItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scrapekit_batch_inflight_items",
		Help: "Number of items currently held by workers",
	})

	checkpointWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrapekit_checkpoint_writes_total",
		Help: "Total number of checkpoint saves by result",
	}, []string{"result"}) // "ok", "error"
)

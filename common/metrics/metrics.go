// Package metrics centralises the prometheus collectors shared across
// clusterlib's components, following the gauge/counter-vector-plus-Once
// registration pattern used by the storage worker's committee node.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	CachedDataPublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clusterlib_cacheddata_publish_total",
			Help: "Cached-data publish attempts, by attribute kind and outcome.",
		},
		[]string{"attribute", "outcome"},
	)

	LockWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clusterlib_lock_wait_seconds",
			Help:    "Time spent waiting to acquire a distributed lock.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "clusterlib_queue_depth",
			Help: "Number of outstanding elements in a durable queue.",
		},
		[]string{"queue"},
	)

	EventDispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clusterlib_eventbus_dispatched_total",
			Help: "User events dispatched, by event type.",
		},
		[]string{"event_type"},
	)

	collectors = []prometheus.Collector{
		CachedDataPublishTotal,
		LockWaitSeconds,
		QueueDepth,
		EventDispatchTotal,
	}

	registerOnce sync.Once
)

// MustRegister registers all clusterlib collectors with the default
// prometheus registry. Safe to call more than once; only the first call
// has effect.
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(collectors...)
	})
}

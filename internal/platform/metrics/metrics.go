package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the intake/review pipeline.
type Metrics struct {
	RequestsReceived     prometheus.Counter
	RequestsDeduplicated prometheus.Counter
	RequestsApproved     prometheus.Counter
	RequestsRejected     prometheus.Counter
	SnapshotsServed      prometheus.Counter
	SnapshotCacheHits    prometheus.Counter
	SnapshotCacheMisses  prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers metrics on a specific registerer so tests can isolate
// registries.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "field_requests_received_total",
			Help: "Field submissions recorded as pending review items.",
		}),
		RequestsDeduplicated: factory.NewCounter(prometheus.CounterOpts{
			Name: "field_requests_deduplicated_total",
			Help: "Resubmissions answered with the existing request row.",
		}),
		RequestsApproved: factory.NewCounter(prometheus.CounterOpts{
			Name: "field_requests_approved_total",
			Help: "Field requests applied to the canonical register.",
		}),
		RequestsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "field_requests_rejected_total",
			Help: "Field requests rejected by a reviewer.",
		}),
		SnapshotsServed: factory.NewCounter(prometheus.CounterOpts{
			Name: "offline_snapshots_served_total",
			Help: "Offline snapshot payloads served to field agents.",
		}),
		SnapshotCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "offline_snapshot_cache_hits_total",
			Help: "Snapshot requests answered from the Redis cache.",
		}),
		SnapshotCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "offline_snapshot_cache_misses_total",
			Help: "Snapshot requests that had to rebuild the payload.",
		}),
	}
}

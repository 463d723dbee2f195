package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the ledger core.
type Metrics struct {
	// --- Command path ---
	CommandsAccepted   *prometheus.CounterVec
	CommandsRejected   *prometheus.CounterVec
	CommandDuration    *prometheus.HistogramVec
	AppendConflicts    prometheus.Counter
	AppendRetries      prometheus.Counter
	EventsAppended     *prometheus.CounterVec
	ReconstructEvents  prometheus.Histogram
	ReconstructDur     prometheus.Histogram

	// --- Snapshots ---
	SnapshotsTaken   prometheus.Counter
	SnapshotFailures prometheus.Counter

	// --- Projections ---
	ProjectionApplied   *prometheus.CounterVec
	ProjectionFailures  *prometheus.CounterVec
	ProjectionPosition  *prometheus.GaugeVec
	ProjectionApplyDur  *prometheus.HistogramVec

	// --- Publisher ---
	PublishDrops    prometheus.Counter
	PublishFailures prometheus.Counter

	// --- Archive ---
	ArchiveEventsCopied prometheus.Counter
	ArchiveErrors       prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005,
		0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
	}

	return &Metrics{
		CommandsAccepted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "amm_commands_accepted_total",
			Help: "Commands that produced committed events",
		}, []string{"command"}),

		CommandsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "amm_commands_rejected_total",
			Help: "Commands rejected by a domain rule or a terminal conflict",
		}, []string{"command", "reason"}),

		CommandDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "amm_command_duration_seconds",
			Help:    "End-to-end command handling duration",
			Buckets: latencyBuckets,
		}, []string{"command"}),

		AppendConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "amm_append_conflicts_total",
			Help: "Optimistic concurrency conflicts observed on append",
		}),

		AppendRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "amm_append_retries_total",
			Help: "Reconstruct+decide retries after a concurrency conflict",
		}),

		EventsAppended: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "amm_events_appended_total",
			Help: "Events appended to the event store",
		}, []string{"event_class"}),

		ReconstructEvents: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "amm_reconstruct_replayed_events",
			Help:    "Events replayed per reconstruction (post-snapshot tail)",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		}),

		ReconstructDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "amm_reconstruct_duration_seconds",
			Help:    "Aggregate reconstruction duration",
			Buckets: latencyBuckets,
		}),

		SnapshotsTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "amm_snapshots_taken_total",
			Help: "Snapshots persisted",
		}),

		SnapshotFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "amm_snapshot_failures_total",
			Help: "Snapshot persistence failures (non-fatal)",
		}),

		ProjectionApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "amm_projection_events_applied_total",
			Help: "Events applied to projections",
		}, []string{"projection", "event_class"}),

		ProjectionFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "amm_projection_failures_total",
			Help: "Projection apply failures (cursor stalls and retries)",
		}, []string{"projection"}),

		ProjectionPosition: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "amm_projection_position",
			Help: "Last applied global event position per projection",
		}, []string{"projection"}),

		ProjectionApplyDur: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "amm_projection_apply_duration_seconds",
			Help:    "Per-event projection apply duration",
			Buckets: latencyBuckets,
		}, []string{"projection"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "amm_publish_drops_total",
			Help: "Outbound events dropped because the publish buffer was full",
		}),

		PublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "amm_publish_failures_total",
			Help: "Outbound publish failures (non-fatal)",
		}),

		ArchiveEventsCopied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "amm_archive_events_copied_total",
			Help: "Events copied to cold storage",
		}),

		ArchiveErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "amm_archive_errors_total",
			Help: "Archival/migration errors",
		}),
	}
}

// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for MessagesProcessed.
const (
	OutcomeProcessed = "processed"
	OutcomeFailed    = "failed"
	OutcomeRetried   = "retried"
)

var (
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loan_messages_processed_total",
			Help: "Queue messages handled by the processor, by outcome",
		},
		[]string{"partition", "outcome"},
	)

	MessagesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loan_messages_failed_total",
			Help: "Queue messages that produced an error record, by error code",
		},
		[]string{"error_code"},
	)

	ProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loan_processing_duration_seconds",
			Help:    "Duration of one decode/validate/enrich/persist pass",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	PersistenceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loan_persistence_failures_total",
			Help: "Record store writes that failed and left the message pending",
		},
		[]string{"entity"},
	)

	CounterStoreFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loan_counter_store_failures_total",
			Help: "Counter store reads or increments that failed",
		},
	)

	FanoutSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fanout_subscribers",
			Help: "Currently connected push subscribers",
		},
	)

	FanoutPushesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_pushes_sent_total",
			Help: "Push messages delivered to subscribers, by message type",
		},
		[]string{"type"},
	)

	FanoutPushesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fanout_pushes_dropped_total",
			Help: "Push messages discarded because a subscriber queue was full",
		},
	)

	FanoutTicksSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fanout_ticks_skipped_total",
			Help: "Metrics ticks skipped because the counter snapshot failed",
		},
	)

	ChangeStreamRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fanout_change_stream_restarts_total",
			Help: "Times the error record change stream was re-subscribed",
		},
	)

	ChangeStreamGaps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fanout_change_stream_gaps_total",
			Help: "Listener reconnects during which error record notifications were lost",
		},
	)

	IntakeRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_requests_total",
			Help: "Loan submissions received, by HTTP status",
		},
		[]string{"status"},
	)
)

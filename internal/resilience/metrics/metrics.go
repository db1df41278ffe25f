package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DecisionsTotal tracks handled failures per capability and kind
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiguard_decisions_total",
			Help: "Total number of failure decisions produced",
		},
		[]string{"capability", "kind"},
	)

	// SuccessesTotal tracks successful capability calls reported to the core
	SuccessesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiguard_successes_total",
			Help: "Total number of capability successes recorded",
		},
		[]string{"capability"},
	)

	// FallbackActive is 1 while a capability is in fallback mode
	FallbackActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aiguard_fallback_active",
			Help: "Whether the capability is in fallback mode (1) or normal (0)",
		},
		[]string{"capability"},
	)

	// FallbackTransitions tracks fallback mode changes
	FallbackTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiguard_fallback_transitions_total",
			Help: "Total number of fallback mode transitions",
		},
		[]string{"capability", "to"},
	)

	// TicketsEnqueued tracks retry tickets created
	TicketsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiguard_retry_tickets_enqueued_total",
			Help: "Total number of retry tickets created",
		},
		[]string{"capability", "kind"},
	)

	// TicketsRejected tracks failures that could not be queued
	TicketsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiguard_retry_tickets_rejected_total",
			Help: "Total number of retry requests rejected",
		},
		[]string{"capability", "reason"},
	)

	// RetryAttempts tracks redelivery outcomes by resulting ticket status
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiguard_retry_attempts_total",
			Help: "Total number of retry attempts by resulting ticket status",
		},
		[]string{"capability", "status"},
	)

	// QueuePending tracks unresolved retry tickets
	QueuePending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aiguard_retry_queue_pending",
			Help: "Number of unresolved retry tickets",
		},
	)

	// SweepDuration tracks how long a queue sweep takes
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aiguard_sweep_duration_seconds",
			Help:    "Retry queue sweep duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ReportsTotal tracks telemetry deliveries by result (delivered, failed, dropped, rejected)
	ReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiguard_reports_total",
			Help: "Total number of error reports by delivery result",
		},
		[]string{"result"},
	)

	// SinkBreakerState tracks the telemetry sink circuit (0 closed, 1 half-open, 2 open)
	SinkBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aiguard_report_sink_breaker_state",
			Help: "Telemetry sink circuit breaker state",
		},
	)

	// DBConnectionPoolUsage tracks the percentage of open database connections
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aiguard_db_connection_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)

	// InvokeLatency tracks capability redelivery latency
	InvokeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aiguard_invoke_latency_seconds",
			Help:    "Capability redelivery latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"capability"},
	)
)

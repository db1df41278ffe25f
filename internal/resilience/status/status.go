// Package status aggregates capability health, retry backlog and telemetry
// delivery state, and serves it over HTTP and the gRPC health protocol.
package status

import (
	"time"

	"github.com/vietddude/aiguard/internal/core/domain"
)

// SystemStatus represents the overall health state of the service or a capability.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// CapabilityStatus contains health metrics for a single AI capability.
type CapabilityStatus struct {
	Capability          domain.Capability `json:"capability"`
	Status              SystemStatus      `json:"status"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	FallbackActive      bool              `json:"fallback_active"`
	UpdatedAt           time.Time         `json:"updated_at"`
	InvokeRequests      int               `json:"invoke_requests,omitempty"`
	InvokeFailures      int               `json:"invoke_failures,omitempty"`
	InvokeErrorRate     float64           `json:"invoke_error_rate,omitempty"`
}

// Report contains the full service health report.
type Report struct {
	SystemStatus   SystemStatus                           `json:"system_status"`
	PendingRetries int                                    `json:"pending_retries"`
	ReporterState  string                                 `json:"reporter_state"`
	Capabilities   map[domain.Capability]CapabilityStatus `json:"capabilities"`
	CheckedAt      time.Time                              `json:"checked_at"`
}

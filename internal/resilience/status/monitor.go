package status

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/vietddude/aiguard/internal/core/domain"
	"github.com/vietddude/aiguard/internal/infra/invoker"
)

// DefaultCacheTTL bounds how often the backlog store is queried.
const DefaultCacheTTL = 10 * time.Second

// HealthSource exposes capability health and the retry backlog.
type HealthSource interface {
	Health() []domain.CapabilityHealth
	PendingRetries(ctx context.Context) (int, error)
}

// BreakerSource exposes the telemetry sink circuit state.
type BreakerSource interface {
	BreakerState() gobreaker.State
}

// StatsSource exposes per-capability invoker statistics.
type StatsSource interface {
	Stats() map[domain.Capability]invoker.Stats
}

// Thresholds above which the backlog degrades overall status.
type Thresholds struct {
	DegradedBacklog int
	CriticalBacklog int
}

// Monitor aggregates health status from the resilience components.
type Monitor struct {
	source     HealthSource
	breaker    BreakerSource
	stats      StatsSource
	thresholds Thresholds
	ttl        time.Duration
	now        func() time.Time

	lastCheck  time.Time
	lastReport *Report
	mu         sync.Mutex
}

// NewMonitor creates a new status monitor. breaker and stats may be nil.
func NewMonitor(source HealthSource, breaker BreakerSource, stats StatsSource) *Monitor {
	return &Monitor{
		source:  source,
		breaker: breaker,
		stats:   stats,
		thresholds: Thresholds{
			DegradedBacklog: 100,
			CriticalBacklog: 1000,
		},
		ttl: DefaultCacheTTL,
		now: time.Now,
	}
}

// SetThresholds overrides the backlog thresholds.
func (m *Monitor) SetThresholds(t Thresholds) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds = t
}

// SetCacheTTL changes how long a report is reused. Zero disables caching.
func (m *Monitor) SetCacheTTL(ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ttl = ttl
}

// CheckHealth builds the current report.
func (m *Monitor) CheckHealth(ctx context.Context) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.lastReport != nil && now.Sub(m.lastCheck) < m.ttl {
		return *m.lastReport
	}

	report := Report{
		SystemStatus: StatusHealthy,
		Capabilities: make(map[domain.Capability]CapabilityStatus),
		CheckedAt:    now,
	}

	var stats map[domain.Capability]invoker.Stats
	if m.stats != nil {
		stats = m.stats.Stats()
	}

	for _, h := range m.source.Health() {
		cs := CapabilityStatus{
			Capability:          h.Capability,
			Status:              StatusHealthy,
			ConsecutiveFailures: h.ConsecutiveFailures,
			FallbackActive:      h.FallbackActive,
			UpdatedAt:           h.UpdatedAt,
		}
		if s, ok := stats[h.Capability]; ok {
			cs.InvokeRequests = s.Requests
			cs.InvokeFailures = s.Failures
			cs.InvokeErrorRate = s.ErrorRate
		}

		if h.FallbackActive {
			cs.Status = StatusCritical
		} else if h.ConsecutiveFailures > 0 {
			cs.Status = StatusDegraded
		}
		report.Capabilities[h.Capability] = cs
		// A capability in fallback still serves users, so the service is only degraded
		if cs.Status != StatusHealthy {
			report.SystemStatus = worst(report.SystemStatus, StatusDegraded)
		}
	}

	pending, err := m.source.PendingRetries(ctx)
	if err != nil {
		// Store unreachable: retries cannot progress
		slog.Warn("Failed to count pending retries", "error", err)
		report.SystemStatus = worst(report.SystemStatus, StatusDegraded)
	}
	report.PendingRetries = pending

	if pending >= m.thresholds.CriticalBacklog && m.thresholds.CriticalBacklog > 0 {
		report.SystemStatus = StatusCritical
	} else if pending >= m.thresholds.DegradedBacklog && m.thresholds.DegradedBacklog > 0 {
		report.SystemStatus = worst(report.SystemStatus, StatusDegraded)
	}

	if m.breaker != nil {
		state := m.breaker.BreakerState()
		report.ReporterState = state.String()
		if state == gobreaker.StateOpen {
			report.SystemStatus = worst(report.SystemStatus, StatusDegraded)
		}
	}

	m.lastCheck = now
	m.lastReport = &report
	return report
}

// worst returns the more severe of two statuses.
func worst(a, b SystemStatus) SystemStatus {
	if severity(b) > severity(a) {
		return b
	}
	return a
}

func severity(s SystemStatus) int {
	switch s {
	case StatusCritical:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

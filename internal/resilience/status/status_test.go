package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vietddude/aiguard/internal/core/domain"
	"github.com/vietddude/aiguard/internal/infra/invoker"
	"github.com/vietddude/aiguard/internal/resilience/health"
)

// =============================================================================
// Mocks
// =============================================================================

type stubSource struct {
	states  []domain.CapabilityHealth
	pending int
	err     error
	calls   int
}

func (s *stubSource) Health() []domain.CapabilityHealth { return s.states }
func (s *stubSource) PendingRetries(ctx context.Context) (int, error) {
	s.calls++
	return s.pending, s.err
}

type stubBreaker struct{ state gobreaker.State }

func (s stubBreaker) BreakerState() gobreaker.State { return s.state }

type stubStats map[domain.Capability]invoker.Stats

func (s stubStats) Stats() map[domain.Capability]invoker.Stats { return s }

func newTestMonitor(src *stubSource, br BreakerSource) *Monitor {
	m := NewMonitor(src, br, nil)
	m.SetCacheTTL(0)
	return m
}

// =============================================================================
// Monitor
// =============================================================================

func TestMonitor_Statuses(t *testing.T) {
	tests := []struct {
		name    string
		src     *stubSource
		breaker BreakerSource
		want    SystemStatus
	}{
		{
			name: "all healthy",
			src: &stubSource{states: []domain.CapabilityHealth{
				{Capability: domain.CapabilitySmartSearch},
			}},
			breaker: stubBreaker{gobreaker.StateClosed},
			want:    StatusHealthy,
		},
		{
			name: "failure streak degrades",
			src: &stubSource{states: []domain.CapabilityHealth{
				{Capability: domain.CapabilitySmartSearch, ConsecutiveFailures: 1},
			}},
			want: StatusDegraded,
		},
		{
			name: "fallback degrades service",
			src: &stubSource{states: []domain.CapabilityHealth{
				{Capability: domain.CapabilitySmartSearch, ConsecutiveFailures: 3, FallbackActive: true},
			}},
			want: StatusDegraded,
		},
		{
			name: "large backlog is critical",
			src:  &stubSource{pending: 1000},
			want: StatusCritical,
		},
		{
			name: "backlog degrades",
			src:  &stubSource{pending: 150},
			want: StatusDegraded,
		},
		{
			name: "store error degrades",
			src:  &stubSource{err: errors.New("connection refused")},
			want: StatusDegraded,
		},
		{
			name:    "open sink breaker degrades",
			src:     &stubSource{},
			breaker: stubBreaker{gobreaker.StateOpen},
			want:    StatusDegraded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := newTestMonitor(tt.src, tt.breaker).CheckHealth(context.Background())
			if report.SystemStatus != tt.want {
				t.Errorf("expected %s, got %s", tt.want, report.SystemStatus)
			}
		})
	}
}

func TestMonitor_CapabilityDetail(t *testing.T) {
	src := &stubSource{states: []domain.CapabilityHealth{
		{Capability: domain.CapabilityThreadSummary, ConsecutiveFailures: 4, FallbackActive: true},
	}}
	m := NewMonitor(src, stubBreaker{gobreaker.StateHalfOpen}, stubStats{
		domain.CapabilityThreadSummary: {Requests: 10, Failures: 4, ErrorRate: 0.4},
	})

	report := m.CheckHealth(context.Background())
	cs := report.Capabilities[domain.CapabilityThreadSummary]
	if cs.Status != StatusCritical || !cs.FallbackActive {
		t.Errorf("capability in fallback should be critical: %+v", cs)
	}
	if cs.InvokeRequests != 10 || cs.InvokeFailures != 4 {
		t.Errorf("invoker stats not merged: %+v", cs)
	}
	if report.ReporterState != "half-open" {
		t.Errorf("unexpected reporter state %q", report.ReporterState)
	}
}

func TestMonitor_CachesReport(t *testing.T) {
	src := &stubSource{}
	m := NewMonitor(src, nil, nil)
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.CheckHealth(context.Background())
	m.CheckHealth(context.Background())
	if src.calls != 1 {
		t.Errorf("expected cached report, store queried %d times", src.calls)
	}

	now = now.Add(DefaultCacheTTL)
	m.CheckHealth(context.Background())
	if src.calls != 2 {
		t.Errorf("expected refresh after ttl, store queried %d times", src.calls)
	}
}

// =============================================================================
// HTTP
// =============================================================================

func TestServer_Health(t *testing.T) {
	src := &stubSource{pending: 3}
	srv := NewServer(newTestMonitor(src, nil), 0)
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body["status"] != string(StatusHealthy) || body["pending_retries"] != float64(3) {
		t.Errorf("unexpected body %v", body)
	}

	src.pending = 5000
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 for critical backlog, got %d", rec.Code)
	}
}

func TestServer_Detailed(t *testing.T) {
	src := &stubSource{states: []domain.CapabilityHealth{
		{Capability: domain.CapabilityCategorization, FallbackActive: true},
	}}
	h := NewServer(newTestMonitor(src, nil), 0).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))

	var report Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if !report.Capabilities[domain.CapabilityCategorization].FallbackActive {
		t.Errorf("fallback state missing from detail: %+v", report)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("metrics endpoint returned %d", rec.Code)
	}
}

// =============================================================================
// gRPC health
// =============================================================================

func servingStatus(t *testing.T, g *GRPCHealth, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := g.HealthServer().Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%s) failed: %v", service, err)
	}
	return resp.Status
}

func TestGRPCHealth_FollowsFallback(t *testing.T) {
	tracker := health.NewTracker(2)
	g := NewGRPCHealth(0, []domain.CapabilityHealth{
		{Capability: domain.CapabilityScheduling, FallbackActive: true},
	})
	g.Watch(tracker)

	if got := servingStatus(t, g, ServiceName); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("service should be serving, got %s", got)
	}
	if got := servingStatus(t, g, ServiceFor(domain.CapabilityScheduling)); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("restored fallback should be NOT_SERVING, got %s", got)
	}

	tracker.RecordFailure(domain.CapabilitySmartSearch)
	tracker.RecordFailure(domain.CapabilitySmartSearch)
	if got := servingStatus(t, g, ServiceFor(domain.CapabilitySmartSearch)); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("expected NOT_SERVING after threshold, got %s", got)
	}

	tracker.RecordSuccess(domain.CapabilitySmartSearch)
	if got := servingStatus(t, g, ServiceFor(domain.CapabilitySmartSearch)); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("expected SERVING after recovery, got %s", got)
	}

	g.Stop()
	if got := servingStatus(t, g, ServiceName); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("expected NOT_SERVING after stop, got %s", got)
	}
}

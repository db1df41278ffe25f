package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/aiguard/internal/core/domain"
)

func TestSweeper_RunOnceCallsHook(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	_, _ = env.orch.QueueForRetry(ctx, context.DeadlineExceeded, failure(domain.CapabilitySmartSearch, "r1", 0))

	// Sweeper uses the orchestrator clock, so move it past the ticket
	env.orch.now = func() time.Time { return env.now.Add(time.Hour) }

	inv := &mockInvoker{}
	s := NewSweeper(env.orch, inv, 0)
	var got *SweepSummary
	s.OnTick = func(ctx context.Context, summary SweepSummary) {
		got = &summary
	}

	summary := s.RunOnce(ctx)
	if summary.Succeeded != 1 || inv.count() != 1 {
		t.Errorf("unexpected sweep %+v with %d calls", summary, inv.count())
	}
	if got == nil || got.Processed != 1 {
		t.Errorf("OnTick not called with summary: %+v", got)
	}
	if s.interval != DefaultSweepInterval {
		t.Errorf("expected default interval, got %v", s.interval)
	}
}

func TestSweeper_StartStopsOnCancel(t *testing.T) {
	env := newTestEnv(t, nil)
	s := NewSweeper(env.orch, &mockInvoker{}, 10*time.Millisecond)

	ticks := make(chan struct{}, 16)
	s.OnTick = func(ctx context.Context, summary SweepSummary) {
		select {
		case ticks <- struct{}{}:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-ticks:
		case <-time.After(time.Second):
			t.Fatal("sweeper did not tick")
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

package orchestrator

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often due tickets are redelivered.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper periodically runs ProcessQueue off the request path.
type Sweeper struct {
	orch     *Orchestrator
	invoker  CapabilityInvoker
	interval time.Duration

	// OnTick runs after every sweep, e.g. to persist health.
	OnTick func(ctx context.Context, summary SweepSummary)
}

// NewSweeper creates a sweeper. A non-positive interval uses the default.
func NewSweeper(orch *Orchestrator, invoker CapabilityInvoker, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		orch:     orch,
		invoker:  invoker,
		interval: interval,
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Initial sweep picks up tickets left over from the previous run
	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep at the orchestrator's current time.
func (s *Sweeper) RunOnce(ctx context.Context) SweepSummary {
	summary, err := s.orch.ProcessQueue(ctx, s.orch.now(), s.invoker)
	if err != nil {
		slog.Error("[Sweeper] retry sweep failed", "error", err)
	}
	if summary.Processed > 0 {
		slog.Info("[Sweeper] retry sweep finished",
			"processed", summary.Processed,
			"succeeded", summary.Succeeded,
			"failed", summary.Failed,
			"exhausted", summary.Exhausted,
		)
	}
	if s.OnTick != nil {
		s.OnTick(ctx, summary)
	}
	return summary
}

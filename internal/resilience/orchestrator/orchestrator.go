// Package orchestrator is the entry point callers use when an AI capability
// fails or succeeds. It owns the health tracker and the retry queue.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/aiguard/internal/core/domain"
	"github.com/vietddude/aiguard/internal/resilience/backoff"
	"github.com/vietddude/aiguard/internal/resilience/classify"
	"github.com/vietddude/aiguard/internal/resilience/health"
	"github.com/vietddude/aiguard/internal/resilience/metrics"
	"github.com/vietddude/aiguard/internal/resilience/queue"
)

const (
	DefaultInvokeTimeout    = 10 * time.Second
	DefaultSweepConcurrency = 4

	autoQueueTimeout = 5 * time.Second
)

// CapabilityInvoker re-runs a capability call for a retry ticket.
type CapabilityInvoker interface {
	Invoke(ctx context.Context, capability domain.Capability, inv domain.Invocation) error
}

// InvokerFunc adapts a function to CapabilityInvoker.
type InvokerFunc func(ctx context.Context, capability domain.Capability, inv domain.Invocation) error

func (f InvokerFunc) Invoke(ctx context.Context, capability domain.Capability, inv domain.Invocation) error {
	return f(ctx, capability, inv)
}

// Reporter receives failures for telemetry. Report must not block.
type Reporter interface {
	Report(fc domain.FailureContext, kind domain.ErrorKind)
}

// Options configures an Orchestrator. Tracker and Queue are required.
type Options struct {
	Tracker  *health.Tracker
	Queue    *queue.Queue
	Reporter Reporter
	Backoff  backoff.Calculator

	// Fallbacks overrides DefaultFallbacks per capability.
	Fallbacks map[domain.Capability]domain.FallbackTag

	// AutoQueue makes Handle enqueue eligible failures in the background.
	AutoQueue bool

	// CountNonRetryable makes non-retryable kinds count toward fallback mode.
	// Nil means true.
	CountNonRetryable *bool

	InvokeTimeout    time.Duration
	SweepConcurrency int

	Logger *slog.Logger
	Now    func() time.Time
}

// SweepSummary counts the outcomes of one ProcessQueue pass.
type SweepSummary struct {
	Processed int
	Succeeded int
	Failed    int
	Exhausted int
}

// Orchestrator turns failures into Decisions and drives retry redelivery.
type Orchestrator struct {
	tracker   *health.Tracker
	queue     *queue.Queue
	reporter  Reporter
	backoff   backoff.Calculator
	fallbacks map[domain.Capability]domain.FallbackTag

	autoQueue         bool
	countNonRetryable bool
	invokeTimeout     time.Duration
	concurrency       int

	log *slog.Logger
	now func() time.Time

	background   sync.WaitGroup
	unsubMetrics func()
}

// New wires an orchestrator from opts.
func New(opts Options) (*Orchestrator, error) {
	if opts.Tracker == nil {
		return nil, errors.New("orchestrator: tracker is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("orchestrator: queue is required")
	}

	o := &Orchestrator{
		tracker:           opts.Tracker,
		queue:             opts.Queue,
		reporter:          opts.Reporter,
		backoff:           opts.Backoff,
		fallbacks:         mergeFallbacks(opts.Fallbacks),
		autoQueue:         opts.AutoQueue,
		countNonRetryable: opts.CountNonRetryable == nil || *opts.CountNonRetryable,
		invokeTimeout:     opts.InvokeTimeout,
		concurrency:       opts.SweepConcurrency,
		log:               opts.Logger,
		now:               opts.Now,
	}
	if o.backoff.Cap <= 0 {
		o.backoff = backoff.Default()
	}
	if o.invokeTimeout <= 0 {
		o.invokeTimeout = DefaultInvokeTimeout
	}
	if o.concurrency <= 0 {
		o.concurrency = DefaultSweepConcurrency
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	o.log = o.log.With("component", "orchestrator")
	if o.now == nil {
		o.now = time.Now
	}

	o.unsubMetrics = o.tracker.Subscribe(o.observeFallback)
	return o, nil
}

func (o *Orchestrator) observeFallback(ev domain.FallbackEvent) {
	to, gauge := string(health.StateNormal), 0.0
	if ev.Active {
		to, gauge = string(health.StateFallback), 1
	}
	metrics.FallbackActive.WithLabelValues(string(ev.Capability)).Set(gauge)
	metrics.FallbackTransitions.WithLabelValues(string(ev.Capability), to).Inc()
	o.log.Info("Fallback mode changed", "capability", ev.Capability, "active", ev.Active)
}

// Close waits for background enqueues started by Handle and detaches listeners.
func (o *Orchestrator) Close() {
	o.background.Wait()
	if o.unsubMetrics != nil {
		o.unsubMetrics()
	}
}

// Handle classifies a failure, updates capability health and returns the
// Decision for the caller. It never panics and never waits on I/O.
func (o *Orchestrator) Handle(err error, fc domain.FailureContext) (d domain.Decision) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("Recovered while handling failure", "capability", fc.Capability, "panic", r)
			d = o.decide(classify.ClassifyKind(domain.ErrorKindUnknown), fc, false)
		}
	}()

	if fc.OccurredAt.IsZero() {
		fc.OccurredAt = o.now()
	}

	c := classify.Classify(err)
	var inFallback bool
	if c.Retryable || o.countNonRetryable {
		// Use the state produced by this failure, not a later read
		inFallback = o.tracker.RecordFailure(fc.Capability).FallbackActive
	} else {
		inFallback = o.tracker.IsInFallback(fc.Capability)
	}
	metrics.DecisionsTotal.WithLabelValues(string(fc.Capability), string(c.Kind)).Inc()

	d = o.decide(c, fc, inFallback)

	if o.reporter != nil {
		o.reporter.Report(fc, c.Kind)
	}
	if o.autoQueue && d.ShouldRetry {
		o.enqueueInBackground(fc, c.Kind)
	}

	o.log.Debug("Handled capability failure",
		"capability", fc.Capability,
		"request_id", fc.RequestID,
		"kind", c.Kind,
		"should_retry", d.ShouldRetry,
		"fallback", d.FallbackActive,
	)
	return d
}

func (o *Orchestrator) decide(c classify.Classification, fc domain.FailureContext, inFallback bool) domain.Decision {
	d := domain.Decision{
		Kind:             c.Kind,
		UserMessageKey:   domain.MessageKey(c.Kind),
		FallbackActive:   inFallback,
		PrimaryActionKey: domain.ActionDismiss,
	}

	// A request that used every attempt is surfaced as final
	if c.Retryable && fc.AttemptCount < o.queue.MaxAttempts() {
		d.ShouldRetry = true
		d.RetryDelay = o.backoff.Delay(c.BaseDelay, fc.AttemptCount)
		d.PrimaryActionKey = domain.ActionRetry
	}
	if inFallback {
		d.UserMessageKey = domain.MessageKeyFallbackActive
	}
	if tag, ok := o.FallbackOptionFor(fc.Capability); ok && (inFallback || !d.ShouldRetry) {
		d.FallbackTag = tag
		d.SecondaryActionKey = domain.ActionUseFallback
	}
	return d
}

func (o *Orchestrator) enqueueInBackground(fc domain.FailureContext, kind domain.ErrorKind) {
	o.background.Add(1)
	go func() {
		defer o.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), autoQueueTimeout)
		defer cancel()
		if _, err := o.queue.Enqueue(ctx, fc, kind); err != nil {
			o.log.Warn("Auto-queue failed", "request_id", fc.RequestID, "error", err)
		}
	}()
}

// QueueForRetry classifies err and enqueues a ticket. Ineligible failures are
// returned as *queue.RejectionError so the caller can offer a fallback.
func (o *Orchestrator) QueueForRetry(ctx context.Context, err error, fc domain.FailureContext) (string, error) {
	c := classify.Classify(err)
	ticket, qerr := o.queue.Enqueue(ctx, fc, c.Kind)
	if qerr != nil {
		return "", qerr
	}
	return ticket.ID, nil
}

// RecordSuccess must be called after every successful capability call.
func (o *Orchestrator) RecordSuccess(capability domain.Capability) {
	o.tracker.RecordSuccess(capability)
	metrics.SuccessesTotal.WithLabelValues(string(capability)).Inc()
}

// FallbackOptionFor returns the degraded affordance for a capability, if any.
func (o *Orchestrator) FallbackOptionFor(capability domain.Capability) (domain.FallbackTag, bool) {
	tag, ok := o.fallbacks[capability]
	return tag, ok
}

// IsInFallback reports whether the capability is in fallback mode.
func (o *Orchestrator) IsInFallback(capability domain.Capability) bool {
	return o.tracker.IsInFallback(capability)
}

// Subscribe registers a fallback state listener.
func (o *Orchestrator) Subscribe(fn health.Listener) (unsubscribe func()) {
	return o.tracker.Subscribe(fn)
}

// Health returns a snapshot of every tracked capability.
func (o *Orchestrator) Health() []domain.CapabilityHealth {
	return o.tracker.Snapshot()
}

// CancelRetry resolves a pending ticket without redelivering it.
func (o *Orchestrator) CancelRetry(ctx context.Context, requestID string) error {
	_, err := o.queue.Cancel(ctx, requestID)
	return err
}

// PendingRetries returns the number of unresolved tickets.
func (o *Orchestrator) PendingRetries(ctx context.Context) (int, error) {
	return o.queue.PendingCount(ctx)
}

// ProcessQueue redelivers every ticket due at now through invoker. Invocation
// failures are outcomes, not errors; the returned error reports storage problems.
func (o *Orchestrator) ProcessQueue(ctx context.Context, now time.Time, invoker CapabilityInvoker) (SweepSummary, error) {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	tickets, err := o.queue.DueTickets(ctx, now)
	if err != nil {
		return SweepSummary{}, err
	}

	var (
		mu      sync.Mutex
		summary SweepSummary
	)
	g := new(errgroup.Group)
	g.SetLimit(o.concurrency)

	for _, t := range tickets {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			status, err := o.redeliver(ctx, t, invoker)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			summary.Processed++
			switch status {
			case domain.TicketStatusSucceeded:
				summary.Succeeded++
			case domain.TicketStatusExhausted:
				summary.Failed++
				summary.Exhausted++
			case domain.TicketStatusPending:
				summary.Failed++
			}
			return nil
		})
	}

	err = g.Wait()
	if _, cerr := o.queue.PendingCount(ctx); cerr != nil && err == nil {
		err = cerr
	}
	return summary, err
}

// redeliver runs one attempt and returns the resulting ticket status.
func (o *Orchestrator) redeliver(ctx context.Context, t *domain.RetryTicket, invoker CapabilityInvoker) (domain.TicketStatus, error) {
	invokeCtx, cancel := context.WithTimeout(ctx, o.invokeTimeout)
	invokeErr := invoker.Invoke(invokeCtx, t.Capability, t.Invocation())
	cancel()

	updated, err := o.queue.RecordAttemptOutcome(ctx, t.ID, invokeErr == nil)
	if errors.Is(err, queue.ErrTicketResolved) {
		// Cancelled while in flight
		return domain.TicketStatusCancelled, nil
	}
	if err != nil {
		return "", fmt.Errorf("record outcome for %s: %w", t.ID, err)
	}

	if invokeErr == nil {
		o.RecordSuccess(t.Capability)
		return updated.Status, nil
	}

	kind := classify.Classify(invokeErr).Kind
	if o.reporter != nil {
		o.reporter.Report(domain.FailureContext{
			Capability:   t.Capability,
			RequestID:    t.ID,
			UserID:       t.UserID,
			AttemptCount: updated.AttemptCount,
			OccurredAt:   o.now(),
		}, kind)
	}
	o.log.Debug("Redelivery failed",
		"request_id", t.ID,
		"capability", t.Capability,
		"kind", kind,
		"attempt", updated.AttemptCount,
		"status", updated.Status,
	)
	return updated.Status, nil
}

// Package report delivers privacy-preserving failure telemetry off the caller's path.
package report

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/vietddude/aiguard/internal/core/domain"
	"github.com/vietddude/aiguard/internal/resilience/metrics"
)

const (
	DefaultQueueSize       = 256
	DefaultWorkers         = 1
	DefaultMaxRetries      = 3
	DefaultRetryBase       = 100 * time.Millisecond
	DefaultDeliveryTimeout = 5 * time.Second
)

// Sink receives telemetry records. Implementations may fail; the reporter
// logs and swallows their errors.
type Sink interface {
	Record(ctx context.Context, rec domain.ErrorRecord) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rec domain.ErrorRecord) error

func (f SinkFunc) Record(ctx context.Context, rec domain.ErrorRecord) error {
	return f(ctx, rec)
}

// BreakerConfig controls the circuit around the sink.
type BreakerConfig struct {
	FailureThreshold uint32        // consecutive failures that open the circuit
	Timeout          time.Duration // open -> half-open
	MaxRequests      uint32        // probes allowed while half-open
}

// Config holds reporter settings. Zero values use the defaults.
type Config struct {
	QueueSize       int
	Workers         int
	MaxRetries      uint64
	RetryBase       time.Duration
	DeliveryTimeout time.Duration
	HashSalt        string
	Breaker         BreakerConfig
}

func (c *Config) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.RetryBase <= 0 {
		c.RetryBase = DefaultRetryBase
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.Timeout <= 0 {
		c.Breaker.Timeout = 30 * time.Second
	}
	if c.Breaker.MaxRequests == 0 {
		c.Breaker.MaxRequests = 1
	}
}

// Reporter is a bounded fire-and-forget work queue in front of a Sink.
type Reporter struct {
	sink    Sink
	cfg     Config
	breaker *gobreaker.CircuitBreaker[struct{}]
	log     *slog.Logger
	now     func() time.Time

	mu      sync.RWMutex
	ch      chan domain.ErrorRecord
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// New creates a reporter. Call Start to begin delivery.
func New(sink Sink, cfg Config) *Reporter {
	cfg.applyDefaults()
	r := &Reporter{
		sink: sink,
		cfg:  cfg,
		log:  slog.Default().With("component", "reporter"),
		now:  time.Now,
		ch:   make(chan domain.ErrorRecord, cfg.QueueSize),
	}

	metrics.SinkBreakerState.Set(0)
	r.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "telemetry-sink",
		MaxRequests: cfg.Breaker.MaxRequests,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.log.Warn("Telemetry sink circuit changed", "from", from.String(), "to", to.String())
			metrics.SinkBreakerState.Set(breakerStateValue(to))
		},
	})
	return r
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Start launches the delivery workers. They stop after Close drains the queue.
func (r *Reporter) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.closed {
		return
	}
	r.started = true
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
}

// Close stops accepting records and waits for queued ones to be delivered.
// Records queued on a reporter that was never started are delivered inline.
func (r *Reporter) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.ch)
	started := r.started
	r.mu.Unlock()

	if started {
		r.wg.Wait()
		return
	}
	// No workers ever ran: deliver what was queued before returning
	for rec := range r.ch {
		r.deliver(context.Background(), rec)
	}
}

// Report builds a hashed record for the failure and queues it. It never blocks:
// when the queue is full or closed the record is dropped.
func (r *Reporter) Report(fc domain.FailureContext, kind domain.ErrorKind) {
	r.Enqueue(r.Build(fc, kind))
}

// Build converts a failure into a telemetry record. Raw identifiers and query
// text are hashed with the configured salt.
func (r *Reporter) Build(fc domain.FailureContext, kind domain.ErrorKind) domain.ErrorRecord {
	ts := fc.OccurredAt
	if ts.IsZero() {
		ts = r.now()
	}
	rec := domain.ErrorRecord{
		ID:           uuid.NewString(),
		Capability:   fc.Capability,
		Kind:         kind,
		HashedUserID: Hash(r.cfg.HashSalt, fc.UserID),
		RequestID:    fc.RequestID,
		AttemptCount: fc.AttemptCount,
		Timestamp:    ts.UTC(),
	}
	if fc.Query != "" {
		hq := Hash(r.cfg.HashSalt, fc.Query)
		rec.HashedQuery = &hq
	}
	return rec
}

// Enqueue queues a prepared record without blocking.
func (r *Reporter) Enqueue(rec domain.ErrorRecord) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		metrics.ReportsTotal.WithLabelValues("dropped").Inc()
		return
	}
	select {
	case r.ch <- rec:
	default:
		metrics.ReportsTotal.WithLabelValues("dropped").Inc()
		r.log.Debug("Report queue full, dropping record", "capability", rec.Capability, "kind", rec.Kind)
	}
}

func (r *Reporter) worker(ctx context.Context) {
	defer r.wg.Done()
	for rec := range r.ch {
		r.deliver(ctx, rec)
	}
}

func (r *Reporter) deliver(ctx context.Context, rec domain.ErrorRecord) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.DeliveryTimeout)
	defer cancel()

	b := retry.WithMaxRetries(r.cfg.MaxRetries, retry.NewExponential(r.cfg.RetryBase))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		_, err := r.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, r.sink.Record(ctx, rec)
		})
		if err == nil {
			return nil
		}
		// An open circuit will not close within our retry window
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return err
		}
		return retry.RetryableError(err)
	})

	switch {
	case err == nil:
		metrics.ReportsTotal.WithLabelValues("delivered").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.ReportsTotal.WithLabelValues("rejected").Inc()
		r.log.Debug("Telemetry sink circuit open, record discarded", "request_id", rec.RequestID)
	default:
		metrics.ReportsTotal.WithLabelValues("failed").Inc()
		r.log.Warn("Failed to deliver error report",
			"capability", rec.Capability,
			"kind", rec.Kind,
			"error", err,
		)
	}
}

// BreakerState returns the current sink circuit state.
func (r *Reporter) BreakerState() gobreaker.State {
	return r.breaker.State()
}

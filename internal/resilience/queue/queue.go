// Package queue owns retry tickets: admission, due-ticket sweeps and outcome recording.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/aiguard/internal/core/domain"
	"github.com/vietddude/aiguard/internal/infra/storage"
	"github.com/vietddude/aiguard/internal/resilience/backoff"
	"github.com/vietddude/aiguard/internal/resilience/metrics"
)

const (
	// DefaultMaxAttempts bounds how many times a ticket may fail before it is terminal.
	DefaultMaxAttempts = 4

	// DefaultBatchSize bounds one sweep.
	DefaultBatchSize = 50
)

var (
	// ErrNotRetryable is returned when enqueueing a kind that is never retried.
	ErrNotRetryable = errors.New("error kind is not retryable")

	// ErrAttemptLimit is returned when the request already used every attempt.
	ErrAttemptLimit = errors.New("attempt limit reached")

	// ErrTicketResolved is returned when mutating a ticket that reached a terminal status.
	ErrTicketResolved = errors.New("ticket already resolved")
)

// RejectionError explains why a failure could not be queued.
type RejectionError struct {
	RequestID    string
	Kind         domain.ErrorKind
	AttemptCount int
	Reason       error
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("retry rejected for request %s (%s, attempt %d): %v",
		e.RequestID, e.Kind, e.AttemptCount, e.Reason)
}

func (e *RejectionError) Unwrap() error {
	return e.Reason
}

// Config holds queue limits.
type Config struct {
	MaxAttempts int
	BatchSize   int
	Backoff     backoff.Calculator
}

// Queue is the only writer of retry tickets. Every mutation runs under one mutex.
type Queue struct {
	repo storage.TicketRepository
	cfg  Config
	now  func() time.Time
	log  *slog.Logger

	mu sync.Mutex
}

// New creates a queue over repo. Zero config values use the defaults.
func New(repo storage.TicketRepository, cfg Config) *Queue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Backoff.Cap <= 0 {
		cfg.Backoff = backoff.Default()
	}
	return &Queue{
		repo: repo,
		cfg:  cfg,
		now:  time.Now,
		log:  slog.Default().With("component", "retry_queue"),
	}
}

// SetClock overrides the time source (tests).
func (q *Queue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

// MaxAttempts returns the configured attempt limit.
func (q *Queue) MaxAttempts() int {
	return q.cfg.MaxAttempts
}

// Enqueue creates a ticket for a retryable failure. Ineligible failures are
// rejected with a *RejectionError, never dropped. A pending ticket for the same
// request id is returned as-is.
func (q *Queue) Enqueue(
	ctx context.Context,
	fc domain.FailureContext,
	kind domain.ErrorKind,
) (*domain.RetryTicket, error) {
	if !kind.Retryable() {
		return nil, q.reject(fc, kind, ErrNotRetryable)
	}
	if fc.AttemptCount >= q.cfg.MaxAttempts {
		return nil, q.reject(fc, kind, ErrAttemptLimit)
	}
	if fc.RequestID == "" {
		return nil, fmt.Errorf("enqueue: empty request id")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	existing, err := q.repo.Get(ctx, fc.RequestID)
	switch {
	case err == nil && existing.Resolved():
		return nil, fmt.Errorf("enqueue %s: %w", fc.RequestID, ErrTicketResolved)
	case err == nil:
		return existing, nil
	case !errors.Is(err, storage.ErrTicketNotFound):
		return nil, fmt.Errorf("failed to look up ticket: %w", err)
	}

	now := q.now()
	attempt := max(fc.AttemptCount, 0)
	ticket := &domain.RetryTicket{
		ID:            fc.RequestID,
		Capability:    fc.Capability,
		Kind:          kind,
		AttemptCount:  attempt,
		NextAttemptAt: now.Add(q.cfg.Backoff.Delay(kind.BaseDelay(), attempt)),
		CreatedAt:     now,
		Status:        domain.TicketStatusPending,
		UserID:        fc.UserID,
		Refs:          fc.Refs,
	}
	if err := q.repo.Create(ctx, ticket); err != nil {
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}

	metrics.TicketsEnqueued.WithLabelValues(string(fc.Capability), string(kind)).Inc()
	q.log.Debug("Ticket enqueued",
		"request_id", ticket.ID,
		"capability", ticket.Capability,
		"kind", kind,
		"next_attempt_at", ticket.NextAttemptAt,
	)
	return ticket.Clone(), nil
}

func (q *Queue) reject(fc domain.FailureContext, kind domain.ErrorKind, reason error) error {
	label := "not_retryable"
	if errors.Is(reason, ErrAttemptLimit) {
		label = "attempt_limit"
	}
	metrics.TicketsRejected.WithLabelValues(string(fc.Capability), label).Inc()
	return &RejectionError{
		RequestID:    fc.RequestID,
		Kind:         kind,
		AttemptCount: fc.AttemptCount,
		Reason:       reason,
	}
}

// DueTickets returns pending tickets whose NextAttemptAt <= now, oldest first,
// bounded by the batch size.
func (q *Queue) DueTickets(ctx context.Context, now time.Time) ([]*domain.RetryTicket, error) {
	tickets, err := q.repo.ListDue(ctx, now, q.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list due tickets: %w", err)
	}
	return tickets, nil
}

// RecordAttemptOutcome applies the result of one redelivery attempt.
// A failure that reaches the attempt limit makes the ticket terminal.
func (q *Queue) RecordAttemptOutcome(
	ctx context.Context,
	id string,
	succeeded bool,
) (*domain.RetryTicket, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ticket, err := q.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket %s: %w", id, err)
	}
	if ticket.Resolved() {
		return nil, fmt.Errorf("record outcome %s: %w", id, ErrTicketResolved)
	}

	now := q.now()
	switch {
	case succeeded:
		ticket.Status = domain.TicketStatusSucceeded
		ticket.ResolvedAt = &now
	default:
		ticket.AttemptCount++
		if ticket.AttemptCount >= q.cfg.MaxAttempts {
			ticket.AttemptCount = q.cfg.MaxAttempts
			ticket.Status = domain.TicketStatusExhausted
			ticket.ResolvedAt = &now
		} else {
			ticket.NextAttemptAt = now.Add(q.cfg.Backoff.Delay(ticket.Kind.BaseDelay(), ticket.AttemptCount))
		}
	}

	if err := q.repo.Update(ctx, ticket); err != nil {
		return nil, fmt.Errorf("failed to update ticket %s: %w", id, err)
	}

	metrics.RetryAttempts.WithLabelValues(string(ticket.Capability), string(ticket.Status)).Inc()
	if ticket.Status == domain.TicketStatusExhausted {
		q.log.Warn("Ticket exhausted, giving up",
			"request_id", ticket.ID,
			"capability", ticket.Capability,
			"attempts", ticket.AttemptCount,
		)
	}
	return ticket, nil
}

// Cancel resolves a pending ticket without another attempt, for requests whose
// originating context no longer matters.
func (q *Queue) Cancel(ctx context.Context, id string) (*domain.RetryTicket, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ticket, err := q.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket %s: %w", id, err)
	}
	if ticket.Resolved() {
		return nil, fmt.Errorf("cancel %s: %w", id, ErrTicketResolved)
	}

	now := q.now()
	ticket.Status = domain.TicketStatusCancelled
	ticket.ResolvedAt = &now
	if err := q.repo.Update(ctx, ticket); err != nil {
		return nil, fmt.Errorf("failed to update ticket %s: %w", id, err)
	}
	return ticket, nil
}

// Get returns a ticket by id.
func (q *Queue) Get(ctx context.Context, id string) (*domain.RetryTicket, error) {
	return q.repo.Get(ctx, id)
}

// PendingCount returns the number of unresolved tickets.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	count, err := q.repo.CountPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending tickets: %w", err)
	}
	metrics.QueuePending.Set(float64(count))
	return count, nil
}

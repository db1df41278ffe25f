package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/aiguard/internal/core/domain"
)

var (
	// ErrTicketNotFound is returned when a ticket doesn't exist
	ErrTicketNotFound = errors.New("ticket not found")

	// ErrTicketExists is returned by Create when the request id is already stored
	ErrTicketExists = errors.New("ticket already exists")
)

// TicketRepository persists retry tickets keyed by request id.
// Implementations hold no business rules; the retry queue owns them.
type TicketRepository interface {
	// Create stores a new ticket. Returns ErrTicketExists for a duplicate id.
	Create(ctx context.Context, ticket *domain.RetryTicket) error

	// Get retrieves a ticket by id. Returns ErrTicketNotFound if missing.
	Get(ctx context.Context, id string) (*domain.RetryTicket, error)

	// Update overwrites an existing ticket.
	Update(ctx context.Context, ticket *domain.RetryTicket) error

	// ListDue returns pending tickets with NextAttemptAt <= now, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.RetryTicket, error)

	// CountPending returns the number of pending tickets.
	CountPending(ctx context.Context) (int, error)
}

// HealthRepository persists capability health across restarts.
type HealthRepository interface {
	// SaveAll upserts the given health records.
	SaveAll(ctx context.Context, states []domain.CapabilityHealth) error

	// LoadAll returns every stored record.
	LoadAll(ctx context.Context) ([]domain.CapabilityHealth, error)
}

// ErrorEventRepository stores privacy-preserving telemetry records.
type ErrorEventRepository interface {
	Record(ctx context.Context, rec domain.ErrorRecord) error
}

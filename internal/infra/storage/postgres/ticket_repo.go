package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/aiguard/internal/core/domain"
	"github.com/vietddude/aiguard/internal/infra/storage"
)

// TicketRepo implements storage.TicketRepository using PostgreSQL.
type TicketRepo struct {
	db *DB
}

// NewTicketRepo creates a new PostgreSQL retry ticket repository.
func NewTicketRepo(db *DB) *TicketRepo {
	return &TicketRepo{db: db}
}

type ticketRow struct {
	ID            string     `db:"id"`
	Capability    string     `db:"capability"`
	Kind          string     `db:"kind"`
	AttemptCount  int        `db:"attempt_count"`
	NextAttemptAt time.Time  `db:"next_attempt_at"`
	CreatedAt     time.Time  `db:"created_at"`
	Status        string     `db:"status"`
	ResolvedAt    *time.Time `db:"resolved_at"`
	UserID        string     `db:"user_id"`
	Refs          []byte     `db:"refs"`
}

const ticketColumns = `id, capability, kind, attempt_count, next_attempt_at, created_at, status, resolved_at, user_id, refs`

func (r ticketRow) toDomain() (*domain.RetryTicket, error) {
	t := &domain.RetryTicket{
		ID:            r.ID,
		Capability:    domain.Capability(r.Capability),
		Kind:          domain.ErrorKind(r.Kind),
		AttemptCount:  r.AttemptCount,
		NextAttemptAt: r.NextAttemptAt.UTC(),
		CreatedAt:     r.CreatedAt.UTC(),
		Status:        domain.TicketStatus(r.Status),
		UserID:        r.UserID,
	}
	if r.ResolvedAt != nil {
		at := r.ResolvedAt.UTC()
		t.ResolvedAt = &at
	}
	if len(r.Refs) > 0 {
		if err := json.Unmarshal(r.Refs, &t.Refs); err != nil {
			return nil, fmt.Errorf("failed to decode refs for ticket %s: %w", r.ID, err)
		}
	}
	return t, nil
}

func encodeRefs(refs map[string]string) (any, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(refs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode refs: %w", err)
	}
	return string(data), nil
}

// Create inserts a new ticket.
func (r *TicketRepo) Create(ctx context.Context, t *domain.RetryTicket) error {
	refs, err := encodeRefs(t.Refs)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO retry_tickets (` + ticketColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb)
	`
	_, err = r.db.ExecContext(ctx, query,
		t.ID,
		string(t.Capability),
		string(t.Kind),
		t.AttemptCount,
		t.NextAttemptAt,
		t.CreatedAt,
		string(t.Status),
		t.ResolvedAt,
		t.UserID,
		refs,
	)
	if isUniqueViolation(err) {
		return storage.ErrTicketExists
	}
	if err != nil {
		return fmt.Errorf("failed to create ticket: %w", err)
	}
	return nil
}

// Get returns a ticket by id.
func (r *TicketRepo) Get(ctx context.Context, id string) (*domain.RetryTicket, error) {
	var row ticketRow
	err := r.db.GetContext(ctx, &row, `SELECT `+ticketColumns+` FROM retry_tickets WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return row.toDomain()
}

// Update overwrites the mutable fields of a ticket.
func (r *TicketRepo) Update(ctx context.Context, t *domain.RetryTicket) error {
	query := `
		UPDATE retry_tickets
		SET attempt_count = $2, next_attempt_at = $3, status = $4, resolved_at = $5
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		t.ID,
		t.AttemptCount,
		t.NextAttemptAt,
		string(t.Status),
		t.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update ticket: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update ticket: %w", err)
	}
	if n == 0 {
		return storage.ErrTicketNotFound
	}
	return nil
}

// ListDue returns pending tickets due at now, oldest first.
func (r *TicketRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.RetryTicket, error) {
	query := `
		SELECT ` + ticketColumns + `
		FROM retry_tickets
		WHERE status = 'pending' AND next_attempt_at <= $1
		ORDER BY next_attempt_at ASC, id ASC
		LIMIT $2
	`
	if limit <= 0 {
		limit = 1000
	}

	var rows []ticketRow
	if err := r.db.SelectContext(ctx, &rows, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to list due tickets: %w", err)
	}

	tickets := make([]*domain.RetryTicket, 0, len(rows))
	for _, row := range rows {
		t, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, nil
}

// CountPending returns the number of unresolved tickets.
func (r *TicketRepo) CountPending(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT count(*) FROM retry_tickets WHERE status = 'pending'`); err != nil {
		return 0, fmt.Errorf("failed to count tickets: %w", err)
	}
	return count, nil
}

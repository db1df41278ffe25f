package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/vietddude/aiguard/internal/core/domain"
)

// ErrorEventRepo stores hashed telemetry records. It satisfies report.Sink.
type ErrorEventRepo struct {
	db *DB
}

// NewErrorEventRepo creates a new PostgreSQL telemetry repository.
func NewErrorEventRepo(db *DB) *ErrorEventRepo {
	return &ErrorEventRepo{db: db}
}

// Record inserts one record. Replays of the same id are ignored.
func (r *ErrorEventRepo) Record(ctx context.Context, rec domain.ErrorRecord) error {
	query := `
		INSERT INTO ai_error_events
			(id, capability, kind, hashed_user_id, request_id, attempt_count, occurred_at, hashed_query)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		string(rec.Capability),
		string(rec.Kind),
		rec.HashedUserID,
		rec.RequestID,
		rec.AttemptCount,
		rec.Timestamp,
		rec.HashedQuery,
	)
	if err != nil {
		return fmt.Errorf("failed to record error event: %w", err)
	}
	return nil
}

// CountByKind returns event counts per kind for the given capabilities since a time.
func (r *ErrorEventRepo) CountByKind(
	ctx context.Context,
	capabilities []domain.Capability,
	since time.Time,
) (map[domain.ErrorKind]int, error) {
	names := make([]string, len(capabilities))
	for i, c := range capabilities {
		names[i] = string(c)
	}

	query := `
		SELECT kind, count(*) AS n
		FROM ai_error_events
		WHERE capability = ANY($1) AND occurred_at >= $2
		GROUP BY kind
	`
	var rows []struct {
		Kind string `db:"kind"`
		N    int    `db:"n"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(names), since); err != nil {
		return nil, fmt.Errorf("failed to count error events: %w", err)
	}

	out := make(map[domain.ErrorKind]int, len(rows))
	for _, row := range rows {
		out[domain.ErrorKind(row.Kind)] = row.N
	}
	return out, nil
}

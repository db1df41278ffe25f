package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/aiguard/internal/core/domain"
)

// HealthRepo implements storage.HealthRepository using PostgreSQL.
type HealthRepo struct {
	db *DB
}

// NewHealthRepo creates a new PostgreSQL capability health repository.
func NewHealthRepo(db *DB) *HealthRepo {
	return &HealthRepo{db: db}
}

// SaveAll upserts every capability in one transaction.
func (r *HealthRepo) SaveAll(ctx context.Context, states []domain.CapabilityHealth) error {
	if len(states) == 0 {
		return nil
	}

	query := `
		INSERT INTO capability_health (capability, consecutive_failures, fallback_active, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (capability) DO UPDATE
		SET consecutive_failures = EXCLUDED.consecutive_failures,
		    fallback_active = EXCLUDED.fallback_active,
		    updated_at = EXCLUDED.updated_at
	`
	return r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		for _, h := range states {
			updated := h.UpdatedAt
			if updated.IsZero() {
				updated = time.Now()
			}
			if _, err := tx.ExecContext(ctx, query,
				string(h.Capability),
				h.ConsecutiveFailures,
				h.FallbackActive,
				updated,
			); err != nil {
				return fmt.Errorf("failed to save health for %s: %w", h.Capability, err)
			}
		}
		return nil
	})
}

// LoadAll returns every persisted capability health.
func (r *HealthRepo) LoadAll(ctx context.Context) ([]domain.CapabilityHealth, error) {
	var rows []struct {
		Capability          string    `db:"capability"`
		ConsecutiveFailures int       `db:"consecutive_failures"`
		FallbackActive      bool      `db:"fallback_active"`
		UpdatedAt           time.Time `db:"updated_at"`
	}
	query := `SELECT capability, consecutive_failures, fallback_active, updated_at FROM capability_health`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to load health: %w", err)
	}

	out := make([]domain.CapabilityHealth, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.CapabilityHealth{
			Capability:          domain.Capability(row.Capability),
			ConsecutiveFailures: row.ConsecutiveFailures,
			FallbackActive:      row.FallbackActive,
			UpdatedAt:           row.UpdatedAt.UTC(),
		})
	}
	return out, nil
}

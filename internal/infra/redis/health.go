package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vietddude/aiguard/internal/core/domain"
)

// HealthRepo implements storage.HealthRepository as one Redis hash keyed by capability.
type HealthRepo struct {
	c *Client
}

// NewHealthRepo creates a new Redis-backed capability health repository.
func NewHealthRepo(client *Client) *HealthRepo {
	return &HealthRepo{c: client}
}

// SaveAll writes every capability in a single HSET.
func (r *HealthRepo) SaveAll(ctx context.Context, states []domain.CapabilityHealth) error {
	if len(states) == 0 {
		return nil
	}
	fields := make(map[string]any, len(states))
	for _, h := range states {
		data, err := json.Marshal(h)
		if err != nil {
			return fmt.Errorf("failed to marshal health: %w", err)
		}
		fields[string(h.Capability)] = data
	}
	if err := r.c.rdb.HSet(ctx, r.c.healthKey(), fields).Err(); err != nil {
		return fmt.Errorf("hset failed: %w", err)
	}
	return nil
}

// LoadAll reads every persisted capability.
func (r *HealthRepo) LoadAll(ctx context.Context) ([]domain.CapabilityHealth, error) {
	values, err := r.c.rdb.HGetAll(ctx, r.c.healthKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall failed: %w", err)
	}

	out := make([]domain.CapabilityHealth, 0, len(values))
	for capability, v := range values {
		var h domain.CapabilityHealth
		if err := json.Unmarshal([]byte(v), &h); err != nil {
			return nil, fmt.Errorf("failed to unmarshal health for %s: %w", capability, err)
		}
		out = append(out, h)
	}
	return out, nil
}

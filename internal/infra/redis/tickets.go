package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/aiguard/internal/core/domain"
	"github.com/vietddude/aiguard/internal/infra/storage"
)

// TicketRepo implements storage.TicketRepository using Redis. Ticket bodies are
// JSON strings; pending ids live in a sorted set scored by next attempt time.
type TicketRepo struct {
	c *Client
}

// NewTicketRepo creates a new Redis-backed retry ticket repository.
func NewTicketRepo(client *Client) *TicketRepo {
	return &TicketRepo{c: client}
}

func dueScore(t *domain.RetryTicket) float64 {
	return float64(t.NextAttemptAt.UnixMilli())
}

// Create stores a new ticket and schedules it if pending.
func (r *TicketRepo) Create(ctx context.Context, t *domain.RetryTicket) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal ticket: %w", err)
	}

	ok, err := r.c.rdb.SetNX(ctx, r.c.ticketKey(t.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to set ticket: %w", err)
	}
	if !ok {
		return storage.ErrTicketExists
	}

	if !t.Resolved() {
		if err := r.c.rdb.ZAdd(ctx, r.c.dueKey(), redis.Z{
			Score:  dueScore(t),
			Member: t.ID,
		}).Err(); err != nil {
			return fmt.Errorf("failed to add to queue: %w", err)
		}
	}
	return nil
}

// Get returns a ticket by id.
func (r *TicketRepo) Get(ctx context.Context, id string) (*domain.RetryTicket, error) {
	data, err := r.c.rdb.Get(ctx, r.c.ticketKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}

	var t domain.RetryTicket
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ticket: %w", err)
	}
	return &t, nil
}

// Update overwrites an existing ticket and reschedules or unschedules it.
func (r *TicketRepo) Update(ctx context.Context, t *domain.RetryTicket) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal ticket: %w", err)
	}

	ok, err := r.c.rdb.SetXX(ctx, r.c.ticketKey(t.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to set ticket: %w", err)
	}
	if !ok {
		return storage.ErrTicketNotFound
	}

	if t.Resolved() {
		err = r.c.rdb.ZRem(ctx, r.c.dueKey(), t.ID).Err()
	} else {
		err = r.c.rdb.ZAdd(ctx, r.c.dueKey(), redis.Z{Score: dueScore(t), Member: t.ID}).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to update queue: %w", err)
	}
	return nil
}

// ListDue returns pending tickets with next attempt <= now, oldest first.
func (r *TicketRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.RetryTicket, error) {
	by := &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}
	if limit > 0 {
		by.Count = int64(limit)
	}

	ids, err := r.c.rdb.ZRangeByScore(ctx, r.c.dueKey(), by).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore failed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.c.ticketKey(id)
	}
	values, err := r.c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget failed: %w", err)
	}

	tickets := make([]*domain.RetryTicket, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// Body missing but id still scheduled, remove it
			r.c.rdb.ZRem(ctx, r.c.dueKey(), ids[i])
			continue
		}
		var t domain.RetryTicket
		if err := json.Unmarshal([]byte(s), &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ticket %s: %w", ids[i], err)
		}
		// Scores are milliseconds; drop tickets due later within the same millisecond
		if t.Resolved() || t.NextAttemptAt.After(now) {
			continue
		}
		tickets = append(tickets, &t)
	}
	return tickets, nil
}

// CountPending returns the number of scheduled tickets.
func (r *TicketRepo) CountPending(ctx context.Context) (int, error) {
	count, err := r.c.rdb.ZCard(ctx, r.c.dueKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(count), nil
}

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/aiguard/internal/core/domain"
	"github.com/vietddude/aiguard/internal/infra/storage"
)

type MemoryStorage struct {
	tickets map[string]*domain.RetryTicket
	health  map[domain.Capability]domain.CapabilityHealth
	events  []domain.ErrorRecord
	mu      sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		tickets: make(map[string]*domain.RetryTicket),
		health:  make(map[domain.Capability]domain.CapabilityHealth),
	}
}

// -----------------------------------------------------------------------------
// Ticket Repository
// -----------------------------------------------------------------------------

type TicketRepo struct {
	store *MemoryStorage
}

func NewTicketRepo(store *MemoryStorage) *TicketRepo {
	return &TicketRepo{store: store}
}

func (r *TicketRepo) Create(ctx context.Context, t *domain.RetryTicket) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.tickets[t.ID]; ok {
		return storage.ErrTicketExists
	}
	r.store.tickets[t.ID] = t.Clone()
	return nil
}

func (r *TicketRepo) Get(ctx context.Context, id string) (*domain.RetryTicket, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	t, ok := r.store.tickets[id]
	if !ok {
		return nil, storage.ErrTicketNotFound
	}
	return t.Clone(), nil
}

func (r *TicketRepo) Update(ctx context.Context, t *domain.RetryTicket) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.tickets[t.ID]; !ok {
		return storage.ErrTicketNotFound
	}
	r.store.tickets[t.ID] = t.Clone()
	return nil
}

func (r *TicketRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.RetryTicket, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var due []*domain.RetryTicket
	for _, t := range r.store.tickets {
		if t.Status == domain.TicketStatusPending && !t.NextAttemptAt.After(now) {
			due = append(due, t.Clone())
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].NextAttemptAt.Equal(due[j].NextAttemptAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *TicketRepo) CountPending(ctx context.Context) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	count := 0
	for _, t := range r.store.tickets {
		if t.Status == domain.TicketStatusPending {
			count++
		}
	}
	return count, nil
}

// -----------------------------------------------------------------------------
// Health Repository
// -----------------------------------------------------------------------------

type HealthRepo struct {
	store *MemoryStorage
}

func NewHealthRepo(store *MemoryStorage) *HealthRepo {
	return &HealthRepo{store: store}
}

func (r *HealthRepo) SaveAll(ctx context.Context, states []domain.CapabilityHealth) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, h := range states {
		r.store.health[h.Capability] = h
	}
	return nil
}

func (r *HealthRepo) LoadAll(ctx context.Context) ([]domain.CapabilityHealth, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]domain.CapabilityHealth, 0, len(r.store.health))
	for _, h := range r.store.health {
		out = append(out, h)
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Error Event Repository
// -----------------------------------------------------------------------------

type ErrorEventRepo struct {
	store *MemoryStorage
}

func NewErrorEventRepo(store *MemoryStorage) *ErrorEventRepo {
	return &ErrorEventRepo{store: store}
}

func (r *ErrorEventRepo) Record(ctx context.Context, rec domain.ErrorRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.events = append(r.store.events, rec)
	return nil
}

// Events returns a copy of every recorded event.
func (r *ErrorEventRepo) Events() []domain.ErrorRecord {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return append([]domain.ErrorRecord(nil), r.store.events...)
}

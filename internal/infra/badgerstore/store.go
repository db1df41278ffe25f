// Package badgerstore persists retry tickets and capability health in an embedded
// BadgerDB, for single-node deployments without an external database.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/vietddude/aiguard/internal/core/domain"
	"github.com/vietddude/aiguard/internal/infra/storage"
)

const (
	ticketKeyPrefix = "ticket:"
	dueKeyPrefix    = "due:"
	healthKeyPrefix = "health:"
)

// Config holds BadgerDB settings.
type Config struct {
	Dir      string `yaml:"dir"`
	InMemory bool   `yaml:"in_memory"`
}

// Store owns the BadgerDB handle.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the database.
func Open(cfg Config) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, errors.New("badger: dir is required")
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func ticketKey(id string) []byte {
	return []byte(ticketKeyPrefix + id)
}

// dueKey sorts by next attempt time, then id.
func dueKey(t *domain.RetryTicket) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", dueKeyPrefix, t.NextAttemptAt.UnixNano(), t.ID))
}

// -----------------------------------------------------------------------------
// Ticket Repository
// -----------------------------------------------------------------------------

// TicketRepo implements storage.TicketRepository.
type TicketRepo struct {
	s *Store
}

func NewTicketRepo(s *Store) *TicketRepo {
	return &TicketRepo{s: s}
}

func getTicket(txn *badger.Txn, id string) (*domain.RetryTicket, error) {
	item, err := txn.Get(ticketKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	var t domain.RetryTicket
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &t)
	}); err != nil {
		return nil, fmt.Errorf("decode ticket: %w", err)
	}
	return &t, nil
}

func (r *TicketRepo) Create(ctx context.Context, t *domain.RetryTicket) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal ticket: %w", err)
	}

	return r.s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(ticketKey(t.ID)); err == nil {
			return storage.ErrTicketExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("get ticket: %w", err)
		}

		if err := txn.Set(ticketKey(t.ID), data); err != nil {
			return fmt.Errorf("set ticket: %w", err)
		}
		if !t.Resolved() {
			if err := txn.Set(dueKey(t), []byte(t.ID)); err != nil {
				return fmt.Errorf("set due index: %w", err)
			}
		}
		return nil
	})
}

func (r *TicketRepo) Get(ctx context.Context, id string) (*domain.RetryTicket, error) {
	var t *domain.RetryTicket
	err := r.s.db.View(func(txn *badger.Txn) error {
		var err error
		t, err = getTicket(txn, id)
		return err
	})
	return t, err
}

func (r *TicketRepo) Update(ctx context.Context, t *domain.RetryTicket) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal ticket: %w", err)
	}

	return r.s.db.Update(func(txn *badger.Txn) error {
		old, err := getTicket(txn, t.ID)
		if err != nil {
			return err
		}
		if !old.Resolved() {
			if err := txn.Delete(dueKey(old)); err != nil {
				return fmt.Errorf("delete due index: %w", err)
			}
		}
		if err := txn.Set(ticketKey(t.ID), data); err != nil {
			return fmt.Errorf("set ticket: %w", err)
		}
		if !t.Resolved() {
			if err := txn.Set(dueKey(t), []byte(t.ID)); err != nil {
				return fmt.Errorf("set due index: %w", err)
			}
		}
		return nil
	})
}

func (r *TicketRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.RetryTicket, error) {
	upper := []byte(fmt.Sprintf("%s%020d;", dueKeyPrefix, now.UnixNano()))
	var tickets []*domain.RetryTicket

	err := r.s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(dueKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			// ';' sorts after ':' so every key at exactly now is included
			if string(it.Item().Key()) >= string(upper) {
				break
			}
			if limit > 0 && len(tickets) >= limit {
				break
			}

			var id string
			if err := it.Item().Value(func(val []byte) error {
				id = string(val)
				return nil
			}); err != nil {
				return err
			}
			t, err := getTicket(txn, id)
			if err != nil {
				return err
			}
			tickets = append(tickets, t)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list due tickets: %w", err)
	}
	return tickets, nil
}

func (r *TicketRepo) CountPending(ctx context.Context) (int, error) {
	count := 0
	err := r.s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(dueKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// -----------------------------------------------------------------------------
// Health Repository
// -----------------------------------------------------------------------------

// HealthRepo implements storage.HealthRepository.
type HealthRepo struct {
	s *Store
}

func NewHealthRepo(s *Store) *HealthRepo {
	return &HealthRepo{s: s}
}

func (r *HealthRepo) SaveAll(ctx context.Context, states []domain.CapabilityHealth) error {
	return r.s.db.Update(func(txn *badger.Txn) error {
		for _, h := range states {
			data, err := json.Marshal(h)
			if err != nil {
				return fmt.Errorf("marshal health: %w", err)
			}
			if err := txn.Set([]byte(healthKeyPrefix+string(h.Capability)), data); err != nil {
				return fmt.Errorf("set health: %w", err)
			}
		}
		return nil
	})
}

func (r *HealthRepo) LoadAll(ctx context.Context) ([]domain.CapabilityHealth, error) {
	var out []domain.CapabilityHealth
	err := r.s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(healthKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var h domain.CapabilityHealth
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &h)
			}); err != nil {
				return fmt.Errorf("decode health: %w", err)
			}
			out = append(out, h)
		}
		return nil
	})
	return out, err
}

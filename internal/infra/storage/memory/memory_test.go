package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/aiguard/internal/core/domain"
	"github.com/vietddude/aiguard/internal/infra/storage"
)

func TestTicketRepo_ListDueOrderAndLimit(t *testing.T) {
	repo := NewTicketRepo(NewMemoryStorage())
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, offset := range []time.Duration{3 * time.Second, time.Second, 2 * time.Second, time.Hour} {
		tk := &domain.RetryTicket{
			ID:            string(rune('a' + i)),
			Status:        domain.TicketStatusPending,
			NextAttemptAt: base.Add(offset),
		}
		if err := repo.Create(ctx, tk); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	due, err := repo.ListDue(ctx, base.Add(time.Minute), 2)
	if err != nil {
		t.Fatalf("ListDue failed: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due tickets, got %d", len(due))
	}
	if due[0].ID != "b" || due[1].ID != "c" {
		t.Errorf("expected order b,c got %s,%s", due[0].ID, due[1].ID)
	}

	count, _ := repo.CountPending(ctx)
	if count != 4 {
		t.Errorf("expected 4 pending, got %d", count)
	}
}

func TestTicketRepo_Errors(t *testing.T) {
	repo := NewTicketRepo(NewMemoryStorage())
	ctx := context.Background()
	tk := &domain.RetryTicket{ID: "x", Status: domain.TicketStatusPending}

	if err := repo.Update(ctx, tk); !errors.Is(err, storage.ErrTicketNotFound) {
		t.Errorf("expected ErrTicketNotFound, got %v", err)
	}
	if _, err := repo.Get(ctx, "x"); !errors.Is(err, storage.ErrTicketNotFound) {
		t.Errorf("expected ErrTicketNotFound, got %v", err)
	}
	_ = repo.Create(ctx, tk)
	if err := repo.Create(ctx, tk); !errors.Is(err, storage.ErrTicketExists) {
		t.Errorf("expected ErrTicketExists, got %v", err)
	}
}

func TestTicketRepo_ReturnsCopies(t *testing.T) {
	repo := NewTicketRepo(NewMemoryStorage())
	ctx := context.Background()
	_ = repo.Create(ctx, &domain.RetryTicket{ID: "x", Status: domain.TicketStatusPending})

	got, _ := repo.Get(ctx, "x")
	got.Status = domain.TicketStatusSucceeded

	again, _ := repo.Get(ctx, "x")
	if again.Status != domain.TicketStatusPending {
		t.Error("mutating a returned ticket must not change the store")
	}
}

func TestHealthRepo_RoundTrip(t *testing.T) {
	repo := NewHealthRepo(NewMemoryStorage())
	ctx := context.Background()

	err := repo.SaveAll(ctx, []domain.CapabilityHealth{
		{Capability: domain.CapabilitySmartSearch, ConsecutiveFailures: 3, FallbackActive: true},
	})
	if err != nil {
		t.Fatalf("SaveAll failed: %v", err)
	}

	states, _ := repo.LoadAll(ctx)
	if len(states) != 1 || !states[0].FallbackActive {
		t.Errorf("unexpected states %+v", states)
	}
}

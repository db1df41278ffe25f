package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/aiguard/internal/core/domain"
	"github.com/vietddude/aiguard/internal/infra/storage"
)

func setupClient(t *testing.T) *Client {
	t.Helper()
	url := os.Getenv("AIGUARD_TEST_REDIS_URL")
	if url == "" {
		t.Skip("AIGUARD_TEST_REDIS_URL not set")
	}

	// Unique prefix per test keeps runs isolated
	client, err := NewClient(Config{URL: url, KeyPrefix: "aiguard-test-" + uuid.NewString()})
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := client.rdb.Keys(ctx, client.prefix+":*").Result()
		if len(keys) > 0 {
			client.rdb.Del(ctx, keys...)
		}
		_ = client.Close()
	})
	return client
}

func TestTicketRepo_DueOrderingAndResolve(t *testing.T) {
	repo := NewTicketRepo(setupClient(t))
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, tc := range []struct {
		id     string
		offset time.Duration
	}{
		{"late", 3 * time.Second},
		{"early", time.Second},
		{"future", time.Hour},
	} {
		err := repo.Create(ctx, &domain.RetryTicket{
			ID:            tc.id,
			Capability:    domain.CapabilitySmartSearch,
			Kind:          domain.ErrorKindTimeout,
			NextAttemptAt: base.Add(tc.offset),
			CreatedAt:     base,
			Status:        domain.TicketStatusPending,
		})
		if err != nil {
			t.Fatalf("Create %s failed: %v", tc.id, err)
		}
	}

	if err := repo.Create(ctx, &domain.RetryTicket{ID: "early", Status: domain.TicketStatusPending}); !errors.Is(err, storage.ErrTicketExists) {
		t.Errorf("expected ErrTicketExists, got %v", err)
	}

	due, err := repo.ListDue(ctx, base.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("ListDue failed: %v", err)
	}
	if len(due) != 2 || due[0].ID != "early" || due[1].ID != "late" {
		t.Fatalf("unexpected due order: %+v", due)
	}

	tk := due[0]
	tk.Status = domain.TicketStatusSucceeded
	if err := repo.Update(ctx, tk); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	count, _ := repo.CountPending(ctx)
	if count != 2 {
		t.Errorf("expected 2 pending, got %d", count)
	}

	if err := repo.Update(ctx, &domain.RetryTicket{ID: "missing"}); !errors.Is(err, storage.ErrTicketNotFound) {
		t.Errorf("expected ErrTicketNotFound, got %v", err)
	}
}

func TestTicketRepo_ListDueSubMillisecond(t *testing.T) {
	repo := NewTicketRepo(setupClient(t))
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 100_000, time.UTC)

	err := repo.Create(ctx, &domain.RetryTicket{
		ID:            "soon",
		Capability:    domain.CapabilitySmartSearch,
		Kind:          domain.ErrorKindTimeout,
		NextAttemptAt: now.Add(800 * time.Microsecond),
		CreatedAt:     now,
		Status:        domain.TicketStatusPending,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if due, _ := repo.ListDue(ctx, now, 0); len(due) != 0 {
		t.Errorf("ticket due in 800us returned early: %d", len(due))
	}
	if due, _ := repo.ListDue(ctx, now.Add(800*time.Microsecond), 0); len(due) != 1 {
		t.Errorf("ticket should be due at its exact time, got %d", len(due))
	}
}

func TestHealthRepo_RoundTrip(t *testing.T) {
	repo := NewHealthRepo(setupClient(t))
	ctx := context.Background()

	err := repo.SaveAll(ctx, []domain.CapabilityHealth{
		{Capability: domain.CapabilityCategorization, ConsecutiveFailures: 4, FallbackActive: true},
		{Capability: domain.CapabilityScheduling},
	})
	if err != nil {
		t.Fatalf("SaveAll failed: %v", err)
	}

	states, err := repo.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("expected 2 states, got %d", len(states))
	}
}

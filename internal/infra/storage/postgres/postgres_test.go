package postgres

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

// setupDB connects to AIGUARD_TEST_DATABASE_URL and migrates it, or skips.
func setupDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("AIGUARD_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("AIGUARD_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := NewDB(ctx, Config{URL: url})
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return db
}

func TestIsUniqueViolation(t *testing.T) {
	if isUniqueViolation(errors.New("boom")) {
		t.Error("plain error is not a unique violation")
	}
	if isUniqueViolation(nil) {
		t.Error("nil is not a unique violation")
	}
}

func TestTicketRepo_Lifecycle(t *testing.T) {
	db := setupDB(t)
	repo := NewTicketRepo(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	id := "req-" + uuid.NewString()
	tk := &domain.RetryTicket{
		ID:            id,
		Capability:    domain.CapabilityThreadSummary,
		Kind:          domain.ErrorKindTimeout,
		NextAttemptAt: now.Add(-time.Second),
		CreatedAt:     now,
		Status:        domain.TicketStatusPending,
		UserID:        "user-1",
		Refs:          map[string]string{"thread": "t-1"},
	}

	if err := repo.Create(ctx, tk); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := repo.Create(ctx, tk); !errors.Is(err, storage.ErrTicketExists) {
		t.Errorf("expected ErrTicketExists, got %v", err)
	}

	got, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Refs["thread"] != "t-1" || !got.NextAttemptAt.Equal(tk.NextAttemptAt) {
		t.Errorf("unexpected ticket %+v", got)
	}

	due, err := repo.ListDue(ctx, now, 1000)
	if err != nil {
		t.Fatalf("ListDue failed: %v", err)
	}
	found := false
	for _, d := range due {
		found = found || d.ID == id
	}
	if !found {
		t.Error("expected ticket to be due")
	}

	got.Status = domain.TicketStatusSucceeded
	got.ResolvedAt = &now
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	again, _ := repo.Get(ctx, id)
	if again.Status != domain.TicketStatusSucceeded || again.ResolvedAt == nil {
		t.Errorf("update not persisted: %+v", again)
	}

	if _, err := repo.Get(ctx, "missing-"+uuid.NewString()); !errors.Is(err, storage.ErrTicketNotFound) {
		t.Errorf("expected ErrTicketNotFound, got %v", err)
	}
}

func TestHealthRepo_Upsert(t *testing.T) {
	db := setupDB(t)
	repo := NewHealthRepo(db)
	ctx := context.Background()
	c := domain.Capability("test-" + uuid.NewString())

	_ = repo.SaveAll(ctx, []domain.CapabilityHealth{{Capability: c, ConsecutiveFailures: 1}})
	if err := repo.SaveAll(ctx, []domain.CapabilityHealth{{Capability: c, ConsecutiveFailures: 3, FallbackActive: true}}); err != nil {
		t.Fatalf("SaveAll failed: %v", err)
	}

	states, err := repo.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	for _, s := range states {
		if s.Capability == c {
			if s.ConsecutiveFailures != 3 || !s.FallbackActive {
				t.Errorf("upsert not applied: %+v", s)
			}
			return
		}
	}
	t.Error("capability not found after save")
}

func TestErrorEventRepo_RecordAndCount(t *testing.T) {
	db := setupDB(t)
	repo := NewErrorEventRepo(db)
	ctx := context.Background()
	c := domain.Capability("test-" + uuid.NewString())
	since := time.Now().Add(-time.Minute)

	rec := domain.ErrorRecord{
		ID:         uuid.NewString(),
		Capability: c,
		Kind:       domain.ErrorKindRateLimit,
		RequestID:  "req-1",
		Timestamp:  time.Now(),
	}
	if err := repo.Record(ctx, rec); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	// Replays are ignored
	if err := repo.Record(ctx, rec); err != nil {
		t.Fatalf("replay failed: %v", err)
	}

	counts, err := repo.CountByKind(ctx, []domain.Capability{c}, since)
	if err != nil {
		t.Fatalf("CountByKind failed: %v", err)
	}
	if counts[domain.ErrorKindRateLimit] != 1 {
		t.Errorf("expected 1 rateLimit event, got %v", counts)
	}
}

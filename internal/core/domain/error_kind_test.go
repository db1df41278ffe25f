package domain

import (
	"testing"
	"time"
)

func TestErrorKind_Table(t *testing.T) {
	tests := []struct {
		kind      ErrorKind
		retryable bool
		delay     time.Duration
	}{
		{ErrorKindTimeout, true, 1 * time.Second},
		{ErrorKindServiceUnavailable, true, 2 * time.Second},
		{ErrorKindNetworkFailure, true, 1 * time.Second},
		{ErrorKindRateLimit, false, 0},
		{ErrorKindInvalidRequest, false, 0},
		{ErrorKindQuotaExceeded, false, 0},
		{ErrorKindUnknown, false, 0},
	}

	for _, tt := range tests {
		if !tt.kind.Valid() {
			t.Errorf("%s should be valid", tt.kind)
		}
		if got := tt.kind.Retryable(); got != tt.retryable {
			t.Errorf("%s.Retryable() = %v, want %v", tt.kind, got, tt.retryable)
		}
		if got := tt.kind.BaseDelay(); got != tt.delay {
			t.Errorf("%s.BaseDelay() = %v, want %v", tt.kind, got, tt.delay)
		}
	}

	if len(AllErrorKinds) != len(tests) {
		t.Errorf("expected %d kinds, got %d", len(tests), len(AllErrorKinds))
	}
}

func TestErrorKind_UnknownValue(t *testing.T) {
	k := ErrorKind("bogus")
	if k.Valid() || k.Retryable() || k.BaseDelay() != 0 {
		t.Error("undefined kind must behave like unknown")
	}
	if MessageKey(k) != "ai.error.unknown" {
		t.Errorf("unexpected message key %q", MessageKey(k))
	}
}

func TestRetryTicket_CloneIsDeep(t *testing.T) {
	now := time.Now()
	orig := &RetryTicket{
		ID:         "req-1",
		Status:     TicketStatusSucceeded,
		ResolvedAt: &now,
		Refs:       map[string]string{"thread": "t-1"},
	}

	c := orig.Clone()
	c.Refs["thread"] = "t-2"
	*c.ResolvedAt = now.Add(time.Hour)

	if orig.Refs["thread"] != "t-1" {
		t.Error("clone shares refs map")
	}
	if !orig.ResolvedAt.Equal(now) {
		t.Error("clone shares resolved_at")
	}
	if !c.Resolved() {
		t.Error("succeeded ticket should be resolved")
	}
}

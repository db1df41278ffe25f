package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/aiguard/internal/core/domain"
)

type failingSink struct{ calls int }

func (f *failingSink) Record(ctx context.Context, rec domain.ErrorRecord) error {
	f.calls++
	return errors.New("unreachable")
}

func TestLogSink_WritesHashedFields(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))

	q := "abc123"
	err := sink.Record(context.Background(), domain.ErrorRecord{
		ID:           "e-1",
		Capability:   domain.CapabilitySmartSearch,
		Kind:         domain.ErrorKindTimeout,
		HashedUserID: "deadbeef",
		RequestID:    "req-1",
		Timestamp:    time.Now(),
		HashedQuery:  &q,
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"kind=timeout", "user=deadbeef", "query=abc123", "request_id=req-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("log line missing %q: %s", want, out)
		}
	}
}

func TestMultiSink_TriesEverySink(t *testing.T) {
	first, second := &failingSink{}, &failingSink{}
	var buf bytes.Buffer
	multi := MultiSink{first, NewLogSink(slog.New(slog.NewTextHandler(&buf, nil))), second}

	err := multi.Record(context.Background(), domain.ErrorRecord{ID: "e-1"})
	if err == nil {
		t.Error("expected joined error")
	}
	if first.calls != 1 || second.calls != 1 {
		t.Errorf("every sink should be called, got %d/%d", first.calls, second.calls)
	}
	if buf.Len() == 0 {
		t.Error("log sink should still record")
	}
}

// Package telemetry holds report.Sink implementations.
package telemetry

import (
	"context"
	"errors"
	"log/slog"

	"github.com/vietddude/aiguard/internal/core/domain"
)

// Sink mirrors report.Sink so this package stays free of the resilience core.
type Sink interface {
	Record(ctx context.Context, rec domain.ErrorRecord) error
}

// LogSink writes records as structured log lines.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink creates a sink on logger, or slog.Default when nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{log: logger.With("component", "telemetry")}
}

func (s *LogSink) Record(ctx context.Context, rec domain.ErrorRecord) error {
	attrs := []any{
		"event_id", rec.ID,
		"capability", rec.Capability,
		"kind", rec.Kind,
		"user", rec.HashedUserID,
		"request_id", rec.RequestID,
		"attempt", rec.AttemptCount,
		"at", rec.Timestamp,
	}
	if rec.HashedQuery != nil {
		attrs = append(attrs, "query", *rec.HashedQuery)
	}
	s.log.InfoContext(ctx, "AI capability error", attrs...)
	return nil
}

// MultiSink fans a record out to every sink. All sinks are tried; their
// errors are joined.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, rec domain.ErrorRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Package classify maps raw capability failures onto the fixed ErrorKind vocabulary.
package classify

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/vietddude/aiguard/internal/core/domain"
)

// Classification is the result of classifying one failure.
type Classification struct {
	Kind      domain.ErrorKind
	Retryable bool
	BaseDelay time.Duration
}

// statusCoder is implemented by errors that carry an HTTP status.
type statusCoder interface {
	StatusCode() int
}

// ClassifyKind returns the fixed attributes of an already known kind.
func ClassifyKind(kind domain.ErrorKind) Classification {
	if !kind.Valid() {
		kind = domain.ErrorKindUnknown
	}
	return Classification{
		Kind:      kind,
		Retryable: kind.Retryable(),
		BaseDelay: kind.BaseDelay(),
	}
}

// Classify determines the kind of a failure. It is total: every input,
// including nil, yields exactly one kind, and unrecognized failures are unknown.
func Classify(err error) Classification {
	return ClassifyKind(kindOf(err))
}

func kindOf(err error) domain.ErrorKind {
	if err == nil {
		return domain.ErrorKindUnknown
	}

	// Explicit kind from an adapter wins
	var capErr *domain.CapabilityError
	if errors.As(err, &capErr) && capErr.Kind.Valid() {
		return capErr.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return domain.ErrorKindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return domain.ErrorKindUnknown
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.ErrorKindTimeout
	}

	var sc statusCoder
	if errors.As(err, &sc) && sc.StatusCode() != 0 {
		if kind, ok := kindFromStatus(sc.StatusCode()); ok {
			return kind
		}
	}

	if isNetworkError(err) {
		return domain.ErrorKindNetworkFailure
	}

	return kindFromMessage(err.Error())
}

func kindFromStatus(code int) (domain.ErrorKind, bool) {
	switch {
	case code == 408 || code == 504:
		return domain.ErrorKindTimeout, true
	case code == 429:
		return domain.ErrorKindRateLimit, true
	case code == 402:
		return domain.ErrorKindQuotaExceeded, true
	case code == 500 || code == 502 || code == 503:
		return domain.ErrorKindServiceUnavailable, true
	case code >= 400 && code < 500:
		return domain.ErrorKindInvalidRequest, true
	}
	return "", false
}

func isNetworkError(err error) bool {
	var opErr *net.OpError
	var dnsErr *net.DNSError
	return errors.As(err, &opErr) ||
		errors.As(err, &dnsErr) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// Ordered: quota before rate limit so "quota exceeded (429)" is a quota error.
var messageRules = []struct {
	kind     domain.ErrorKind
	patterns []string
}{
	{domain.ErrorKindQuotaExceeded, []string{"insufficient_quota", "quota", "billing", "credit balance"}},
	{domain.ErrorKindRateLimit, []string{"429", "rate limit", "ratelimit", "too many requests"}},
	{domain.ErrorKindTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{domain.ErrorKindServiceUnavailable, []string{
		"503", "502", "500", "service unavailable", "bad gateway", "overloaded", "internal server error",
	}},
	{domain.ErrorKindNetworkFailure, []string{
		"connection reset", "connection refused", "no such host", "network", "offline",
		"broken pipe", "unexpected eof",
	}},
	{domain.ErrorKindInvalidRequest, []string{"400", "invalid request", "bad request", "malformed", "invalid_request"}},
}

func kindFromMessage(msg string) domain.ErrorKind {
	lower := strings.ToLower(msg)
	for _, rule := range messageRules {
		for _, p := range rule.patterns {
			if strings.Contains(lower, p) {
				return rule.kind
			}
		}
	}
	return domain.ErrorKindUnknown
}

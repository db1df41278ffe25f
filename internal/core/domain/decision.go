package domain

import "time"

// FallbackTag names a degraded affordance the caller can offer instead of the AI capability.
type FallbackTag string

const (
	FallbackNone            FallbackTag = ""
	FallbackOpenFullContent FallbackTag = "open_full_content"
	FallbackKeywordSearch   FallbackTag = "keyword_search"
	FallbackNeutralInbox    FallbackTag = "neutral_inbox"
	FallbackSkipDetection   FallbackTag = "skip_detection"
	FallbackManualEntry     FallbackTag = "manual_entry"
)

// Message and action keys. A presentation layer maps them to copy and icons.
const (
	MessageKeyFallbackActive = "ai.error.fallback_active"

	ActionRetry       = "action.retry"
	ActionDismiss     = "action.dismiss"
	ActionUseFallback = "action.use_fallback"
)

// MessageKey returns the user-facing message key for a kind.
func MessageKey(kind ErrorKind) string {
	if !kind.Valid() {
		kind = ErrorKindUnknown
	}
	return "ai.error." + string(kind)
}

// Decision is the UI-agnostic outcome of handling one failure.
type Decision struct {
	Kind               ErrorKind
	UserMessageKey     string
	FallbackTag        FallbackTag
	FallbackActive     bool
	ShouldRetry        bool
	RetryDelay         time.Duration
	PrimaryActionKey   string
	SecondaryActionKey string
}

// ErrorRecord is the privacy-preserving telemetry payload. It never holds raw user content.
type ErrorRecord struct {
	ID           string
	Capability   Capability
	Kind         ErrorKind
	HashedUserID string
	RequestID    string
	AttemptCount int
	Timestamp    time.Time
	HashedQuery  *string
}

package domain

import "time"

// ErrorKind is the fixed classification of a capability failure.
type ErrorKind string

const (
	ErrorKindTimeout            ErrorKind = "timeout"
	ErrorKindRateLimit          ErrorKind = "rateLimit"
	ErrorKindServiceUnavailable ErrorKind = "serviceUnavailable"
	ErrorKindNetworkFailure     ErrorKind = "networkFailure"
	ErrorKindInvalidRequest     ErrorKind = "invalidRequest"
	ErrorKindQuotaExceeded      ErrorKind = "quotaExceeded"
	ErrorKindUnknown            ErrorKind = "unknown"
)

type kindAttributes struct {
	retryable bool
	baseDelay time.Duration
}

// kindTable never changes at runtime. Kinds missing from it behave like unknown.
var kindTable = map[ErrorKind]kindAttributes{
	ErrorKindTimeout:            {retryable: true, baseDelay: 1 * time.Second},
	ErrorKindServiceUnavailable: {retryable: true, baseDelay: 2 * time.Second},
	ErrorKindNetworkFailure:     {retryable: true, baseDelay: 1 * time.Second},
	ErrorKindRateLimit:          {},
	ErrorKindInvalidRequest:     {},
	ErrorKindQuotaExceeded:      {},
	ErrorKindUnknown:            {},
}

// AllErrorKinds lists every kind in a stable order.
var AllErrorKinds = []ErrorKind{
	ErrorKindTimeout,
	ErrorKindRateLimit,
	ErrorKindServiceUnavailable,
	ErrorKindNetworkFailure,
	ErrorKindInvalidRequest,
	ErrorKindQuotaExceeded,
	ErrorKindUnknown,
}

// Valid reports whether k is one of the defined kinds.
func (k ErrorKind) Valid() bool {
	_, ok := kindTable[k]
	return ok
}

// Retryable reports whether failures of this kind may be retried automatically.
func (k ErrorKind) Retryable() bool {
	return kindTable[k].retryable
}

// BaseDelay is the delay before the first retry of this kind. Zero for non-retryable kinds.
func (k ErrorKind) BaseDelay() time.Duration {
	return kindTable[k].baseDelay
}

func (k ErrorKind) String() string {
	return string(k)
}

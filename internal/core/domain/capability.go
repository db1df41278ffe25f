package domain

import (
	"fmt"
	"time"
)

// Capability identifies an AI-backed feature whose calls can fail or succeed.
type Capability string

// Well-known capabilities. Any other value is accepted as an opaque identifier.
const (
	CapabilityThreadSummary     Capability = "thread-summary"
	CapabilitySmartSearch       Capability = "smart-search"
	CapabilityCategorization    Capability = "categorization"
	CapabilityPriorityDetection Capability = "priority-detection"
	CapabilityScheduling        Capability = "scheduling"
)

func (c Capability) String() string {
	return string(c)
}

// FailureContext describes one failed capability call.
// UserID, Refs and Query are sensitive and never leave the core in raw form.
type FailureContext struct {
	Capability   Capability
	RequestID    string
	UserID       string
	AttemptCount int
	OccurredAt   time.Time
	Refs         map[string]string // message/thread ids
	Query        string
}

// Invocation is what a retry hands back to the capability when redelivering.
type Invocation struct {
	RequestID    string
	UserID       string
	AttemptCount int
	Refs         map[string]string
}

// CapabilityError lets capability adapters state the failure kind or HTTP status explicitly.
type CapabilityError struct {
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *CapabilityError) Error() string {
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("capability error (status %d): %v", e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("capability error: %v", e.Err)
	case e.Kind != "":
		return fmt.Sprintf("capability error: %s", e.Kind)
	default:
		return fmt.Sprintf("capability error (status %d)", e.Status)
	}
}

func (e *CapabilityError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status carried by the error, or 0.
func (e *CapabilityError) StatusCode() int {
	return e.Status
}

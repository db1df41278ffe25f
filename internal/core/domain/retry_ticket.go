package domain

import "time"

// RetryTicket is a persisted record of one retryable failure awaiting redelivery.
type RetryTicket struct {
	ID            string            `json:"id"`
	Capability    Capability        `json:"capability"`
	Kind          ErrorKind         `json:"kind"`
	AttemptCount  int               `json:"attempt_count"`
	NextAttemptAt time.Time         `json:"next_attempt_at"`
	CreatedAt     time.Time         `json:"created_at"`
	Status        TicketStatus      `json:"status"`
	ResolvedAt    *time.Time        `json:"resolved_at,omitempty"`
	UserID        string            `json:"user_id,omitempty"`
	Refs          map[string]string `json:"refs,omitempty"`
}

type TicketStatus string

const (
	TicketStatusPending   TicketStatus = "pending"
	TicketStatusSucceeded TicketStatus = "succeeded"
	TicketStatusExhausted TicketStatus = "exhausted"
	TicketStatusCancelled TicketStatus = "cancelled"
)

// Resolved reports whether the ticket reached a terminal status.
func (t *RetryTicket) Resolved() bool {
	return t.Status != TicketStatusPending
}

// Invocation builds the redelivery payload for this ticket.
func (t *RetryTicket) Invocation() Invocation {
	return Invocation{
		RequestID:    t.ID,
		UserID:       t.UserID,
		AttemptCount: t.AttemptCount,
		Refs:         t.Refs,
	}
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (t *RetryTicket) Clone() *RetryTicket {
	c := *t
	if t.ResolvedAt != nil {
		at := *t.ResolvedAt
		c.ResolvedAt = &at
	}
	if t.Refs != nil {
		c.Refs = make(map[string]string, len(t.Refs))
		for k, v := range t.Refs {
			c.Refs[k] = v
		}
	}
	return &c
}

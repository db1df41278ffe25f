package domain

import "time"

// CapabilityHealth tracks consecutive failures and fallback mode for one capability.
type CapabilityHealth struct {
	Capability          Capability `json:"capability"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	FallbackActive      bool       `json:"fallback_active"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// FallbackEvent is emitted whenever a capability enters or leaves fallback mode.
// It carries no user data.
type FallbackEvent struct {
	Capability Capability
	Active     bool
	At         time.Time
}

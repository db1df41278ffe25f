package orchestrator

import "github.com/vietddude/aiguard/internal/core/domain"

// DefaultFallbacks maps the well-known capabilities to their degraded affordance.
func DefaultFallbacks() map[domain.Capability]domain.FallbackTag {
	return map[domain.Capability]domain.FallbackTag{
		domain.CapabilityThreadSummary:     domain.FallbackOpenFullContent,
		domain.CapabilitySmartSearch:       domain.FallbackKeywordSearch,
		domain.CapabilityCategorization:    domain.FallbackNeutralInbox,
		domain.CapabilityPriorityDetection: domain.FallbackSkipDetection,
		domain.CapabilityScheduling:        domain.FallbackManualEntry,
	}
}

// mergeFallbacks applies overrides on top of the defaults. An override with an
// empty tag removes the capability's fallback.
func mergeFallbacks(overrides map[domain.Capability]domain.FallbackTag) map[domain.Capability]domain.FallbackTag {
	table := DefaultFallbacks()
	for c, tag := range overrides {
		if tag == domain.FallbackNone {
			delete(table, c)
			continue
		}
		table[c] = tag
	}
	return table
}

// Package health tracks per-capability failure streaks and fallback mode.
package health

import (
	"sync"
	"time"

	"github.com/vietddude/aiguard/internal/core/domain"
)

// DefaultFallbackThreshold is the number of consecutive failures that activates fallback mode.
const DefaultFallbackThreshold = 3

// State is the fallback state of a capability.
type State string

const (
	StateNormal   State = "normal"
	StateFallback State = "fallback"
)

// Listener receives fallback transitions.
type Listener func(domain.FallbackEvent)

// Tracker is a per-capability state machine {Normal, Fallback}.
// All mutations are serialized; listeners observe transitions in mutation order
// and may call back into the tracker.
type Tracker struct {
	threshold int
	now       func() time.Time

	mu      sync.Mutex
	states  map[domain.Capability]*domain.CapabilityHealth
	pending []domain.FallbackEvent // appended under mu, in mutation order

	// emitMu is held by the single goroutine currently delivering pending events.
	emitMu sync.Mutex

	listenersMu sync.RWMutex
	listeners   map[int]Listener
	nextID      int
}

// NewTracker creates a tracker. A threshold below 1 uses the default of 3.
func NewTracker(threshold int) *Tracker {
	if threshold < 1 {
		threshold = DefaultFallbackThreshold
	}
	return &Tracker{
		threshold: threshold,
		now:       time.Now,
		states:    make(map[domain.Capability]*domain.CapabilityHealth),
		listeners: make(map[int]Listener),
	}
}

// SetClock overrides the time source (tests).
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Threshold returns the configured fallback threshold.
func (t *Tracker) Threshold() int {
	return t.threshold
}

// Subscribe registers a listener and returns a function that removes it.
func (t *Tracker) Subscribe(fn Listener) (unsubscribe func()) {
	t.listenersMu.Lock()
	defer t.listenersMu.Unlock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	return func() {
		t.listenersMu.Lock()
		defer t.listenersMu.Unlock()
		delete(t.listeners, id)
	}
}

// RecordFailure increments the failure streak and enters fallback mode once it
// reaches the threshold. Returns the updated health.
func (t *Tracker) RecordFailure(capability domain.Capability) domain.CapabilityHealth {
	t.mu.Lock()
	h := t.getOrCreate(capability)
	h.ConsecutiveFailures++
	h.UpdatedAt = t.now()

	var event *domain.FallbackEvent
	if !h.FallbackActive && h.ConsecutiveFailures >= t.threshold {
		h.FallbackActive = true
		event = &domain.FallbackEvent{Capability: capability, Active: true, At: h.UpdatedAt}
	}
	snapshot := *h
	t.unlockAndEmit(event)
	return snapshot
}

// RecordSuccess resets the failure streak and leaves fallback mode.
// It is a no-op for a capability that is already healthy.
func (t *Tracker) RecordSuccess(capability domain.Capability) domain.CapabilityHealth {
	t.mu.Lock()
	h, ok := t.states[capability]
	if !ok {
		h = t.getOrCreate(capability)
		snapshot := *h
		t.mu.Unlock()
		return snapshot
	}
	if h.ConsecutiveFailures == 0 && !h.FallbackActive {
		snapshot := *h
		t.mu.Unlock()
		return snapshot
	}

	var event *domain.FallbackEvent
	h.ConsecutiveFailures = 0
	h.UpdatedAt = t.now()
	if h.FallbackActive {
		h.FallbackActive = false
		event = &domain.FallbackEvent{Capability: capability, Active: false, At: h.UpdatedAt}
	}
	snapshot := *h
	t.unlockAndEmit(event)
	return snapshot
}

// IsInFallback reports whether the capability is in fallback mode.
func (t *Tracker) IsInFallback(capability domain.Capability) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.states[capability]
	return ok && h.FallbackActive
}

// State returns the state machine state of a capability.
func (t *Tracker) State(capability domain.Capability) State {
	if t.IsInFallback(capability) {
		return StateFallback
	}
	return StateNormal
}

// Get returns the health of a capability. Unknown capabilities report a zero streak.
func (t *Tracker) Get(capability domain.Capability) domain.CapabilityHealth {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.states[capability]; ok {
		return *h
	}
	return domain.CapabilityHealth{Capability: capability}
}

// Snapshot returns a copy of every tracked capability.
func (t *Tracker) Snapshot() []domain.CapabilityHealth {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.CapabilityHealth, 0, len(t.states))
	for _, h := range t.states {
		out = append(out, *h)
	}
	return out
}

// Restore loads previously persisted health. The fallback flag is recomputed
// from the streak so a restored state always satisfies the threshold invariant.
// No events are emitted.
func (t *Tracker) Restore(states []domain.CapabilityHealth) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range states {
		if s.ConsecutiveFailures < 0 {
			s.ConsecutiveFailures = 0
		}
		s.FallbackActive = s.ConsecutiveFailures >= t.threshold
		h := s
		t.states[s.Capability] = &h
	}
}

// getOrCreate must be called with mu held.
func (t *Tracker) getOrCreate(capability domain.Capability) *domain.CapabilityHealth {
	h, ok := t.states[capability]
	if !ok {
		h = &domain.CapabilityHealth{Capability: capability, UpdatedAt: t.now()}
		t.states[capability] = h
	}
	return h
}

// unlockAndEmit queues event, releases mu and delivers whatever is pending.
func (t *Tracker) unlockAndEmit(event *domain.FallbackEvent) {
	if event == nil {
		t.mu.Unlock()
		return
	}
	t.pending = append(t.pending, *event)
	t.mu.Unlock()
	t.drain()
}

// drain delivers pending events in order. If another goroutine is already
// delivering, it picks up our event before it stops.
func (t *Tracker) drain() {
	for {
		if !t.emitMu.TryLock() {
			return
		}
		for {
			t.mu.Lock()
			if len(t.pending) == 0 {
				t.mu.Unlock()
				break
			}
			ev := t.pending[0]
			t.pending = t.pending[1:]
			t.mu.Unlock()
			t.deliver(ev)
		}
		t.emitMu.Unlock()

		t.mu.Lock()
		empty := len(t.pending) == 0
		t.mu.Unlock()
		if empty {
			return
		}
	}
}

func (t *Tracker) deliver(ev domain.FallbackEvent) {
	t.listenersMu.RLock()
	fns := make([]Listener, 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	t.listenersMu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

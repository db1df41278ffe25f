// Package invoker routes retry redeliveries to the capability that failed.
package invoker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/vietddude/aiguard/internal/core/domain"
)

// ErrNoInvoker is returned for a capability without a registered invoker.
var ErrNoInvoker = errors.New("no invoker registered for capability")

// Invoker re-runs one capability call.
type Invoker interface {
	Invoke(ctx context.Context, capability domain.Capability, inv domain.Invocation) error
}

// Registry dispatches invocations by capability.
type Registry struct {
	mu       sync.RWMutex
	invokers map[domain.Capability]Invoker
}

func NewRegistry() *Registry {
	return &Registry{invokers: make(map[domain.Capability]Invoker)}
}

// Register sets the invoker for a capability, replacing any previous one.
func (r *Registry) Register(capability domain.Capability, inv Invoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invokers[capability] = inv
}

// Invoke routes to the registered invoker. A missing invoker is reported as an
// invalid request so the ticket is not retried forever against nothing.
func (r *Registry) Invoke(ctx context.Context, capability domain.Capability, inv domain.Invocation) error {
	r.mu.RLock()
	target, ok := r.invokers[capability]
	r.mu.RUnlock()
	if !ok {
		return &domain.CapabilityError{
			Kind: domain.ErrorKindInvalidRequest,
			Err:  fmt.Errorf("%w: %s", ErrNoInvoker, capability),
		}
	}
	return target.Invoke(ctx, capability, inv)
}

// Capabilities lists registered capabilities in sorted order.
func (r *Registry) Capabilities() []domain.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Capability, 0, len(r.invokers))
	for c := range r.invokers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Stats returns statistics for every HTTP invoker.
func (r *Registry) Stats() map[domain.Capability]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domain.Capability]Stats)
	for c, inv := range r.invokers {
		if h, ok := inv.(*HTTPInvoker); ok {
			out[c] = h.Stats()
		}
	}
	return out
}

// Close releases every invoker that holds resources.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, inv := range r.invokers {
		if closer, ok := inv.(interface{ Close() error }); ok {
			errs = append(errs, closer.Close())
		}
	}
	return errors.Join(errs...)
}

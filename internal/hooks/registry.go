// Package hooks holds per-worker setup and teardown callbacks.
//
// Collaborators register callbacks before a pool starts. Every worker runs the
// after-fork chain once when it comes up and the cleanup chain once when it
// leaves, on every exit path.
package hooks

import (
	"errors"
	"sync"
)

// ErrFrozen is returned when registering after a pool has started.
var ErrFrozen = errors.New("hooks: registry is frozen")

// Hook receives the zero-based index of the worker running it.
type Hook func(worker int)

// Registry is an append-only pair of hook chains.
type Registry struct {
	mu        sync.RWMutex
	afterFork []Hook
	cleanup   []Hook
	frozen    bool
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// AfterFork appends h to the chain run when a worker starts.
func (r *Registry) AfterFork(h Hook) error {
	return r.add(&r.afterFork, h)
}

// Cleanup appends h to the chain run when a worker exits.
func (r *Registry) Cleanup(h Hook) error {
	return r.add(&r.cleanup, h)
}

func (r *Registry) add(chain *[]Hook, h Hook) error {
	if h == nil {
		return errors.New("hooks: nil hook")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrFrozen
	}
	*chain = append(*chain, h)
	return nil
}

// Freeze rejects further registration.
func (r *Registry) Freeze() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Len returns the number of after-fork and cleanup hooks.
func (r *Registry) Len() (afterFork, cleanup int) {
	if r == nil {
		return 0, 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.afterFork), len(r.cleanup)
}

// RunAfterFork runs the after-fork chain in registration order.
func (r *Registry) RunAfterFork(worker int) {
	for _, h := range r.snapshot(func() []Hook { return r.afterFork }) {
		h(worker)
	}
}

// RunCleanup runs the cleanup chain in registration order.
func (r *Registry) RunCleanup(worker int) {
	for _, h := range r.snapshot(func() []Hook { return r.cleanup }) {
		h(worker)
	}
}

// snapshot copies a chain so hooks run without holding the lock.
func (r *Registry) snapshot(chain func() []Hook) []Hook {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Hook(nil), chain()...)
}

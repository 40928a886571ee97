package session

import (
	"reflect"
	"sync"

	"github.com/teslashibe/voicelink/pkg/transport"
)

// Registry holds the one current transport adapter.
//
// It only stores a reference: it never connects, disconnects or otherwise
// manages the adapter's lifetime.
type Registry struct {
	mu         sync.RWMutex
	current    transport.Adapter
	generation uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register makes a current and returns the adapter it replaced, if any.
// Registering the current adapter again keeps the generation.
func (r *Registry) Register(a transport.Adapter) (previous transport.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous = r.current
	r.current = a
	if previous == nil || !sameAdapter(previous, a) {
		r.generation++
	}
	return previous
}

// UnregisterIfCurrent clears the registry only when a is still current.
// A superseded adapter can never clear a newer registration.
func (r *Registry) UnregisterIfCurrent(a transport.Adapter) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil || !sameAdapter(r.current, a) {
		return false
	}
	r.current = nil
	r.generation++
	return true
}

// Current returns the registered adapter. Absence is reported as
// (nil, false).
func (r *Registry) Current() (transport.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current, r.current != nil
}

// IsCurrent reports whether a is the registered adapter.
func (r *Registry) IsCurrent(a transport.Adapter) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current != nil && sameAdapter(r.current, a)
}

// Generation increases on every registration change.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// sameAdapter compares adapter identity without panicking on
// non-comparable dynamic types.
func sameAdapter(a, b transport.Adapter) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	if !reflect.ValueOf(a).Comparable() || !reflect.ValueOf(b).Comparable() {
		return false
	}
	return a == b
}

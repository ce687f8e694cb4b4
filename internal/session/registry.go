package session

import (
	"errors"
	"sync"
)

// ErrDuplicateName is returned when a display name is already bound to a live connection.
var ErrDuplicateName = errors.New("display name already in use")

// Registry maps display names to the connection that owns them.
// Bind and Unbind are atomic with respect to Lookup.
type Registry[T comparable] struct {
	mu    sync.RWMutex
	names map[string]T
}

// NewRegistry returns an empty registry.
func NewRegistry[T comparable]() *Registry[T] {
	return &Registry[T]{names: make(map[string]T)}
}

// Bind claims name for owner. It fails with ErrDuplicateName if another owner
// holds it; binding the same owner twice is allowed.
func (r *Registry[T]) Bind(name string, owner T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.names[name]; ok && cur != owner {
		return ErrDuplicateName
	}
	r.names[name] = owner
	return nil
}

// Unbind releases name if it is still held by owner.
func (r *Registry[T]) Unbind(name string, owner T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.names[name]; ok && cur == owner {
		delete(r.names, name)
		return true
	}
	return false
}

// Lookup returns the owner currently holding name.
func (r *Registry[T]) Lookup(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.names[name]
	return owner, ok
}

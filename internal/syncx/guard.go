// Package syncx provides extended synchronization primitives
package syncx

import "sync"

// RWGuard wraps a value with an RWMutex and scoped accessors.
type RWGuard[T any] struct {
	mu    sync.RWMutex
	value T
}

// NewGuard creates a guarded value.
func NewGuard[T any](initial T) *RWGuard[T] {
	return &RWGuard[T]{value: initial}
}

// Read runs fn under the read lock. fn must not retain or mutate the pointer.
func (g *RWGuard[T]) Read(fn func(*T)) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	fn(&g.value)
}

// Write runs fn under the write lock.
func (g *RWGuard[T]) Write(fn func(*T)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(&g.value)
}

// Get returns a shallow copy of the value.
func (g *RWGuard[T]) Get() T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}

// Set atomically replaces the value.
func (g *RWGuard[T]) Set(v T) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = v
}

// Swap atomically replaces and returns old value.
func (g *RWGuard[T]) Swap(v T) T {
	g.mu.Lock()
	defer g.mu.Unlock()
	old := g.value
	g.value = v
	return old
}

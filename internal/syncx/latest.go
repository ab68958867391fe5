package syncx

import "sync"

// Latest is a single-slot, most-recent-wins buffer. Writers never block on readers
// and older values are overwritten, never queued.
type Latest[T any] struct {
	mu      sync.RWMutex
	value   T
	version uint64
}

// Store overwrites the slot and returns the new version.
func (l *Latest[T]) Store(v T) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.value = v
	l.version++
	return l.version
}

// Load returns the current value, its version and whether anything was stored yet.
func (l *Latest[T]) Load() (T, uint64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.value, l.version, l.version > 0
}

// Clear empties the slot. The version keeps counting.
func (l *Latest[T]) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	var zero T
	l.value = zero
	l.version++
}

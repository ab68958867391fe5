// Package resilience provides fault tolerance patterns for collaborator calls and capture devices
package resilience

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// State represents circuit breaker state
type State uint32

const (
	Closed   State = iota // Normal operation
	Open                  // Failing fast
	HalfOpen              // Testing recovery
)

func (s State) String() string {
	return [...]string{"closed", "open", "half-open"}[s]
}

// ErrOpen is returned while the breaker is failing fast.
var ErrOpen = errors.New("circuit breaker open")

// Breaker implements the circuit breaker pattern with atomic state.
// One breaker guards one collaborator so a dead model server does not stall every tick.
type Breaker struct {
	name          string
	cfg           Config
	state         atomic.Uint32
	failures      atomic.Int32
	successes     atomic.Int32
	lastFailure   atomic.Int64 // unix nano
	onStateChange func(name string, from, to State)
}

// New creates a named breaker.
func New(name string, cfg Config) *Breaker {
	b := &Breaker{name: name, cfg: cfg.withDefaults()}
	b.state.Store(uint32(Closed))
	return b
}

// WithHook sets state change callback (for metrics)
func (b *Breaker) WithHook(fn func(name string, from, to State)) *Breaker {
	b.onStateChange = fn
	return b
}

// Name returns the breaker's name.
func (b *Breaker) Name() string { return b.name }

// Allow returns nil if a call may proceed.
func (b *Breaker) Allow() error {
	if State(b.state.Load()) != Open {
		return nil
	}
	if b.shouldAttemptReset() {
		b.transition(HalfOpen)
		return nil
	}
	return ErrOpen
}

// Success records successful call
func (b *Breaker) Success() {
	switch State(b.state.Load()) {
	case HalfOpen:
		if b.successes.Add(1) >= int32(b.cfg.HalfOpenSuccesses) {
			b.transition(Closed)
		}
	case Closed:
		b.failures.Store(0)
	}
}

// Failure records failed call
func (b *Breaker) Failure() {
	b.lastFailure.Store(time.Now().UnixNano())
	count := b.failures.Add(1)

	switch State(b.state.Load()) {
	case HalfOpen:
		b.transition(Open)
	case Closed:
		if count >= int32(b.cfg.Threshold) {
			b.transition(Open)
		}
	}
}

// State returns current state
func (b *Breaker) State() State {
	return State(b.state.Load())
}

// Reset forces breaker to closed state
func (b *Breaker) Reset() {
	b.transition(Closed)
}

func (b *Breaker) transition(to State) {
	from := State(b.state.Swap(uint32(to)))
	if from == to {
		return
	}

	switch to {
	case Closed:
		b.failures.Store(0)
		b.successes.Store(0)
		slog.Info("circuit breaker closed", "breaker", b.name)
	case Open:
		b.successes.Store(0)
		slog.Warn("circuit breaker opened", "breaker", b.name, "failures", b.failures.Load())
	case HalfOpen:
		b.successes.Store(0)
		slog.Info("circuit breaker half-open", "breaker", b.name)
	}

	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}

func (b *Breaker) shouldAttemptReset() bool {
	last := b.lastFailure.Load()
	if last == 0 {
		return true
	}
	return time.Since(time.Unix(0, last)) > b.cfg.ResetTimeout
}

// Execute runs fn with circuit breaker protection
func (b *Breaker) Execute(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		b.Failure()
		return err
	}
	b.Success()
	return nil
}

// ExecuteWithResult runs fn returning value and error with circuit protection
func ExecuteWithResult[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := b.Allow(); err != nil {
		return zero, err
	}
	result, err := fn()
	if err != nil {
		b.Failure()
		return zero, err
	}
	b.Success()
	return result, nil
}

package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBreakerInitialState(t *testing.T) {
	b := New("test", DefaultConfig())
	if b.State() != Closed {
		t.Errorf("initial state = %v, want Closed", b.State())
	}
	if b.Name() != "test" {
		t.Errorf("Name() = %q, want test", b.Name())
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := New("hints", Config{Threshold: 3, ResetTimeout: time.Hour, HalfOpenSuccesses: 2})

	for i := 0; i < 3; i++ {
		b.Failure()
	}

	if b.State() != Open {
		t.Errorf("state = %v, want Open", b.State())
	}
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Errorf("Allow() = %v, want ErrOpen", err)
	}
}

func TestBreakerHalfOpenThenClosed(t *testing.T) {
	b := New("x", Config{Threshold: 1, ResetTimeout: time.Millisecond, HalfOpenSuccesses: 2})
	b.Failure()
	time.Sleep(5 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() after reset timeout = %v, want nil", err)
	}
	if b.State() != HalfOpen {
		t.Fatalf("state = %v, want HalfOpen", b.State())
	}

	b.Success()
	b.Success()
	if b.State() != Closed {
		t.Errorf("state after successes = %v, want Closed", b.State())
	}
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	b := New("x", Config{Threshold: 1, ResetTimeout: time.Millisecond, HalfOpenSuccesses: 3})
	b.Failure()
	time.Sleep(5 * time.Millisecond)
	_ = b.Allow()

	b.Failure()
	if b.State() != Open {
		t.Errorf("state = %v, want Open", b.State())
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b := New("x", Config{Threshold: 2, ResetTimeout: time.Hour, HalfOpenSuccesses: 1})
	b.Failure()
	b.Success()
	b.Failure()

	if b.State() != Closed {
		t.Errorf("state = %v, want Closed (success should reset count)", b.State())
	}
}

func TestBreakerHook(t *testing.T) {
	var mu sync.Mutex
	var seen []State
	b := New("crm", Config{Threshold: 1, ResetTimeout: time.Hour, HalfOpenSuccesses: 1}).
		WithHook(func(name string, from, to State) {
			mu.Lock()
			defer mu.Unlock()
			if name != "crm" {
				t.Errorf("hook name = %q", name)
			}
			seen = append(seen, to)
		})

	b.Failure()
	b.Reset()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != Open || seen[1] != Closed {
		t.Errorf("transitions = %v, want [open closed]", seen)
	}
}

func TestExecuteWithResult(t *testing.T) {
	b := New("x", Config{Threshold: 1, ResetTimeout: time.Hour, HalfOpenSuccesses: 1})

	v, err := ExecuteWithResult(b, func() (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Fatalf("ExecuteWithResult() = (%d, %v), want (7, nil)", v, err)
	}

	boom := errors.New("boom")
	if _, err := ExecuteWithResult(b, func() (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Errorf("Execute() on open breaker = %v, want ErrOpen", err)
	}
}

func TestStateString(t *testing.T) {
	if Open.String() != "open" || HalfOpen.String() != "half-open" || Closed.String() != "closed" {
		t.Error("unexpected state names")
	}
}

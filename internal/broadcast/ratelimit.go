package broadcast

import (
	"sync"
	"time"
)

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
	limit      int
	window     time.Duration
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{limit: limit, window: window}
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.window)

	// Prune old timestamps
	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= r.limit {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

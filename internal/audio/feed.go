package audio

import (
	"context"
	"sync"
	"time"
)

// Feed is a Source driven by pushed samples instead of a local device. Remote
// clients stream PCM over a websocket and the server pushes it here.
type Feed struct {
	acc    *Accumulator
	outCh  chan Chunk
	onDrop func()

	mu      sync.Mutex
	running bool
	rate    int
}

// NewFeed creates a feed emitting chunks of the given duration.
func NewFeed(chunkDuration time.Duration, onDrop func()) *Feed {
	return &Feed{
		acc:    NewAccumulator(chunkDuration),
		outCh:  make(chan Chunk, outputBuffer),
		onDrop: onDrop,
	}
}

func (f *Feed) Output() <-chan Chunk { return f.outCh }

func (f *Feed) Start(context.Context) error {
	f.mu.Lock()
	f.running = true
	f.mu.Unlock()
	return nil
}

// Push appends samples recorded at sampleRate. A rate change discards the
// partial buffer. Returns false once the feed is stopped.
func (f *Feed) Push(samples []float32, sampleRate int) bool {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return false
	}
	if sampleRate != f.rate {
		f.rate = sampleRate
		f.acc.Configure(sampleRate, "remote")
	}
	f.mu.Unlock()

	chunk, ok := f.acc.Append(samples, time.Now())
	if !ok {
		return true
	}
	select {
	case f.outCh <- chunk:
	default:
		if f.onDrop != nil {
			f.onDrop()
		}
	}
	return true
}

// Stop discards the partial buffer. It never blocks.
func (f *Feed) Stop(time.Duration) bool {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
	f.acc.Discard()
	return true
}

package screen

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg" // JPEG decoder
	_ "image/png"  // PNG decoder
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corona10/goimagehash"

	screencap "github.com/GriffinCanCode/live-assist/backend/platform/internal/screen"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/syncx"
)

// Frame is a stored screenshot plus whether it differs visibly from the previous one.
type Frame struct {
	screencap.Screenshot
	Changed bool
}

// Processor captures on a fixed interval and overwrites the latest frame.
// It never queues frames and never waits on a consumer.
type Processor struct {
	capturer screencap.Capturer
	interval time.Duration
	latest   syncx.Latest[Frame]

	// onFrame is called for visibly changed frames. A call still running when
	// the next changed frame arrives causes that frame's notification to be skipped.
	onFrame   func(Frame)
	notifying atomic.Bool
	onError   func(error)

	mu       sync.Mutex
	lastHash *goimagehash.ImageHash
	captures atomic.Int64
}

// NewProcessor creates a screen processor.
func NewProcessor(capturer screencap.Capturer, interval time.Duration) *Processor {
	if floor := MinIntervalMillis * time.Millisecond; interval < floor {
		interval = floor
	}
	return &Processor{capturer: capturer, interval: interval}
}

// OnFrame registers the changed-frame callback. Must be set before Run.
func (p *Processor) OnFrame(fn func(Frame)) { p.onFrame = fn }

// OnError registers a capture-failure hook. Must be set before Run.
func (p *Processor) OnError(fn func(error)) { p.onError = fn }

// Run captures until ctx is cancelled. Capture failures skip the tick.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Processor) tick(ctx context.Context) {
	shot, err := p.capturer.Capture(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Debug("screen capture failed", "error", err)
			if p.onError != nil {
				p.onError(err)
			}
		}
		return
	}
	p.Store(shot)
}

// Store records a screenshot as the latest frame and notifies if it changed.
func (p *Processor) Store(shot screencap.Screenshot) Frame {
	frame := Frame{Screenshot: shot, Changed: p.changed(shot.Image)}
	p.latest.Store(frame)
	p.captures.Add(1)

	if frame.Changed && p.onFrame != nil && p.notifying.CompareAndSwap(false, true) {
		go func() {
			defer p.notifying.Store(false)
			p.onFrame(frame)
		}()
	}
	return frame
}

// Latest returns the most recent frame, if any.
func (p *Processor) Latest() (Frame, bool) {
	f, _, ok := p.latest.Load()
	return f, ok
}

// Captures returns the number of stored frames.
func (p *Processor) Captures() int64 { return p.captures.Load() }

// Clear drops the stored frame and the change-detection baseline.
func (p *Processor) Clear() {
	p.latest.Clear()
	p.mu.Lock()
	p.lastHash = nil
	p.mu.Unlock()
}

// changed computes the perceptual hash and compares it to the previous changed frame.
// Undecodable images always count as changed.
func (p *Processor) changed(imgData []byte) bool {
	img, _, err := image.Decode(bytes.NewReader(imgData))
	if err != nil {
		return true
	}
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return true
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lastHash == nil {
		p.lastHash = hash
		return true
	}
	dist, err := p.lastHash.Distance(hash)
	if err != nil {
		p.lastHash = hash
		return true
	}
	if dist <= MaxHashDistance {
		slog.Debug("similar screen frame", "distance", dist)
		return false
	}
	p.lastHash = hash
	return true
}

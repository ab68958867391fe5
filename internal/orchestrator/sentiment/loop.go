// Package sentiment periodically counts happy and negative faces on the latest
// screenshot and keeps running totals for the session.
package sentiment

import (
	"context"
	"time"

	"github.com/GriffinCanCode/live-assist/backend/platform/internal/broadcast"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/collab"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/orchestrator/screen"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/syncx"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/trace"
)

// DefaultInterval is the analysis cadence.
const DefaultInterval = 30 * time.Second

// FrameSource yields the latest screenshot.
type FrameSource interface {
	Latest() (screen.Frame, bool)
}

// Publisher fans messages out to subscribers.
type Publisher interface {
	Publish(msg any)
}

// Loop analyzes one frame per interval. A frame already analyzed is not sent again.
type Loop struct {
	analyzer collab.FaceAnalyzer
	frames   FrameSource
	pub      Publisher
	interval time.Duration

	totals *syncx.RWGuard[tally]
}

type tally struct {
	happy    int
	negative int
	lastSeen time.Time
}

// New creates a loop.
func New(analyzer collab.FaceAnalyzer, frames FrameSource, pub Publisher, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Loop{
		analyzer: analyzer,
		frames:   frames,
		pub:      pub,
		interval: interval,
		totals:   syncx.NewGuard(tally{}),
	}
}

// Run analyzes until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Analyze(ctx)
		}
	}
}

// Analyze runs one cycle. It returns false when there was no new frame or the
// analyzer failed.
func (l *Loop) Analyze(ctx context.Context) (broadcast.FaceSentimentMessage, bool) {
	frame, ok := l.frames.Latest()
	if !ok {
		return broadcast.FaceSentimentMessage{}, false
	}
	var seen bool
	l.totals.Read(func(t *tally) {
		seen = !t.lastSeen.IsZero() && frame.Timestamp.Equal(t.lastSeen)
	})
	if seen {
		return broadcast.FaceSentimentMessage{}, false
	}

	ctx, span := trace.StartSpan(ctx, "face_sentiment")
	defer span.End()

	counts, err := l.analyzer.AnalyzeFaces(ctx, frame.Image)
	if err != nil {
		span.SetError(err)
		trace.Logger(ctx).Debug("face analysis failed", "error", err)
		return broadcast.FaceSentimentMessage{}, false
	}

	var msg broadcast.FaceSentimentMessage
	l.totals.Write(func(t *tally) {
		t.lastSeen = frame.Timestamp
		t.happy += counts.Happy
		t.negative += counts.Negative
		msg = broadcast.NewFaceSentiment(counts.Happy, counts.Negative, t.happy, t.negative)
	})

	l.pub.Publish(msg)
	return msg, true
}

// Totals returns the cumulative counts.
func (l *Loop) Totals() collab.FaceCounts {
	t := l.totals.Get()
	return collab.FaceCounts{Happy: t.happy, Negative: t.negative}
}

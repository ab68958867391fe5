// Package transcription turns finished audio chunks into speaker-attributed
// segments on a bounded worker pool.
package transcription

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/live-assist/backend/platform/internal/audio"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/collab"
	apperrors "github.com/GriffinCanCode/live-assist/backend/platform/internal/errors"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/orchestrator/filter"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/orchestrator/transcript"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/trace"
)

// Pool defaults
const (
	DefaultWorkers   = 2
	DefaultQueueSize = 8
	CallTimeout      = 60 * time.Second
)

// Chunk outcomes reported to Hooks.OnOutcome.
const (
	OutcomeOK       = "ok"
	OutcomeSilent   = "silent"
	OutcomeEmpty    = "empty"
	OutcomeError    = "error"
	OutcomeDropped  = "dropped"
	OutcomeCanceled = "canceled"
)

// Hooks receive pool results. OnSegments is called from worker goroutines in
// completion order, so a later chunk may be reported before an earlier one.
type Hooks struct {
	OnSegments func(ctx context.Context, chunk audio.Chunk, segs []collab.Segment)
	OnOutcome  func(outcome string)
}

// Config sizes the pool.
type Config struct {
	Workers   int
	QueueSize int
}

// Pool runs transcription off the capture path.
type Pool struct {
	transcriber collab.Transcriber
	hooks       Hooks
	cfg         Config

	mu     sync.Mutex
	queue  chan audio.Chunk
	closed bool
	wg     sync.WaitGroup
}

// New creates a pool. Workers start on Start.
func New(t collab.Transcriber, cfg Config, hooks Hooks) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Pool{
		transcriber: t,
		hooks:       hooks,
		cfg:         cfg,
		queue:       make(chan audio.Chunk, cfg.QueueSize),
	}
}

// Start launches the workers. Cancelling ctx makes workers skip queued chunks;
// a chunk already being transcribed runs to completion.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Consume forwards chunks from a capture source until ctx is done or src closes.
func (p *Pool) Consume(ctx context.Context, src <-chan audio.Chunk) {
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-src:
			if !ok {
				return
			}
			p.Submit(chunk)
		}
	}
}

// Submit queues a chunk without blocking. A full queue drops the chunk.
func (p *Pool) Submit(chunk audio.Chunk) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- chunk:
		return true
	default:
		p.outcome(OutcomeDropped)
		return false
	}
}

// Stop closes the queue and waits up to timeout for workers to exit.
// Returns false if the wait timed out.
func (p *Pool) Stop(timeout time.Duration) bool {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for chunk := range p.queue {
		if ctx.Err() != nil {
			p.outcome(OutcomeCanceled)
			continue
		}
		segs, outcome, err := p.Process(ctx, chunk)
		if err != nil {
			trace.Logger(ctx).Warn("transcription failed, dropping chunk", "error", err, "duration", chunk.Duration)
		} else if len(segs) > 0 && p.hooks.OnSegments != nil {
			p.hooks.OnSegments(ctx, chunk, segs)
		}
		// Reported after the segments are appended.
		p.outcome(outcome)
	}
}

// Process transcribes one chunk: silent chunks are skipped, diarization is
// tried first with the plain transcriber as fallback, and hallucinated
// segments are dropped.
func (p *Pool) Process(ctx context.Context, chunk audio.Chunk) ([]collab.Segment, string, error) {
	if filter.IsSilent(chunk.Samples) {
		return nil, OutcomeSilent, nil
	}

	// Detached so an in-flight call is never abandoned mid-request.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), CallTimeout)
	defer cancel()
	callCtx, span := trace.StartSpan(callCtx, "transcribe_chunk")
	defer span.End()
	span.SetAttr("samples", len(chunk.Samples))

	speech := collab.Speech{Samples: chunk.Samples, SampleRate: chunk.SampleRate}
	segs, err := p.transcriber.Transcribe(callCtx, speech)
	if err != nil || len(segs) == 0 {
		if err != nil {
			trace.Logger(callCtx).Debug("diarization unavailable, using plain transcription", "error", err)
		}
		text, perr := p.transcriber.TranscribePlain(callCtx, speech)
		if perr != nil {
			span.SetError(perr)
			return nil, OutcomeError, apperrors.Model(apperrors.CodeTranscription, perr, "transcribe chunk")
		}
		segs = nil
		if t := strings.TrimSpace(text); t != "" {
			segs = []collab.Segment{{
				Speaker: transcript.DefaultSpeaker,
				Text:    t,
				Start:   0,
				End:     chunk.Duration.Seconds(),
			}}
		}
	}

	kept := make([]collab.Segment, 0, len(segs))
	for _, s := range segs {
		if filter.IsHallucination(s.Text) {
			continue
		}
		s.Text = strings.TrimSpace(s.Text)
		if s.Speaker == "" {
			s.Speaker = transcript.DefaultSpeaker
		}
		kept = append(kept, s)
	}
	span.SetAttr("segments", len(kept))
	if len(kept) == 0 {
		return nil, OutcomeEmpty, nil
	}
	return kept, OutcomeOK, nil
}

func (p *Pool) outcome(o string) {
	if p.hooks.OnOutcome != nil {
		p.hooks.OnOutcome(o)
	}
}

package orchestrator

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/live-assist/backend/platform/internal/audio"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/broadcast"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/collab"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/config"
	apperrors "github.com/GriffinCanCode/live-assist/backend/platform/internal/errors"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/orchestrator/finalize"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/orchestrator/insight"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/orchestrator/screen"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/orchestrator/sentiment"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/orchestrator/transcript"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/orchestrator/transcription"
	screencap "github.com/GriffinCanCode/live-assist/backend/platform/internal/screen"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/trace"
)

// Publisher fans messages out to subscribers. PublishWait returns once every
// subscriber has the message or ctx is done.
type Publisher interface {
	Publish(msg any)
	PublishWait(ctx context.Context, msg any)
}

type nopPublisher struct{}

func (nopPublisher) Publish(any)                      {}
func (nopPublisher) PublishWait(context.Context, any) {}

// Deps are the collaborators and factories a session is built from.
type Deps struct {
	Collabs   collab.Set
	Publisher Publisher
	Observer  Observer
	// Events receives the completed-session record during finalization. Optional.
	Events finalize.EventSink
	// NewAudio opens the local audio source. Remote sessions use a Feed instead.
	NewAudio func(cfg config.SessionConfig, onDrop func(), onDeviceError func(error)) audio.Source
	// NewScreen opens the screen capturer. Nil disables vision.
	NewScreen   func() (screencap.Capturer, error)
	Competitors []string
	Workers     int
	Now         func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Publisher == nil {
		d.Publisher = nopPublisher{}
	}
	if d.Observer == nil {
		d.Observer = nopObserver{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// StopResult is returned by Stop.
type StopResult struct {
	SessionID    string          `json:"session_id,omitempty"`
	Status       Status          `json:"status,omitempty"`
	Duration     float64         `json:"duration,omitempty"`
	Transcript   string          `json:"transcript,omitempty"`
	Formatted    string          `json:"formatted_transcript,omitempty"`
	Entities     []collab.Entity `json:"entities,omitempty"`
	StarredHints []string        `json:"starred_hints,omitempty"`
	Stats        map[string]int  `json:"stats,omitempty"`
	Lead         *finalize.Lead  `json:"lead,omitempty"`
	LeadError    string          `json:"lead_error,omitempty"`
	Error        string          `json:"error,omitempty"`
	Err          error           `json:"-"`
}

// NotRunning reports whether the stop was a no-op.
func (r StopResult) NotRunning() bool { return apperrors.IsCode(r.Err, apperrors.CodeNotRunning) }

func notRunning() StopResult {
	err := apperrors.State(apperrors.CodeNotRunning, "session not running")
	return StopResult{Error: err.Message, Err: err}
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	SessionID    string                `json:"session_id,omitempty"`
	Status       Status                `json:"status"`
	StartedAt    *time.Time            `json:"started_at,omitempty"`
	Duration     float64               `json:"duration"`
	Config       *config.SessionConfig `json:"config,omitempty"`
	Hints        collab.Hints          `json:"hints"`
	Entities     []collab.Entity       `json:"entities"`
	StarredHints []string              `json:"starred_hints"`
	Battlecards  []collab.Battlecard   `json:"battlecards"`
	Stats        map[string]int        `json:"stats"`
	Error        string                `json:"error,omitempty"`
}

// Session is one capture-to-finalization run. Start, Stop and Reset are
// serialized; pipeline goroutines only take the data lock.
type Session struct {
	id   string
	cfg  config.SessionConfig
	deps Deps

	ctl sync.Mutex

	mu          sync.RWMutex
	status      Status
	startedAt   time.Time
	endedAt     time.Time
	lastErr     string
	hints       collab.Hints
	entities    []collab.Entity
	starred     []string
	battlecards []collab.Battlecard

	log *transcript.Log

	chunks     atomic.Int64
	modelCalls atomic.Int64
	dropped    atomic.Int64

	// reset and finCancel are guarded by mu. Reset never takes ctl.
	reset     bool
	finCancel context.CancelFunc

	cancel    context.CancelFunc
	tornDown  bool
	loops     sync.WaitGroup
	source    audio.Source
	feed      *audio.Feed
	pool      *transcription.Pool
	screenCap screencap.Capturer
	screen    atomic.Pointer[screen.Processor]
	sentiment *sentiment.Loop
}

// NewSession creates an idle session with a fresh id.
func NewSession(cfg config.SessionConfig, deps Deps) *Session {
	return &Session{
		id:     uuid.NewString(),
		cfg:    cfg.Normalize(config.DefaultSession()),
		deps:   deps.withDefaults(),
		status: StatusIdle,
		log:    transcript.NewLog(),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Config returns the session's immutable config.
func (s *Session) Config() config.SessionConfig { return s.cfg }

// Status returns the current state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// setStatus applies a transition and notifies observers and subscribers before
// returning. Terminal states wait for delivery to every subscriber.
func (s *Session) setStatus(ctx context.Context, to Status) bool {
	s.mu.Lock()
	from := s.status
	if !CanTransition(from, to) {
		s.mu.Unlock()
		trace.Logger(ctx).Warn("invalid session transition", "from", from, "to", to)
		return false
	}
	s.status = to
	s.mu.Unlock()

	s.notify(ctx, from, to)
	return true
}

// notify reports an applied transition to observers and subscribers.
func (s *Session) notify(ctx context.Context, from, to Status) {
	trace.Logger(ctx).Info("session status changed", "from", from, "to", to)
	s.deps.Observer.SessionStatus(string(from), string(to))

	msg := broadcast.NewStatus(string(to), s.id, s.Stats())
	if to == StatusError {
		msg.Error = s.lastError()
	}
	if to.Terminal() || to == StatusIdle {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), TerminalPublishWait)
		defer cancel()
		s.deps.Publisher.PublishWait(wctx, msg)
	} else {
		s.deps.Publisher.Publish(msg)
	}
}

func (s *Session) lastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Start wires the pipeline and moves the session to RUNNING. Any failure moves
// it to ERROR and is returned.
func (s *Session) Start(ctx context.Context) error {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	ctx = trace.WithSession(ctx, s.id)
	ctx, span := trace.StartSpan(ctx, "session.start")
	defer span.End()
	span.SetAttr("capture_mode", s.cfg.CaptureMode)

	if s.cancel != nil || !s.setStatus(ctx, StatusStarting) {
		err := apperrors.State(apperrors.CodeInvalidState, "session already started")
		span.SetError(err)
		return err
	}

	s.mu.Lock()
	s.startedAt = s.deps.Now()
	s.mu.Unlock()

	// Pipeline goroutines outlive the request that started them.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	if err := s.wire(runCtx); err != nil {
		span.SetError(err)
		s.fail(ctx, err)
		return err
	}

	if s.wasReset() {
		err := apperrors.State(apperrors.CodeInvalidState, "session reset while starting")
		span.SetError(err)
		return err
	}
	s.setStatus(ctx, StatusRunning)
	trace.Logger(ctx).Info("session started",
		"vision", s.cfg.EnableVision,
		"transcription", s.cfg.EnableTranscription,
		"face_sentiment", s.cfg.EnableFaceSentiment)
	return nil
}

func (s *Session) wire(ctx context.Context) error {
	c := s.deps.Collabs
	local := s.cfg.CaptureMode == config.CaptureLocal

	if s.cfg.EnableTranscription {
		if c.Transcriber == nil {
			return apperrors.State(apperrors.CodeNotConfigured, "no transcriber configured")
		}
		s.pool = transcription.New(c.Transcriber, transcription.Config{Workers: s.deps.Workers}, transcription.Hooks{
			OnSegments: s.appendSegments,
			OnOutcome:  s.chunkOutcome,
		})
		s.pool.Start(ctx)

		onDrop := func() {
			s.dropped.Add(1)
			s.deps.Observer.AudioChunkDropped()
		}
		if local {
			if s.deps.NewAudio == nil {
				return apperrors.Device(apperrors.CodeNoDevice, nil, "no local audio source configured")
			}
			s.source = s.deps.NewAudio(s.cfg, onDrop, func(error) { s.deps.Observer.DeviceError() })
		} else {
			s.feed = audio.NewFeed(s.cfg.ChunkDuration.Duration(), onDrop)
			s.source = s.feed
		}
		if err := s.source.Start(ctx); err != nil {
			return err
		}
		s.goLoop(func() { s.pool.Consume(ctx, s.source.Output()) })
	}

	if s.cfg.EnableVision && local && s.deps.NewScreen != nil {
		capturer, err := s.deps.NewScreen()
		if err != nil {
			return apperrors.Device(apperrors.CodeScreenFailed, err, "open screen capturer")
		}
		s.screenCap = capturer
		proc := screen.NewProcessor(capturer, s.cfg.ScreenInterval.Duration())
		proc.OnError(func(error) { s.deps.Observer.DeviceError() })
		s.screen.Store(proc)
		s.goLoop(func() { proc.Run(ctx) })

		if s.cfg.EnableFaceSentiment && c.Faces != nil {
			s.sentiment = sentiment.New(c.Faces, proc, s.deps.Publisher, sentiment.DefaultInterval)
			s.goLoop(func() { s.sentiment.Run(ctx) })
		}
	}

	if c.Extractor != nil && c.Hints != nil {
		sched := insight.New(insight.Collaborators{
			Extractor:   c.Extractor,
			Hints:       c.Hints,
			Battlecards: c.Battlecards,
			WebInsight:  c.WebInsight,
		}, s, s.deps.Publisher, s.cfg.InsightInterval.Duration(), s.deps.Competitors, insight.Hooks{
			OnTick: s.deps.Observer.InsightTick,
			OnModelCall: func(name string, err error) {
				s.modelCalls.Add(1)
				s.deps.Observer.ModelCall(name, err)
			},
			OnBattlecard: func(collab.Battlecard) { s.deps.Observer.BattlecardGenerated() },
		})
		s.goLoop(func() { sched.Run(ctx) })
	}
	return nil
}

func (s *Session) goLoop(fn func()) {
	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		fn()
	}()
}

// fail records err, tears down whatever was started and moves to ERROR.
func (s *Session) fail(ctx context.Context, err error) {
	trace.Logger(ctx).Error("session start failed", "error", err)
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
	s.teardown(ctx)
	s.setStatus(ctx, StatusError)
}

// teardown cancels every loop and releases capture, each within its bound.
// Callers hold ctl; a second call is a no-op.
func (s *Session) teardown(ctx context.Context) {
	if s.tornDown {
		return
	}
	s.tornDown = true
	log := trace.Logger(ctx)
	if s.cancel != nil {
		s.cancel()
	}
	if !waitTimeout(&s.loops, LoopStopTimeout) {
		log.Warn("session loops did not stop in time", "timeout", LoopStopTimeout)
	}
	if s.pool != nil && !s.pool.Stop(TranscriptionTimeout) {
		log.Warn("transcription did not drain in time", "timeout", TranscriptionTimeout)
	}
	if s.source != nil && !s.source.Stop(CaptureStopTimeout) {
		log.Warn("audio capture forced stopped", "timeout", CaptureStopTimeout)
	}
	if s.screenCap != nil {
		s.screenCap.Close()
	}
}

// Stop tears down capture, runs finalization when enabled and moves to
// COMPLETED. Stopping a session that is not active is a no-op.
func (s *Session) Stop(ctx context.Context) StopResult {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	ctx = trace.WithSession(ctx, s.id)
	if !s.Status().Active() || !s.setStatus(ctx, StatusProcessing) {
		return notRunning()
	}

	ctx, span := trace.StartSpan(ctx, "session.stop")
	defer span.End()

	s.teardown(ctx)

	s.mu.Lock()
	s.endedAt = s.deps.Now()
	started, ended := s.startedAt, s.endedAt
	s.mu.Unlock()

	res := StopResult{
		SessionID:    s.id,
		Duration:     ended.Sub(started).Seconds(),
		Transcript:   s.log.Plain(),
		Formatted:    s.log.Formatted(),
		Entities:     s.Entities(),
		StarredHints: s.StarredHints(),
	}

	if s.cfg.EnableFinalSync && strings.TrimSpace(res.Transcript) != "" {
		lead, err := s.finalize(ctx, res.Transcript, started, ended)
		if err != nil {
			span.SetError(err)
			res.LeadError = err.Error()
		} else {
			res.Lead = &lead
		}
	}

	res.Stats = s.Stats()
	if s.wasReset() {
		res.Status = StatusIdle
		trace.Logger(ctx).Info("session reset during stop", "segments", s.log.Len())
		return res
	}
	s.setStatus(ctx, StatusCompleted)
	res.Status = StatusCompleted
	trace.Logger(ctx).Info("session stopped", "duration", res.Duration, "segments", s.log.Len())
	return res
}

func (s *Session) finalize(ctx context.Context, text string, started, ended time.Time) (finalize.Lead, error) {
	c := s.deps.Collabs
	f := &finalize.Finalizer{
		Summarizer: c.Summarizer,
		Extractor:  c.Extractor,
		CRM:        c.CRM,
		Persister:  c.Persister,
		Events:     s.deps.Events,
	}
	if f.Summarizer == nil || f.Extractor == nil {
		return finalize.Lead{}, apperrors.Finalization(apperrors.CodeNotConfigured, nil, "finalization collaborators not configured")
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), FinalizeTimeout)
	defer cancel()
	s.mu.Lock()
	if s.reset {
		s.mu.Unlock()
		return finalize.Lead{}, apperrors.State(apperrors.CodeInvalidState, "session reset before finalization")
	}
	s.finCancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.finCancel = nil
		s.mu.Unlock()
	}()

	begin := time.Now()
	lead, err := f.Run(fctx, finalize.Input{
		SessionID:    s.id,
		StartedAt:    started,
		EndedAt:      ended,
		Transcript:   text,
		Segments:     s.log.Segments(),
		StarredHints: s.StarredHints(),
		Battlecards:  s.Battlecards(),
		Stats:        s.Stats(),
	})
	s.deps.Observer.Finalized(time.Since(begin), err)
	return lead, err
}

// Reset moves the session to IDLE from any state. It cancels in-flight work,
// including a running finalization, and returns without waiting for it.
func (s *Session) Reset(ctx context.Context) {
	ctx = trace.WithSession(ctx, s.id)

	s.mu.Lock()
	from := s.status
	s.status = StatusIdle
	s.reset = true
	finCancel := s.finCancel
	s.hints = collab.Hints{}
	s.entities = nil
	s.starred = nil
	s.battlecards = nil
	s.mu.Unlock()

	if finCancel != nil {
		finCancel()
	}
	if from.Active() {
		// Start may still be wiring; teardown runs once it releases ctl.
		go func() {
			s.ctl.Lock()
			defer s.ctl.Unlock()
			s.teardown(context.WithoutCancel(ctx))
		}()
	}
	if proc := s.screen.Load(); proc != nil {
		proc.Clear()
	}
	s.notify(ctx, from, StatusIdle)
}

func (s *Session) wasReset() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reset
}

// FeedAudio pushes remote PCM into a running remote-mode session.
func (s *Session) FeedAudio(samples []float32, sampleRate int) bool {
	if s.feed == nil || s.Status() != StatusRunning {
		return false
	}
	return s.feed.Push(samples, sampleRate)
}

// StarHint records a hint the user marked as useful. Duplicates are ignored.
func (s *Session) StarHint(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.starred {
		if h == text {
			return false
		}
	}
	s.starred = append(s.starred, text)
	return true
}

func (s *Session) appendSegments(ctx context.Context, _ audio.Chunk, segs []collab.Segment) {
	s.log.Append(segs...)
	s.chunks.Add(1)
	s.deps.Publisher.Publish(broadcast.NewTranscript(transcript.Format(segs), segs))
	trace.Logger(ctx).Debug("transcript appended", "segments", len(segs), "total", s.log.Len())
}

func (s *Session) chunkOutcome(outcome string) {
	switch outcome {
	case transcription.OutcomeDropped:
		s.dropped.Add(1)
	case transcription.OutcomeOK, transcription.OutcomeEmpty, transcription.OutcomeError:
		s.modelCalls.Add(1)
	}
	s.deps.Observer.ChunkProcessed(outcome)
}

// TranscriptTail returns up to the last n bytes of plain transcript text.
func (s *Session) TranscriptTail(n int) string { return s.log.Tail(n) }

// SetInsights replaces the current hints and entities.
func (s *Session) SetInsights(hints collab.Hints, entities []collab.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hints = hints
	s.entities = entities
}

// HasBattlecard reports whether a card for the competitor already exists.
func (s *Session) HasBattlecard(competitor string) bool {
	key := insight.Key(competitor)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.battlecards {
		if insight.Key(c.Competitor) == key {
			return true
		}
	}
	return false
}

// AddBattlecard appends card unless one exists for the same competitor.
func (s *Session) AddBattlecard(card collab.Battlecard) bool {
	key := insight.Key(card.Competitor)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.battlecards {
		if insight.Key(c.Competitor) == key {
			return false
		}
	}
	s.battlecards = append(s.battlecards, card)
	return true
}

// Hints returns the latest hints.
func (s *Session) Hints() collab.Hints {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return collab.Hints{
		QuickHints:     append([]string(nil), s.hints.QuickHints...),
		ResearchTopics: append([]string(nil), s.hints.ResearchTopics...),
	}
}

// Entities returns a copy of the latest entities.
func (s *Session) Entities() []collab.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]collab.Entity(nil), s.entities...)
}

// StarredHints returns a copy of the starred hints.
func (s *Session) StarredHints() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.starred...)
}

// Battlecards returns a copy of the battlecards.
func (s *Session) Battlecards() []collab.Battlecard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]collab.Battlecard(nil), s.battlecards...)
}

// Segments returns a copy of the transcript segments.
func (s *Session) Segments() []collab.Segment { return s.log.Segments() }

// Stats returns the session counters.
func (s *Session) Stats() map[string]int {
	var shots int64
	if proc := s.screen.Load(); proc != nil {
		shots = proc.Captures()
	}
	s.mu.RLock()
	cards, starred := len(s.battlecards), len(s.starred)
	s.mu.RUnlock()
	return map[string]int{
		StatScreenshots:  int(shots),
		StatAudioChunks:  int(s.chunks.Load()),
		StatModelCalls:   int(s.modelCalls.Load()),
		StatDropped:      int(s.dropped.Load()),
		StatSegments:     s.log.Len(),
		StatBattlecards:  cards,
		StatStarredHints: starred,
	}
}

// Snapshot returns a point-in-time view.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	status, started, ended, lastErr := s.status, s.startedAt, s.endedAt, s.lastErr
	s.mu.RUnlock()

	snap := Snapshot{
		SessionID:    s.id,
		Status:       status,
		Config:       &s.cfg,
		Hints:        s.Hints(),
		Entities:     s.Entities(),
		StarredHints: s.StarredHints(),
		Battlecards:  s.Battlecards(),
		Stats:        s.Stats(),
		Error:        lastErr,
	}
	if !started.IsZero() {
		snap.StartedAt = &started
		end := ended
		if end.IsZero() {
			end = s.deps.Now()
		}
		snap.Duration = end.Sub(started).Seconds()
	}
	return snap
}

func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

package orchestrator

import (
	"context"
	"sync"

	"github.com/GriffinCanCode/live-assist/backend/platform/internal/broadcast"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/config"
	apperrors "github.com/GriffinCanCode/live-assist/backend/platform/internal/errors"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/trace"
)

// Registry owns the process's current session. At most one session is active.
type Registry struct {
	deps     Deps
	defaults config.SessionConfig

	// ctl serializes Start; mu only guards current and is all Reset takes.
	ctl     sync.Mutex
	mu      sync.Mutex
	current *Session
}

// NewRegistry creates a registry whose sessions share deps. Zero fields of a
// start config are filled from defaults.
func NewRegistry(deps Deps, defaults config.SessionConfig) *Registry {
	return &Registry{deps: deps.withDefaults(), defaults: defaults}
}

// Defaults returns the session config that missing start fields fall back to.
func (r *Registry) Defaults() config.SessionConfig { return r.defaults }

// Start creates and starts a new session. An active session is stopped first;
// its errors are logged and otherwise ignored.
func (r *Registry) Start(ctx context.Context, cfg config.SessionConfig) (*Session, error) {
	r.ctl.Lock()
	defer r.ctl.Unlock()

	if prev := r.Current(); prev != nil && prev.Status().Active() {
		trace.Logger(ctx).Info("stopping previous session", "session_id", prev.ID())
		if res := prev.Stop(ctx); res.Err != nil {
			trace.Logger(ctx).Warn("previous session stop failed", "session_id", prev.ID(), "error", res.Err)
		}
	}

	s := NewSession(cfg.Normalize(r.defaults), r.deps)
	r.mu.Lock()
	r.current = s
	r.mu.Unlock()
	return s, s.Start(ctx)
}

// Stop stops the current session.
func (r *Registry) Stop(ctx context.Context) StopResult {
	s := r.Current()
	if s == nil {
		return notRunning()
	}
	return s.Stop(ctx)
}

// Reset drops the current session, cancelling its work without waiting.
func (r *Registry) Reset(ctx context.Context) {
	r.mu.Lock()
	s := r.current
	r.current = nil
	r.mu.Unlock()

	if s != nil {
		s.Reset(ctx)
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), TerminalPublishWait)
	defer cancel()
	r.deps.Publisher.PublishWait(wctx, broadcast.NewStatus(string(StatusIdle), "", nil))
}

// Current returns the current session, or nil.
func (r *Registry) Current() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Status returns the current session's snapshot, or an idle snapshot.
func (r *Registry) Status() Snapshot {
	s := r.Current()
	if s == nil {
		return Snapshot{Status: StatusIdle, Stats: map[string]int{}}
	}
	return s.Snapshot()
}

// StarHint stars a hint on the running session.
func (r *Registry) StarHint(text string) (bool, error) {
	s := r.Current()
	if s == nil || s.Status() != StatusRunning {
		return false, apperrors.State(apperrors.CodeNotRunning, "session not running")
	}
	return s.StarHint(text), nil
}

// FeedAudio forwards remote PCM to the running session.
func (r *Registry) FeedAudio(samples []float32, sampleRate int) bool {
	s := r.Current()
	if s == nil {
		return false
	}
	return s.FeedAudio(samples, sampleRate)
}

// SnapshotMessages is what a new subscriber receives first: the status and the
// current hints.
func (r *Registry) SnapshotMessages() []any {
	snap := r.Status()
	return []any{
		broadcast.NewStatus(string(snap.Status), snap.SessionID, snap.Stats),
		broadcast.NewHints(snap.Hints),
	}
}

// Shutdown stops an active session, used on process exit.
func (r *Registry) Shutdown(ctx context.Context) {
	if s := r.Current(); s != nil && s.Status().Active() {
		s.Stop(ctx)
	}
}

// Package trace carries trace and session identifiers through contexts, gRPC metadata and logs.
// IDs follow the W3C Trace Context sizes so they can be handed to an OTel exporter later.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"
)

// Metadata keys for gRPC/HTTP propagation.
const (
	TraceIDKey      = "x-trace-id"
	SpanIDKey       = "x-span-id"
	ParentSpanIDKey = "x-parent-span-id"
	SessionIDKey    = "x-session-id"
)

type ctxKey struct{}

var traceCtxKey = ctxKey{}

// Context holds trace identifiers for a single span plus the owning session, if any.
type Context struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	SessionID    string
}

// New creates a new trace context with fresh IDs.
func New() Context {
	return Context{
		TraceID: generateTraceID(),
		SpanID:  generateSpanID(),
	}
}

// NewChild creates a child context from parent.
func NewChild(parent Context) Context {
	return Context{
		TraceID:      parent.TraceID,
		SpanID:       generateSpanID(),
		ParentSpanID: parent.SpanID,
		SessionID:    parent.SessionID,
	}
}

// FromContext extracts trace context from context.Context.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(traceCtxKey).(Context)
	return tc, ok
}

// WithContext injects trace context into context.Context.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, traceCtxKey, tc)
}

// EnsureContext returns existing trace context or creates a new one.
func EnsureContext(ctx context.Context) (context.Context, Context) {
	if tc, ok := FromContext(ctx); ok {
		return ctx, tc
	}
	tc := New()
	return WithContext(ctx, tc), tc
}

// WithSession returns a context whose trace carries sessionID, starting a trace if needed.
func WithSession(ctx context.Context, sessionID string) context.Context {
	ctx, tc := EnsureContext(ctx)
	tc.SessionID = sessionID
	return WithContext(ctx, tc)
}

// SessionID returns the session bound to ctx, or "".
func SessionID(ctx context.Context) string {
	tc, _ := FromContext(ctx)
	return tc.SessionID
}

func generateTraceID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func generateSpanID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// ToMap exports context as string map for gRPC metadata.
func (c Context) ToMap() map[string]string {
	m := map[string]string{
		TraceIDKey: c.TraceID,
		SpanIDKey:  c.SpanID,
	}
	if c.ParentSpanID != "" {
		m[ParentSpanIDKey] = c.ParentSpanID
	}
	if c.SessionID != "" {
		m[SessionIDKey] = c.SessionID
	}
	return m
}

// FromMap extracts context from string map. The caller's span becomes the parent.
func FromMap(m map[string]string) Context {
	tc := Context{
		TraceID:      m[TraceIDKey],
		SpanID:       generateSpanID(),
		ParentSpanID: m[SpanIDKey],
		SessionID:    m[SessionIDKey],
	}
	if tc.TraceID == "" {
		tc.TraceID = generateTraceID()
	}
	return tc
}

func (c Context) logArgs() []any {
	args := make([]any, 0, 8)
	args = append(args, "trace_id", c.TraceID, "span_id", c.SpanID)
	if c.ParentSpanID != "" {
		args = append(args, "parent_span_id", c.ParentSpanID)
	}
	if c.SessionID != "" {
		args = append(args, "session_id", c.SessionID)
	}
	return args
}

// Span is a timed operation within a trace. Spans are owned by one goroutine.
type Span struct {
	Name      string
	Ctx       Context
	StartTime time.Time
	EndTime   time.Time
	Attrs     map[string]any
}

// StartSpan begins a new span as a child of whatever trace ctx carries.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent, ok := FromContext(ctx)
	tc := NewChild(parent)
	if !ok || parent.TraceID == "" {
		tc = New()
		tc.SessionID = parent.SessionID
	}

	s := &Span{
		Name:      name,
		Ctx:       tc,
		StartTime: time.Now(),
		Attrs:     make(map[string]any),
	}
	return WithContext(ctx, tc), s
}

// End marks the span complete and logs it at debug level.
func (s *Span) End() {
	s.EndTime = time.Now()
	slog.Debug("span", "span", s)
}

// SetAttr sets a span attribute.
func (s *Span) SetAttr(key string, val any) {
	s.Attrs[key] = val
}

// SetError records err on the span when non-nil.
func (s *Span) SetError(err error) {
	if err != nil {
		s.Attrs["error"] = err.Error()
	}
}

// Duration returns span duration, zero while the span is open.
func (s *Span) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// LogValue implements slog.LogValuer.
func (s *Span) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("name", s.Name),
		slog.String("trace_id", s.Ctx.TraceID),
		slog.String("span_id", s.Ctx.SpanID),
		slog.Duration("duration", s.Duration()),
	}
	if s.Ctx.ParentSpanID != "" {
		attrs = append(attrs, slog.String("parent_span_id", s.Ctx.ParentSpanID))
	}
	if s.Ctx.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", s.Ctx.SessionID))
	}
	for k, v := range s.Attrs {
		attrs = append(attrs, slog.Any(k, v))
	}
	return slog.GroupValue(attrs...)
}

// Logger returns the default logger annotated with ctx's trace and session.
func Logger(ctx context.Context) *slog.Logger {
	tc, ok := FromContext(ctx)
	if !ok {
		return slog.Default()
	}
	return slog.Default().With(tc.logArgs()...)
}

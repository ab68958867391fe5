package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/GriffinCanCode/live-assist/backend/platform/internal/collab"
	apperrors "github.com/GriffinCanCode/live-assist/backend/platform/internal/errors"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type fakeRecorder struct {
	calls int
	last  error
}

func (r *fakeRecorder) EventPublished(err error, _ time.Duration) {
	r.calls++
	r.last = err
}

func testRecord() collab.SessionRecord {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return collab.SessionRecord{
		ID:          "sess-1",
		StartedAt:   start,
		EndedAt:     start.Add(90 * time.Second),
		Summary:     "ok",
		Segments:    make([]collab.Segment, 4),
		Battlecards: []collab.Battlecard{{Competitor: "Globex"}},
		LeadScore:   40,
	}
}

func TestLogOnlyMode(t *testing.T) {
	rec := &fakeRecorder{}
	p := New(context.Background(), Config{Topic: "t"}, rec)
	if p.Enabled() {
		t.Fatal("publisher without brokers should be disabled")
	}
	if err := p.SessionCompleted(context.Background(), testRecord()); err != nil {
		t.Errorf("SessionCompleted() = %v", err)
	}
	if rec.calls != 1 || rec.last != nil {
		t.Errorf("recorder = %+v", rec)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestPublishesKeyedMessage(t *testing.T) {
	w := &fakeWriter{}
	p := &Publisher{writer: w, topic: "t"}
	if err := p.SessionCompleted(context.Background(), testRecord()); err != nil {
		t.Fatal(err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "sess-1" {
		t.Errorf("key = %q", msg.Key)
	}
	var ev SessionCompleted
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.EventType != EventSessionCompleted || ev.DurationSeconds != 90 || ev.Segments != 4 {
		t.Errorf("event = %+v", ev)
	}
	if len(ev.Competitors) != 1 || ev.Competitors[0] != "Globex" || ev.EventID == "" {
		t.Errorf("event = %+v", ev)
	}
	_ = p.Close()
	if !w.closed {
		t.Error("writer not closed")
	}
}

func TestPublishFailure(t *testing.T) {
	rec := &fakeRecorder{}
	p := &Publisher{writer: &fakeWriter{err: errors.New("broker down")}, topic: "t", recorder: rec}
	err := p.SessionCompleted(context.Background(), testRecord())
	if !apperrors.IsKind(err, apperrors.KindFinalization) {
		t.Errorf("error = %v, want finalization error", err)
	}
	if rec.last == nil {
		t.Error("recorder did not see the failure")
	}
}

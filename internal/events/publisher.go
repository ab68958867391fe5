// Package events announces completed sessions on Kafka. Without brokers it
// runs in log-only mode.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/GriffinCanCode/live-assist/backend/platform/internal/collab"
	apperrors "github.com/GriffinCanCode/live-assist/backend/platform/internal/errors"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/trace"
)

// EventSessionCompleted is the event type header value.
const EventSessionCompleted = "session.completed"

// SessionCompleted is the published payload. The transcript itself stays in
// the store; consumers get counts and the lead.
type SessionCompleted struct {
	EventID         string         `json:"event_id"`
	EventType       string         `json:"event_type"`
	SessionID       string         `json:"session_id"`
	StartedAt       time.Time      `json:"started_at"`
	EndedAt         time.Time      `json:"ended_at"`
	DurationSeconds float64        `json:"duration_seconds"`
	Summary         string         `json:"summary"`
	LeadID          string         `json:"lead_id,omitempty"`
	LeadScore       int            `json:"lead_score"`
	Segments        int            `json:"segments"`
	Entities        int            `json:"entities"`
	Competitors     []string       `json:"competitors"`
	StarredHints    []string       `json:"starred_hints"`
	Stats           map[string]int `json:"stats"`
}

// Recorder observes publish attempts.
type Recorder interface {
	EventPublished(err error, latency time.Duration)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers []string
	Topic   string
}

// Publisher implements finalize.EventSink.
type Publisher struct {
	writer   messageWriter
	topic    string
	recorder Recorder
}

// New creates a publisher. recorder may be nil.
func New(ctx context.Context, cfg Config, recorder Recorder) *Publisher {
	p := &Publisher{topic: cfg.Topic, recorder: recorder}
	if len(cfg.Brokers) == 0 {
		trace.Logger(ctx).Info("kafka disabled, using log-only mode")
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	p.writer = &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		Transport:              &kafka.Transport{Dial: dialer.DialFunc},
	}
	trace.Logger(ctx).Info("kafka publisher initialized", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return p
}

// Enabled reports whether events leave the process.
func (p *Publisher) Enabled() bool { return p.writer != nil }

// SessionCompleted publishes one event keyed by session id.
func (p *Publisher) SessionCompleted(ctx context.Context, r collab.SessionRecord) error {
	start := time.Now()
	err := p.publish(ctx, r)
	if p.recorder != nil {
		p.recorder.EventPublished(err, time.Since(start))
	}
	return err
}

func (p *Publisher) publish(ctx context.Context, r collab.SessionRecord) error {
	ev := NewSessionCompleted(r)
	payload, err := json.Marshal(ev)
	if err != nil {
		return apperrors.Finalization(apperrors.CodeInternal, err, "marshal session event")
	}

	log := trace.Logger(ctx).With("topic", p.topic, "session_id", r.ID, "event_id", ev.EventID)
	if p.writer == nil {
		log.Debug("session event (log-only)", "payload", string(payload))
		return nil
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(r.ID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(EventSessionCompleted)},
			{Key: "eventId", Value: []byte(ev.EventID)},
		},
	})
	if err != nil {
		log.Error("failed to publish session event", "error", err)
		return apperrors.Finalization(apperrors.CodeUnavailable, err, "publish session event")
	}
	log.Debug("session event published")
	return nil
}

// NewSessionCompleted builds the event for a record.
func NewSessionCompleted(r collab.SessionRecord) SessionCompleted {
	competitors := make([]string, 0, len(r.Battlecards))
	for _, b := range r.Battlecards {
		competitors = append(competitors, b.Competitor)
	}
	starred := r.StarredHints
	if starred == nil {
		starred = []string{}
	}
	return SessionCompleted{
		EventID:         uuid.NewString(),
		EventType:       EventSessionCompleted,
		SessionID:       r.ID,
		StartedAt:       r.StartedAt,
		EndedAt:         r.EndedAt,
		DurationSeconds: r.EndedAt.Sub(r.StartedAt).Seconds(),
		Summary:         r.Summary,
		LeadID:          r.LeadID,
		LeadScore:       r.LeadScore,
		Segments:        len(r.Segments),
		Entities:        len(r.Entities),
		Competitors:     competitors,
		StarredHints:    starred,
		Stats:           r.Stats,
	}
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// Package broadcast fans session events out to websocket subscribers.
package broadcast

import "github.com/GriffinCanCode/live-assist/backend/platform/internal/collab"

// Message types on the wire.
const (
	TypeStatus        = "status"
	TypeTranscript    = "transcript"
	TypeHints         = "hints"
	TypeEntities      = "entities"
	TypeBattlecard    = "battlecard"
	TypeFaceSentiment = "face_sentiment"
	TypePing          = "ping"
	TypePong          = "pong"
	TypeError         = "error"
)

// Message is the common envelope used to read the type of inbound frames.
type Message struct {
	Type string `json:"type"`
}

type StatusMessage struct {
	Type      string         `json:"type"`
	Status    string         `json:"status"`
	SessionID string         `json:"session_id,omitempty"`
	Stats     map[string]int `json:"stats,omitempty"`
	Error     string         `json:"error,omitempty"`
}

type TranscriptMessage struct {
	Type     string           `json:"type"`
	Text     string           `json:"text"`
	Segments []collab.Segment `json:"segments"`
}

type HintsMessage struct {
	Type           string   `json:"type"`
	Hints          []string `json:"hints"`
	ResearchTopics []string `json:"research_topics,omitempty"`
}

type EntitiesMessage struct {
	Type     string          `json:"type"`
	Entities []collab.Entity `json:"entities"`
}

type BattlecardMessage struct {
	Type       string            `json:"type"`
	Battlecard collab.Battlecard `json:"battlecard"`
}

// FaceSentimentMessage carries counts for the latest frame and running totals.
type FaceSentimentMessage struct {
	Type            string `json:"type"`
	Happy           int    `json:"happy"`
	Negative        int    `json:"negative"`
	SessionHappy    int    `json:"session_happy"`
	SessionNegative int    `json:"session_negative"`
}

type PingMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewStatus(status, sessionID string, stats map[string]int) StatusMessage {
	return StatusMessage{Type: TypeStatus, Status: status, SessionID: sessionID, Stats: stats}
}

func NewTranscript(text string, segs []collab.Segment) TranscriptMessage {
	return TranscriptMessage{Type: TypeTranscript, Text: text, Segments: segs}
}

func NewHints(h collab.Hints) HintsMessage {
	hints := h.QuickHints
	if hints == nil {
		hints = []string{}
	}
	return HintsMessage{Type: TypeHints, Hints: hints, ResearchTopics: h.ResearchTopics}
}

func NewEntities(e []collab.Entity) EntitiesMessage {
	if e == nil {
		e = []collab.Entity{}
	}
	return EntitiesMessage{Type: TypeEntities, Entities: e}
}

func NewBattlecard(b collab.Battlecard) BattlecardMessage {
	return BattlecardMessage{Type: TypeBattlecard, Battlecard: b}
}

func NewFaceSentiment(happy, negative, sessionHappy, sessionNegative int) FaceSentimentMessage {
	return FaceSentimentMessage{
		Type:            TypeFaceSentiment,
		Happy:           happy,
		Negative:        negative,
		SessionHappy:    sessionHappy,
		SessionNegative: sessionNegative,
	}
}

// Package collab defines the call contracts for every external collaborator the
// session orchestrator depends on. Implementations live in subpackages and are
// chosen at construction time.
package collab

import (
	"context"
	"strings"
	"time"
)

// Speech is the audio handed to a transcriber.
type Speech struct {
	Samples    []float32
	SampleRate int
}

// Segment is one speaker-attributed span of transcript. Offsets are seconds
// relative to the start of the chunk it came from.
type Segment struct {
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Entity labels the orchestrator acts on.
const (
	LabelPerson       = "person"
	LabelOrganization = "organization"
	LabelProduct      = "product"
	LabelEmail        = "email"
	LabelPhone        = "phone number"
)

// Entity is a named span detected in transcript text.
type Entity struct {
	Text  string  `json:"text"`
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Hints is the hint generator output.
type Hints struct {
	QuickHints     []string `json:"quick_hints"`
	ResearchTopics []string `json:"research_topics"`
}

// Battlecard is a competitive talking-point card. The enrichment fields are
// filled in from the web insight stream when available.
type Battlecard struct {
	Competitor    string   `json:"competitor"`
	CounterPoints []string `json:"counter_points"`
	QuickResponse string   `json:"quick_response"`

	Summary  string   `json:"summary,omitempty"`
	Sources  []string `json:"sources,omitempty"`
	Evidence []string `json:"evidence,omitempty"`
	Verdict  string   `json:"verdict,omitempty"`
}

// Enrichment stream item types.
const (
	EnrichmentFast = "fast"
	EnrichmentDeep = "deep"
)

// Enrichment is one item of an incremental web insight stream.
type Enrichment struct {
	Type string         `json:"type"`
	Data EnrichmentData `json:"data"`
}

// EnrichmentData carries fast (summary, sources) and deep (evidence) results.
type EnrichmentData struct {
	Summary  string   `json:"summary,omitempty"`
	Sources  []string `json:"sources,omitempty"`
	Evidence []string `json:"evidence,omitempty"`
	Verdict  string   `json:"verdict,omitempty"`
}

// FaceCounts is the number of faces per sentiment bucket in one image.
type FaceCounts struct {
	Happy    int `json:"happy"`
	Negative int `json:"negative"`
}

// LeadCandidate is what the CRM receives for a finished meeting.
type LeadCandidate struct {
	Name          string `json:"name"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Company       string `json:"company,omitempty"`
	Notes         string `json:"notes,omitempty"`
	SourceSummary string `json:"source_summary"`
}

// SessionRecord is the finalized meeting handed to persistence.
type SessionRecord struct {
	ID           string         `json:"id"`
	StartedAt    time.Time      `json:"started_at"`
	EndedAt      time.Time      `json:"ended_at"`
	Summary      string         `json:"summary"`
	Segments     []Segment      `json:"segments"`
	Entities     []Entity       `json:"entities"`
	Battlecards  []Battlecard   `json:"battlecards"`
	StarredHints []string       `json:"starred_hints"`
	LeadID       string         `json:"lead_id,omitempty"`
	LeadScore    int            `json:"lead_score"`
	Stats        map[string]int `json:"stats"`
}

// Transcriber turns audio into text. Transcribe attributes speakers;
// TranscribePlain is the single-speaker fallback.
type Transcriber interface {
	Transcribe(ctx context.Context, speech Speech) ([]Segment, error)
	TranscribePlain(ctx context.Context, speech Speech) (string, error)
}

type Extractor interface {
	Extract(ctx context.Context, text string) ([]Entity, error)
}

type HintGenerator interface {
	GenerateHints(ctx context.Context, transcript string, entities []string) (Hints, error)
}

type BattlecardSource interface {
	GetBattlecard(ctx context.Context, target, excerpt string) (Battlecard, error)
}

// WebInsight streams incremental research for a target. The channel is closed
// when the stream ends or ctx is cancelled.
type WebInsight interface {
	Insights(ctx context.Context, target string) (<-chan Enrichment, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// CRM receives finalized leads and returns the external record id.
type CRM interface {
	CreateLead(ctx context.Context, lead LeadCandidate, starredHints []string, score int) (string, error)
}

type FaceAnalyzer interface {
	AnalyzeFaces(ctx context.Context, image []byte) (FaceCounts, error)
}

// Persister stores finalized sessions. It is only called during finalization.
type Persister interface {
	SaveSession(ctx context.Context, record SessionRecord) error
}

// Set bundles the collaborators a session uses. WebInsight, FaceAnalyzer, CRM
// and Persister may be nil.
type Set struct {
	Transcriber Transcriber
	Extractor   Extractor
	Hints       HintGenerator
	Battlecards BattlecardSource
	WebInsight  WebInsight
	Summarizer  Summarizer
	CRM         CRM
	Faces       FaceAnalyzer
	Persister   Persister
}

// Apply merges an enrichment item into the card.
func (b *Battlecard) Apply(e Enrichment) {
	switch e.Type {
	case EnrichmentFast:
		if e.Data.Summary != "" {
			b.Summary = e.Data.Summary
		}
		if len(e.Data.Sources) > 0 {
			b.Sources = e.Data.Sources
		}
	case EnrichmentDeep:
		if len(e.Data.Evidence) > 0 {
			b.Evidence = e.Data.Evidence
		}
	default:
		return
	}
	if e.Data.Verdict != "" {
		b.Verdict = e.Data.Verdict
	}
}

// CountEmotions buckets per-face emotion labels. Happy, neutral and surprise
// count as happy; every other label counts as negative.
func CountEmotions(emotions []string) FaceCounts {
	var c FaceCounts
	for _, e := range emotions {
		switch strings.ToLower(strings.TrimSpace(e)) {
		case "happy", "neutral", "surprise":
			c.Happy++
		default:
			c.Negative++
		}
	}
	return c
}

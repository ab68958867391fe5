// Package mock provides deterministic collaborators for running the platform
// without model credentials. Outputs are derived from the input text so the
// insight loop and finalization behave plausibly end to end.
package mock

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/live-assist/backend/platform/internal/collab"
)

// Utterances cycled by the transcriber.
var Utterances = []collab.Segment{
	{Speaker: "SPEAKER_00", Text: "Thanks for joining, I'm Dana Whitfield from Northwind."},
	{Speaker: "SPEAKER_01", Text: "Happy to be here. We are currently evaluating Globex for our analytics stack."},
	{Speaker: "SPEAKER_00", Text: "What does your reporting workflow look like today?"},
	{Speaker: "SPEAKER_01", Text: "Mostly spreadsheets. You can reach me at sam.rivera@example.com or 555-201-3344."},
	{Speaker: "SPEAKER_00", Text: "Pricing matters too, so let's compare us with Initech on total cost."},
}

// Transcriber cycles through Utterances, one per chunk.
type Transcriber struct {
	mu   sync.Mutex
	next int
}

func (t *Transcriber) Transcribe(ctx context.Context, speech collab.Speech) ([]collab.Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	seg := Utterances[t.next%len(Utterances)]
	t.next++
	t.mu.Unlock()

	if speech.SampleRate > 0 {
		seg.End = float64(len(speech.Samples)) / float64(speech.SampleRate)
	}
	return []collab.Segment{seg}, nil
}

func (t *Transcriber) TranscribePlain(ctx context.Context, speech collab.Speech) (string, error) {
	segs, err := t.Transcribe(ctx, speech)
	if err != nil || len(segs) == 0 {
		return "", err
	}
	return segs[0].Text, nil
}

var (
	emailRe   = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phoneRe   = regexp.MustCompile(`\+?\d[\d\s().-]{6,}\d`)
	personRe  = regexp.MustCompile(`(?:I'm|I am|my name is|this is)\s+([A-Z][a-z]+(?:\s[A-Z][a-z]+)?)`)
	orgRe     = regexp.MustCompile(`(?:from|at|with|evaluating|using|about)\s+([A-Z][A-Za-z0-9]+)`)
	productRe = regexp.MustCompile(`(?:compare us with|versus|vs\.?|switch(?:ing)? to)\s+([A-Z][A-Za-z0-9]+)`)
)

// Extractor finds emails, phone numbers, introduced people and capitalized
// organization or product names with fixed patterns.
type Extractor struct{}

func (Extractor) Extract(ctx context.Context, text string) ([]collab.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []collab.Entity
	add := func(text, label string, score float64) {
		key := strings.ToLower(text)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, collab.Entity{Text: text, Label: label, Score: score})
	}

	for _, m := range personRe.FindAllStringSubmatch(text, -1) {
		add(m[1], collab.LabelPerson, 0.9)
	}
	for _, m := range emailRe.FindAllString(text, -1) {
		add(m, collab.LabelEmail, 0.95)
	}
	for _, m := range phoneRe.FindAllString(text, -1) {
		add(strings.TrimSpace(m), collab.LabelPhone, 0.85)
	}
	for _, m := range productRe.FindAllStringSubmatch(text, -1) {
		add(m[1], collab.LabelProduct, 0.7)
	}
	for _, m := range orgRe.FindAllStringSubmatch(text, -1) {
		add(m[1], collab.LabelOrganization, 0.75)
	}
	return out, nil
}

// HintGenerator builds hints from the entity names it is given.
type HintGenerator struct{}

func (HintGenerator) GenerateHints(ctx context.Context, transcript string, entities []string) (collab.Hints, error) {
	if err := ctx.Err(); err != nil {
		return collab.Hints{}, err
	}
	h := collab.Hints{QuickHints: []string{"Ask what success looks like in the next quarter"}}
	lower := strings.ToLower(transcript)
	if strings.Contains(lower, "pric") || strings.Contains(lower, "cost") {
		h.QuickHints = append(h.QuickHints, "Anchor on total cost of ownership, not list price")
	}
	for _, e := range entities {
		if len(h.QuickHints) >= 3 {
			break
		}
		h.QuickHints = append(h.QuickHints, fmt.Sprintf("Ask how %s fits their current workflow", e))
	}
	return h, nil
}

// Battlecards returns a templated card for any competitor.
type Battlecards struct{}

func (Battlecards) GetBattlecard(ctx context.Context, target, excerpt string) (collab.Battlecard, error) {
	if err := ctx.Err(); err != nil {
		return collab.Battlecard{}, err
	}
	return collab.Battlecard{
		Competitor: target,
		CounterPoints: []string{
			fmt.Sprintf("%s needs a separate add-on for live collaboration", target),
			"Our onboarding is measured in days, not months",
		},
		QuickResponse: fmt.Sprintf("Teams that moved from %s cut reporting time in half.", target),
	}, nil
}

// WebInsight streams a fast then a deep enrichment item.
type WebInsight struct {
	// Delay between items.
	Delay time.Duration
}

func (w WebInsight) Insights(ctx context.Context, target string) (<-chan collab.Enrichment, error) {
	ch := make(chan collab.Enrichment, 2)
	go func() {
		defer close(ch)
		items := []collab.Enrichment{
			{Type: collab.EnrichmentFast, Data: collab.EnrichmentData{
				Summary: fmt.Sprintf("Recent discussion of %s is mixed.", target),
				Sources: []string{"Web", "Reddit"},
				Verdict: "Mixed",
			}},
			{Type: collab.EnrichmentDeep, Data: collab.EnrichmentData{
				Evidence: []string{fmt.Sprintf("Users report slow support response from %s", target)},
				Verdict:  "Negative",
			}},
		}
		for _, it := range items {
			if w.Delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(w.Delay):
				}
			}
			select {
			case ch <- it:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Summarizer returns the first sentences of the transcript.
type Summarizer struct{}

func (Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	const maxSentences = 3
	var b strings.Builder
	n := 0
	for _, line := range strings.Split(text, "\n") {
		for _, s := range strings.SplitAfter(line, ". ") {
			if s = strings.TrimSpace(s); s == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(s)
			if n++; n == maxSentences {
				return b.String(), nil
			}
		}
	}
	return b.String(), nil
}

// CRM records leads in memory.
type CRM struct {
	seq   atomic.Int64
	mu    sync.Mutex
	Leads []collab.LeadCandidate
}

func (c *CRM) CreateLead(ctx context.Context, lead collab.LeadCandidate, _ []string, _ int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.Leads = append(c.Leads, lead)
	c.mu.Unlock()
	return fmt.Sprintf("mock-lead-%d", c.seq.Add(1)), nil
}

// FaceAnalyzer reports one happy face per analyzed image.
type FaceAnalyzer struct{}

func (FaceAnalyzer) AnalyzeFaces(ctx context.Context, image []byte) (collab.FaceCounts, error) {
	if err := ctx.Err(); err != nil {
		return collab.FaceCounts{}, err
	}
	if len(image) == 0 {
		return collab.FaceCounts{}, nil
	}
	return collab.CountEmotions([]string{"happy"}), nil
}

// Set returns a full mock collaborator set. Persister is left nil.
func Set() collab.Set {
	return collab.Set{
		Transcriber: &Transcriber{},
		Extractor:   Extractor{},
		Hints:       HintGenerator{},
		Battlecards: Battlecards{},
		WebInsight:  WebInsight{},
		Summarizer:  Summarizer{},
		CRM:         &CRM{},
		Faces:       FaceAnalyzer{},
	}
}

package websearch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/GriffinCanCode/live-assist/backend/platform/internal/collab"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/resilience"
)

// Verdicts
const (
	VerdictPositive = "Positive"
	VerdictNegative = "Negative"
	VerdictMixed    = "Mixed"
)

const (
	verdictThreshold = 0.05
	snippetLimit     = 150
	fastResults      = 5
	deepResults      = 3
)

// Searcher is the search backend Insights runs on.
type Searcher interface {
	Search(ctx context.Context, query string, opts SearchOptions) ([]Hit, error)
}

// Insights streams a fast social-sentiment item followed by a deep item built
// from news and review snippets.
type Insights struct {
	search  Searcher
	breaker *resilience.Breaker
}

// NewInsights wraps a searcher with a circuit breaker.
func NewInsights(s Searcher) *Insights {
	return &Insights{search: s, breaker: resilience.New("websearch", resilience.DefaultConfig())}
}

// Breakers returns the circuit breaker guarding searches.
func (w *Insights) Breakers() []*resilience.Breaker { return []*resilience.Breaker{w.breaker} }

// Insights implements collab.WebInsight. The channel closes after the deep item
// or when ctx is done; a failed pass is logged and skipped.
func (w *Insights) Insights(ctx context.Context, target string) (<-chan collab.Enrichment, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("empty target")
	}
	ch := make(chan collab.Enrichment, 2)
	go func() {
		defer close(ch)
		if item, ok := w.fast(ctx, target); ok && !send(ctx, ch, item) {
			return
		}
		if item, ok := w.deep(ctx, target); ok {
			send(ctx, ch, item)
		}
	}()
	return ch, nil
}

func send(ctx context.Context, ch chan<- collab.Enrichment, item collab.Enrichment) bool {
	select {
	case ch <- item:
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *Insights) query(ctx context.Context, q string, opts SearchOptions) ([]Hit, error) {
	return resilience.ExecuteWithResult(w.breaker, func() ([]Hit, error) {
		return w.search.Search(ctx, q, opts)
	})
}

func (w *Insights) fast(ctx context.Context, target string) (collab.Enrichment, bool) {
	hits, err := w.query(ctx, target+" review sentiment reddit twitter", SearchOptions{MaxResults: fastResults})
	if err != nil {
		slog.Warn("web insight search failed", "target", target, "error", err)
		return collab.Enrichment{}, false
	}
	if len(hits) == 0 {
		return collab.Enrichment{}, false
	}

	var text strings.Builder
	for _, h := range hits {
		text.WriteString(h.Title)
		text.WriteByte(' ')
		text.WriteString(h.Snippet)
		text.WriteByte(' ')
	}
	verdict := Verdict(Polarity(text.String()))

	top := hits[0].Snippet
	if top == "" {
		top = hits[0].Title
	}
	if r := []rune(top); len(r) > snippetLimit {
		top = string(r[:snippetLimit]) + "..."
	}

	return collab.Enrichment{Type: collab.EnrichmentFast, Data: collab.EnrichmentData{
		Summary: fmt.Sprintf("Recent discussions trend %s. Top comment: %q", strings.ToLower(verdict), top),
		Sources: Sources(hits),
		Verdict: verdict,
	}}, true
}

func (w *Insights) deep(ctx context.Context, target string) (collab.Enrichment, bool) {
	var evidence []string
	news, err := w.query(ctx, target, SearchOptions{MaxResults: deepResults, Topic: "news"})
	if err != nil {
		slog.Warn("web insight news search failed", "target", target, "error", err)
	}
	for _, h := range news {
		if h.Title != "" {
			evidence = append(evidence, h.Title)
		}
	}
	reviews, err := w.query(ctx, target+" pros cons review summary", SearchOptions{MaxResults: deepResults, Depth: "advanced"})
	if err != nil {
		slog.Warn("web insight review search failed", "target", target, "error", err)
	}
	var text strings.Builder
	for _, h := range reviews {
		if h.Snippet != "" {
			evidence = append(evidence, h.Snippet)
			text.WriteString(h.Snippet)
			text.WriteByte(' ')
		}
	}
	if len(evidence) == 0 {
		return collab.Enrichment{}, false
	}
	data := collab.EnrichmentData{Evidence: evidence}
	if text.Len() > 0 {
		data.Verdict = Verdict(Polarity(text.String()))
	}
	return collab.Enrichment{Type: collab.EnrichmentDeep, Data: data}, true
}

// Sources names the social sites among the hits, or "Web" when there are none.
func Sources(hits []Hit) []string {
	var reddit, twitter bool
	for _, h := range hits {
		u := strings.ToLower(h.URL)
		switch {
		case strings.Contains(u, "reddit.com"):
			reddit = true
		case strings.Contains(u, "twitter.com"), strings.Contains(u, "x.com/"):
			twitter = true
		}
	}
	var out []string
	if reddit {
		out = append(out, "Reddit")
	}
	if twitter {
		out = append(out, "Twitter")
	}
	if len(out) == 0 {
		out = append(out, "Web")
	}
	return out
}

// Verdict buckets a polarity score in [-1, 1].
func Verdict(score float64) string {
	switch {
	case score > verdictThreshold:
		return VerdictPositive
	case score < -verdictThreshold:
		return VerdictNegative
	default:
		return VerdictMixed
	}
}

var (
	positiveWords = map[string]struct{}{
		"good": {}, "great": {}, "excellent": {}, "love": {}, "best": {}, "fast": {}, "easy": {},
		"reliable": {}, "recommend": {}, "amazing": {}, "solid": {}, "happy": {}, "improved": {}, "pros": {},
	}
	negativeWords = map[string]struct{}{
		"bad": {}, "poor": {}, "terrible": {}, "hate": {}, "worst": {}, "slow": {}, "buggy": {},
		"expensive": {}, "outage": {}, "broken": {}, "issues": {}, "problem": {}, "complaints": {}, "cons": {},
	}
)

// Polarity scores text in [-1, 1] by counting sentiment-bearing words.
func Polarity(text string) float64 {
	var pos, neg int
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	}) {
		if _, ok := positiveWords[w]; ok {
			pos++
		} else if _, ok := negativeWords[w]; ok {
			neg++
		}
	}
	if pos+neg == 0 {
		return 0
	}
	return float64(pos-neg) / float64(pos+neg)
}

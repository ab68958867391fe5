package insight

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GriffinCanCode/live-assist/backend/platform/internal/broadcast"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/collab"
)

type fakeState struct {
	mu       sync.Mutex
	tail     string
	hints    collab.Hints
	entities []collab.Entity
	cards    []collab.Battlecard
	lastN    int
}

func (f *fakeState) TranscriptTail(n int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastN = n
	return f.tail
}

func (f *fakeState) SetInsights(h collab.Hints, e []collab.Entity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hints, f.entities = h, e
}

func (f *fakeState) HasBattlecard(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.cards {
		if Key(c.Competitor) == Key(name) {
			return true
		}
	}
	return false
}

func (f *fakeState) AddBattlecard(c collab.Battlecard) bool {
	if f.HasBattlecard(c.Competitor) {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cards = append(f.cards, c)
	return true
}

type recorder struct {
	mu   sync.Mutex
	msgs []any
}

func (r *recorder) Publish(msg any) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.msgs {
		switch m.(type) {
		case broadcast.HintsMessage:
			out = append(out, broadcast.TypeHints)
		case broadcast.EntitiesMessage:
			out = append(out, broadcast.TypeEntities)
		case broadcast.BattlecardMessage:
			out = append(out, broadcast.TypeBattlecard)
		}
	}
	return out
}

type fakeAI struct {
	entities   []collab.Entity
	extractErr error
	hints      collab.Hints
	hintsErr   error
	cardErr    error
	block      chan struct{}

	mu        sync.Mutex
	cardCalls []string
	excerpts  []string
	extracts  atomic.Int32
}

func (f *fakeAI) Extract(context.Context, string) ([]collab.Entity, error) {
	f.extracts.Add(1)
	if f.block != nil {
		<-f.block
	}
	return f.entities, f.extractErr
}

func (f *fakeAI) GenerateHints(context.Context, string, []string) (collab.Hints, error) {
	return f.hints, f.hintsErr
}

func (f *fakeAI) GetBattlecard(_ context.Context, target, excerpt string) (collab.Battlecard, error) {
	f.mu.Lock()
	f.cardCalls = append(f.cardCalls, target)
	f.excerpts = append(f.excerpts, excerpt)
	f.mu.Unlock()
	if f.cardErr != nil {
		return collab.Battlecard{}, f.cardErr
	}
	return collab.Battlecard{CounterPoints: []string{"cheaper"}, QuickResponse: "We integrate natively"}, nil
}

type fakeWeb struct {
	items []collab.Enrichment
	err   error
}

func (f *fakeWeb) Insights(context.Context, string) (<-chan collab.Enrichment, error) {
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan collab.Enrichment, len(f.items))
	for _, it := range f.items {
		ch <- it
	}
	close(ch)
	return ch, nil
}

const longTranscript = "[SPEAKER_00]: We are currently evaluating Acme and Globex for this project."

func newScheduler(ai *fakeAI, web collab.WebInsight, st *fakeState, pub *recorder, competitors []string) *Scheduler {
	return New(Collaborators{Extractor: ai, Hints: ai, Battlecards: ai, WebInsight: web}, st, pub, time.Hour, competitors, Hooks{})
}

func TestTickSkipsShortTranscript(t *testing.T) {
	ai := &fakeAI{}
	st := &fakeState{tail: "[A]: hi"}
	pub := &recorder{}
	if got := newScheduler(ai, nil, st, pub, nil).Tick(context.Background()); got != TickSkipped {
		t.Errorf("Tick() = %q, want skipped", got)
	}
	if ai.extracts.Load() != 0 || len(pub.msgs) != 0 {
		t.Error("short transcript should not reach collaborators")
	}
	if st.lastN != TailChars {
		t.Errorf("tail requested = %d, want %d", st.lastN, TailChars)
	}
}

func TestTickPublishesHintsEntitiesAndBattlecards(t *testing.T) {
	ai := &fakeAI{
		entities: []collab.Entity{
			{Text: "Acme", Label: collab.LabelOrganization},
			{Text: "Jane", Label: collab.LabelPerson},
		},
		hints: collab.Hints{QuickHints: []string{"Ask about timeline"}, ResearchTopics: []string{"SOC2"}},
	}
	web := &fakeWeb{items: []collab.Enrichment{
		{Type: collab.EnrichmentFast, Data: collab.EnrichmentData{Summary: "outage in 2023", Sources: []string{"https://example.com"}, Verdict: "risky"}},
		{Type: collab.EnrichmentDeep, Data: collab.EnrichmentData{Evidence: []string{"status page"}, Verdict: "avoid"}},
	}}
	st := &fakeState{tail: longTranscript}
	pub := &recorder{}

	if got := newScheduler(ai, web, st, pub, nil).Tick(context.Background()); got != TickOK {
		t.Fatalf("Tick() = %q, want ok", got)
	}

	want := []string{broadcast.TypeHints, broadcast.TypeEntities, broadcast.TypeBattlecard, broadcast.TypeBattlecard}
	if got := pub.types(); !reflect.DeepEqual(got, want) {
		t.Errorf("published = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(ai.cardCalls, []string{"Acme", "SOC2"}) {
		t.Errorf("battlecard targets = %v", ai.cardCalls)
	}
	if len(st.cards) != 2 {
		t.Fatalf("cards = %d, want 2", len(st.cards))
	}
	c := st.cards[0]
	if c.Competitor != "Acme" || c.Summary != "outage in 2023" || c.Verdict != "avoid" || len(c.Evidence) != 1 {
		t.Errorf("enriched card = %+v", c)
	}
	if st.hints.QuickHints[0] != "Ask about timeline" || len(st.entities) != 2 {
		t.Errorf("state = %+v / %+v", st.hints, st.entities)
	}
}

func TestTickBattlecardExcerptIsTail(t *testing.T) {
	ai := &fakeAI{entities: []collab.Entity{{Text: "Acme", Label: collab.LabelProduct}}}
	st := &fakeState{tail: strings.Repeat("x", 800) + longTranscript}
	newScheduler(ai, nil, st, &recorder{}, nil).Tick(context.Background())
	if len(ai.excerpts) != 1 || len(ai.excerpts[0]) != BattlecardContext {
		t.Errorf("excerpt length = %d, want %d", len(ai.excerpts[0]), BattlecardContext)
	}
}

func TestTickCapsAndDedupesTargets(t *testing.T) {
	ai := &fakeAI{
		entities: []collab.Entity{
			{Text: "Acme", Label: collab.LabelOrganization},
			{Text: "acme", Label: collab.LabelProduct},
			{Text: "Globex", Label: collab.LabelOrganization},
		},
		hints: collab.Hints{ResearchTopics: []string{"Initech"}},
	}
	st := &fakeState{tail: longTranscript, cards: []collab.Battlecard{{Competitor: "ACME"}}}
	newScheduler(ai, nil, st, &recorder{}, nil).Tick(context.Background())

	if !reflect.DeepEqual(ai.cardCalls, []string{"Globex", "Initech"}) {
		t.Errorf("battlecard targets = %v, want [Globex Initech]", ai.cardCalls)
	}
}

func TestTickModelErrorsEndCycle(t *testing.T) {
	tests := []struct {
		name string
		ai   *fakeAI
	}{
		{"extract", &fakeAI{extractErr: errors.New("model down")}},
		{"hints", &fakeAI{hintsErr: errors.New("quota")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &recorder{}
			got := newScheduler(tt.ai, nil, &fakeState{tail: longTranscript}, pub, nil).Tick(context.Background())
			if got != TickError || len(pub.msgs) != 0 {
				t.Errorf("Tick() = %q with %d messages, want error and none", got, len(pub.msgs))
			}
		})
	}
}

func TestEnrichmentFailureKeepsBaseCard(t *testing.T) {
	ai := &fakeAI{entities: []collab.Entity{{Text: "Acme", Label: collab.LabelOrganization}}}
	st := &fakeState{tail: longTranscript}
	newScheduler(ai, &fakeWeb{err: errors.New("search down")}, st, &recorder{}, nil).Tick(context.Background())
	if len(st.cards) != 1 || st.cards[0].QuickResponse == "" || st.cards[0].Summary != "" {
		t.Errorf("cards = %+v", st.cards)
	}
}

func TestBattlecardFailureSkipsTarget(t *testing.T) {
	ai := &fakeAI{entities: []collab.Entity{{Text: "Acme", Label: collab.LabelOrganization}}, cardErr: errors.New("boom")}
	st := &fakeState{tail: longTranscript}
	if got := newScheduler(ai, nil, st, &recorder{}, nil).Tick(context.Background()); got != TickOK {
		t.Errorf("Tick() = %q, want ok", got)
	}
	if len(st.cards) != 0 {
		t.Error("failed battlecard was stored")
	}
}

func TestDetectCompetitors(t *testing.T) {
	entities := []collab.Entity{
		{Text: "Acme Corp", Label: collab.LabelOrganization},
		{Text: "Globex", Label: collab.LabelProduct},
		{Text: "Jane", Label: collab.LabelPerson},
	}
	tests := []struct {
		name        string
		competitors []string
		want        []string
	}{
		{"empty list takes all", nil, []string{"Acme Corp", "Globex"}},
		{"substring match", []string{"acme"}, []string{"Acme Corp"}},
		{"no match", []string{"Initech"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectCompetitors(entities, tt.competitors); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DetectCompetitors() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunSkipsOverlappingTicks(t *testing.T) {
	ai := &fakeAI{block: make(chan struct{})}
	var busy atomic.Int32
	s := New(Collaborators{Extractor: ai, Hints: ai, Battlecards: ai}, &fakeState{tail: longTranscript}, &recorder{},
		5*time.Millisecond, nil, Hooks{OnTick: func(o string) {
			if o == TickBusy {
				busy.Add(1)
			}
		}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()

	deadline := time.Now().Add(time.Second)
	for busy.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	close(ai.block)
	<-done

	if ai.extracts.Load() != 1 {
		t.Errorf("extract calls = %d, want 1 while the first tick blocks", ai.extracts.Load())
	}
	if busy.Load() < 2 {
		t.Errorf("busy skips = %d, want >= 2", busy.Load())
	}
}

func TestNewDefaultsNonPositiveInterval(t *testing.T) {
	for _, interval := range []time.Duration{0, -time.Second} {
		s := New(Collaborators{}, &fakeState{}, &recorder{}, interval, nil, Hooks{})
		if s.interval != DefaultInterval {
			t.Errorf("New(%v).interval = %v, want %v", interval, s.interval, DefaultInterval)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	New(Collaborators{}, &fakeState{}, &recorder{}, 0, nil, Hooks{}).Run(ctx)
}

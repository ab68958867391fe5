// Package insight runs the periodic analysis tick: entities, hints and
// competitive battlecards derived from the transcript tail.
package insight

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/GriffinCanCode/live-assist/backend/platform/internal/broadcast"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/collab"
	apperrors "github.com/GriffinCanCode/live-assist/backend/platform/internal/errors"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/trace"
)

// Tick limits
const (
	TailChars         = 3000
	MinTranscriptLen  = 20
	BattlecardContext = 500
	MaxTargetsPerTick = 2
	EnrichmentTimeout = 20 * time.Second

	// DefaultInterval replaces a non-positive tick interval.
	DefaultInterval = 30 * time.Second
)

// State is the session data a tick reads and appends to.
type State interface {
	TranscriptTail(n int) string
	SetInsights(hints collab.Hints, entities []collab.Entity)
	HasBattlecard(competitor string) bool
	AddBattlecard(card collab.Battlecard) bool
}

// Publisher fans messages out to subscribers.
type Publisher interface {
	Publish(msg any)
}

// Collaborators used by a tick. WebInsight may be nil.
type Collaborators struct {
	Extractor   collab.Extractor
	Hints       collab.HintGenerator
	Battlecards collab.BattlecardSource
	WebInsight  collab.WebInsight
}

// Hooks observe scheduler activity.
type Hooks struct {
	OnTick       func(outcome string)
	OnModelCall  func(name string, err error)
	OnBattlecard func(card collab.Battlecard)
}

// Tick outcomes reported to Hooks.OnTick.
const (
	TickOK      = "ok"
	TickSkipped = "skipped"
	TickBusy    = "busy"
	TickError   = "error"
)

// Scheduler drives ticks at a fixed interval. A tick still running when the
// next one is due makes that next tick skip.
type Scheduler struct {
	collabs     Collaborators
	state       State
	pub         Publisher
	interval    time.Duration
	competitors []string
	hooks       Hooks

	busy atomic.Bool
	wg   sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New creates a scheduler. An empty competitor list treats every organization
// and product entity as a competitor.
func New(c Collaborators, state State, pub Publisher, interval time.Duration, competitors []string, hooks Hooks) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		collabs:     c,
		state:       state,
		pub:         pub,
		interval:    interval,
		competitors: competitors,
		hooks:       hooks,
		inFlight:    make(map[string]struct{}),
	}
}

// Run ticks until ctx is cancelled, then waits for an in-flight tick.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer s.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.busy.CompareAndSwap(false, true) {
				trace.Logger(ctx).Debug("insight tick still running, skipping")
				s.tickHook(TickBusy)
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer s.busy.Store(false)
				s.tickHook(s.Tick(ctx))
			}()
		}
	}
}

// Tick runs one analysis cycle and returns its outcome. Model failures are
// logged and end the cycle early.
func (s *Scheduler) Tick(ctx context.Context) string {
	if ctx.Err() != nil {
		return TickSkipped
	}
	tail := s.state.TranscriptTail(TailChars)
	if len(strings.TrimSpace(tail)) < MinTranscriptLen {
		return TickSkipped
	}

	ctx, span := trace.StartSpan(ctx, "insight_tick")
	defer span.End()
	log := trace.Logger(ctx)

	entities, err := s.collabs.Extractor.Extract(ctx, tail)
	s.modelHook("extract", err)
	if err != nil {
		log.Warn("entity extraction failed", "error", apperrors.Model(apperrors.CodeExtraction, err, "extract"))
		span.SetError(err)
		return TickError
	}

	names := make([]string, 0, len(entities))
	for _, e := range entities {
		names = append(names, e.Text)
	}
	hints, err := s.collabs.Hints.GenerateHints(ctx, tail, names)
	s.modelHook("hints", err)
	if err != nil {
		log.Warn("hint generation failed", "error", apperrors.Model(apperrors.CodeHints, err, "generate hints"))
		span.SetError(err)
		return TickError
	}

	s.state.SetInsights(hints, entities)
	s.pub.Publish(broadcast.NewHints(hints))
	s.pub.Publish(broadcast.NewEntities(entities))

	targets := s.targets(entities, hints.ResearchTopics)
	span.SetAttr("targets", len(targets))
	cardCtx := tailOf(tail, BattlecardContext)
	for _, target := range targets {
		if ctx.Err() != nil {
			break
		}
		s.battlecard(ctx, target, cardCtx)
	}
	return TickOK
}

// targets merges detected competitors with research topics, dedupes them case
// insensitively and drops anything covered or in flight.
func (s *Scheduler) targets(entities []collab.Entity, topics []string) []string {
	candidates := append(DetectCompetitors(entities, s.competitors), topics...)

	seen := make(map[string]struct{})
	var out []string
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		key := Key(c)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if s.state.HasBattlecard(c) || s.isInFlight(key) {
			continue
		}
		out = append(out, c)
		if len(out) == MaxTargetsPerTick {
			break
		}
	}
	return out
}

func (s *Scheduler) battlecard(ctx context.Context, target, excerpt string) {
	key := Key(target)
	if !s.claim(key) {
		return
	}
	defer s.release(key)
	log := trace.Logger(ctx).With("target", target)

	card, err := s.collabs.Battlecards.GetBattlecard(ctx, target, excerpt)
	s.modelHook("battlecard", err)
	if err != nil {
		log.Warn("battlecard failed", "error", apperrors.Model(apperrors.CodeBattlecard, err, "get battlecard"))
		return
	}
	if card.Competitor == "" {
		card.Competitor = target
	}

	s.enrich(ctx, &card, target)

	if !s.state.AddBattlecard(card) {
		return
	}
	log.Info("battlecard generated")
	s.pub.Publish(broadcast.NewBattlecard(card))
	if s.hooks.OnBattlecard != nil {
		s.hooks.OnBattlecard(card)
	}
}

// enrich drains the web insight stream into the card. Failures keep the base card.
func (s *Scheduler) enrich(ctx context.Context, card *collab.Battlecard, target string) {
	if s.collabs.WebInsight == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, EnrichmentTimeout)
	defer cancel()

	stream, err := s.collabs.WebInsight.Insights(ctx, target)
	s.modelHook("web_insight", err)
	if err != nil {
		trace.Logger(ctx).Debug("web insight unavailable", "target", target, "error", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-stream:
			if !ok {
				return
			}
			card.Apply(item)
		}
	}
}

func (s *Scheduler) claim(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[key]; busy {
		return false
	}
	s.inFlight[key] = struct{}{}
	return true
}

func (s *Scheduler) release(key string) {
	s.mu.Lock()
	delete(s.inFlight, key)
	s.mu.Unlock()
}

func (s *Scheduler) isInFlight(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[key]
	return ok
}

func (s *Scheduler) tickHook(outcome string) {
	if s.hooks.OnTick != nil {
		s.hooks.OnTick(outcome)
	}
}

func (s *Scheduler) modelHook(name string, err error) {
	if s.hooks.OnModelCall != nil {
		s.hooks.OnModelCall(name, err)
	}
}

// Key is the dedupe key for a battlecard target.
func Key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// DetectCompetitors returns organization and product entities that match the
// configured list, or all of them when the list is empty.
func DetectCompetitors(entities []collab.Entity, competitors []string) []string {
	var out []string
	for _, e := range entities {
		if e.Label != collab.LabelOrganization && e.Label != collab.LabelProduct {
			continue
		}
		if len(competitors) == 0 || matchesCompetitor(e.Text, competitors) {
			out = append(out, e.Text)
		}
	}
	return out
}

func matchesCompetitor(text string, competitors []string) bool {
	t := Key(text)
	if t == "" {
		return false
	}
	for _, c := range competitors {
		k := Key(c)
		if k != "" && (strings.Contains(t, k) || strings.Contains(k, t)) {
			return true
		}
	}
	return false
}

func tailOf(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	for i := 0; i < len(s); i++ {
		if utf8.RuneStart(s[i]) {
			return s[i:]
		}
	}
	return ""
}

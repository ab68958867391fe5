package finalize

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/GriffinCanCode/live-assist/backend/platform/internal/collab"
	apperrors "github.com/GriffinCanCode/live-assist/backend/platform/internal/errors"
)

type fakeAI struct {
	summary    string
	summaryErr error
	entities   []collab.Entity
	extractErr error
}

func (f *fakeAI) Summarize(context.Context, string) (string, error) { return f.summary, f.summaryErr }
func (f *fakeAI) Extract(context.Context, string) ([]collab.Entity, error) {
	return f.entities, f.extractErr
}

type fakeCRM struct {
	id      string
	err     error
	gotLead collab.LeadCandidate
	gotHint []string
	gotScr  int
}

func (f *fakeCRM) CreateLead(_ context.Context, lead collab.LeadCandidate, hints []string, score int) (string, error) {
	f.gotLead, f.gotHint, f.gotScr = lead, hints, score
	return f.id, f.err
}

type fakeStore struct {
	rec collab.SessionRecord
	err error
}

func (f *fakeStore) SaveSession(_ context.Context, rec collab.SessionRecord) error {
	f.rec = rec
	return f.err
}

type fakeEvents struct{ got []collab.SessionRecord }

func (f *fakeEvents) SessionCompleted(_ context.Context, rec collab.SessionRecord) error {
	f.got = append(f.got, rec)
	return nil
}

func input() Input {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return Input{
		SessionID:    "s1",
		StartedAt:    start,
		EndedAt:      start.Add(90 * time.Second),
		Transcript:   "Hello there, this is Jane from Acme.",
		StarredHints: []string{"Mention the discount"},
		Stats:        map[string]int{"audio_chunks_processed": 3},
	}
}

func TestRunFullPipeline(t *testing.T) {
	ai := &fakeAI{summary: "Discussed pricing.", entities: []collab.Entity{
		{Text: "Jane", Label: collab.LabelPerson},
		{Text: "Bob", Label: collab.LabelPerson},
		{Text: "jane@acme.io", Label: collab.LabelEmail},
		{Text: "Acme", Label: collab.LabelOrganization},
	}}
	crm := &fakeCRM{id: "42"}
	store := &fakeStore{}
	events := &fakeEvents{}
	f := &Finalizer{Summarizer: ai, Extractor: ai, CRM: crm, Persister: store, Events: events}

	lead, err := f.Run(context.Background(), input())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if lead.ID != "42" || lead.Name != "Jane" || lead.EntitiesCount != 4 || lead.Summary != "Discussed pricing." {
		t.Errorf("lead = %+v", lead)
	}
	if crm.gotLead.Email != "jane@acme.io" || crm.gotLead.Company != "Acme" || crm.gotLead.Notes != "Discussed pricing." {
		t.Errorf("crm candidate = %+v", crm.gotLead)
	}
	if crm.gotLead.SourceSummary != "Duration: 1.5 mins | Entities: 4 | Hints: 1" {
		t.Errorf("SourceSummary = %q", crm.gotLead.SourceSummary)
	}
	if len(crm.gotHint) != 1 || crm.gotScr != lead.Score {
		t.Errorf("crm hints = %v score = %d", crm.gotHint, crm.gotScr)
	}
	if store.rec.ID != "s1" || store.rec.LeadID != "42" || len(events.got) != 1 {
		t.Errorf("record = %+v, events = %d", store.rec, len(events.got))
	}
	if len(lead.Warnings) != 0 {
		t.Errorf("warnings = %v", lead.Warnings)
	}
}

func TestRunSinkFailuresAreWarnings(t *testing.T) {
	ai := &fakeAI{summary: "s"}
	f := &Finalizer{
		Summarizer: ai,
		Extractor:  ai,
		CRM:        &fakeCRM{err: errors.New("connection refused")},
		Persister:  &fakeStore{err: errors.New("disk full")},
	}
	lead, err := f.Run(context.Background(), input())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if lead.ID != "" || len(lead.Warnings) != 2 {
		t.Errorf("lead = %+v", lead)
	}
	if !strings.Contains(lead.Warnings[0], "connection refused") {
		t.Errorf("warning = %q", lead.Warnings[0])
	}
}

func TestRunFailures(t *testing.T) {
	tests := []struct {
		name string
		ai   *fakeAI
		in   func(Input) Input
		code apperrors.Code
	}{
		{"empty transcript", &fakeAI{}, func(in Input) Input { in.Transcript = ""; return in }, apperrors.CodeInvalidArgument},
		{"summarize", &fakeAI{summaryErr: errors.New("x")}, func(in Input) Input { return in }, apperrors.CodeSummarize},
		{"extract", &fakeAI{extractErr: errors.New("x")}, func(in Input) Input { return in }, apperrors.CodeExtraction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &Finalizer{Summarizer: tt.ai, Extractor: tt.ai}
			_, err := f.Run(context.Background(), tt.in(input()))
			if !apperrors.IsKind(err, apperrors.KindFinalization) || !apperrors.IsCode(err, tt.code) {
				t.Errorf("Run() error = %v, want finalization/%s", err, tt.code)
			}
		})
	}
}

func TestBuildCandidateDefaults(t *testing.T) {
	c := BuildCandidate(nil, "notes", 0, 0)
	if c.Name != DefaultLeadName || c.Notes != "notes" || c.SourceSummary != "Duration: 0.0 mins | Entities: 0 | Hints: 0" {
		t.Errorf("candidate = %+v", c)
	}
}

func TestScore(t *testing.T) {
	full := collab.LeadCandidate{Name: "Jane", Email: "j@x.io", Phone: "555", Company: "Acme"}
	tests := []struct {
		name        string
		c           collab.LeadCandidate
		starred     int
		battlecards int
		length      int
		want        int
	}{
		{"empty", collab.LeadCandidate{Name: DefaultLeadName}, 0, 0, 0, 0},
		{"full contact", full, 0, 0, 0, 70},
		{"engagement capped", collab.LeadCandidate{Name: DefaultLeadName}, 10, 10, 100, 25},
		{"medium transcript", collab.LeadCandidate{}, 0, 0, 600, 3},
		{"maximum", full, 3, 2, 5000, 100},
		{"never above 100", full, 99, 99, 99999, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.c, tt.starred, tt.battlecards, tt.length); got != tt.want {
				t.Errorf("Score() = %d, want %d", got, tt.want)
			}
		})
	}
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/GriffinCanCode/live-assist/backend/platform/internal/collab"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func record(id string, started time.Time) collab.SessionRecord {
	return collab.SessionRecord{
		ID:        id,
		StartedAt: started,
		EndedAt:   started.Add(5 * time.Minute),
		Summary:   "Discussed pricing.",
		Segments: []collab.Segment{
			{Speaker: "SPEAKER_00", Text: "hello", Start: 0, End: 1.5},
			{Speaker: "SPEAKER_01", Text: "hi there", Start: 1.5, End: 3},
		},
		Entities:     []collab.Entity{{Text: "Globex", Label: collab.LabelOrganization, Score: 0.8}},
		Battlecards:  []collab.Battlecard{{Competitor: "Globex", CounterPoints: []string{"faster"}, Verdict: "Mixed"}},
		StarredHints: []string{"Ask about budget"},
		LeadID:       "42",
		LeadScore:    55,
		Stats:        map[string]int{"audio_chunks_processed": 3},
	}
}

func TestSaveAndLoadSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := s.SaveSession(ctx, record("s1", started)); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	got, err := s.Session(ctx, "s1")
	if err != nil || got == nil {
		t.Fatalf("Session() = %v, %v", got, err)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if len(got.Segments) != 2 || got.Segments[1].Text != "hi there" || got.Segments[1].End != 3 {
		t.Errorf("segments = %+v", got.Segments)
	}
	if len(got.Entities) != 1 || got.Entities[0].Label != collab.LabelOrganization {
		t.Errorf("entities = %+v", got.Entities)
	}
	if len(got.Battlecards) != 1 || got.Battlecards[0].Verdict != "Mixed" {
		t.Errorf("battlecards = %+v", got.Battlecards)
	}
	if len(got.StarredHints) != 1 || got.Stats["audio_chunks_processed"] != 3 || got.LeadScore != 55 {
		t.Errorf("record = %+v", got)
	}
}

func TestSaveReplacesExisting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r := record("s1", time.Now())
	_ = s.SaveSession(ctx, r)

	r.Segments = r.Segments[:1]
	r.Summary = "updated"
	if err := s.SaveSession(ctx, r); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Session(ctx, "s1")
	if got.Summary != "updated" || len(got.Segments) != 1 {
		t.Errorf("record = %+v", got)
	}
}

func TestSessionUnknown(t *testing.T) {
	got, err := openTestStore(t).Session(context.Background(), "missing")
	if got != nil || err != nil {
		t.Errorf("Session() = %v, %v; want nil, nil", got, err)
	}
}

func TestRecentNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := s.SaveSession(ctx, record(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Errorf("Recent() = %+v", got)
	}
}

func TestSaveEmptyRecord(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveSession(context.Background(), collab.SessionRecord{ID: "empty"}); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}
	got, _ := s.Session(context.Background(), "empty")
	if got == nil || len(got.StarredHints) != 0 {
		t.Errorf("record = %+v", got)
	}
}

// Package finalize turns a finished session into a summary, a scored lead
// candidate, a CRM record and a persisted meeting record.
package finalize

import (
	"context"
	"fmt"
	"time"

	"github.com/GriffinCanCode/live-assist/backend/platform/internal/collab"
	apperrors "github.com/GriffinCanCode/live-assist/backend/platform/internal/errors"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/trace"
)

// DefaultLeadName is used when no person entity was detected.
const DefaultLeadName = "Meeting Lead"

// Input is the session snapshot finalization works from.
type Input struct {
	SessionID    string
	StartedAt    time.Time
	EndedAt      time.Time
	Transcript   string
	Segments     []collab.Segment
	StarredHints []string
	Battlecards  []collab.Battlecard
	Stats        map[string]int
}

// Duration is the session length.
func (in Input) Duration() time.Duration { return in.EndedAt.Sub(in.StartedAt) }

// Lead is the finalization result returned to the caller of stop.
type Lead struct {
	ID            string               `json:"lead_id,omitempty"`
	Name          string               `json:"lead_name"`
	Summary       string               `json:"summary"`
	EntitiesCount int                  `json:"entities_count"`
	Score         int                  `json:"score"`
	Candidate     collab.LeadCandidate `json:"candidate"`
	Entities      []collab.Entity      `json:"entities"`
	// Warnings lists sinks that failed after the lead was built.
	Warnings []string `json:"warnings,omitempty"`
}

// EventSink announces completed sessions to downstream consumers.
type EventSink interface {
	SessionCompleted(ctx context.Context, record collab.SessionRecord) error
}

// Finalizer runs the pipeline. CRM, Persister and Events may be nil.
type Finalizer struct {
	Summarizer collab.Summarizer
	Extractor  collab.Extractor
	CRM        collab.CRM
	Persister  collab.Persister
	Events     EventSink
}

// Run summarizes, extracts entities, builds and scores the lead, then hands it
// to the CRM, persistence and the event sink. A summarize or extract failure is
// returned as a finalization error; sink failures become warnings.
func (f *Finalizer) Run(ctx context.Context, in Input) (Lead, error) {
	ctx, span := trace.StartSpan(ctx, "finalize")
	defer span.End()
	log := trace.Logger(ctx)

	if in.Transcript == "" {
		return Lead{}, apperrors.Finalization(apperrors.CodeInvalidArgument, nil, "no transcript to process")
	}

	summary, err := f.Summarizer.Summarize(ctx, in.Transcript)
	if err != nil {
		span.SetError(err)
		return Lead{}, apperrors.Finalization(apperrors.CodeSummarize, err, "summarize transcript")
	}
	entities, err := f.Extractor.Extract(ctx, in.Transcript)
	if err != nil {
		span.SetError(err)
		return Lead{}, apperrors.Finalization(apperrors.CodeExtraction, err, "extract entities")
	}

	candidate := BuildCandidate(entities, summary, in.Duration(), len(in.StarredHints))
	score := Score(candidate, len(in.StarredHints), len(in.Battlecards), len(in.Transcript))
	lead := Lead{
		Name:          candidate.Name,
		Summary:       summary,
		EntitiesCount: len(entities),
		Score:         score,
		Candidate:     candidate,
		Entities:      entities,
	}

	if f.CRM != nil {
		id, err := f.CRM.CreateLead(ctx, candidate, in.StarredHints, score)
		if err != nil {
			log.Warn("crm sync failed", "error", err)
			lead.Warnings = append(lead.Warnings, apperrors.Finalization(apperrors.CodeCRM, err, "create lead").Error())
		} else {
			lead.ID = id
			log.Info("crm lead created", "lead_id", id, "score", score)
		}
	}

	record := collab.SessionRecord{
		ID:           in.SessionID,
		StartedAt:    in.StartedAt,
		EndedAt:      in.EndedAt,
		Summary:      summary,
		Segments:     in.Segments,
		Entities:     entities,
		Battlecards:  in.Battlecards,
		StarredHints: in.StarredHints,
		LeadID:       lead.ID,
		LeadScore:    score,
		Stats:        in.Stats,
	}

	if f.Persister != nil {
		if err := f.Persister.SaveSession(ctx, record); err != nil {
			log.Warn("persist session failed", "error", err)
			lead.Warnings = append(lead.Warnings, apperrors.Finalization(apperrors.CodePersist, err, "save session").Error())
		}
	}
	if f.Events != nil {
		if err := f.Events.SessionCompleted(ctx, record); err != nil {
			log.Warn("session event failed", "error", err)
			lead.Warnings = append(lead.Warnings, err.Error())
		}
	}
	return lead, nil
}

// BuildCandidate takes the first person, email, phone number and organization
// entities as the lead's contact details.
func BuildCandidate(entities []collab.Entity, summary string, duration time.Duration, starred int) collab.LeadCandidate {
	c := collab.LeadCandidate{Name: DefaultLeadName, Notes: summary}
	for _, e := range entities {
		switch e.Label {
		case collab.LabelPerson:
			if c.Name == DefaultLeadName {
				c.Name = e.Text
			}
		case collab.LabelEmail:
			if c.Email == "" {
				c.Email = e.Text
			}
		case collab.LabelPhone:
			if c.Phone == "" {
				c.Phone = e.Text
			}
		case collab.LabelOrganization:
			if c.Company == "" {
				c.Company = e.Text
			}
		}
	}
	c.SourceSummary = fmt.Sprintf("Duration: %.1f mins | Entities: %d | Hints: %d", duration.Minutes(), len(entities), starred)
	return c
}

// Score rates a lead from 0 to 100. Contact completeness carries most of the
// weight; engagement signals add the rest.
func Score(c collab.LeadCandidate, starred, battlecards, transcriptLen int) int {
	score := 0
	if c.Name != "" && c.Name != DefaultLeadName {
		score += 20
	}
	if c.Email != "" {
		score += 20
	}
	if c.Phone != "" {
		score += 15
	}
	if c.Company != "" {
		score += 15
	}
	score += min(starred*5, 15)
	score += min(battlecards*5, 10)
	switch {
	case transcriptLen >= 2000:
		score += 5
	case transcriptLen >= 500:
		score += 3
	}
	return min(score, 100)
}

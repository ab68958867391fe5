package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/GriffinCanCode/live-assist/backend/platform/internal/audio"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/collab"
	apperrors "github.com/GriffinCanCode/live-assist/backend/platform/internal/errors"
)

const (
	diarizePrompt = `Transcribe this meeting audio. Label each distinct speaker SPEAKER_00, SPEAKER_01 and so on in order of first appearance.
Respond with JSON only: {"segments":[{"speaker":"SPEAKER_00","text":"...","start":0.0,"end":1.5}]}
Offsets are seconds from the start of the clip. Return an empty list when nobody speaks.`

	plainPrompt = `Transcribe the speech in this audio clip verbatim. Respond with JSON only: {"text":"..."}. Use an empty string when nobody speaks.`

	extractPrompt = `Extract named entities from this meeting transcript.
Allowed labels: person, organization, product, email, phone number, location, date, service.
Respond with JSON only: {"entities":[{"text":"...","label":"person","score":0.9}]}

Transcript:
%s`

	hintsPrompt = `You are a sales call copilot listening to a live meeting.
Known entities: %s
Give up to 3 short quick hints the salesperson could say or ask next, and up to 3 research topics (competitors or products worth looking up).
Respond with JSON only: {"quick_hints":["..."],"research_topics":["..."]}

Transcript:
%s`

	battlecardPrompt = `Write a competitive battlecard against %q for a salesperson in a live meeting.
Respond with JSON only: {"competitor":"...","counter_points":["..."],"quick_response":"..."}
Keep counter points to one sentence each and at most 3 of them.

Recent conversation:
%s`

	summaryPrompt = `Summarize this meeting transcript as short meeting minutes: who attended, what was discussed, decisions and next steps.
Respond with JSON only: {"summary":"..."}

Transcript:
%s`

	facesPrompt = `Look at the faces visible in this screenshot of a video call.
For each face give its dominant emotion, one of: happy, neutral, surprise, sad, angry, fear, disgust.
Respond with JSON only: {"faces":[{"emotion":"happy"}]}. Use an empty list when there are no faces.`
)

// Transcribe implements collab.Transcriber with speaker labels.
func (c *Client) Transcribe(ctx context.Context, speech collab.Speech) ([]collab.Segment, error) {
	var out struct {
		Segments []collab.Segment `json:"segments"`
	}
	err := c.call(ctx, "transcribe", apperrors.CodeTranscription, &out,
		genai.NewPartFromText(diarizePrompt),
		genai.NewPartFromBytes(audio.EncodeWAV(speech.Samples, speech.SampleRate), "audio/wav"))
	if err != nil {
		return nil, err
	}
	return out.Segments, nil
}

// TranscribePlain implements collab.Transcriber without speaker labels.
func (c *Client) TranscribePlain(ctx context.Context, speech collab.Speech) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	err := c.call(ctx, "transcribe_plain", apperrors.CodeTranscription, &out,
		genai.NewPartFromText(plainPrompt),
		genai.NewPartFromBytes(audio.EncodeWAV(speech.Samples, speech.SampleRate), "audio/wav"))
	return out.Text, err
}

// Extract implements collab.Extractor.
func (c *Client) Extract(ctx context.Context, text string) ([]collab.Entity, error) {
	var out struct {
		Entities []collab.Entity `json:"entities"`
	}
	if err := c.call(ctx, "extract", apperrors.CodeExtraction, &out, genai.NewPartFromText(fmt.Sprintf(extractPrompt, text))); err != nil {
		return nil, err
	}
	ents := out.Entities[:0]
	for _, e := range out.Entities {
		e.Text = strings.TrimSpace(e.Text)
		e.Label = strings.ToLower(strings.TrimSpace(e.Label))
		if e.Text != "" {
			ents = append(ents, e)
		}
	}
	return ents, nil
}

// GenerateHints implements collab.HintGenerator.
func (c *Client) GenerateHints(ctx context.Context, transcript string, entities []string) (collab.Hints, error) {
	known := "none"
	if len(entities) > 0 {
		known = strings.Join(entities, ", ")
	}
	var out collab.Hints
	err := c.call(ctx, "hints", apperrors.CodeHints, &out, genai.NewPartFromText(fmt.Sprintf(hintsPrompt, known, transcript)))
	return out, err
}

// GetBattlecard implements collab.BattlecardSource.
func (c *Client) GetBattlecard(ctx context.Context, target, excerpt string) (collab.Battlecard, error) {
	var out collab.Battlecard
	if err := c.call(ctx, "battlecard", apperrors.CodeBattlecard, &out, genai.NewPartFromText(fmt.Sprintf(battlecardPrompt, target, excerpt))); err != nil {
		return collab.Battlecard{}, err
	}
	if out.Competitor == "" {
		out.Competitor = target
	}
	return out, nil
}

// Summarize implements collab.Summarizer.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	var out struct {
		Summary string `json:"summary"`
	}
	err := c.call(ctx, "summarize", apperrors.CodeSummarize, &out, genai.NewPartFromText(fmt.Sprintf(summaryPrompt, text)))
	return strings.TrimSpace(out.Summary), err
}

// AnalyzeFaces implements collab.FaceAnalyzer.
func (c *Client) AnalyzeFaces(ctx context.Context, image []byte) (collab.FaceCounts, error) {
	if len(image) == 0 {
		return collab.FaceCounts{}, nil
	}
	var out struct {
		Faces []struct {
			Emotion string `json:"emotion"`
		} `json:"faces"`
	}
	err := c.call(ctx, "faces", apperrors.CodeInvalidResponse, &out,
		genai.NewPartFromText(facesPrompt),
		genai.NewPartFromBytes(image, http.DetectContentType(image)))
	if err != nil {
		return collab.FaceCounts{}, err
	}
	emotions := make([]string, len(out.Faces))
	for i, f := range out.Faces {
		emotions[i] = f.Emotion
	}
	return collab.CountEmotions(emotions), nil
}

// Set returns the collaborators this client can serve. Web insight, CRM and
// persistence come from elsewhere.
func (c *Client) Set() collab.Set {
	return collab.Set{
		Transcriber: c,
		Extractor:   c,
		Hints:       c,
		Battlecards: c,
		Summarizer:  c,
		Faces:       c,
	}
}

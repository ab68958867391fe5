// Package gcpspeech implements collab.Transcriber on Google Cloud
// Speech-to-Text with speaker diarization.
package gcpspeech

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"

	"github.com/GriffinCanCode/live-assist/backend/platform/internal/audio"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/collab"
	apperrors "github.com/GriffinCanCode/live-assist/backend/platform/internal/errors"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/resilience"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/trace"
)

const (
	DefaultLanguage = "en-US"
	maxSpeakers     = 6
)

// RecognizeFunc performs one synchronous recognition.
type RecognizeFunc func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)

// Transcriber sends each chunk as 16-bit PCM. Requires GOOGLE_APPLICATION_CREDENTIALS.
type Transcriber struct {
	recognize RecognizeFunc
	language  string
	breaker   *resilience.Breaker
	close     func() error
}

// New creates a transcriber backed by a Speech client.
func New(ctx context.Context, language string) (*Transcriber, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindConfig, apperrors.CodeConfigInvalid, "create speech client")
	}
	t := NewWithRecognizer(func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return client.Recognize(ctx, req)
	}, language)
	t.close = client.Close
	return t, nil
}

// NewWithRecognizer builds a transcriber on an arbitrary recognizer.
func NewWithRecognizer(fn RecognizeFunc, language string) *Transcriber {
	if language == "" {
		language = DefaultLanguage
	}
	return &Transcriber{
		recognize: fn,
		language:  language,
		breaker:   resilience.New("gcpspeech", resilience.TranscriptionConfig()),
	}
}

// Close releases the underlying client.
func (t *Transcriber) Close() error {
	if t.close != nil {
		return t.close()
	}
	return nil
}

// Breakers returns the circuit breaker guarding recognition.
func (t *Transcriber) Breakers() []*resilience.Breaker { return []*resilience.Breaker{t.breaker} }

// Transcribe returns one segment per run of words from the same speaker.
func (t *Transcriber) Transcribe(ctx context.Context, sp collab.Speech) ([]collab.Segment, error) {
	resp, err := t.run(ctx, sp, true)
	if err != nil {
		return nil, err
	}
	return Segments(resp), nil
}

// TranscribePlain returns the recognized text without speakers.
func (t *Transcriber) TranscribePlain(ctx context.Context, sp collab.Speech) (string, error) {
	resp, err := t.run(ctx, sp, false)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(resp.GetResults()))
	for _, r := range resp.GetResults() {
		if alts := r.GetAlternatives(); len(alts) > 0 {
			if s := strings.TrimSpace(alts[0].GetTranscript()); s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, " "), nil
}

func (t *Transcriber) run(ctx context.Context, sp collab.Speech, diarize bool) (*speechpb.RecognizeResponse, error) {
	ctx, span := trace.StartSpan(ctx, "gcpspeech.recognize")
	defer span.End()
	span.SetAttr("diarize", diarize)

	cfg := &speechpb.RecognitionConfig{
		Encoding:                   speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz:            int32(sp.SampleRate),
		LanguageCode:               t.language,
		EnableAutomaticPunctuation: true,
		EnableWordTimeOffsets:      diarize,
	}
	if diarize {
		cfg.DiarizationConfig = &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
			MinSpeakerCount:          1,
			MaxSpeakerCount:          maxSpeakers,
		}
	}
	req := &speechpb.RecognizeRequest{
		Config: cfg,
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio.Float32ToInt16(sp.Samples)},
		},
	}

	resp, err := resilience.ExecuteWithResult(t.breaker, func() (*speechpb.RecognizeResponse, error) {
		return t.recognize(ctx, req)
	})
	if err != nil {
		span.SetError(err)
		return nil, apperrors.FromGRPCError(err, apperrors.KindModel)
	}
	return resp, nil
}

// Segments groups diarized words into speaker turns. With diarization the
// final result carries every word of the clip with its speaker tag; without
// word info each result becomes one default-speaker segment.
func Segments(resp *speechpb.RecognizeResponse) []collab.Segment {
	results := resp.GetResults()
	if len(results) == 0 {
		return nil
	}
	last := results[len(results)-1]
	if alts := last.GetAlternatives(); len(alts) > 0 && len(alts[0].GetWords()) > 0 && alts[0].GetWords()[0].GetSpeakerTag() > 0 {
		return fromWords(alts[0].GetWords())
	}

	var segs []collab.Segment
	for _, r := range results {
		alts := r.GetAlternatives()
		if len(alts) == 0 || strings.TrimSpace(alts[0].GetTranscript()) == "" {
			continue
		}
		seg := collab.Segment{Speaker: speakerName(0), Text: strings.TrimSpace(alts[0].GetTranscript())}
		if words := alts[0].GetWords(); len(words) > 0 {
			seg.Start = words[0].GetStartTime().AsDuration().Seconds()
			seg.End = words[len(words)-1].GetEndTime().AsDuration().Seconds()
		}
		segs = append(segs, seg)
	}
	return segs
}

func fromWords(words []*speechpb.WordInfo) []collab.Segment {
	var segs []collab.Segment
	var cur *collab.Segment
	var text []string
	flush := func() {
		if cur != nil {
			cur.Text = strings.Join(text, " ")
			segs = append(segs, *cur)
		}
		cur, text = nil, nil
	}
	for _, w := range words {
		speaker := speakerName(int(w.GetSpeakerTag()) - 1)
		if cur == nil || cur.Speaker != speaker {
			flush()
			cur = &collab.Segment{Speaker: speaker, Start: w.GetStartTime().AsDuration().Seconds()}
		}
		text = append(text, w.GetWord())
		cur.End = w.GetEndTime().AsDuration().Seconds()
	}
	flush()
	return segs
}

func speakerName(i int) string {
	if i < 0 {
		i = 0
	}
	return fmt.Sprintf("SPEAKER_%02d", i)
}

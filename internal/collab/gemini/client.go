// Package gemini implements the model-backed collaborators on the Gemini API:
// transcription with speaker labels, entity extraction, hints, battlecards,
// summaries and face sentiment.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/genai"

	apperrors "github.com/GriffinCanCode/live-assist/backend/platform/internal/errors"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/resilience"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/trace"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.0-flash"

const temperature = 0.2

// Generator produces the text of one model response.
type Generator func(ctx context.Context, contents []*genai.Content) (string, error)

// Client calls the model through a breaker with retries. Safe for concurrent use.
type Client struct {
	generate Generator
	breaker  *resilience.Breaker
	retry    resilience.RetryConfig
}

// New connects to the Gemini API.
func New(ctx context.Context, apiKey, model string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, apperrors.New(apperrors.KindConfig, apperrors.CodeNotConfigured, "gemini api key is not configured")
	}
	if model == "" {
		model = DefaultModel
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindConfig, apperrors.CodeConfigInvalid, "create gemini client")
	}
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](temperature),
	}
	return NewWithGenerator(func(ctx context.Context, contents []*genai.Content) (string, error) {
		resp, err := gc.Models.GenerateContent(ctx, model, contents, cfg)
		if err != nil {
			return "", err
		}
		return resp.Text(), nil
	}), nil
}

// NewWithGenerator builds a client on an arbitrary generator.
func NewWithGenerator(gen Generator) *Client {
	return &Client{
		generate: gen,
		breaker:  resilience.New("gemini", resilience.DefaultConfig()),
		retry:    resilience.ModelRetryConfig(),
	}
}

// Breakers returns the client's circuit breakers.
func (c *Client) Breakers() []*resilience.Breaker { return []*resilience.Breaker{c.breaker} }

// call sends parts as one user turn and decodes the JSON answer into out.
func (c *Client) call(ctx context.Context, op string, code apperrors.Code, out any, parts ...*genai.Part) error {
	ctx, span := trace.StartSpan(ctx, "gemini."+op)
	defer span.End()

	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	var text string
	err := resilience.Retry(ctx, c.retry, func() error {
		return c.breaker.Execute(func() error {
			var err error
			text, err = c.generate(ctx, contents)
			return classify(err, code)
		})
	})
	if err != nil {
		span.SetError(err)
		return err
	}
	if err := decode(text, out); err != nil {
		span.SetError(err)
		return apperrors.Model(apperrors.CodeInvalidResponse, err, op+": decode response")
	}
	return nil
}

// classify maps API failures onto model error codes so Retry can tell
// transient failures from permanent ones.
func classify(err error, code apperrors.Code) error {
	if err == nil {
		return nil
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return apperrors.Model(apperrors.CodeRateLimited, err, "gemini rate limited")
		case apiErr.Code >= 500:
			return apperrors.Model(apperrors.CodeUnavailable, err, "gemini unavailable")
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperrors.Model(code, err, "gemini call failed")
}

// decode parses a JSON answer, tolerating a markdown code fence around it.
func decode(text string, out any) error {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return json.Unmarshal([]byte(strings.TrimSpace(text)), out)
}

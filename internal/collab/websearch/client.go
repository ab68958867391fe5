// Package websearch implements web insight enrichment on top of the Tavily
// search API: a fast sentiment pass over social results followed by a deeper
// pros and cons pass.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/GriffinCanCode/live-assist/backend/platform/internal/errors"
)

const defaultBaseURL = "https://api.tavily.com"

// Hit is one search result.
type Hit struct {
	Title   string
	URL     string
	Snippet string
}

// SearchOptions narrow a query.
type SearchOptions struct {
	MaxResults int
	// Topic is "general" or "news".
	Topic string
	Depth string
}

// Client is a minimal Tavily search client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client. An empty baseURL uses the public endpoint.
func NewClient(apiKey, baseURL string, httpClient *http.Client) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return c != nil && c.apiKey != ""
}

// Search runs one query.
func (c *Client) Search(ctx context.Context, query string, opts SearchOptions) ([]Hit, error) {
	if !c.Configured() {
		return nil, apperrors.New(apperrors.KindConfig, apperrors.CodeNotConfigured, "tavily api key is not configured")
	}
	if strings.TrimSpace(query) == "" {
		return nil, apperrors.New(apperrors.KindModel, apperrors.CodeInvalidArgument, "query is required")
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 5
	}
	if opts.Depth == "" {
		opts.Depth = "basic"
	}
	if opts.Topic == "" {
		opts.Topic = "general"
	}

	body, err := json.Marshal(map[string]any{
		"query":        query,
		"search_depth": opts.Depth,
		"topic":        opts.Topic,
		"max_results":  opts.MaxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Model(apperrors.CodeUnavailable, err, "tavily request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		code := apperrors.CodeEnrichment
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			code = apperrors.CodeRateLimited
		case resp.StatusCode >= 500:
			code = apperrors.CodeUnavailable
		}
		return nil, apperrors.Model(code, nil, fmt.Sprintf("tavily error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(b))))
	}

	var decoded struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, apperrors.Model(apperrors.CodeInvalidResponse, err, "decode tavily response")
	}

	hits := make([]Hit, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		hits = append(hits, Hit{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return hits, nil
}

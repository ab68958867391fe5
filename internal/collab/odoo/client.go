// Package odoo implements collab.CRM against Odoo's JSON-RPC endpoint,
// creating one crm.lead per finalized meeting.
package odoo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/live-assist/backend/platform/internal/collab"
	apperrors "github.com/GriffinCanCode/live-assist/backend/platform/internal/errors"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/resilience"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/trace"
)

const requestTimeout = 10 * time.Second

// Config addresses one Odoo database.
type Config struct {
	URL      string
	DB       string
	User     string
	Password string
}

// Configured reports whether every field is set.
func (c Config) Configured() bool {
	return c.URL != "" && c.DB != "" && c.User != "" && c.Password != ""
}

// Client authenticates lazily and caches the user id.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *resilience.Breaker
	retry      resilience.RetryConfig
	seq        atomic.Int64

	mu  sync.Mutex
	uid int64
}

// New creates a client. A nil httpClient gets a 10s timeout.
func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		breaker:    resilience.New("odoo", resilience.FinalizationConfig()),
		retry:      resilience.DefaultRetryConfig(),
	}
}

// Breakers returns the circuit breaker guarding CRM calls.
func (c *Client) Breakers() []*resilience.Breaker { return []*resilience.Breaker{c.breaker} }

// CreateLead creates a crm.lead and returns its id.
func (c *Client) CreateLead(ctx context.Context, lead collab.LeadCandidate, starredHints []string, score int) (string, error) {
	ctx, span := trace.StartSpan(ctx, "odoo.create_lead")
	defer span.End()

	if !c.cfg.Configured() {
		return "", apperrors.New(apperrors.KindConfig, apperrors.CodeNotConfigured, "odoo is not configured")
	}

	var id int64
	err := resilience.Retry(ctx, c.retry, func() error {
		return c.breaker.Execute(func() error {
			uid, err := c.login(ctx)
			if err != nil {
				return err
			}
			return c.call(ctx, "object", "execute_kw", []any{
				c.cfg.DB, uid, c.cfg.Password, "crm.lead", "create", []any{Values(lead, starredHints, score)},
			}, &id)
		})
	})
	if err != nil {
		span.SetError(err)
		return "", err
	}
	trace.Logger(ctx).Info("created odoo lead", "lead_id", id, "score", score)
	return fmt.Sprint(id), nil
}

// Values maps a lead candidate onto crm.lead fields.
func Values(lead collab.LeadCandidate, starredHints []string, score int) map[string]any {
	var desc strings.Builder
	desc.WriteString(lead.Notes)
	desc.WriteString("\n\nSource Summary: ")
	desc.WriteString(lead.SourceSummary)
	fmt.Fprintf(&desc, "\nLead score: %d/100", score)
	if len(starredHints) > 0 {
		desc.WriteString("\n\nStarred hints:")
		for _, h := range starredHints {
			desc.WriteString("\n- ")
			desc.WriteString(h)
		}
	}
	return map[string]any{
		"name":         "Lead: " + lead.Name,
		"contact_name": lead.Name,
		"email_from":   lead.Email,
		"phone":        lead.Phone,
		"partner_name": lead.Company,
		"description":  desc.String(),
	}
}

func (c *Client) login(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.uid != 0 {
		return c.uid, nil
	}

	var raw json.RawMessage
	if err := c.call(ctx, "common", "authenticate", []any{c.cfg.DB, c.cfg.User, c.cfg.Password, map[string]any{}}, &raw); err != nil {
		return 0, err
	}
	var uid int64
	// A failed login returns false rather than an error.
	if err := json.Unmarshal(raw, &uid); err != nil || uid == 0 {
		return 0, apperrors.Finalization(apperrors.CodeCRM, nil, "odoo authentication rejected")
	}
	c.uid = uid
	return uid, nil
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int64     `json:"id"`
}

type rpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    struct {
			Name    string `json:"name"`
			Message string `json:"message"`
		} `json:"data"`
	} `json:"error"`
}

func (c *Client) call(ctx context.Context, service, method string, args []any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  rpcParams{Service: service, Method: method, Args: args},
		ID:      c.seq.Add(1),
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/jsonrpc", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Finalization(apperrors.CodeUnavailable, err, "odoo request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		code := apperrors.CodeCRM
		if resp.StatusCode >= 500 {
			code = apperrors.CodeUnavailable
		}
		return apperrors.Finalization(code, nil, fmt.Sprintf("odoo error (status %d)", resp.StatusCode))
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return apperrors.Finalization(apperrors.CodeInvalidResponse, err, "decode odoo response")
	}
	if decoded.Error != nil {
		msg := decoded.Error.Data.Message
		if msg == "" {
			msg = decoded.Error.Message
		}
		return apperrors.Finalization(apperrors.CodeCRM, nil, "odoo: "+msg).
			WithMetadata("service", service).
			WithMetadata("method", method)
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return apperrors.Finalization(apperrors.CodeInvalidResponse, err, "decode odoo result")
	}
	return nil
}

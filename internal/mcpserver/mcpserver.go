// Package mcpserver exposes session control as MCP tools so agents can drive
// the assistant the same way the HTTP API does.
package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/GriffinCanCode/live-assist/backend/platform/internal/config"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/orchestrator"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/trace"
)

// Tool names.
const (
	ToolStatus   = "session_status"
	ToolStart    = "session_start"
	ToolStop     = "session_stop"
	ToolStarHint = "star_hint"
)

// Sessions is the control surface the tools drive.
type Sessions interface {
	Defaults() config.SessionConfig
	Start(ctx context.Context, cfg config.SessionConfig) (*orchestrator.Session, error)
	Stop(ctx context.Context) orchestrator.StopResult
	Status() orchestrator.Snapshot
	StarHint(text string) (bool, error)
}

// StartArgs override the session defaults. Omitted fields keep them.
type StartArgs struct {
	InsightInterval     *float64 `json:"insight_interval,omitempty" jsonschema:"seconds between insight passes"`
	ScreenInterval      *float64 `json:"screen_interval,omitempty" jsonschema:"seconds between screenshots"`
	ChunkDuration       *float64 `json:"transcript_chunk_interval,omitempty" jsonschema:"seconds of audio per transcription chunk"`
	EnableVision        *bool    `json:"enable_vision,omitempty"`
	EnableTranscription *bool    `json:"enable_transcription,omitempty"`
	EnableFinalSync     *bool    `json:"enable_final_sync,omitempty" jsonschema:"summarize and sync a CRM lead on stop"`
	EnableFaceSentiment *bool    `json:"enable_face_sentiment,omitempty"`
	CaptureMode         string   `json:"capture_mode,omitempty" jsonschema:"local or remote"`
}

// Apply overlays the set fields on cfg.
func (a StartArgs) Apply(cfg config.SessionConfig) config.SessionConfig {
	if a.InsightInterval != nil {
		cfg.InsightInterval = config.Seconds(*a.InsightInterval)
	}
	if a.ScreenInterval != nil {
		cfg.ScreenInterval = config.Seconds(*a.ScreenInterval)
	}
	if a.ChunkDuration != nil {
		cfg.ChunkDuration = config.Seconds(*a.ChunkDuration)
	}
	if a.EnableVision != nil {
		cfg.EnableVision = *a.EnableVision
	}
	if a.EnableTranscription != nil {
		cfg.EnableTranscription = *a.EnableTranscription
	}
	if a.EnableFinalSync != nil {
		cfg.EnableFinalSync = *a.EnableFinalSync
	}
	if a.EnableFaceSentiment != nil {
		cfg.EnableFaceSentiment = *a.EnableFaceSentiment
	}
	if a.CaptureMode != "" {
		cfg.CaptureMode = a.CaptureMode
	}
	return cfg
}

// StarArgs names the hint to star.
type StarArgs struct {
	Hint string `json:"hint" jsonschema:"the hint text exactly as shown"`
}

// New builds the MCP server with the session tools registered.
func New(sessions Sessions, version string) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "live-assist", Version: version}, nil)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        ToolStatus,
		Description: "Current session status, hints, entities, battlecards and counters",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
		return jsonResult(sessions.Status())
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        ToolStart,
		Description: "Start a live session, stopping any active one first",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args StartArgs) (*mcp.CallToolResult, any, error) {
		sess, err := sessions.Start(ctx, args.Apply(sessions.Defaults()))
		if err != nil {
			trace.Logger(ctx).Warn("mcp session start failed", "error", err)
			return nil, nil, err
		}
		return jsonResult(map[string]any{
			"status":     sess.Status(),
			"session_id": sess.ID(),
			"config":     sess.Config(),
		})
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        ToolStop,
		Description: "Stop the running session and return its transcript, entities and lead",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
		res := sessions.Stop(ctx)
		if res.NotRunning() {
			return textResult(res.Error, true), nil, nil
		}
		return jsonResult(res)
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        ToolStarHint,
		Description: "Mark a hint as useful so it is attached to the CRM lead",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args StarArgs) (*mcp.CallToolResult, any, error) {
		added, err := sessions.StarHint(args.Hint)
		if err != nil {
			return textResult(err.Error(), true), nil, nil
		}
		return jsonResult(map[string]any{"starred": added, "hint": args.Hint})
	})

	return srv
}

// Handler serves srv over streamable HTTP.
func Handler(srv *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	return textResult(string(b), false), nil, nil
}

func textResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: isError,
	}
}

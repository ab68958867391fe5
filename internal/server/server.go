package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/GriffinCanCode/live-assist/backend/platform/internal/audio"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/collab"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/config"
	apperrors "github.com/GriffinCanCode/live-assist/backend/platform/internal/errors"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/orchestrator"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/store"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/trace"
)

// Sessions is the control surface the handlers drive.
type Sessions interface {
	Defaults() config.SessionConfig
	Start(ctx context.Context, cfg config.SessionConfig) (*orchestrator.Session, error)
	Stop(ctx context.Context) orchestrator.StopResult
	Reset(ctx context.Context)
	Status() orchestrator.Snapshot
	StarHint(text string) (bool, error)
	FeedAudio(samples []float32, sampleRate int) bool
}

// History reads persisted sessions.
type History interface {
	Recent(ctx context.Context, limit int) ([]store.SessionSummary, error)
	Session(ctx context.Context, id string) (*collab.SessionRecord, error)
}

// Options carries the optional handlers mounted next to the session API.
type Options struct {
	Hub     http.Handler
	Metrics http.Handler
	MCP     http.Handler
	History History
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	sessions Sessions
	opts     Options
}

// New creates a new server.
func New(sessions Sessions, opts Options) *Server {
	return &Server{sessions: sessions, opts: opts}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Session control
	mux.HandleFunc("POST /api/session/start", s.handleStart)
	mux.HandleFunc("POST /api/session/stop", s.handleStop)
	mux.HandleFunc("POST /api/session/reset", s.handleReset)
	mux.HandleFunc("GET /api/session/status", s.handleStatus)
	mux.HandleFunc("POST /api/session/hints/star", s.handleStarHint)
	mux.HandleFunc("GET /health", s.handleHealth)

	// Streams
	if s.opts.Hub != nil {
		mux.Handle("/ws", s.opts.Hub)
	}
	mux.HandleFunc("/audio-stream", s.handleAudioStream)

	if s.opts.History != nil {
		mux.HandleFunc("GET /api/sessions", s.handleHistory)
		mux.HandleFunc("GET /api/sessions/{id}", s.handleSession)
	}
	if s.opts.Metrics != nil {
		mux.Handle("GET /metrics", s.opts.Metrics)
	}
	if s.opts.MCP != nil {
		mux.Handle("/mcp", s.opts.MCP)
	}

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	body := map[string]string{"error": err.Error()}
	var ae *apperrors.AppError
	if errors.As(err, &ae) {
		body["error"] = ae.Message
		body["code"] = string(ae.Code)
	}
	writeJSON(w, status, body)
}

// StartResponse is returned by a successful start.
type StartResponse struct {
	Status    orchestrator.Status  `json:"status"`
	SessionID string               `json:"session_id"`
	Config    config.SessionConfig `json:"config"`
}

// decodeStart reads the optional start body over the registry defaults, so
// omitted fields keep their default values.
func decodeStart(r *http.Request, defaults config.SessionConfig) (config.SessionConfig, error) {
	cfg := defaults
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes))
	if err != nil {
		return cfg, err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(body, &cfg); err != nil {
		return cfg, apperrors.Wrap(err, apperrors.KindConfig, apperrors.CodeInvalidArgument, "invalid session config")
	}
	if m := cfg.CaptureMode; m != "" && m != config.CaptureLocal && m != config.CaptureRemote {
		return cfg, apperrors.Newf(apperrors.KindConfig, apperrors.CodeInvalidArgument, "unknown capture_mode %q", cfg.CaptureMode)
	}
	return cfg, nil
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	cfg, err := decodeStart(r, s.sessions.Defaults())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sess, err := s.sessions.Start(r.Context(), cfg)
	if err != nil {
		trace.Logger(r.Context()).Error("session start failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, StartResponse{Status: sess.Status(), SessionID: sess.ID(), Config: sess.Config()})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	res := s.sessions.Stop(r.Context())
	if res.NotRunning() {
		writeJSON(w, http.StatusOK, map[string]string{"error": res.Error})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.sessions.Reset(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": string(orchestrator.StatusIdle)})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Status())
}

type starRequest struct {
	Hint string `json:"hint"`
}

func (s *Server) handleStarHint(w http.ResponseWriter, r *http.Request) {
	var req starRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes)).Decode(&req); err != nil || strings.TrimSpace(req.Hint) == "" {
		writeError(w, http.StatusBadRequest, apperrors.New(apperrors.KindState, apperrors.CodeInvalidArgument, "hint is required"))
		return
	}
	added, err := s.sessions.StarHint(strings.TrimSpace(req.Hint))
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"starred": added, "starred_hints": s.sessions.Status().StarredHints})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "session": string(s.sessions.Status().Status)})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := DefaultHistoryLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, MaxHistoryLimit)
	}
	list, err := s.opts.History.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if list == nil {
		list = []store.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	rec, err := s.opts.History.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleAudioStream accepts binary frames of little-endian float32 mono PCM
// for remote capture sessions. The rate comes from the sample_rate query
// parameter. Frames arriving while no remote session runs are discarded.
func (s *Server) handleAudioStream(w http.ResponseWriter, r *http.Request) {
	rate := DefaultSampleRate
	if v, err := strconv.Atoi(r.URL.Query().Get("sample_rate")); err == nil && v > 0 {
		rate = v
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(MaxAudioFrameBytes)

	log := trace.Logger(r.Context()).With("remote", r.RemoteAddr, "sample_rate", rate)
	log.Info("audio stream connected")

	ctx := context.WithoutCancel(r.Context())
	var frames, discarded int
	for {
		rctx, cancel := context.WithTimeout(ctx, AudioStreamIdleTime)
		typ, data, err := conn.Read(rctx)
		cancel()
		if err != nil {
			log.Info("audio stream closed", "frames", frames, "discarded", discarded, "reason", err)
			return
		}
		if typ != websocket.MessageBinary || len(data) < 4 {
			continue
		}
		frames++
		if !s.sessions.FeedAudio(audio.BytesToFloat32(data), rate) {
			discarded++
		}
	}
}


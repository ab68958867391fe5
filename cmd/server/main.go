// Live assist server - runs call sessions, streams insights over WebSocket and
// finalizes completed calls.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/GriffinCanCode/live-assist/backend/platform/internal/audio"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/broadcast"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/config"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/events"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/mcpserver"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/metrics"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/orchestrator"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/screen"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/server"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/store"
)

var version = "dev"

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	backends, err := buildCollaborators(ctx, cfg, m)
	if err != nil {
		slog.Error("failed to set up collaborators", "backend", cfg.Backend, "error", err)
		os.Exit(1)
	}
	defer backends.Close()

	var history server.History
	if cfg.SQLiteDSN != "" {
		st, err := store.Open(ctx, cfg.SQLiteDSN)
		if err != nil {
			slog.Error("failed to open session store", "error", err)
			os.Exit(1)
		}
		defer func() { _ = st.Close() }()
		backends.Set.Persister = st
		history = st
	}

	hub := broadcast.NewHub(broadcast.Options{OnDrop: m.SubscriberDropped})
	m.WatchSubscribers(hub.Subscribers)

	publisher := events.New(ctx, events.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic}, m)
	defer func() { _ = publisher.Close() }()

	reg := orchestrator.NewRegistry(orchestrator.Deps{
		Collabs:   backends.Set,
		Publisher: hub,
		Observer:  m,
		Events:    publisher,
		NewAudio: func(sc config.SessionConfig, onDrop func(), onDeviceError func(error)) audio.Source {
			return audio.NewCapturer(audio.CaptureConfig{
				ChunkDuration:   sc.ChunkDuration.Duration(),
				ExcludedDevices: cfg.ExcludedAudioDevices,
				OnDrop:          onDrop,
				OnDeviceError:   onDeviceError,
			})
		},
		NewScreen:   func() (screen.Capturer, error) { return screen.New(), nil },
		Competitors: cfg.Competitors,
		Workers:     cfg.TranscriptionWorkers,
	}, cfg.Session)
	hub.SetSnapshot(reg.SnapshotMessages)

	opts := server.Options{Hub: hub, Metrics: m.Handler(), History: history}
	if cfg.MCPEnabled {
		opts.MCP = mcpserver.Handler(mcpserver.New(reg, version))
	}
	srv := server.New(reg, opts)

	// Stop may block for the whole finalization, so writes are not bounded here.
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("live assist server starting",
			"http", cfg.HTTPAddr,
			"backend", cfg.Backend,
			"mcp", cfg.MCPEnabled,
			"kafka", publisher.Enabled(),
			"version", version)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), orchestrator.FinalizeTimeout)
	defer stopCancel()
	reg.Shutdown(stopCtx)
	hub.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	cancel()
	slog.Info("shutdown complete")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

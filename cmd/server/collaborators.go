package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/GriffinCanCode/live-assist/backend/platform/internal/collab"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/collab/gcpspeech"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/collab/gemini"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/collab/mock"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/collab/odoo"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/collab/websearch"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/config"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/grpcclient"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/metrics"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/resilience"
)

type breakered interface {
	Breakers() []*resilience.Breaker
}

// backends is the collaborator set plus whatever must be closed on exit.
type backends struct {
	Set     collab.Set
	closers []func() error
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			slog.Warn("collaborator close failed", "error", err)
		}
	}
}

// buildCollaborators selects the model backend, then layers the optional
// speech, web search and CRM integrations over it.
func buildCollaborators(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*backends, error) {
	b := &backends{}
	hook := func(v breakered) {
		for _, br := range v.Breakers() {
			br.WithHook(m.BreakerHook)
		}
	}

	switch cfg.Backend {
	case config.BackendMock:
		b.Set = mock.Set()
	case config.BackendGemini:
		gc, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		hook(gc)
		b.Set = gc.Set()
	case config.BackendGRPC:
		inference, err := grpcclient.New(grpcclient.DefaultConfig(cfg.InferenceAddr))
		if err != nil {
			return nil, fmt.Errorf("connect to inference server %s: %w", cfg.InferenceAddr, err)
		}
		hook(inference)
		b.closers = append(b.closers, inference.Close)
		go inference.WatchHealth(ctx)
		b.Set = inference.Set()
	default:
		return nil, fmt.Errorf("unknown collaborator backend %q", cfg.Backend)
	}

	if cfg.UseGoogleSpeech {
		tr, err := gcpspeech.New(ctx, cfg.SpeechLanguage)
		if err != nil {
			return nil, fmt.Errorf("google speech: %w", err)
		}
		hook(tr)
		b.closers = append(b.closers, tr.Close)
		b.Set.Transcriber = tr
	}

	if cfg.TavilyAPIKey != "" {
		wi := websearch.NewInsights(websearch.NewClient(cfg.TavilyAPIKey, cfg.TavilyBaseURL, nil))
		hook(wi)
		b.Set.WebInsight = wi
	}

	odooCfg := odoo.Config{URL: cfg.OdooURL, DB: cfg.OdooDB, User: cfg.OdooUser, Password: cfg.OdooPassword}
	if odooCfg.Configured() {
		crm := odoo.New(odooCfg, nil)
		hook(crm)
		b.Set.CRM = crm
	}

	slog.Info("collaborators ready",
		"backend", cfg.Backend,
		"google_speech", cfg.UseGoogleSpeech,
		"web_insight", b.Set.WebInsight != nil,
		"crm", b.Set.CRM != nil)
	return b, nil
}

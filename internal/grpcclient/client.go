// Package grpcclient implements the collaborator contracts against the
// inference gRPC server. Requests and responses are google.protobuf.Struct
// payloads, so no generated stubs are needed on this side.
package grpcclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/GriffinCanCode/live-assist/backend/platform/internal/audio"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/collab"
	apperrors "github.com/GriffinCanCode/live-assist/backend/platform/internal/errors"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/resilience"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/trace"
)

// Config holds connection settings.
type Config struct {
	Addr                string
	KeepaliveTime       time.Duration
	KeepaliveTimeout    time.Duration
	HealthCheckInterval time.Duration
	// DialOptions are appended to the defaults.
	DialOptions []grpc.DialOption
}

// DefaultConfig returns settings for addr.
func DefaultConfig(addr string) Config {
	return Config{
		Addr:                addr,
		KeepaliveTime:       DefaultKeepaliveTime,
		KeepaliveTimeout:    DefaultKeepaliveTimeout,
		HealthCheckInterval: DefaultHealthCheckInterval,
	}
}

// Client wraps one connection to the inference server.
type Client struct {
	conn    *grpc.ClientConn
	health  healthpb.HealthClient
	cfg     Config
	healthy atomic.Bool

	transcription *resilience.Breaker
	insight       *resilience.Breaker
	retry         resilience.RetryConfig
}

// New creates a client. The connection is established lazily.
func New(cfg Config) (*Client, error) {
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepaliveTime,
			Timeout:             cfg.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithChainUnaryInterceptor(trace.UnaryClientInterceptor()),
		grpc.WithChainStreamInterceptor(trace.StreamClientInterceptor()),
	}, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Addr, opts...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindConfig, apperrors.CodeConfigInvalid, "create inference client")
	}
	c := &Client{
		conn:          conn,
		health:        healthpb.NewHealthClient(conn),
		cfg:           cfg,
		transcription: resilience.New("inference.transcription", resilience.TranscriptionConfig()),
		insight:       resilience.New("inference.insight", resilience.DefaultConfig()),
		retry:         resilience.ModelRetryConfig(),
	}
	c.healthy.Store(true)
	return c, nil
}

// Close closes the gRPC connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Healthy reports the last health check result.
func (c *Client) Healthy() bool { return c.healthy.Load() }

// Breakers returns the transcription and insight circuit breakers.
func (c *Client) Breakers() []*resilience.Breaker {
	return []*resilience.Breaker{c.transcription, c.insight}
}

// CheckHealth queries the standard health service once.
func (c *Client) CheckHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return apperrors.FromGRPCError(err, apperrors.KindModel)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return apperrors.Newf(apperrors.KindModel, apperrors.CodeUnavailable, "inference server %s", resp.GetStatus())
	}
	return nil
}

// WatchHealth polls the health service until ctx is done, logging changes.
func (c *Client) WatchHealth(ctx context.Context) {
	interval := c.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = DefaultHealthCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		err := c.CheckHealth(ctx)
		if was := c.healthy.Swap(err == nil); was != (err == nil) {
			if err != nil {
				trace.Logger(ctx).Warn("inference server unhealthy", "addr", c.cfg.Addr, "error", err)
			} else {
				trace.Logger(ctx).Info("inference server healthy", "addr", c.cfg.Addr)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Client) unary(ctx context.Context, b *resilience.Breaker, method string, req map[string]any, out any) error {
	ctx, span := trace.StartSpan(ctx, "inference"+method[len("/"+ServiceName):])
	defer span.End()

	in, err := structpb.NewStruct(req)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInternal, apperrors.CodeInternal, "encode request")
	}
	resp := &structpb.Struct{}
	err = resilience.Retry(ctx, c.retry, func() error {
		return b.Execute(func() error {
			return c.conn.Invoke(ctx, method, in, resp)
		})
	})
	if err != nil {
		span.SetError(err)
		if errors.Is(err, resilience.ErrOpen) {
			return apperrors.Model(apperrors.CodeUnavailable, err, "inference circuit open")
		}
		return apperrors.FromGRPCError(err, apperrors.KindModel)
	}
	return decode(resp, out)
}

func decode(s *structpb.Struct, out any) error {
	b, err := protojson.Marshal(s)
	if err != nil {
		return apperrors.Model(apperrors.CodeInvalidResponse, err, "encode response")
	}
	if err := json.Unmarshal(b, out); err != nil {
		return apperrors.Model(apperrors.CodeInvalidResponse, err, "decode response")
	}
	return nil
}

func speechRequest(sp collab.Speech, diarize bool) map[string]any {
	return map[string]any{
		"audio":       audio.Float32ToInt16(sp.Samples),
		"sample_rate": sp.SampleRate,
		"diarize":     diarize,
	}
}

// Transcribe sends 16-bit PCM for diarized transcription.
func (c *Client) Transcribe(ctx context.Context, sp collab.Speech) ([]collab.Segment, error) {
	var resp struct {
		Segments []collab.Segment `json:"segments"`
	}
	if err := c.unary(ctx, c.transcription, MethodTranscribe, speechRequest(sp, true), &resp); err != nil {
		return nil, err
	}
	return resp.Segments, nil
}

// TranscribePlain transcribes without speaker attribution.
func (c *Client) TranscribePlain(ctx context.Context, sp collab.Speech) (string, error) {
	var resp struct {
		Text string `json:"text"`
	}
	if err := c.unary(ctx, c.transcription, MethodTranscribe, speechRequest(sp, false), &resp); err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (c *Client) Extract(ctx context.Context, text string) ([]collab.Entity, error) {
	var resp struct {
		Entities []collab.Entity `json:"entities"`
	}
	if err := c.unary(ctx, c.insight, MethodExtract, map[string]any{"text": text}, &resp); err != nil {
		return nil, err
	}
	return resp.Entities, nil
}

func (c *Client) GenerateHints(ctx context.Context, transcript string, entities []string) (collab.Hints, error) {
	names := make([]any, len(entities))
	for i, e := range entities {
		names[i] = e
	}
	var h collab.Hints
	err := c.unary(ctx, c.insight, MethodHints, map[string]any{"transcript": transcript, "entities": names}, &h)
	return h, err
}

func (c *Client) GetBattlecard(ctx context.Context, target, excerpt string) (collab.Battlecard, error) {
	var card collab.Battlecard
	if err := c.unary(ctx, c.insight, MethodBattlecard, map[string]any{"target": target, "context": excerpt}, &card); err != nil {
		return collab.Battlecard{}, err
	}
	if card.Competitor == "" {
		card.Competitor = target
	}
	return card, nil
}

func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	var resp struct {
		Summary string `json:"summary"`
	}
	err := c.unary(ctx, c.insight, MethodSummarize, map[string]any{"text": text}, &resp)
	return resp.Summary, err
}

// AnalyzeFaces returns per-face emotions bucketed into happy and negative.
func (c *Client) AnalyzeFaces(ctx context.Context, image []byte) (collab.FaceCounts, error) {
	var resp struct {
		Emotions []string `json:"emotions"`
	}
	if err := c.unary(ctx, c.insight, MethodAnalyzeFaces, map[string]any{"image": image}, &resp); err != nil {
		return collab.FaceCounts{}, err
	}
	return collab.CountEmotions(resp.Emotions), nil
}

var webInsightsDesc = &grpc.StreamDesc{StreamName: "WebInsights", ServerStreams: true}

// Insights opens a server stream of enrichment items for target.
func (c *Client) Insights(ctx context.Context, target string) (<-chan collab.Enrichment, error) {
	if err := c.insight.Allow(); err != nil {
		return nil, apperrors.Model(apperrors.CodeUnavailable, err, "inference circuit open")
	}
	req, err := structpb.NewStruct(map[string]any{"target": target})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, apperrors.CodeInternal, "encode request")
	}
	stream, err := c.conn.NewStream(ctx, webInsightsDesc, MethodWebInsights)
	if err == nil {
		err = stream.SendMsg(req)
	}
	if err == nil {
		err = stream.CloseSend()
	}
	if err != nil {
		c.insight.Failure()
		return nil, apperrors.FromGRPCError(err, apperrors.KindModel)
	}

	ch := make(chan collab.Enrichment)
	go func() {
		defer close(ch)
		for {
			msg := &structpb.Struct{}
			if err := stream.RecvMsg(msg); err != nil {
				if err == io.EOF {
					c.insight.Success()
				} else if ctx.Err() == nil {
					c.insight.Failure()
					trace.Logger(ctx).Warn("web insight stream failed", "target", target, "error", err)
				}
				return
			}
			var item collab.Enrichment
			if err := decode(msg, &item); err != nil {
				trace.Logger(ctx).Warn("dropping web insight item", "error", err)
				continue
			}
			select {
			case ch <- item:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Set returns the collaborators served by the inference server. CRM and
// Persister are left nil.
func (c *Client) Set() collab.Set {
	return collab.Set{
		Transcriber: c,
		Extractor:   c,
		Hints:       c,
		Battlecards: c,
		WebInsight:  c,
		Summarizer:  c,
		Faces:       c,
	}
}

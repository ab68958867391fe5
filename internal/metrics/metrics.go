// Package metrics provides Prometheus metrics for the session pipeline.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/GriffinCanCode/live-assist/backend/platform/internal/errors"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/resilience"
)

const namespace = "live_assist"

// Metrics implements orchestrator.Observer.
type Metrics struct {
	reg     *prometheus.Registry
	factory promauto.Factory

	// Session metrics
	SessionTransitions *prometheus.CounterVec
	SessionsActive     prometheus.Gauge

	// Pipeline metrics
	ChunksProcessed *prometheus.CounterVec
	ChunksDropped   prometheus.Counter
	InsightTicks    *prometheus.CounterVec
	Battlecards     prometheus.Counter
	DeviceErrors    prometheus.Counter

	// Collaborator metrics
	ModelCalls  *prometheus.CounterVec
	BreakerOpen *prometheus.GaugeVec

	// Finalization metrics
	FinalizeDuration prometheus.Histogram
	FinalizeFailures prometheus.Counter

	// Delivery metrics
	SubscribersDropped  prometheus.Counter
	EventPublishTotal   *prometheus.CounterVec
	EventPublishLatency prometheus.Histogram
}

// New creates metrics on a private registry that also carries the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg:     reg,
		factory: f,

		SessionTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Session status transitions",
		}, []string{"from", "to"}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently starting or running",
		}),

		ChunksProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_total",
			Help:      "Audio chunks by processing outcome",
		}, []string{"outcome"}),
		ChunksDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_dropped_total",
			Help:      "Audio chunks dropped because the transcription queue was full",
		}),
		InsightTicks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insight_ticks_total",
			Help:      "Insight scheduler ticks by outcome",
		}, []string{"outcome"}),
		Battlecards: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "battlecards_total",
			Help:      "Battlecards generated",
		}),
		DeviceErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_errors_total",
			Help:      "Capture device failures",
		}),

		ModelCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_calls_total",
			Help:      "Collaborator calls by operation and result code",
		}, []string{"op", "code"}),
		BreakerOpen: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_open",
			Help:      "1 while a collaborator circuit breaker is not closed",
		}, []string{"name"}),

		FinalizeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "finalize_duration_seconds",
			Help:      "Finalization pipeline duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		FinalizeFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalize_failures_total",
			Help:      "Finalizations that produced no lead",
		}),

		SubscribersDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_subscribers_dropped_total",
			Help:      "Websocket subscribers removed for being slow or broken",
		}),
		EventPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_total",
			Help:      "Session events published downstream",
		}, []string{"result"}),
		EventPublishLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_publish_latency_seconds",
			Help:      "Session event publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// WatchSubscribers exports fn as the live subscriber gauge.
func (m *Metrics) WatchSubscribers(fn func() int) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_subscribers",
		Help:      "Connected websocket subscribers",
	}, func() float64 { return float64(fn()) })
}

func (m *Metrics) SessionStatus(from, to string) {
	m.SessionTransitions.WithLabelValues(from, to).Inc()
	wasActive, isActive := active(from), active(to)
	switch {
	case !wasActive && isActive:
		m.SessionsActive.Inc()
	case wasActive && !isActive:
		m.SessionsActive.Dec()
	}
}

func active(status string) bool { return status == "starting" || status == "running" }

func (m *Metrics) ChunkProcessed(outcome string) { m.ChunksProcessed.WithLabelValues(outcome).Inc() }
func (m *Metrics) InsightTick(outcome string)    { m.InsightTicks.WithLabelValues(outcome).Inc() }
func (m *Metrics) BattlecardGenerated()          { m.Battlecards.Inc() }
func (m *Metrics) AudioChunkDropped()            { m.ChunksDropped.Inc() }
func (m *Metrics) DeviceError()                  { m.DeviceErrors.Inc() }
func (m *Metrics) SubscriberDropped()            { m.SubscribersDropped.Inc() }

// ModelCall labels failures by AppError code.
func (m *Metrics) ModelCall(name string, err error) {
	code := "ok"
	if err != nil {
		code = string(apperrors.CodeUnknown)
		var ae *apperrors.AppError
		if errors.As(err, &ae) {
			code = string(ae.Code)
		}
	}
	m.ModelCalls.WithLabelValues(name, code).Inc()
}

func (m *Metrics) Finalized(d time.Duration, err error) {
	m.FinalizeDuration.Observe(d.Seconds())
	if err != nil {
		m.FinalizeFailures.Inc()
	}
}

// EventPublished records a downstream publish attempt.
func (m *Metrics) EventPublished(err error, latency time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.EventPublishTotal.WithLabelValues(result).Inc()
	m.EventPublishLatency.Observe(latency.Seconds())
}

// BreakerHook tracks breaker state for resilience.Breaker.WithHook.
func (m *Metrics) BreakerHook(name string, _, to resilience.State) {
	v := 0.0
	if to != resilience.Closed {
		v = 1
	}
	m.BreakerOpen.WithLabelValues(name).Set(v)
}

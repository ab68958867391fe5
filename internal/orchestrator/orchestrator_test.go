package orchestrator

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/live-assist/backend/platform/internal/audio"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/broadcast"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/collab"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/config"
	screencap "github.com/GriffinCanCode/live-assist/backend/platform/internal/screen"
)

type fakeSource struct {
	out      chan audio.Chunk
	startErr error
	stopped  atomic.Bool
}

func newFakeSource() *fakeSource { return &fakeSource{out: make(chan audio.Chunk, 4)} }

func (f *fakeSource) Start(context.Context) error { return f.startErr }
func (f *fakeSource) Output() <-chan audio.Chunk  { return f.out }
func (f *fakeSource) Stop(time.Duration) bool     { f.stopped.Store(true); return true }

type fakeScreen struct {
	captures atomic.Int32
	closed   atomic.Bool
}

func (f *fakeScreen) Capture(context.Context) (screencap.Screenshot, error) {
	f.captures.Add(1)
	return screencap.Screenshot{Image: []byte("not-an-image"), Timestamp: time.Now()}, nil
}

func (f *fakeScreen) Close() { f.closed.Store(true) }

type fakeTranscriber struct {
	text  string
	calls atomic.Int32
}

func (f *fakeTranscriber) Transcribe(context.Context, collab.Speech) ([]collab.Segment, error) {
	f.calls.Add(1)
	return []collab.Segment{{Speaker: "SPEAKER_01", Text: f.text, Start: 0, End: 1}}, nil
}

func (f *fakeTranscriber) TranscribePlain(context.Context, collab.Speech) (string, error) {
	return f.text, nil
}

type fakeFinalizers struct{}

func (fakeFinalizers) Summarize(context.Context, string) (string, error) { return "short call", nil }

func (fakeFinalizers) Extract(context.Context, string) ([]collab.Entity, error) {
	return []collab.Entity{{Text: "Ada Lovelace", Label: collab.LabelPerson, Score: 0.9}}, nil
}

// blockingSummarizer holds finalization until release is closed or its
// context ends.
type blockingSummarizer struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSummarizer) Summarize(ctx context.Context, _ string) (string, error) {
	close(b.entered)
	select {
	case <-b.release:
		return "late summary", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type recorder struct {
	mu          sync.Mutex
	msgs        []any
	transitions []string
	outcomes    chan string
}

func newRecorder() *recorder { return &recorder{outcomes: make(chan string, 16)} }

func (r *recorder) Publish(msg any) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recorder) PublishWait(_ context.Context, msg any) { r.Publish(msg) }

func (r *recorder) SessionStatus(from, to string) {
	r.mu.Lock()
	r.transitions = append(r.transitions, from+">"+to)
	r.mu.Unlock()
}

func (r *recorder) ChunkProcessed(outcome string)  { r.outcomes <- outcome }
func (r *recorder) InsightTick(string)             {}
func (r *recorder) ModelCall(string, error)        {}
func (r *recorder) BattlecardGenerated()           {}
func (r *recorder) AudioChunkDropped()             {}
func (r *recorder) DeviceError()                   {}
func (r *recorder) Finalized(time.Duration, error) {}

func (r *recorder) Transitions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.transitions...)
}

func (r *recorder) count(match func(any) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if match(m) {
			n++
		}
	}
	return n
}

func (r *recorder) waitOutcome(t *testing.T) string {
	t.Helper()
	select {
	case o := <-r.outcomes:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("no chunk outcome")
		return ""
	}
}

type harness struct {
	src    *fakeSource
	screen *fakeScreen
	tr     *fakeTranscriber
	rec    *recorder
	deps   Deps
}

func newHarness(pub Publisher) *harness {
	h := &harness{
		src:    newFakeSource(),
		screen: &fakeScreen{},
		tr:     &fakeTranscriber{text: "We are comparing vendors this quarter."},
		rec:    newRecorder(),
	}
	if pub == nil {
		pub = h.rec
	}
	h.deps = Deps{
		Collabs: collab.Set{
			Transcriber: h.tr,
			Summarizer:  fakeFinalizers{},
			Extractor:   fakeFinalizers{},
		},
		Publisher: pub,
		Observer:  h.rec,
		NewAudio: func(config.SessionConfig, func(), func(error)) audio.Source {
			return h.src
		},
		NewScreen: func() (screencap.Capturer, error) { return h.screen, nil },
	}
	return h
}

func loud(n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = 0.5
	}
	return s
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusIdle, StatusStarting, true},
		{StatusStarting, StatusRunning, true},
		{StatusStarting, StatusError, true},
		{StatusRunning, StatusProcessing, true},
		{StatusRunning, StatusError, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusCompleted, StatusIdle, true},
		{StatusError, StatusIdle, true},
		{StatusIdle, StatusRunning, false},
		{StatusRunning, StatusCompleted, false},
		{StatusCompleted, StatusRunning, false},
		{StatusProcessing, StatusError, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStartStopLifecycle(t *testing.T) {
	h := newHarness(nil)
	s := NewSession(config.SessionConfig{ScreenInterval: 2, CaptureMode: config.CaptureLocal, EnableVision: true, EnableTranscription: true}, h.deps)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if s.Status() != StatusRunning {
		t.Fatalf("Status() = %s, want running", s.Status())
	}
	want := []string{"idle>starting", "starting>running"}
	if got := h.rec.Transitions(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("transitions = %v, want %v", got, want)
	}

	res := s.Stop(context.Background())
	if res.NotRunning() {
		t.Fatal("Stop() reported not running")
	}
	if res.Status != StatusCompleted || s.Status() != StatusCompleted {
		t.Errorf("status = %s/%s, want completed", res.Status, s.Status())
	}
	if !h.src.stopped.Load() {
		t.Error("audio source not stopped")
	}
	if !h.screen.closed.Load() {
		t.Error("screen capturer not closed")
	}
	if res.Lead != nil {
		t.Error("finalization ran with empty transcript")
	}
	want = append(want, "running>processing", "processing>completed")
	if got := h.rec.Transitions(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("transitions = %v, want %v", got, want)
	}
}

func TestDoubleStop(t *testing.T) {
	h := newHarness(nil)
	s := NewSession(config.SessionConfig{EnableTranscription: true}, h.deps)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Stop(context.Background())
	before := len(h.rec.Transitions())

	res := s.Stop(context.Background())
	if !res.NotRunning() || res.Error != "session not running" {
		t.Errorf("second Stop() = %+v, want not running", res)
	}
	if len(h.rec.Transitions()) != before {
		t.Error("second Stop() changed state")
	}
}

func TestChunkBecomesSegmentAndBroadcast(t *testing.T) {
	h := newHarness(nil)
	s := NewSession(config.SessionConfig{EnableTranscription: true}, h.deps)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(context.Background())

	h.src.out <- audio.Chunk{Samples: loud(1600), SampleRate: 16000, Duration: 100 * time.Millisecond}
	if o := h.rec.waitOutcome(t); o != "ok" {
		t.Fatalf("outcome = %q, want ok", o)
	}

	if n := len(s.Segments()); n != 1 {
		t.Errorf("segments = %d, want 1", n)
	}
	transcripts := h.rec.count(func(m any) bool {
		tm, ok := m.(broadcast.TranscriptMessage)
		return ok && tm.Text == "[SPEAKER_01]: We are comparing vendors this quarter."
	})
	if transcripts != 1 {
		t.Errorf("transcript broadcasts = %d, want 1", transcripts)
	}
	if s.Stats()[StatAudioChunks] != 1 {
		t.Errorf("stats = %v", s.Stats())
	}
}

func TestSilentChunkSkipsTranscriber(t *testing.T) {
	h := newHarness(nil)
	s := NewSession(config.SessionConfig{EnableTranscription: true}, h.deps)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(context.Background())

	h.src.out <- audio.Chunk{Samples: make([]float32, 1600), SampleRate: 16000}
	if o := h.rec.waitOutcome(t); o != "silent" {
		t.Fatalf("outcome = %q, want silent", o)
	}
	if h.tr.calls.Load() != 0 {
		t.Error("silent chunk reached the transcriber")
	}
}

func TestStopRunsFinalization(t *testing.T) {
	h := newHarness(nil)
	s := NewSession(config.SessionConfig{EnableTranscription: true, EnableFinalSync: true}, h.deps)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.StarHint("Ask about budget")
	s.StarHint("Ask about budget")

	h.src.out <- audio.Chunk{Samples: loud(1600), SampleRate: 16000}
	h.rec.waitOutcome(t)

	res := s.Stop(context.Background())
	if res.Lead == nil {
		t.Fatalf("Lead = nil, LeadError = %q", res.LeadError)
	}
	if res.Lead.Name != "Ada Lovelace" || res.Lead.Summary != "short call" {
		t.Errorf("lead = %+v", res.Lead)
	}
	if len(res.StarredHints) != 1 {
		t.Errorf("starred = %v, want one deduplicated hint", res.StarredHints)
	}
	if !strings.Contains(res.Transcript, "comparing vendors") {
		t.Errorf("Transcript = %q", res.Transcript)
	}
}

func TestFinalizationFailureStillCompletes(t *testing.T) {
	h := newHarness(nil)
	h.deps.Collabs.Summarizer = nil
	s := NewSession(config.SessionConfig{EnableTranscription: true, EnableFinalSync: true}, h.deps)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.src.out <- audio.Chunk{Samples: loud(1600), SampleRate: 16000}
	h.rec.waitOutcome(t)

	res := s.Stop(context.Background())
	if res.LeadError == "" || res.Lead != nil {
		t.Errorf("result = %+v, want lead error", res)
	}
	if s.Status() != StatusCompleted {
		t.Errorf("Status() = %s, want completed", s.Status())
	}
}

func TestStartFailureSetsError(t *testing.T) {
	h := newHarness(nil)
	h.src.startErr = errors.New("no devices")
	s := NewSession(config.SessionConfig{EnableTranscription: true}, h.deps)

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start() error = nil")
	}
	if s.Status() != StatusError {
		t.Errorf("Status() = %s, want error", s.Status())
	}
	if s.Snapshot().Error == "" {
		t.Error("snapshot missing error")
	}
	if !s.Stop(context.Background()).NotRunning() {
		t.Error("Stop() after failed start should be a no-op")
	}
}

func TestResetFromRunning(t *testing.T) {
	h := newHarness(nil)
	reg := NewRegistry(h.deps, config.DefaultSession())
	if _, err := reg.Start(context.Background(), config.SessionConfig{EnableTranscription: true}); err != nil {
		t.Fatal(err)
	}
	reg.Reset(context.Background())

	if st := reg.Status(); st.Status != StatusIdle || st.SessionID != "" {
		t.Errorf("Status() = %+v, want idle", st)
	}
	if !reg.Stop(context.Background()).NotRunning() {
		t.Error("Stop() after reset should be a no-op")
	}
}

func TestResetDoesNotWaitForFinalization(t *testing.T) {
	h := newHarness(nil)
	slow := &blockingSummarizer{entered: make(chan struct{}), release: make(chan struct{})}
	defer close(slow.release)
	h.deps.Collabs.Summarizer = slow
	reg := NewRegistry(h.deps, config.DefaultSession())

	s, err := reg.Start(context.Background(), config.SessionConfig{EnableTranscription: true, EnableFinalSync: true})
	if err != nil {
		t.Fatal(err)
	}
	h.src.out <- audio.Chunk{Samples: loud(1600), SampleRate: 16000}
	h.rec.waitOutcome(t)

	stopped := make(chan StopResult, 1)
	go func() { stopped <- reg.Stop(context.Background()) }()
	select {
	case <-slow.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("finalization never started")
	}
	if s.Status() != StatusProcessing {
		t.Fatalf("Status() = %s, want processing", s.Status())
	}

	done := make(chan struct{})
	go func() {
		reg.Reset(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Reset() blocked on in-flight finalization")
	}
	if st := reg.Status(); st.Status != StatusIdle {
		t.Errorf("registry status = %s, want idle", st.Status)
	}

	select {
	case res := <-stopped:
		if res.Lead != nil || res.Status != StatusIdle {
			t.Errorf("Stop() after reset = %+v, want cancelled finalization", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return after its finalization was cancelled")
	}
	if s.Status() != StatusIdle {
		t.Errorf("Status() = %s, want idle after reset", s.Status())
	}
	for _, tr := range h.rec.Transitions() {
		if tr == "processing>completed" {
			t.Error("reset session still completed")
		}
	}
}

func TestRegistryStartStopsPrevious(t *testing.T) {
	h := newHarness(nil)
	reg := NewRegistry(h.deps, config.DefaultSession())
	cfg := config.SessionConfig{EnableTranscription: true}

	first, err := reg.Start(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	second, err := reg.Start(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if first.Status() != StatusCompleted {
		t.Errorf("first.Status() = %s, want completed", first.Status())
	}
	if reg.Current() != second || second.Status() != StatusRunning {
		t.Error("registry did not switch to the new session")
	}
	if first.ID() == second.ID() {
		t.Error("sessions share an id")
	}
	reg.Shutdown(context.Background())
}

func TestRegistryIdle(t *testing.T) {
	reg := NewRegistry(Deps{}, config.DefaultSession())
	res := reg.Stop(context.Background())
	if !res.NotRunning() || res.Error != "session not running" {
		t.Errorf("Stop() = %+v", res)
	}
	if _, err := reg.StarHint("x"); err == nil {
		t.Error("StarHint() on idle registry should fail")
	}
	if reg.FeedAudio([]float32{1}, 16000) {
		t.Error("FeedAudio() on idle registry accepted samples")
	}
	msgs := reg.SnapshotMessages()
	if st, ok := msgs[0].(broadcast.StatusMessage); !ok || st.Status != "idle" {
		t.Errorf("snapshot[0] = %#v", msgs[0])
	}
}

func TestRemoteFeed(t *testing.T) {
	h := newHarness(nil)
	reg := NewRegistry(h.deps, config.DefaultSession())
	_, err := reg.Start(context.Background(), config.SessionConfig{
		EnableTranscription: true,
		CaptureMode:         config.CaptureRemote,
		ChunkDuration:       0.01,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Stop(context.Background())

	if !reg.FeedAudio(loud(20), 1000) {
		t.Fatal("FeedAudio() rejected samples")
	}
	if o := h.rec.waitOutcome(t); o != "ok" {
		t.Fatalf("outcome = %q, want ok", o)
	}
	if len(reg.Current().Segments()) != 1 {
		t.Error("remote chunk not transcribed")
	}
}

func TestStopDeliversCompletedToEverySubscriber(t *testing.T) {
	hub := broadcast.NewHub(broadcast.Options{PingInterval: time.Hour})
	srv := httptest.NewServer(hub)
	defer srv.Close()

	h := newHarness(hub)
	s := NewSession(config.SessionConfig{EnableTranscription: true}, h.deps)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	var conns []*websocket.Conn
	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
		cancel()
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		defer c.CloseNow()
		conns = append(conns, c)
	}
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() != 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	completed := make(chan struct{}, 2)
	for _, c := range conns {
		go func(c *websocket.Conn) {
			for {
				var msg broadcast.StatusMessage
				if err := wsjson.Read(context.Background(), c, &msg); err != nil {
					return
				}
				if msg.Type == broadcast.TypeStatus && msg.Status == string(StatusCompleted) {
					completed <- struct{}{}
					return
				}
			}
		}(c)
	}

	s.Stop(context.Background())
	for i := 0; i < 2; i++ {
		select {
		case <-completed:
		case <-time.After(2 * time.Second):
			t.Fatal("subscriber missed completed status")
		}
	}
}

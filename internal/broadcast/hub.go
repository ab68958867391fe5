package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/GriffinCanCode/live-assist/backend/platform/internal/trace"
)

// Options tune a Hub. Zero values fall back to the package constants.
type Options struct {
	QueueSize    int
	PingInterval time.Duration
	ReadTimeout  time.Duration
	// OnDrop is called when a subscriber is removed for being slow or broken.
	OnDrop func()
}

// Hub is the set of connected subscribers. Publish is safe from any goroutine.
type Hub struct {
	opts Options

	mu    sync.RWMutex
	subs  map[*subscriber]struct{}
	count atomic.Int32

	snapshot atomic.Pointer[func() []any]
}

type outbound struct {
	data []byte
	ack  chan struct{}
}

type subscriber struct {
	conn      *websocket.Conn
	send      chan outbound
	done      chan struct{}
	cancel    context.CancelFunc
	closeOnce sync.Once
	remote    string
}

// close stops both loops. A blocked read is interrupted through its context.
func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
	})
}

// NewHub creates an empty hub.
func NewHub(opts Options) *Hub {
	if opts.QueueSize <= 0 {
		opts.QueueSize = SubscriberQueueSize
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = PingInterval
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = ReadTimeout
	}
	return &Hub{opts: opts, subs: make(map[*subscriber]struct{})}
}

// SetSnapshot registers the messages every new subscriber receives first.
func (h *Hub) SetSnapshot(fn func() []any) {
	h.snapshot.Store(&fn)
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int { return int(h.count.Load()) }

// Publish marshals msg once and queues it for every subscriber. A subscriber
// whose queue is full is removed.
func (h *Hub) Publish(msg any) {
	if h.count.Load() == 0 {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("broadcast marshal failed", "error", err)
		return
	}
	h.fanout(data, false)
}

// PublishWait is Publish that also waits until every subscriber has written the
// frame, been removed, or ctx is done.
func (h *Hub) PublishWait(ctx context.Context, msg any) {
	if h.count.Load() == 0 {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("broadcast marshal failed", "error", err)
		return
	}
	for sub, ack := range h.fanout(data, true) {
		select {
		case <-ack:
		case <-sub.done:
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) fanout(data []byte, wait bool) map[*subscriber]chan struct{} {
	var acks map[*subscriber]chan struct{}
	if wait {
		acks = make(map[*subscriber]chan struct{})
	}
	var slow []*subscriber

	h.mu.RLock()
	for sub := range h.subs {
		out := outbound{data: data}
		if wait {
			out.ack = make(chan struct{})
		}
		select {
		case sub.send <- out:
			if wait {
				acks[sub] = out.ack
			}
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		slog.Warn("dropping slow subscriber", "remote", sub.remote)
		h.remove(sub)
	}
	return acks
}

// subscribe registers sub and queues the snapshot under one lock, so every
// publish either lands in the snapshot or is queued after it.
func (h *Hub) subscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[sub] = struct{}{}
	h.count.Store(int32(len(h.subs)))

	fn := h.snapshot.Load()
	if fn == nil {
		return
	}
	for _, msg := range (*fn)() {
		data, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		select {
		case sub.send <- outbound{data: data}:
		default:
		}
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	h.count.Store(int32(len(h.subs)))
	h.mu.Unlock()

	sub.close()
	if ok && h.opts.OnDrop != nil {
		h.opts.OnDrop()
	}
}

// ServeHTTP upgrades the request and serves the subscriber until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer conn.CloseNow()

	log := trace.Logger(r.Context())
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscriber{
		conn:   conn,
		send:   make(chan outbound, h.opts.QueueSize),
		done:   make(chan struct{}),
		cancel: cancel,
		remote: r.RemoteAddr,
	}
	defer sub.close()

	h.subscribe(sub)
	log.Info("subscriber connected", "remote", r.RemoteAddr, "subscribers", h.Subscribers())

	go h.writeLoop(ctx, sub)
	h.readLoop(ctx, sub)

	h.mu.Lock()
	delete(h.subs, sub)
	h.count.Store(int32(len(h.subs)))
	h.mu.Unlock()

	log.Info("subscriber disconnected", "remote", r.RemoteAddr)
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// writeLoop owns all writes to the connection.
func (h *Hub) writeLoop(ctx context.Context, sub *subscriber) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sub.done:
			return
		case <-ctx.Done():
			return
		case out := <-sub.send:
			err := h.write(ctx, sub, out.data)
			if out.ack != nil {
				close(out.ack)
			}
			if err != nil {
				slog.Debug("subscriber write failed", "remote", sub.remote, "error", err)
				h.remove(sub)
				return
			}
		case now := <-ticker.C:
			data, _ := json.Marshal(PingMessage{Type: TypePing, Timestamp: now.Unix()})
			if err := h.write(ctx, sub, data); err != nil {
				h.remove(sub)
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, sub *subscriber, data []byte) error {
	wctx, cancel := context.WithTimeout(ctx, WriteTimeout)
	defer cancel()
	return sub.conn.Write(wctx, websocket.MessageText, data)
}

// readLoop applies the read timeout; every inbound frame, pong included, resets it.
func (h *Hub) readLoop(ctx context.Context, sub *subscriber) {
	limiter := newRateLimiter(RateLimitMessages, RateLimitWindow)
	for {
		rctx, cancel := context.WithTimeout(ctx, h.opts.ReadTimeout)
		_, data, err := sub.conn.Read(rctx)
		cancel()
		if err != nil {
			slog.Debug("subscriber read ended", "remote", sub.remote, "error", err)
			return
		}

		if !limiter.allow(time.Now()) {
			slog.Warn("rate limit exceeded", "remote", sub.remote)
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != TypePong && msg.Type != TypePing {
			slog.Debug("ignoring inbound message", "type", msg.Type)
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.subs = make(map[*subscriber]struct{})
	h.count.Store(0)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
		_ = sub.conn.Close(websocket.StatusGoingAway, "shutting down")
	}
}

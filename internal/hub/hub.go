// Package hub fans haptic commands and live analysis out to websocket
// clients.
//
// Phones connect to the actuator endpoint and receive cancel/vibrate
// commands which they play with the Vibration API; the [Hub] is the
// [haptic.Actuator] the engine drives. Dashboards connect to the viewer
// endpoint and receive every pitch frame and haptic state.
//
// Every client has a bounded send queue drained by its own writer goroutine,
// so a broadcast never blocks the caller. A client whose queue overflows or
// whose write does not complete within the write timeout is disconnected.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/hapticphonix/larynx/pkg/haptic"
	"github.com/hapticphonix/larynx/pkg/pitch"
)

// Client roles.
const (
	RoleActuator = "actuator"
	RoleViewer   = "viewer"
)

// Message types.
const (
	TypeVibrate     = "vibrate"
	TypeCancel      = "cancel"
	TypePitchFrame  = "pitch_frame"
	TypeHapticState = "haptic_state"
	TypeForeground  = "foreground"
)

// ErrNoActuators is reported by [Hub.CheckActuators] when no phone is connected.
var ErrNoActuators = errors.New("hub: no actuator clients connected")

// Message is the JSON envelope sent to clients.
type Message struct {
	Type    string        `json:"type"`
	Pattern []uint32      `json:"pattern,omitempty"`
	Frame   *pitch.Frame  `json:"frame,omitempty"`
	State   *haptic.State `json:"state,omitempty"`

	// Intensity is the loudness tier of a haptic_state message.
	Intensity string `json:"intensity,omitempty"`
}

// inbound is a message received from a client.
type inbound struct {
	Type       string `json:"type"`
	Foreground *bool  `json:"foreground,omitempty"`
}

// Option is a functional option for configuring a [Hub].
type Option func(*Hub)

// WithWriteTimeout bounds a single websocket write. Default: 1s.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithQueueSize sets the per-client send queue length. Default: 32.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithOriginPatterns allows cross-origin websocket clients matching patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) { h.origins = patterns }
}

// WithClientObserver registers fn to be called with +1 or -1 whenever a
// client of role connects or leaves.
func WithClientObserver(fn func(role string, delta int64)) Option {
	return func(h *Hub) { h.observe = fn }
}

// WithForegroundHandler registers fn to be called when a phone reports that
// its page went to the background (false) or came back (true).
func WithForegroundHandler(fn func(foreground bool)) Option {
	return func(h *Hub) { h.onForeground = fn }
}

// Hub tracks connected clients. It is safe for concurrent use.
type Hub struct {
	writeTimeout time.Duration
	queueSize    int
	origins      []string
	observe      func(role string, delta int64)
	onForeground func(bool)

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// New returns an empty hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		writeTimeout: time.Second,
		queueSize:    32,
		clients:      make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

type client struct {
	role   string
	conn   *websocket.Conn
	queue  chan Message
	cancel context.CancelFunc
}

// ServeActuator upgrades r to a phone actuator connection.
func (h *Hub) ServeActuator(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, RoleActuator)
}

// ServeViewer upgrades r to a dashboard connection.
func (h *Hub) ServeViewer(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, RoleViewer)
}

func (h *Hub) serve(w http.ResponseWriter, r *http.Request, role string) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "hub is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Warn("hub: websocket accept failed", "role", role, "err", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	c := &client{role: role, conn: conn, queue: make(chan Message, h.queueSize), cancel: cancel}
	if !h.add(c) {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.remove(c)

	slog.Info("hub: client connected", "role", role, "remote", r.RemoteAddr)
	go h.writeLoop(ctx, c)

	for {
		var in inbound
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			if s := websocket.CloseStatus(err); s == websocket.StatusNormalClosure || s == websocket.StatusGoingAway || ctx.Err() != nil {
				slog.Info("hub: client disconnected", "role", role, "remote", r.RemoteAddr)
			} else {
				slog.Debug("hub: client read failed", "role", role, "remote", r.RemoteAddr, "err", err)
			}
			return
		}
		h.handle(c, in)
	}
}

func (h *Hub) handle(c *client, in inbound) {
	switch in.Type {
	case TypeForeground:
		if c.role != RoleActuator || in.Foreground == nil {
			return
		}
		if h.onForeground != nil {
			h.onForeground(*in.Foreground)
		}
	default:
		slog.Debug("hub: ignoring client message", "role", c.role, "type", in.Type)
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.queue:
			wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := wsjson.Write(wctx, c.conn, msg)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("hub: dropping client after failed write", "role", c.role, "err", err)
				}
				c.cancel()
				return
			}
		}
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	if h.observe != nil {
		h.observe(c.role, 1)
	}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	if ok && h.observe != nil {
		h.observe(c.role, -1)
	}
	h.mu.Unlock()
	c.cancel()
}

// broadcast enqueues msg for every client of role and reports how many
// clients were dropped for a full queue.
func (h *Hub) broadcast(role string, msg Message) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	dropped := 0
	for c := range h.clients {
		if c.role != role {
			continue
		}
		select {
		case c.queue <- msg:
		default:
			slog.Warn("hub: dropping slow client", "role", role)
			delete(h.clients, c)
			if h.observe != nil {
				h.observe(c.role, -1)
			}
			c.cancel()
			dropped++
		}
	}
	return dropped
}

// Vibrate sends pattern to every connected phone. It never blocks.
func (h *Hub) Vibrate(pattern []uint32) error {
	return h.command(Message{Type: TypeVibrate, Pattern: pattern})
}

// Cancel stops the pattern on every connected phone.
func (h *Hub) Cancel() error {
	return h.command(Message{Type: TypeCancel})
}

func (h *Hub) command(msg Message) error {
	if n := h.broadcast(RoleActuator, msg); n > 0 {
		return errors.New("hub: dropped slow actuator client")
	}
	return nil
}

// Available reports true: phones may connect at any time, so the hub is
// always a usable actuator.
func (h *Hub) Available() bool { return true }

// PublishFrame sends f to every viewer.
func (h *Hub) PublishFrame(_ context.Context, f pitch.Frame) error {
	h.broadcast(RoleViewer, Message{Type: TypePitchFrame, Frame: &f})
	return nil
}

// PublishState sends s to every viewer, tagged with its loudness tier.
func (h *Hub) PublishState(_ context.Context, s haptic.State) error {
	h.broadcast(RoleViewer, Message{
		Type:      TypeHapticState,
		State:     &s,
		Intensity: haptic.IntensityTier(s.SmoothedRMS),
	})
	return nil
}

// Counts returns the number of connected actuator and viewer clients.
func (h *Hub) Counts() (actuators, viewers int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.role == RoleActuator {
			actuators++
		} else {
			viewers++
		}
	}
	return actuators, viewers
}

// CheckActuators is a readiness probe reporting [ErrNoActuators] while no
// phone is connected.
func (h *Hub) CheckActuators(context.Context) error {
	if n, _ := h.Counts(); n == 0 {
		return ErrNoActuators
	}
	return nil
}

// Close disconnects every client with a going-away status and rejects new
// connections.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Go(func() {
			_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		})
	}
	wg.Wait()
	return nil
}

var (
	_ haptic.Actuator = (*Hub)(nil)
	_ haptic.Prober   = (*Hub)(nil)
)

package publish

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hapticphonix/larynx/internal/resilience"
	"github.com/hapticphonix/larynx/pkg/haptic"
	"github.com/hapticphonix/larynx/pkg/pitch"
)

// Subject suffixes appended to the configured prefix.
const (
	SubjectFrame = "pitch.frame"
	SubjectState = "haptic.state"
)

// ErrDisconnected is reported by [NATS.Check] while the connection is down.
var ErrDisconnected = errors.New("publish: nats not connected")

// Conn is the subset of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
	IsConnected() bool
	Drain() error
}

// Connect dials url with reconnects enabled forever. Connection state
// changes are logged.
func Connect(url, name string) (*nats.Conn, error) {
	return nats.Connect(
		url,
		nats.Name(name),
		nats.Timeout(3*time.Second),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("publish: nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("publish: nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
}

// NATSOption is a functional option for [NewNATS].
type NATSOption func(*NATS)

// WithoutFrames publishes haptic states only.
func WithoutFrames() NATSOption {
	return func(n *NATS) { n.frames = false }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) NATSOption {
	return func(n *NATS) { n.breaker = cb }
}

// NATS publishes JSON frames to <prefix>.pitch.frame and states to
// <prefix>.haptic.state. Publishes go through a circuit breaker so a dead
// server costs one check per frame rather than one failed write.
type NATS struct {
	conn    Conn
	frames  bool
	breaker *resilience.CircuitBreaker

	frameSubject string
	stateSubject string
}

// NewNATS wraps conn. The prefix must be a valid subject without wildcards.
func NewNATS(conn Conn, prefix string, opts ...NATSOption) *NATS {
	n := &NATS{
		conn:         conn,
		frames:       true,
		frameSubject: prefix + "." + SubjectFrame,
		stateSubject: prefix + "." + SubjectState,
	}
	for _, o := range opts {
		o(n)
	}
	if n.breaker == nil {
		n.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "nats",
			MaxFailures:  5,
			ResetTimeout: 5 * time.Second,
		})
	}
	return n
}

// PublishFrame implements [Publisher].
func (n *NATS) PublishFrame(_ context.Context, f pitch.Frame) error {
	if !n.frames {
		return nil
	}
	return n.publish(n.frameSubject, f)
}

// PublishState implements [Publisher].
func (n *NATS) PublishState(_ context.Context, s haptic.State) error {
	return n.publish(n.stateSubject, s)
}

func (n *NATS) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return n.breaker.Execute(func() error {
		if !n.conn.IsConnected() {
			return ErrDisconnected
		}
		return n.conn.Publish(subject, data)
	})
}

// Check is a readiness probe.
func (n *NATS) Check(context.Context) error {
	if !n.conn.IsConnected() {
		return ErrDisconnected
	}
	return nil
}

// Breaker returns the breaker guarding publishes.
func (n *NATS) Breaker() *resilience.CircuitBreaker { return n.breaker }

// Close flushes pending messages and closes the connection.
func (n *NATS) Close() error {
	return n.conn.Drain()
}

var _ Publisher = (*NATS)(nil)

// Package publish fans analysed frames and haptic states out to every
// consumer that is not the actuator itself: websocket viewers and, when
// configured, a NATS subject tree.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hapticphonix/larynx/pkg/haptic"
	"github.com/hapticphonix/larynx/pkg/pitch"
)

// Publisher receives the pipeline's output. Implementations must not block
// for long: they are called on the haptic task.
type Publisher interface {
	PublishFrame(ctx context.Context, f pitch.Frame) error
	PublishState(ctx context.Context, s haptic.State) error
}

// ErrorRecorder counts failed publishes per sink.
type ErrorRecorder interface {
	RecordPublishError(ctx context.Context, sink string)
}

// Sink is a named [Publisher].
type Sink struct {
	Name      string
	Publisher Publisher
}

// Option is a functional option for [NewFanout].
type Option func(*Fanout)

// WithErrorRecorder reports every failed publish to r.
func WithErrorRecorder(r ErrorRecorder) Option {
	return func(f *Fanout) { f.errs = r }
}

// Fanout delivers to every sink in order. A failing sink does not stop
// delivery to the others.
type Fanout struct {
	sinks []Sink
	errs  ErrorRecorder
}

// NewFanout returns a [Fanout] over sinks. Sinks with a nil Publisher are
// skipped.
func NewFanout(sinks []Sink, opts ...Option) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s.Publisher != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// PublishFrame implements [Publisher].
func (f *Fanout) PublishFrame(ctx context.Context, fr pitch.Frame) error {
	return f.each(ctx, "frame", func(p Publisher) error { return p.PublishFrame(ctx, fr) })
}

// PublishState implements [Publisher].
func (f *Fanout) PublishState(ctx context.Context, s haptic.State) error {
	return f.each(ctx, "state", func(p Publisher) error { return p.PublishState(ctx, s) })
}

func (f *Fanout) each(ctx context.Context, what string, fn func(Publisher) error) error {
	var errs []error
	for _, s := range f.sinks {
		if err := fn(s.Publisher); err != nil {
			slog.Debug("publish: sink failed", "sink", s.Name, "what", what, "err", err)
			if f.errs != nil {
				f.errs.RecordPublishError(ctx, s.Name)
			}
			errs = append(errs, fmt.Errorf("publish %s to %s: %w", what, s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Names returns the sink names in delivery order.
func (f *Fanout) Names() []string {
	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.Name
	}
	return names
}

var _ Publisher = (*Fanout)(nil)

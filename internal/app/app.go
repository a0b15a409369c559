// Package app wires the larynx subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the haptic engine, the
// websocket hub, the publishers and the capture session manager; Handler
// exposes them over HTTP; Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithDevice,
// WithActuator, WithNATSConn, ...). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/hapticphonix/larynx/internal/config"
	"github.com/hapticphonix/larynx/internal/health"
	"github.com/hapticphonix/larynx/internal/hub"
	"github.com/hapticphonix/larynx/internal/observe"
	"github.com/hapticphonix/larynx/internal/publish"
	"github.com/hapticphonix/larynx/pkg/audio"
	"github.com/hapticphonix/larynx/pkg/haptic"
	"github.com/hapticphonix/larynx/pkg/pitch"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	registry       *config.Registry
	device         audio.Device
	actuator       haptic.Actuator
	natsConn       publish.Conn
	metrics        *observe.Metrics
	metricsHandler http.Handler
	logLevel       *slog.LevelVar

	engine    *haptic.Engine
	hub       *hub.Hub
	nats      *publish.NATS
	publisher *publish.Fanout
	sessions  *SessionManager
	health    *health.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry sets the registry used to build the capture device from
// cfg.Audio. Ignored when WithDevice is given.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithDevice injects a capture device instead of building one from config.
func WithDevice(d audio.Device) Option {
	return func(a *App) { a.device = d }
}

// WithActuator drives act instead of the websocket hub. The hub still
// serves viewers.
func WithActuator(act haptic.Actuator) Option {
	return func(a *App) { a.actuator = act }
}

// WithNATSConn injects a NATS connection instead of dialling cfg.NATS.URL.
func WithNATSConn(c publish.Conn) Option {
	return func(a *App) { a.natsConn = c }
}

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel lets config reloads change the level of the process logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// New creates an App by wiring all subsystems together. It fails on an
// invalid haptic config, an unknown capture source, or an unreachable NATS
// server.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Websocket hub ─────────────────────────────────────────────────
	a.hub = hub.New(
		hub.WithOriginPatterns(cfg.Server.AllowedOrigins...),
		hub.WithClientObserver(func(role string, delta int64) {
			a.metrics.ClientConnected(context.Background(), role, delta)
		}),
		hub.WithForegroundHandler(func(fg bool) { a.setForeground(fg) }),
	)
	a.closers = append(a.closers, a.hub.Close)

	// ── 2. Haptic engine ─────────────────────────────────────────────────
	act := a.actuator
	if act == nil {
		act = a.hub
	}
	eng, err := haptic.NewEngine(cfg.Haptics, act,
		haptic.WithCommandObserver(func(kind string) {
			a.metrics.RecordCommand(context.Background(), kind)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init haptic engine: %w", err)
	}
	a.engine = eng

	// ── 3. Capture device ────────────────────────────────────────────────
	if err := a.initDevice(); err != nil {
		return nil, fmt.Errorf("app: init capture device: %w", err)
	}

	// ── 4. Publishers ────────────────────────────────────────────────────
	if err := a.initNATS(); err != nil {
		return nil, fmt.Errorf("app: init nats: %w", err)
	}
	sinks := []publish.Sink{{Name: "hub", Publisher: a.hub}}
	if a.nats != nil {
		sinks = append(sinks, publish.Sink{Name: "nats", Publisher: a.nats})
	}
	a.publisher = publish.NewFanout(sinks, publish.WithErrorRecorder(a.metrics))

	// ── 5. Session manager ───────────────────────────────────────────────
	a.sessions = NewSessionManager(SessionManagerConfig{
		Device: a.device,
		Capture: audio.CaptureConfig{
			SampleRate:  cfg.Audio.CaptureSampleRate(cfg.Pitch.SampleRate),
			Channels:    cfg.Audio.Channels,
			InputFormat: cfg.Audio.InputFormat,
			InputDevice: cfg.Audio.InputDevice,
		},
		Pitch:     cfg.Pitch,
		Engine:    a.engine,
		History:   pitch.NewHistory(cfg.Pitch.HistoryLength),
		Publisher: a.publisher,
		Metrics:   a.metrics,
	})

	// ── 6. Health ────────────────────────────────────────────────────────
	checkers := []health.Checker{
		{Name: "capture", Check: a.sessions.Check},
		{Name: "actuator", Check: a.checkActuator, Optional: true},
	}
	if a.nats != nil {
		checkers = append(checkers, health.Checker{Name: "nats", Check: a.nats.Check, Optional: true})
	}
	a.health = health.New(checkers...)

	slog.Info("app initialised",
		"source", a.device.Name(),
		"haptics_enabled", cfg.Haptics.Enabled,
		"publishers", a.publisher.Names(),
	)
	return a, nil
}

func (a *App) initDevice() error {
	if a.device != nil {
		return nil
	}
	if a.registry == nil {
		return errors.New("no capture device and no registry to build one")
	}
	dev, err := a.registry.CreateDevice(a.cfg.Audio)
	if err != nil {
		return err
	}
	a.device = dev
	return nil
}

func (a *App) initNATS() error {
	conn := a.natsConn
	if conn == nil {
		if !a.cfg.NATS.Enabled() {
			return nil
		}
		nc, err := publish.Connect(a.cfg.NATS.URL, a.cfg.Telemetry.ServiceName)
		if err != nil {
			return err
		}
		conn = nc
	}
	var opts []publish.NATSOption
	if !a.cfg.NATS.PublishFrames {
		opts = append(opts, publish.WithoutFrames())
	}
	a.nats = publish.NewNATS(conn, a.cfg.NATS.SubjectPrefix, opts...)
	a.closers = append(a.closers, a.nats.Close)
	return nil
}

// checkActuator reports whether commands reach a device: an injected
// actuator is trusted, the hub needs a connected phone.
func (a *App) checkActuator(ctx context.Context) error {
	if a.actuator != nil {
		return nil
	}
	return a.hub.CheckActuators(ctx)
}

// setForeground suspends or resumes haptics and tells viewers.
func (a *App) setForeground(fg bool) haptic.State {
	s := a.engine.SetForeground(fg)
	_ = a.publisher.PublishState(context.Background(), s)
	slog.Info("haptic foreground changed", "foreground", fg)
	return s
}

// Sessions returns the capture session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Engine returns the haptic engine.
func (a *App) Engine() *haptic.Engine { return a.engine }

// ApplyConfig applies the hot-reloadable parts of a changed config file:
// the log level and the haptic mapping. Other changes are logged and take
// effect after a restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(ParseLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.HapticsChanged() {
		if _, err := a.engine.UpdateConfig(d.Haptics); err != nil {
			slog.Warn("config reload: haptic update rejected", "err", err)
		} else {
			slog.Info("config reload: haptic mapping updated")
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config reload: changes apply after restart", "sections", d.RestartRequired)
	}
	a.cfg = new
}

// ParseLevel maps a config log level to a [slog.Level]. Unknown levels map
// to info.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Shutdown stops the capture session and releases every subsystem. It is
// safe to call more than once; only the first call does work.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")
		done := make(chan error, 1)
		go func() {
			var errs []error
			if err := a.sessions.Stop(); err != nil {
				errs = append(errs, err)
			}
			for _, c := range a.closers {
				if err := c(); err != nil {
					errs = append(errs, err)
				}
			}
			done <- errors.Join(errs...)
		}()
		select {
		case err = <-done:
		case <-ctx.Done():
			err = fmt.Errorf("app: shutdown: %w", ctx.Err())
		}
	})
	return err
}

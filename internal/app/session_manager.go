package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hapticphonix/larynx/internal/observe"
	"github.com/hapticphonix/larynx/internal/publish"
	"github.com/hapticphonix/larynx/pkg/audio"
	"github.com/hapticphonix/larynx/pkg/haptic"
	"github.com/hapticphonix/larynx/pkg/pitch"
)

// frameQueueSize is the buffer between the analysis goroutine and the
// haptic task. When it is full the newest frame is dropped.
const frameQueueSize = 8

var (
	// ErrSessionActive is returned by Start while a session is running.
	ErrSessionActive = errors.New("app: a capture session is already active")

	// ErrNoSession is returned by Info when no session is running.
	ErrNoSession = errors.New("app: no active capture session")
)

// SessionInfo holds metadata about the active capture session.
type SessionInfo struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Source    string    `json:"source"`
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Device    audio.Device
	Capture   audio.CaptureConfig
	Pitch     pitch.Config
	Engine    *haptic.Engine
	History   *pitch.History
	Publisher publish.Publisher
	Metrics   *observe.Metrics

	// Now replaces time.Now, for tests.
	Now func() time.Time
}

// SessionManager runs at most one capture session at a time. Each session
// gets a fresh [pitch.Estimator] and two cooperating tasks: the estimator's
// analysis goroutine, and a haptic task that is the only caller of
// Engine.Feed. All exported methods are safe for concurrent use.
type SessionManager struct {
	cfg SessionManagerConfig

	mu      sync.Mutex
	active  *captureSession
	lastErr error
}

type captureSession struct {
	info   SessionInfo
	est    *pitch.Estimator
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.History == nil {
		cfg.History = pitch.NewHistory(cfg.Pitch.HistoryLength)
	}
	return &SessionManager{cfg: cfg}
}

// Start opens the capture device and begins analysis. The session outlives
// ctx's cancellation; only Stop or the stream ending ends it. Device
// failures are returned unchanged, typically as an *audio.DeviceError.
func (sm *SessionManager) Start(ctx context.Context) (SessionInfo, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	spanCtx, span := observe.StartSpan(ctx, "capture.session.start",
		trace.WithAttributes(attribute.String("capture.source", sm.cfg.Device.Name())))
	defer span.End()

	if sm.active != nil {
		return SessionInfo{}, observe.SpanError(spanCtx,
			fmt.Errorf("%w (id=%s)", ErrSessionActive, sm.active.info.ID))
	}

	frames := make(chan pitch.Frame, frameQueueSize)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	opts := []pitch.Option{
		pitch.WithHistory(sm.cfg.History),
		pitch.WithCaptureConfig(sm.cfg.Capture),
		pitch.WithFrameCallback(func(f pitch.Frame) {
			select {
			case frames <- f:
			default:
				if sm.cfg.Metrics != nil {
					sm.cfg.Metrics.RecordDroppedFrame(runCtx)
				}
			}
		}),
	}
	if sm.cfg.Metrics != nil {
		opts = append(opts, pitch.WithMetrics(sm.cfg.Metrics))
	}
	est, err := pitch.New(sm.cfg.Device, sm.cfg.Pitch, opts...)
	if err != nil {
		cancel()
		return SessionInfo{}, observe.SpanError(spanCtx, err)
	}

	if err := est.Start(runCtx); err != nil {
		cancel()
		sm.lastErr = err
		return SessionInfo{}, observe.SpanError(spanCtx, err)
	}
	sm.lastErr = nil

	s := &captureSession{
		info: SessionInfo{
			ID:        uuid.NewString(),
			StartedAt: sm.cfg.Now().UTC(),
			Source:    sm.cfg.Device.Name(),
		},
		est:    est,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	sm.active = s
	span.SetAttributes(attribute.String("session.id", s.info.ID))
	if sm.cfg.Metrics != nil {
		sm.cfg.Metrics.ActiveSessions.Add(runCtx, 1)
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		// The frame callback never runs after Done is closed.
		<-est.Done()
		close(frames)
		return nil
	})
	g.Go(func() error {
		for f := range frames {
			sm.feed(gctx, f)
		}
		return nil
	})
	go sm.finish(runCtx, s, g)

	observe.Logger(spanCtx).Info("capture session started", "session_id", s.info.ID, "source", s.info.Source)
	return s.info, nil
}

// feed runs one frame through the engine and publishes the result.
func (sm *SessionManager) feed(ctx context.Context, f pitch.Frame) {
	state := sm.cfg.Engine.Feed(f)
	if sm.cfg.Publisher == nil {
		return
	}
	// Failures are counted and logged by the fan-out.
	_ = sm.cfg.Publisher.PublishFrame(ctx, f)
	_ = sm.cfg.Publisher.PublishState(ctx, state)
	if sm.cfg.Metrics != nil {
		sm.cfg.Metrics.HapticUpdates.Add(ctx, 1)
	}
}

// finish waits for both tasks, silences the actuator and clears the session
// if it ended on its own.
func (sm *SessionManager) finish(ctx context.Context, s *captureSession, g *errgroup.Group) {
	if err := g.Wait(); err != nil {
		slog.Warn("capture session pipeline failed", "session_id", s.info.ID, "err", err)
	}
	state := sm.cfg.Engine.Stop()
	if sm.cfg.Publisher != nil {
		_ = sm.cfg.Publisher.PublishState(ctx, state)
	}
	if sm.cfg.Metrics != nil {
		sm.cfg.Metrics.ActiveSessions.Add(ctx, -1)
	}
	s.cancel()
	close(s.done)

	sm.mu.Lock()
	if sm.active == s {
		sm.active = nil
		slog.Info("capture stream ended", "session_id", s.info.ID)
	}
	sm.mu.Unlock()
}

// Stop ends the active session and waits until the device is released and
// the actuator silenced. Calling Stop with no active session is a no-op.
func (sm *SessionManager) Stop() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	s := sm.active
	if s == nil {
		return nil
	}
	sm.active = nil

	if err := s.est.Stop(); err != nil {
		slog.Warn("capture session: estimator stop error", "session_id", s.info.ID, "err", err)
	}
	s.cancel()
	<-s.done

	slog.Info("capture session stopped", "session_id", s.info.ID,
		"duration", sm.cfg.Now().Sub(s.info.StartedAt).Round(time.Millisecond))
	return nil
}

// IsActive reports whether a session is currently running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active != nil
}

// Info returns metadata about the active session, or [ErrNoSession].
func (sm *SessionManager) Info() (SessionInfo, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.active == nil {
		return SessionInfo{}, ErrNoSession
	}
	return sm.active.info, nil
}

// History returns the frame history shared by all sessions.
func (sm *SessionManager) History() *pitch.History { return sm.cfg.History }

// Check is a readiness probe. It fails while the most recent Start was
// rejected by the device and no session has started since.
func (sm *SessionManager) Check(context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.active == nil && sm.lastErr != nil {
		return sm.lastErr
	}
	return nil
}

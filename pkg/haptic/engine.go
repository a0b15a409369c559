// Package haptic maps a stream of pitch frames onto vibration patterns that
// approximate the feel of a vibrating larynx.
//
// The [Engine] smooths pitch and loudness with an exponential moving average,
// throttles actuator decisions to a rate vibration motors can follow, and
// issues cancel-then-vibrate commands to an [Actuator]. Every method returns
// the resulting [State] so callers can publish it without callbacks.
package haptic

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hapticphonix/larynx/pkg/pitch"
)

// releaseFactor is the per-frame decay of smoothed RMS on unvoiced frames.
const releaseFactor = 0.7

// Command kinds reported to the command observer.
const (
	CommandVibrate = "vibrate"
	CommandCancel  = "cancel"
)

// State is a snapshot of the engine after its latest actuator decision.
type State struct {
	IsVibrating       bool     `json:"is_vibrating"`
	SmoothedPitch     float64  `json:"smoothed_pitch"`
	SmoothedRMS       float64  `json:"smoothed_rms"`
	CurrentPattern    []uint32 `json:"current_pattern"`
	CyclePeriodMs     float64  `json:"cycle_period_ms"`
	OnDurationMs      float64  `json:"on_duration_ms"`
	PatternDurationMs uint32   `json:"pattern_duration_ms"`
	FeelLabel         string   `json:"feel_label"`
	UpdatesPerSecond  float64  `json:"updates_per_second"`
}

func (s State) clone() State {
	s.CurrentPattern = slices.Clone(s.CurrentPattern)
	return s
}

// EngineOption is a functional option for configuring an [Engine].
type EngineOption func(*Engine)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithCommandObserver registers fn to be called with CommandVibrate or
// CommandCancel for every command sent to the actuator.
func WithCommandObserver(fn func(kind string)) EngineOption {
	return func(e *Engine) { e.observe = fn }
}

// Engine is the sole issuer of actuator commands for one session. All
// methods are safe for concurrent use and serialise on one lock, so a cancel
// and the vibrate that follows it are never interleaved with another call.
type Engine struct {
	mu sync.Mutex

	cfg       Config
	act       Actuator // nil when no haptic hardware is available
	now       func() time.Time
	observe   func(kind string)
	failures  int
	suspended bool

	smoothedPitch float64
	smoothedRMS   float64
	vibrating     bool
	lastUpdate    time.Time

	windowStart   time.Time
	windowCount   int
	updatesPerSec float64

	state State
}

// NewEngine validates cfg and returns an idle engine. If act is nil or
// reports itself unavailable through [Prober], the engine still computes
// states but sends no commands.
func NewEngine(cfg Config, act Actuator, opts ...EngineOption) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(e)
	}

	if act != nil {
		if p, ok := act.(Prober); ok && !p.Available() {
			slog.Info("haptic: actuator unavailable, running without vibration")
			act = nil
		}
	}
	e.act = act
	e.state = e.silentState()
	return e, nil
}

// Feed processes one frame and returns the current state. Frames are
// ignored while the engine is disabled or backgrounded. Between throttled
// decisions only the smoothing state changes and the previous state is
// returned.
func (e *Engine) Feed(f pitch.Frame) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.cfg.Enabled || e.suspended {
		return e.state.clone()
	}

	alpha := e.cfg.SmoothingAlpha
	if f.Voiced && f.Pitch > 0 {
		if e.smoothedPitch == 0 {
			e.smoothedPitch = f.Pitch
		} else {
			e.smoothedPitch = e.smoothedPitch*(1-alpha) + f.Pitch*alpha
		}
		e.smoothedRMS = e.smoothedRMS*(1-alpha) + f.RMS*alpha
	} else {
		e.smoothedRMS *= releaseFactor
		if e.smoothedRMS < e.cfg.SilenceThreshold {
			e.silence()
			return e.state.clone()
		}
	}

	now := e.now()
	interval := time.Duration(e.cfg.UpdateIntervalMs) * time.Millisecond
	if !e.lastUpdate.IsZero() && now.Sub(e.lastUpdate) < interval {
		return e.state.clone()
	}
	e.lastUpdate = now
	e.countUpdate(now)

	if !f.Voiced || f.RMS < e.cfg.SilenceThreshold {
		e.silence()
		return e.state.clone()
	}

	p := ComputePattern(e.cfg, e.smoothedPitch, e.smoothedRMS)
	e.send(CommandCancel, func(a Actuator) error { return a.Cancel() })
	e.send(CommandVibrate, func(a Actuator) error { return a.Vibrate(p.Pulses) })
	e.vibrating = true

	e.state = State{
		IsVibrating:       true,
		SmoothedPitch:     e.smoothedPitch,
		SmoothedRMS:       e.smoothedRMS,
		CurrentPattern:    p.Pulses,
		CyclePeriodMs:     p.CyclePeriodMs,
		OnDurationMs:      p.OnDurationMs,
		PatternDurationMs: p.PatternDurationMs,
		FeelLabel:         FeelLabel(e.cfg, e.smoothedPitch, e.smoothedRMS, true),
		UpdatesPerSecond:  e.updatesPerSec,
	}
	return e.state.clone()
}

// Stop silences the actuator and clears smoothing state. Cancel is only sent
// if a pattern was playing, so repeated calls are equivalent to one.
func (e *Engine) Stop() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reset()
	return e.state.clone()
}

// SetForeground suspends or resumes the engine. Backgrounding is a hard stop:
// a playing pattern is cancelled at once and smoothing state is cleared.
// Frames fed while backgrounded are ignored.
func (e *Engine) SetForeground(foreground bool) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if foreground == !e.suspended {
		return e.state.clone()
	}
	e.suspended = !foreground
	if e.suspended {
		e.reset()
		slog.Debug("haptic: engine suspended")
	} else {
		slog.Debug("haptic: engine resumed")
	}
	return e.state.clone()
}

// UpdateConfig merges p into the current config. An invalid result is
// rejected as a whole and the current config stays in force. Disabling the
// engine silences the actuator.
func (e *Engine) UpdateConfig(p Patch) (Config, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	merged, err := e.cfg.Merge(p)
	if err != nil {
		return e.cfg, err
	}
	e.cfg = merged
	if !merged.Enabled {
		e.silence()
	}
	return merged, nil
}

// State returns the most recent snapshot.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone()
}

// Config returns the config in force.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Suspended reports whether the engine is backgrounded.
func (e *Engine) Suspended() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.suspended
}

// PlayPattern sends a literal pattern, such as a preset, to the actuator
// with the same cancel-then-vibrate ordering as Feed. It does not change
// the smoothing state. It reports false when the engine is backgrounded or
// disabled.
func (e *Engine) PlayPattern(pattern []uint32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.cfg.Enabled || e.suspended || len(pattern) == 0 {
		return false
	}
	pattern = slices.Clone(pattern)
	e.send(CommandCancel, func(a Actuator) error { return a.Cancel() })
	e.send(CommandVibrate, func(a Actuator) error { return a.Vibrate(pattern) })
	e.vibrating = true
	return true
}

// silence cancels a playing pattern and records a silent state. Smoothed
// pitch is kept. Caller holds e.mu.
func (e *Engine) silence() {
	if e.vibrating {
		e.send(CommandCancel, func(a Actuator) error { return a.Cancel() })
		e.vibrating = false
	}
	e.state = e.silentState()
}

// reset silences the actuator and clears smoothing and throttle state.
// Caller holds e.mu.
func (e *Engine) reset() {
	e.silence()
	e.smoothedPitch = 0
	e.smoothedRMS = 0
	e.lastUpdate = time.Time{}
	e.windowStart = time.Time{}
	e.windowCount = 0
	e.updatesPerSec = 0
	e.state = e.silentState()
}

func (e *Engine) silentState() State {
	return State{
		SmoothedPitch:    e.smoothedPitch,
		SmoothedRMS:      e.smoothedRMS,
		CurrentPattern:   []uint32{},
		FeelLabel:        SilentLabel,
		UpdatesPerSecond: e.updatesPerSec,
	}
}

// countUpdate maintains the updates-per-second figure, which is refreshed
// once per second from the number of decisions in the last window.
func (e *Engine) countUpdate(now time.Time) {
	if e.windowStart.IsZero() {
		e.windowStart = now
	}
	e.windowCount++
	if elapsed := now.Sub(e.windowStart); elapsed >= time.Second {
		e.updatesPerSec = float64(e.windowCount) / elapsed.Seconds()
		e.windowCount = 0
		e.windowStart = now
	}
}

// send issues one actuator command. Failures are logged and swallowed.
func (e *Engine) send(kind string, cmd func(Actuator) error) {
	if e.act == nil {
		return
	}
	if e.observe != nil {
		e.observe(kind)
	}
	if err := cmd(e.act); err != nil {
		e.failures++
		if e.failures == 1 {
			slog.Warn("haptic: actuator command failed", "command", kind, "err", err)
		} else {
			slog.Debug("haptic: actuator command failed", "command", kind, "err", err, "failures", e.failures)
		}
	}
}

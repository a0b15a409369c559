// Package pitch estimates the fundamental frequency and loudness of a live
// voice, frame by frame.
//
// An [Estimator] owns one [audio.Device] for the duration of a capture: Start
// opens it, a single analysis goroutine consumes its chunks, and Stop (or
// context cancellation, or the stream ending) closes it. Each analysed window
// becomes a [Frame] that is appended to a [History] and handed to the frame
// callback.
//
// Pitch detection uses YIN. Frames where no pitch is found are not errors;
// they are reported with Voiced false.
package pitch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hapticphonix/larynx/pkg/audio"
)

var (
	// ErrStopped is returned by Start after Stop has been called.
	ErrStopped = errors.New("pitch: estimator stopped")

	// ErrAlreadyRunning is returned by a second Start.
	ErrAlreadyRunning = errors.New("pitch: estimator already running")
)

// MetricsRecorder receives per-frame analysis measurements.
type MetricsRecorder interface {
	RecordFrame(ctx context.Context, f Frame, took time.Duration)
}

// Option is a functional option for configuring an [Estimator].
type Option func(*Estimator)

// WithFrameCallback sets the function called with every frame. It runs on
// the analysis goroutine and should return quickly.
func WithFrameCallback(fn func(Frame)) Option {
	return func(e *Estimator) { e.onFrame = fn }
}

// WithErrorCallback sets the function called when the device cannot be opened.
func WithErrorCallback(fn func(error)) Option {
	return func(e *Estimator) { e.onError = fn }
}

// WithHistory makes the estimator append to h instead of a private history.
func WithHistory(h *History) Option {
	return func(e *Estimator) { e.history = h }
}

// WithMetrics sets the recorder for per-frame measurements.
func WithMetrics(r MetricsRecorder) Option {
	return func(e *Estimator) { e.metrics = r }
}

// WithCaptureConfig sets the device-specific capture parameters passed to
// Open. SampleRate defaults to the analysis rate.
func WithCaptureConfig(cc audio.CaptureConfig) Option {
	return func(e *Estimator) { e.capture = cc }
}

type estimatorState int

const (
	stateIdle estimatorState = iota
	stateRunning
	stateStopped
)

// Estimator runs pitch analysis over an audio device.
type Estimator struct {
	device   audio.Device
	cfg      Config
	capture  audio.CaptureConfig
	history  *History
	analyzer *Analyzer
	onFrame  func(Frame)
	onError  func(error)
	metrics  MetricsRecorder

	mu     sync.Mutex
	state  estimatorState
	cancel context.CancelFunc
	done   chan struct{}
}

// New validates cfg and returns an idle Estimator reading from device.
func New(device audio.Device, cfg Config, opts ...Option) (*Estimator, error) {
	if device == nil {
		return nil, errors.New("pitch: device must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Estimator{
		device:   device,
		cfg:      cfg,
		analyzer: NewAnalyzer(cfg),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	if e.history == nil {
		e.history = NewHistory(cfg.HistoryLength)
	}
	if e.capture.SampleRate <= 0 {
		e.capture.SampleRate = cfg.SampleRate
	}
	if e.capture.Channels <= 0 {
		e.capture.Channels = 1
	}
	return e, nil
}

// Start opens the device, clears the history and begins analysis. A device
// failure leaves the history untouched and is returned as-is (normally an
// *audio.DeviceError), reported once to the error callback, and not retried.
// The analysis stops when ctx is cancelled, the stream ends, or Stop is
// called; the device is closed on every path.
func (e *Estimator) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case stateRunning:
		return ErrAlreadyRunning
	case stateStopped:
		return ErrStopped
	}

	stream, err := e.device.Open(ctx, e.capture)
	if err != nil {
		slog.Warn("pitch: device open failed", "device", e.device.Name(), "err", err)
		if e.onError != nil {
			e.onError(err)
		}
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.state = stateRunning
	e.analyzer.Reset()
	// Only a successful open replaces what an earlier run left behind.
	e.history.Clear()

	go e.run(runCtx, stream)
	slog.Info("pitch: estimator started", "device", e.device.Name(), "sample_rate", e.cfg.SampleRate, "fft_size", e.cfg.FFTSize, "hop_size", e.cfg.HopSize)
	return nil
}

// Stop halts analysis and waits until the device is released. It is
// idempotent and safe to call before Start.
func (e *Estimator) Stop() error {
	e.mu.Lock()
	prev := e.state
	e.state = stateStopped
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()

	if prev == stateRunning {
		<-e.done
	}
	return nil
}

// Done is closed when the analysis goroutine has exited and released the
// device. It is never closed for an estimator that was not started.
func (e *Estimator) Done() <-chan struct{} { return e.done }

// History returns the frame history the estimator appends to.
func (e *Estimator) History() *History { return e.history }

// Config returns the analysis configuration.
func (e *Estimator) Config() Config { return e.cfg }

func (e *Estimator) run(ctx context.Context, stream audio.Stream) {
	defer close(e.done)
	defer func() {
		if err := stream.Close(); err != nil {
			slog.Warn("pitch: close stream", "err", err)
		}
	}()

	conv := audio.FormatConverter{Target: audio.Format{SampleRate: e.cfg.SampleRate, Channels: 1}}
	fr := newFramer(e.cfg.FFTSize, e.cfg.HopSize, e.cfg.SampleRate)
	emit := func(window []float64, ts time.Duration) {
		start := time.Now()
		f := e.analyzer.Analyze(window, ts)
		took := time.Since(start)
		e.history.Append(f)
		if e.metrics != nil {
			e.metrics.RecordFrame(ctx, f, took)
		}
		if e.onFrame != nil {
			e.onFrame(f)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-stream.Chunks():
			if !ok {
				slog.Info("pitch: audio stream ended", "device", e.device.Name())
				return
			}
			c = conv.Convert(c)
			if len(c.Samples) == 0 {
				continue
			}
			fr.push(c.Samples, emit)
		}
	}
}

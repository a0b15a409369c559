// Package ffmpeg captures microphone audio by running ffmpeg as a child
// process and reading raw s16le PCM from its stdout.
//
// ffmpeg handles the platform capture APIs (PulseAudio, ALSA, AVFoundation,
// DirectShow); this package only classifies start-up failures into
// [audio.DeviceError] kinds and turns the byte stream into [audio.Chunk]s.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hapticphonix/larynx/pkg/audio"
)

const (
	defaultSampleRate  = 48000
	defaultChannels    = 1
	defaultInputFormat = "pulse"
	defaultInputDevice = "default"

	// chunkDuration is the amount of audio read from ffmpeg per chunk.
	chunkDuration = 10 * time.Millisecond

	// startupGrace is how long Open waits for ffmpeg to fail fast (bad
	// device, denied permission) before declaring the capture started.
	startupGrace = 250 * time.Millisecond

	// stopGrace is how long Close waits after SIGINT before killing ffmpeg.
	stopGrace = 1200 * time.Millisecond
)

// Option is a functional option for configuring a [Device].
type Option func(*Device)

// WithStartupGrace overrides the fail-fast window used by Open.
func WithStartupGrace(d time.Duration) Option {
	return func(dev *Device) {
		if d > 0 {
			dev.startupGrace = d
		}
	}
}

// Device implements [audio.Device] on top of an ffmpeg binary.
type Device struct {
	command      string
	startupGrace time.Duration
}

// New creates a Device that runs command (default "ffmpeg").
func New(command string, opts ...Option) *Device {
	if command == "" {
		command = "ffmpeg"
	}
	d := &Device{command: command, startupGrace: startupGrace}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Name returns "ffmpeg".
func (d *Device) Name() string { return "ffmpeg" }

// Open starts ffmpeg capturing cfg.InputDevice through cfg.InputFormat. If
// ffmpeg exits within the startup grace window, the failure is classified
// from its stderr and returned as an *audio.DeviceError.
func (d *Device) Open(ctx context.Context, cfg audio.CaptureConfig) (audio.Stream, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = defaultChannels
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = defaultInputFormat
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = defaultInputDevice
	}
	label := cfg.InputFormat + "/" + cfg.InputDevice

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}

	cmd := exec.CommandContext(ctx, d.command, args...)
	stderr := &syncBuffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, audio.NewDeviceError(audio.DeviceNotFound, label, err)
		}
		if errors.Is(err, os.ErrPermission) {
			return nil, audio.NewDeviceError(audio.DevicePermissionDenied, label, err)
		}
		return nil, fmt.Errorf("ffmpeg: start: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		msg := strings.TrimSpace(stderr.String())
		cause := errors.New("ffmpeg exited before capture started")
		if err != nil {
			cause = fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, msg)
		}
		return nil, audio.NewDeviceError(classify(msg), label, cause)
	case <-time.After(d.startupGrace):
	}

	s := &stream{
		stdout:     stdout,
		stderr:     stderr,
		process:    cmd.Process,
		waitErr:    waitErr,
		chunks:     make(chan audio.Chunk, 32),
		done:       make(chan struct{}),
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
	}
	go s.readLoop()

	slog.Info("ffmpeg capture started", "device", label, "sample_rate", cfg.SampleRate, "channels", cfg.Channels)
	return s, nil
}

// classify maps ffmpeg's stderr to a device error kind.
func classify(stderr string) audio.DeviceErrorKind {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "permission denied"),
		strings.Contains(lower, "not authorized"),
		strings.Contains(lower, "operation not permitted"):
		return audio.DevicePermissionDenied
	case strings.Contains(lower, "device or resource busy"),
		strings.Contains(lower, "resource busy"):
		return audio.DeviceBusy
	default:
		return audio.DeviceNotFound
	}
}

// stream is a running ffmpeg capture. It implements audio.Stream.
type stream struct {
	stdout  io.ReadCloser
	stderr  *syncBuffer
	process *os.Process
	waitErr <-chan error

	chunks     chan audio.Chunk
	done       chan struct{}
	sampleRate int
	channels   int

	stopOnce sync.Once
	stopErr  error
}

// Chunks returns the chunk channel. It is closed when ffmpeg stops.
func (s *stream) Chunks() <-chan audio.Chunk { return s.chunks }

// readLoop reads fixed-size PCM blocks from ffmpeg until EOF or Close.
func (s *stream) readLoop() {
	defer close(s.chunks)

	frameBytes := 2 * s.channels
	blockFrames := int(int64(s.sampleRate) * int64(chunkDuration) / int64(time.Second))
	buf := make([]byte, blockFrames*frameBytes)
	var framesRead int64

	for {
		n, err := io.ReadFull(s.stdout, buf)
		n -= n % frameBytes
		if n > 0 {
			c := audio.Chunk{
				Samples:    audio.DecodePCM16(buf[:n]),
				SampleRate: s.sampleRate,
				Channels:   s.channels,
				Timestamp:  time.Duration(framesRead) * time.Second / time.Duration(s.sampleRate),
			}
			framesRead += int64(n / frameBytes)
			select {
			case s.chunks <- c:
			case <-s.done:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, os.ErrClosed) {
				select {
				case <-s.done:
				default:
					slog.Warn("ffmpeg capture read error", "err", err)
				}
			}
			return
		}
	}
}

// Close interrupts ffmpeg, escalating to kill after the stop grace period,
// and releases the pipe. Safe to call more than once.
func (s *stream) Close() error {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(stopGrace):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.stopErr == nil {
				s.stopErr = closeErr
			}
		}

		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("ffmpeg: %w: %s", s.stopErr, strings.TrimSpace(s.stderr.String()))
		}
	})
	return s.stopErr
}

// normalizeStopErr treats a non-zero exit after our interrupt as a clean stop.
func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// syncBuffer is a bytes.Buffer safe for the concurrent writes exec performs
// while Open and Close read it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

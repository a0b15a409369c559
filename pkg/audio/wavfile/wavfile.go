// Package wavfile replays a WAV recording as an [audio.Device]. It is used
// for regression runs and demos where no microphone is available.
package wavfile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"

	"github.com/hapticphonix/larynx/pkg/audio"
)

// chunkDuration is the amount of audio delivered per chunk.
const chunkDuration = 10 * time.Millisecond

// Option is a functional option for configuring a [Device].
type Option func(*Device)

// WithRealtime paces chunk delivery at the file's natural rate. Without it
// the file is decoded as fast as the consumer reads.
func WithRealtime(enabled bool) Option {
	return func(d *Device) { d.realtime = enabled }
}

// WithLoop restarts the file from the beginning when it ends.
func WithLoop(enabled bool) Option {
	return func(d *Device) { d.loop = enabled }
}

// Device implements [audio.Device] by decoding a WAV file.
type Device struct {
	path     string
	realtime bool
	loop     bool
}

// New returns a Device that replays the WAV file at path.
func New(path string, opts ...Option) *Device {
	d := &Device{path: path}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Name returns "wav".
func (d *Device) Name() string { return "wav" }

// Open decodes the file header and starts delivering chunks. The capture
// config is ignored: chunks carry the file's own sample rate and are mixed
// to mono.
func (d *Device) Open(ctx context.Context, _ audio.CaptureConfig) (audio.Stream, error) {
	f, err := os.Open(d.path)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist):
			return nil, audio.NewDeviceError(audio.DeviceNotFound, d.path, err)
		case errors.Is(err, os.ErrPermission):
			return nil, audio.NewDeviceError(audio.DevicePermissionDenied, d.path, err)
		default:
			return nil, fmt.Errorf("wavfile: open %q: %w", d.path, err)
		}
	}

	streamer, format, err := wav.Decode(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("wavfile: decode %q: %w", d.path, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &stream{
		streamer:   streamer,
		sampleRate: int(format.SampleRate),
		chunks:     make(chan audio.Chunk, 8),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go s.run(ctx, d.realtime, d.loop)

	slog.Info("wav replay started", "path", d.path, "sample_rate", s.sampleRate, "channels", format.NumChannels)
	return s, nil
}

type stream struct {
	streamer   beep.StreamSeekCloser
	sampleRate int
	chunks     chan audio.Chunk
	cancel     context.CancelFunc
	done       chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func (s *stream) Chunks() <-chan audio.Chunk { return s.chunks }

func (s *stream) run(ctx context.Context, realtime, loop bool) {
	defer close(s.done)
	defer close(s.chunks)

	blockFrames := max(1, int(int64(s.sampleRate)*int64(chunkDuration)/int64(time.Second)))
	buf := make([][2]float64, blockFrames)
	var framesSent, sinceRewind int64

	var tick <-chan time.Time
	if realtime {
		t := time.NewTicker(chunkDuration)
		defer t.Stop()
		tick = t.C
	}

	for {
		n, ok := s.streamer.Stream(buf)
		if n > 0 {
			samples := make([]float64, n)
			for i := range n {
				samples[i] = (buf[i][0] + buf[i][1]) / 2
			}
			c := audio.Chunk{
				Samples:    samples,
				SampleRate: s.sampleRate,
				Channels:   1,
				Timestamp:  time.Duration(framesSent) * time.Second / time.Duration(s.sampleRate),
			}
			framesSent += int64(n)
			sinceRewind += int64(n)

			if tick != nil {
				select {
				case <-tick:
				case <-ctx.Done():
					return
				}
			}
			select {
			case s.chunks <- c:
			case <-ctx.Done():
				return
			}
		}
		if !ok || n < len(buf) {
			if err := s.streamer.Err(); err != nil {
				slog.Warn("wav replay decode error", "err", err)
				return
			}
			if !loop || sinceRewind == 0 {
				return
			}
			sinceRewind = 0
			if err := s.streamer.Seek(0); err != nil {
				slog.Warn("wav replay rewind failed", "err", err)
				return
			}
		}
	}
}

// Close stops delivery and closes the underlying file. Safe to call more
// than once.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		s.closeErr = s.streamer.Close()
	})
	return s.closeErr
}

// Package audio defines the capture-side abstractions of larynx.
//
// The two primary abstractions are:
//
//   - [Device] owns a capture backend (microphone via ffmpeg, a WAV file,
//     a phone streaming over a websocket) and opens a [Stream] on it.
//   - [Stream] is an open capture session delivering [Chunk] values on a
//     channel until it is closed or the backend runs dry.
//
// Implementations live in sub-packages (audio/ffmpeg, audio/wavfile,
// audio/wsmic). The pitch estimator is the only consumer; a Stream must never
// be read from two goroutines.
package audio

import (
	"context"
	"time"
)

// Chunk is a block of captured samples. Samples are normalised to [-1, 1]
// and interleaved when Channels > 1. Chunk lengths are backend-specific; the
// estimator re-windows them.
type Chunk struct {
	// Samples holds the normalised PCM samples.
	Samples []float64

	// SampleRate in Hz (48000 for the default microphone path).
	SampleRate int

	// Channels is 1 for mono, 2 for interleaved stereo.
	Channels int

	// Timestamp marks the capture time of the first sample, relative to
	// stream start.
	Timestamp time.Duration
}

// Frames returns the number of sample frames (samples per channel) in c.
func (c Chunk) Frames() int {
	if c.Channels <= 1 {
		return len(c.Samples)
	}
	return len(c.Samples) / c.Channels
}

// CaptureConfig describes how a [Device] should capture audio.
type CaptureConfig struct {
	// SampleRate is the requested rate in Hz. Backends that cannot honour it
	// report their native rate on each Chunk instead.
	SampleRate int

	// Channels is the requested channel count.
	Channels int

	// InputFormat selects the capture API for ffmpeg-backed devices
	// (e.g. "pulse", "alsa", "avfoundation").
	InputFormat string

	// InputDevice names the device within InputFormat (e.g. "default").
	InputDevice string
}

// Stream is an open capture session.
//
// Chunks returns the same channel on every call; it is closed when the
// backend ends (EOF, client disconnect) or after Close. Close releases the
// underlying device; calling it more than once is safe and returns nil.
type Stream interface {
	Chunks() <-chan Chunk
	Close() error
}

// Device is the entry point of a capture backend.
//
// Open acquires the device. It must fail with a *[DeviceError] when
// permission is denied, the device does not exist or is already in use. The
// supplied ctx bounds the open attempt and the lifetime of the stream.
type Device interface {
	Open(ctx context.Context, cfg CaptureConfig) (Stream, error)

	// Name is a short label used in logs and errors (e.g. "ffmpeg:pulse/default").
	Name() string
}

// Package mock provides in-memory mock implementations of the [audio.Device]
// and [audio.Stream] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	stream := mock.NewStream(16)
//	dev := &mock.Device{OpenResult: stream}
//	est, _ := pitch.New(dev, pitch.DefaultConfig())
//	_ = est.Start(ctx)
//	stream.Push(audio.Chunk{Samples: sine, SampleRate: 48000, Channels: 1})
package mock

import (
	"context"
	"sync"

	"github.com/hapticphonix/larynx/pkg/audio"
)

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// DeviceName is returned by Name. Defaults to "mock".
	DeviceName string

	// OpenResult is returned by Open. When nil, Open returns a fresh Stream.
	OpenResult *Stream

	// OpenErr, if non-nil, is returned by Open instead of a stream.
	OpenErr error

	// OpenCalls records the CaptureConfig of every Open call in order.
	OpenCalls []audio.CaptureConfig
}

// Open records the call and returns OpenResult or OpenErr.
func (d *Device) Open(_ context.Context, cfg audio.CaptureConfig) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, cfg)
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	if d.OpenResult == nil {
		d.OpenResult = NewStream(16)
	}
	return d.OpenResult, nil
}

// Name returns DeviceName or "mock".
func (d *Device) Name() string {
	if d.DeviceName == "" {
		return "mock"
	}
	return d.DeviceName
}

// OpenCount returns the number of Open calls. Thread-safe.
func (d *Device) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.OpenCalls)
}

// Ensure Device implements audio.Device at compile time.
var _ audio.Device = (*Device)(nil)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream]. Chunks are fed with
// Push; End closes the chunk channel as a backend reaching EOF would.
type Stream struct {
	mu     sync.Mutex
	ch     chan audio.Chunk
	closed bool

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewStream returns a Stream whose chunk channel has the given buffer size.
func NewStream(buffer int) *Stream {
	return &Stream{ch: make(chan audio.Chunk, buffer)}
}

// Chunks returns the chunk channel.
func (s *Stream) Chunks() <-chan audio.Chunk { return s.ch }

// Push delivers c to the consumer, blocking while the buffer is full.
// It reports false if the stream is already closed.
func (s *Stream) Push(c audio.Chunk) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.ch <- c
	return true
}

// End closes the chunk channel without counting as a Close call.
func (s *Stream) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Close records the call, closes the chunk channel once, and returns CloseErr.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return s.CloseErr
}

// CloseCount returns the number of Close calls. Thread-safe.
func (s *Stream) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose
}

// Ensure Stream implements audio.Stream at compile time.
var _ audio.Stream = (*Stream)(nil)

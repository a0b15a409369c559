// Package wsmic turns a phone or browser microphone streamed over a
// websocket into an [audio.Device].
//
// The Device is also an [http.Handler]. A capture session calls Open, which
// creates an idle stream; a single client then connects and sends binary
// messages holding either little-endian s16le PCM or Opus packets. A client
// disconnecting does not end the stream: the next client continues feeding
// the same session until Close.
package wsmic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/hapticphonix/larynx/pkg/audio"
)

// Encoding names the payload format of binary client messages.
type Encoding string

const (
	// EncodingPCM is interleaved little-endian int16 PCM.
	EncodingPCM Encoding = "pcm"

	// EncodingOpus is one Opus packet per message.
	EncodingOpus Encoding = "opus"
)

// maxMessageBytes bounds a single client message (one second of 48 kHz stereo PCM).
const maxMessageBytes = 48000 * 2 * 2

// Option is a functional option for configuring a [Device].
type Option func(*Device)

// WithEncoding sets the default payload encoding. Clients may override it
// with the "encoding" query parameter.
func WithEncoding(e Encoding) Option {
	return func(d *Device) {
		if e != "" {
			d.encoding = e
		}
	}
}

// WithOriginPatterns sets the host patterns accepted for cross-origin clients.
func WithOriginPatterns(patterns ...string) Option {
	return func(d *Device) { d.originPatterns = patterns }
}

// Device implements [audio.Device] for websocket microphone clients.
type Device struct {
	encoding       Encoding
	originPatterns []string

	mu        sync.Mutex
	active    *stream
	connected bool
}

// New creates a Device with PCM as the default encoding.
func New(opts ...Option) *Device {
	d := &Device{encoding: EncodingPCM}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Name returns "websocket".
func (d *Device) Name() string { return "websocket" }

// Connected reports whether a microphone client is currently attached.
func (d *Device) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Open creates the stream that connecting clients feed. Only one stream may
// be open at a time; a second Open fails with a busy DeviceError. cfg gives
// the format assumed for clients that do not state their own.
func (d *Device) Open(_ context.Context, cfg audio.CaptureConfig) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active != nil {
		return nil, audio.NewDeviceError(audio.DeviceBusy, d.Name(), errors.New("microphone stream already open"))
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	s := &stream{
		dev:    d,
		format: audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels},
		chunks: make(chan audio.Chunk, 32),
		done:   make(chan struct{}),
	}
	d.active = s
	return s, nil
}

// ServeHTTP accepts a microphone client. It answers 503 when no capture
// session is open and 409 when another client is already streaming.
func (d *Device) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	s := d.active
	switch {
	case s == nil:
		d.mu.Unlock()
		http.Error(w, "no capture session", http.StatusServiceUnavailable)
		return
	case d.connected:
		d.mu.Unlock()
		http.Error(w, "microphone already connected", http.StatusConflict)
		return
	}
	d.connected = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.connected = false
		d.mu.Unlock()
	}()

	format, encoding, err := d.clientFormat(r, s.format)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: d.originPatterns})
	if err != nil {
		slog.Warn("wsmic: accept failed", "err", err)
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	slog.Info("wsmic: client connected", "remote", r.RemoteAddr, "encoding", encoding, "sample_rate", format.SampleRate, "channels", format.Channels)
	err = s.serve(r.Context(), conn, format, encoding)
	switch {
	case err == nil, websocket.CloseStatus(err) != -1:
	default:
		slog.Warn("wsmic: client stream ended", "err", err)
		conn.Close(websocket.StatusInternalError, "stream error")
	}
	slog.Info("wsmic: client disconnected", "remote", r.RemoteAddr)
}

// clientFormat reads the optional encoding, rate and channels query parameters.
func (d *Device) clientFormat(r *http.Request, def audio.Format) (audio.Format, Encoding, error) {
	q := r.URL.Query()
	format := def
	encoding := d.encoding
	if v := q.Get("encoding"); v != "" {
		encoding = Encoding(v)
	}
	if encoding != EncodingPCM && encoding != EncodingOpus {
		return format, "", fmt.Errorf("unsupported encoding %q", encoding)
	}
	if v := q.Get("rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return format, "", fmt.Errorf("invalid rate %q", v)
		}
		format.SampleRate = n
	}
	if v := q.Get("channels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 2 {
			return format, "", fmt.Errorf("invalid channels %q", v)
		}
		format.Channels = n
	}
	return format, encoding, nil
}

// release detaches s from the device so a new session can Open.
func (d *Device) release(s *stream) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == s {
		d.active = nil
	}
}

var _ audio.Device = (*Device)(nil)

// stream is an open microphone session. It implements audio.Stream.
type stream struct {
	dev    *Device
	format audio.Format
	chunks chan audio.Chunk
	done   chan struct{}

	mu      sync.Mutex
	closed  bool
	senders sync.WaitGroup
	frames  int64
}

func (s *stream) Chunks() <-chan audio.Chunk { return s.chunks }

// serve reads client messages until the client leaves, ctx ends or the stream
// is closed. A nil return means the stream was closed locally.
func (s *stream) serve(ctx context.Context, conn *websocket.Conn, format audio.Format, encoding Encoding) error {
	var dec *opusDecoder
	if encoding == EncodingOpus {
		var err error
		if dec, err = newOpusDecoder(format.SampleRate, format.Channels); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.done:
			conn.Close(websocket.StatusNormalClosure, "capture stopped")
		case <-ctx.Done():
		}
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
				return err
			}
		}
		if typ != websocket.MessageBinary {
			continue
		}

		var samples []float64
		if dec != nil {
			pcm, err := dec.decode(data)
			if err != nil {
				slog.Debug("wsmic: dropping undecodable packet", "err", err)
				continue
			}
			samples = audio.Int16ToFloat(pcm)
		} else {
			samples = audio.DecodePCM16(data)
		}
		if len(samples) == 0 {
			continue
		}
		if !s.push(samples, format) {
			return nil
		}
	}
}

// push hands one decoded message to the consumer. It reports false once the
// stream is closed.
func (s *stream) push(samples []float64, format audio.Format) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.senders.Add(1)
	ts := time.Duration(s.frames) * time.Second / time.Duration(format.SampleRate)
	s.frames += int64(len(samples) / format.Channels)
	s.mu.Unlock()
	defer s.senders.Done()

	c := audio.Chunk{Samples: samples, SampleRate: format.SampleRate, Channels: format.Channels, Timestamp: ts}
	select {
	case s.chunks <- c:
		return true
	case <-s.done:
		return false
	}
}

// Close ends the session, disconnects any client and frees the device for
// the next Open. Safe to call more than once.
func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	s.senders.Wait()
	close(s.chunks)
	s.dev.release(s)
	return nil
}

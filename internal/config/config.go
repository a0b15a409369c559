// Package config provides the configuration schema, loader, hot-reload
// watcher and capture-source registry for the larynx server.
package config

import (
	"github.com/hapticphonix/larynx/pkg/haptic"
	"github.com/hapticphonix/larynx/pkg/pitch"
)

// LogLevel controls log verbosity for the larynx server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Source selects the capture backend.
type Source string

const (
	// SourceFFmpeg captures the local microphone through an ffmpeg subprocess.
	SourceFFmpeg Source = "ffmpeg"

	// SourceWAV replays a WAV file.
	SourceWAV Source = "wav"

	// SourceWebSocket receives microphone audio from a phone or browser.
	SourceWebSocket Source = "websocket"
)

// IsValid reports whether s is a recognised capture source.
func (s Source) IsValid() bool {
	switch s {
	case SourceFFmpeg, SourceWAV, SourceWebSocket:
		return true
	}
	return false
}

// Encoding is the wire encoding of websocket microphone audio.
type Encoding string

const (
	EncodingPCM  Encoding = "pcm"
	EncodingOpus Encoding = "opus"
)

// IsValid reports whether e is a recognised encoding.
func (e Encoding) IsValid() bool {
	return e == EncodingPCM || e == EncodingOpus
}

// Config is the root configuration structure for larynx.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
// Absent pitch and haptics fields keep the package defaults.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Pitch     pitch.Config    `yaml:"pitch"`
	Haptics   haptic.Config   `yaml:"haptics"`
	NATS      NATSConfig      `yaml:"nats"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It can be changed by hot reload.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists websocket origin patterns accepted in addition to
	// same-origin requests (e.g. "localhost:*").
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	// Browsers only grant microphone and vibration access over HTTPS.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AudioConfig selects and parameterises the capture backend.
type AudioConfig struct {
	// Source is the backend name registered in the [Registry].
	Source Source `yaml:"source"`

	// SampleRate and Channels are requested from the backend. The estimator
	// resamples to the analysis rate regardless.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// InputFormat and InputDevice are passed to ffmpeg as -f and -i.
	InputFormat string `yaml:"input_format"`
	InputDevice string `yaml:"input_device"`

	// FFmpegPath is the ffmpeg executable. Default: "ffmpeg".
	FFmpegPath string `yaml:"ffmpeg_path"`

	// WAVPath is the file replayed by the wav source.
	WAVPath string `yaml:"wav_path"`

	// Loop restarts the WAV file at its end.
	Loop bool `yaml:"loop"`

	// Encoding is the default websocket payload encoding. Clients may
	// override it per connection.
	Encoding Encoding `yaml:"encoding"`
}

// CaptureSampleRate returns the requested capture rate, falling back to
// analysisRate when unset.
func (a AudioConfig) CaptureSampleRate(analysisRate int) int {
	if a.SampleRate > 0 {
		return a.SampleRate
	}
	return analysisRate
}

// NATSConfig configures the optional NATS fan-out. Publishing is disabled
// when URL is empty.
type NATSConfig struct {
	URL string `yaml:"url"`

	// SubjectPrefix is prepended to every subject ("<prefix>.pitch.frame").
	SubjectPrefix string `yaml:"subject_prefix"`

	// PublishFrames enables the per-frame subject. Haptic states are always
	// published when NATS is enabled.
	PublishFrames bool `yaml:"publish_frames"`
}

// Enabled reports whether a NATS URL is configured.
func (n NATSConfig) Enabled() bool { return n.URL != "" }

// TelemetryConfig names the service in exported telemetry.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`
}

// Default returns a Config populated with the defaults used for every field
// the YAML file leaves out.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Audio: AudioConfig{
			Source:      SourceFFmpeg,
			Channels:    1,
			InputFormat: "pulse",
			InputDevice: "default",
			FFmpegPath:  "ffmpeg",
			Encoding:    EncodingPCM,
		},
		Pitch:   pitch.DefaultConfig(),
		Haptics: haptic.DefaultConfig(),
		NATS: NATSConfig{
			SubjectPrefix: "larynx",
			PublishFrames: true,
		},
		Telemetry: TelemetryConfig{ServiceName: "larynx"},
	}
}

package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Unknown keys are rejected. An empty document yields
// the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	a := cfg.Audio
	if !a.Source.IsValid() {
		errs = append(errs, fmt.Errorf("audio.source %q is invalid; valid values: ffmpeg, wav, websocket", a.Source))
	}
	if a.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", a.SampleRate))
	}
	if a.Channels != 1 && a.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is invalid; valid values: 1, 2", a.Channels))
	}
	if a.Encoding != "" && !a.Encoding.IsValid() {
		errs = append(errs, fmt.Errorf("audio.encoding %q is invalid; valid values: pcm, opus", a.Encoding))
	}
	switch a.Source {
	case SourceWAV:
		if a.WAVPath == "" {
			errs = append(errs, errors.New("audio.wav_path is required when source is wav"))
		}
	case SourceFFmpeg:
		if a.FFmpegPath == "" {
			errs = append(errs, errors.New("audio.ffmpeg_path is required when source is ffmpeg"))
		}
	}

	// The section errors carry their own "pitch:" and "haptic:" prefixes.
	if err := cfg.Pitch.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := cfg.Haptics.Validate(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Haptics.MaxPitch > cfg.Pitch.MaxFrequency {
		slog.Warn("haptics.max_pitch is above pitch.max_frequency; the top of the haptic range is unreachable",
			"max_pitch", cfg.Haptics.MaxPitch,
			"max_frequency", cfg.Pitch.MaxFrequency,
		)
	}

	if cfg.NATS.Enabled() {
		if u, err := url.Parse(cfg.NATS.URL); err != nil || u.Scheme == "" {
			errs = append(errs, fmt.Errorf("nats.url %q is not a valid URL", cfg.NATS.URL))
		}
		if p := cfg.NATS.SubjectPrefix; p == "" || strings.ContainsAny(p, " *>") {
			errs = append(errs, fmt.Errorf("nats.subject_prefix %q must be a non-empty subject without wildcards", p))
		}
	}

	return errors.Join(errs...)
}

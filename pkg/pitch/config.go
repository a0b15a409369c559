package pitch

import (
	"errors"
	"fmt"
)

// Config holds the analysis parameters of an [Estimator]. The defaults are
// perceptual tuning values; all of them may be overridden.
type Config struct {
	// SampleRate is the rate, in Hz, the analysis runs at. Chunks at other
	// rates are resampled before analysis.
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// FFTSize is the analysis window length in samples.
	FFTSize int `yaml:"fft_size" json:"fft_size"`

	// HopSize is the number of new samples between two analyses. At 48 kHz
	// the default of 800 yields 60 frames per second.
	HopSize int `yaml:"hop_size" json:"hop_size"`

	// MinFrequency and MaxFrequency bound the YIN lag search, in Hz.
	MinFrequency float64 `yaml:"min_frequency" json:"min_frequency"`
	MaxFrequency float64 `yaml:"max_frequency" json:"max_frequency"`

	// YINThreshold is the absolute threshold on the normalised difference.
	YINThreshold float64 `yaml:"yin_threshold" json:"yin_threshold"`

	// SilenceThreshold is the RMS below which pitch detection is skipped.
	SilenceThreshold float64 `yaml:"silence_threshold" json:"silence_threshold"`

	// StabilityWindow is the number of trailing voiced pitches used for the
	// stability measure.
	StabilityWindow int `yaml:"stability_window" json:"stability_window"`

	// HistoryLength caps the frame history.
	HistoryLength int `yaml:"history_length" json:"history_length"`

	// LenientFallback accepts the global minimum of the difference function
	// when no lag crosses YINThreshold, provided it is below FallbackThreshold.
	// This trades strictness for availability in breathy passages and can
	// report low-confidence pitches on noise.
	LenientFallback   bool    `yaml:"lenient_fallback" json:"lenient_fallback"`
	FallbackThreshold float64 `yaml:"fallback_threshold" json:"fallback_threshold"`
}

// DefaultConfig returns the default analysis parameters.
func DefaultConfig() Config {
	return Config{
		SampleRate:        48000,
		FFTSize:           2048,
		HopSize:           800,
		MinFrequency:      60,
		MaxFrequency:      500,
		YINThreshold:      0.15,
		SilenceThreshold:  0.01,
		StabilityWindow:   30,
		HistoryLength:     600,
		LenientFallback:   true,
		FallbackThreshold: 0.5,
	}
}

// ConfigError reports an invalid analysis parameter.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("pitch: invalid config: %s %s", e.Field, e.Reason)
}

// Validate reports every invalid field, joined.
func (c Config) Validate() error {
	var errs []error
	bad := func(field, reason string) {
		errs = append(errs, &ConfigError{Field: field, Reason: reason})
	}

	if c.SampleRate <= 0 {
		bad("sample_rate", "must be positive")
	}
	if c.FFTSize <= 0 {
		bad("fft_size", "must be positive")
	}
	if c.HopSize <= 0 {
		bad("hop_size", "must be positive")
	} else if c.FFTSize > 0 && c.HopSize > c.FFTSize {
		bad("hop_size", "must not exceed fft_size")
	}
	if c.MinFrequency <= 0 {
		bad("min_frequency", "must be positive")
	}
	if c.MinFrequency >= c.MaxFrequency {
		bad("min_frequency", "must be below max_frequency")
	}
	if c.SampleRate > 0 && c.MaxFrequency > float64(c.SampleRate)/2 {
		bad("max_frequency", "must not exceed the Nyquist frequency")
	}
	if c.YINThreshold <= 0 || c.YINThreshold >= 1 {
		bad("yin_threshold", "must be in (0, 1)")
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold >= 1 {
		bad("silence_threshold", "must be in [0, 1)")
	}
	if c.StabilityWindow <= 0 {
		bad("stability_window", "must be positive")
	}
	if c.HistoryLength <= 0 {
		bad("history_length", "must be positive")
	}
	if c.LenientFallback && (c.FallbackThreshold <= 0 || c.FallbackThreshold >= 1) {
		bad("fallback_threshold", "must be in (0, 1)")
	}
	return errors.Join(errs...)
}

package haptic

import (
	"errors"
	"fmt"
)

// Config controls how smoothed pitch and loudness map to vibration patterns.
type Config struct {
	// MinPitch and MaxPitch bound the pitch mapping, in Hz.
	MinPitch float64 `yaml:"min_pitch" json:"min_pitch"`
	MaxPitch float64 `yaml:"max_pitch" json:"max_pitch"`

	// MinCycleMs and MaxCycleMs bound the vibration cycle period.
	MinCycleMs float64 `yaml:"min_cycle_ms" json:"min_cycle_ms"`
	MaxCycleMs float64 `yaml:"max_cycle_ms" json:"max_cycle_ms"`

	// MinOnMs and MaxOnMs bound the pulse on-duration.
	MinOnMs float64 `yaml:"min_on_ms" json:"min_on_ms"`
	MaxOnMs float64 `yaml:"max_on_ms" json:"max_on_ms"`

	// PulsesPerBatch is the number of on-pulses in one pattern.
	PulsesPerBatch int `yaml:"pulses_per_batch" json:"pulses_per_batch"`

	// UpdateIntervalMs is the minimum time between actuator decisions.
	UpdateIntervalMs int `yaml:"update_interval_ms" json:"update_interval_ms"`

	// SmoothingAlpha is the EMA weight of the newest frame, in (0, 1].
	SmoothingAlpha float64 `yaml:"smoothing_alpha" json:"smoothing_alpha"`

	// SilenceThreshold is the RMS floor below which the actuator is stopped.
	SilenceThreshold float64 `yaml:"silence_threshold" json:"silence_threshold"`

	// Enabled is the master switch.
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// DefaultConfig returns the default mapping parameters.
func DefaultConfig() Config {
	return Config{
		MinPitch:         80,
		MaxPitch:         400,
		MinCycleMs:       25,
		MaxCycleMs:       100,
		MinOnMs:          8,
		MaxOnMs:          40,
		PulsesPerBatch:   8,
		UpdateIntervalMs: 50,
		SmoothingAlpha:   0.3,
		SilenceThreshold: 0.01,
		Enabled:          true,
	}
}

// ConfigError reports an invalid mapping parameter.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("haptic: invalid config: %s %s", e.Field, e.Reason)
}

// Validate reports every invalid field, joined.
func (c Config) Validate() error {
	var errs []error
	bad := func(field, reason string) {
		errs = append(errs, &ConfigError{Field: field, Reason: reason})
	}

	if c.MinPitch <= 0 || c.MaxPitch <= 0 {
		bad("min_pitch", "pitch bounds must be positive")
	}
	if c.MinPitch >= c.MaxPitch {
		bad("min_pitch", "must be below max_pitch")
	}
	if c.MinCycleMs <= 0 || c.MaxCycleMs <= 0 {
		bad("min_cycle_ms", "cycle bounds must be positive")
	}
	if c.MinCycleMs >= c.MaxCycleMs {
		bad("min_cycle_ms", "must be below max_cycle_ms")
	}
	if c.MinOnMs <= 0 || c.MaxOnMs <= 0 {
		bad("min_on_ms", "on-duration bounds must be positive")
	}
	if c.MinOnMs > c.MaxOnMs {
		bad("min_on_ms", "must not exceed max_on_ms")
	}
	if c.PulsesPerBatch < 1 {
		bad("pulses_per_batch", "must be at least 1")
	}
	if c.UpdateIntervalMs < 0 {
		bad("update_interval_ms", "must not be negative")
	}
	if c.SmoothingAlpha <= 0 || c.SmoothingAlpha > 1 {
		bad("smoothing_alpha", "must be in (0, 1]")
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold >= 1 {
		bad("silence_threshold", "must be in [0, 1)")
	}
	return errors.Join(errs...)
}

// Patch is a partial Config. Nil fields are left unchanged by Merge.
type Patch struct {
	MinPitch         *float64 `yaml:"min_pitch,omitempty" json:"min_pitch,omitempty"`
	MaxPitch         *float64 `yaml:"max_pitch,omitempty" json:"max_pitch,omitempty"`
	MinCycleMs       *float64 `yaml:"min_cycle_ms,omitempty" json:"min_cycle_ms,omitempty"`
	MaxCycleMs       *float64 `yaml:"max_cycle_ms,omitempty" json:"max_cycle_ms,omitempty"`
	MinOnMs          *float64 `yaml:"min_on_ms,omitempty" json:"min_on_ms,omitempty"`
	MaxOnMs          *float64 `yaml:"max_on_ms,omitempty" json:"max_on_ms,omitempty"`
	PulsesPerBatch   *int     `yaml:"pulses_per_batch,omitempty" json:"pulses_per_batch,omitempty"`
	UpdateIntervalMs *int     `yaml:"update_interval_ms,omitempty" json:"update_interval_ms,omitempty"`
	SmoothingAlpha   *float64 `yaml:"smoothing_alpha,omitempty" json:"smoothing_alpha,omitempty"`
	SilenceThreshold *float64 `yaml:"silence_threshold,omitempty" json:"silence_threshold,omitempty"`
	Enabled          *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// IsEmpty reports whether p changes nothing.
func (p Patch) IsEmpty() bool {
	return p == Patch{}
}

// Merge returns c with the non-nil fields of p applied. The result is
// validated; on error c is returned unchanged alongside the error.
func (c Config) Merge(p Patch) (Config, error) {
	out := c
	setF := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	setI := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setF(&out.MinPitch, p.MinPitch)
	setF(&out.MaxPitch, p.MaxPitch)
	setF(&out.MinCycleMs, p.MinCycleMs)
	setF(&out.MaxCycleMs, p.MaxCycleMs)
	setF(&out.MinOnMs, p.MinOnMs)
	setF(&out.MaxOnMs, p.MaxOnMs)
	setI(&out.PulsesPerBatch, p.PulsesPerBatch)
	setI(&out.UpdateIntervalMs, p.UpdateIntervalMs)
	setF(&out.SmoothingAlpha, p.SmoothingAlpha)
	setF(&out.SilenceThreshold, p.SilenceThreshold)
	if p.Enabled != nil {
		out.Enabled = *p.Enabled
	}
	if err := out.Validate(); err != nil {
		return c, err
	}
	return out, nil
}

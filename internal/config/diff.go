package config

import "github.com/hapticphonix/larynx/pkg/haptic"

// ConfigDiff describes what changed between two configs.
//
// Log level and haptic mapping are applied live. Everything else in
// RestartRequired only takes effect for the next capture session or after a
// restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// Haptics holds the changed haptic fields, ready for Engine.UpdateConfig.
	Haptics haptic.Patch

	// RestartRequired names the top-level sections whose changes are not
	// hot-reloadable ("server", "audio", "pitch", "nats", "telemetry").
	RestartRequired []string
}

// HapticsChanged reports whether any haptic field differs.
func (d ConfigDiff) HapticsChanged() bool { return !d.Haptics.IsEmpty() }

// Empty reports whether the two configs were equivalent.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.HapticsChanged() && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{Haptics: diffHaptics(old.Haptics, new.Haptics)}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !sameServer(old.Server, new.Server) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Pitch != new.Pitch {
		d.RestartRequired = append(d.RestartRequired, "pitch")
	}
	if old.NATS != new.NATS {
		d.RestartRequired = append(d.RestartRequired, "nats")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}

// sameServer compares everything but the log level.
func sameServer(a, b ServerConfig) bool {
	if a.ListenAddr != b.ListenAddr || len(a.AllowedOrigins) != len(b.AllowedOrigins) {
		return false
	}
	for i := range a.AllowedOrigins {
		if a.AllowedOrigins[i] != b.AllowedOrigins[i] {
			return false
		}
	}
	switch {
	case a.TLS == nil && b.TLS == nil:
		return true
	case a.TLS == nil || b.TLS == nil:
		return false
	}
	return *a.TLS == *b.TLS
}

func diffHaptics(old, new haptic.Config) haptic.Patch {
	var p haptic.Patch
	f := func(o, n float64) *float64 {
		if o == n {
			return nil
		}
		return &n
	}
	i := func(o, n int) *int {
		if o == n {
			return nil
		}
		return &n
	}
	p.MinPitch = f(old.MinPitch, new.MinPitch)
	p.MaxPitch = f(old.MaxPitch, new.MaxPitch)
	p.MinCycleMs = f(old.MinCycleMs, new.MinCycleMs)
	p.MaxCycleMs = f(old.MaxCycleMs, new.MaxCycleMs)
	p.MinOnMs = f(old.MinOnMs, new.MinOnMs)
	p.MaxOnMs = f(old.MaxOnMs, new.MaxOnMs)
	p.PulsesPerBatch = i(old.PulsesPerBatch, new.PulsesPerBatch)
	p.UpdateIntervalMs = i(old.UpdateIntervalMs, new.UpdateIntervalMs)
	p.SmoothingAlpha = f(old.SmoothingAlpha, new.SmoothingAlpha)
	p.SilenceThreshold = f(old.SilenceThreshold, new.SilenceThreshold)
	if old.Enabled != new.Enabled {
		enabled := new.Enabled
		p.Enabled = &enabled
	}
	return p
}

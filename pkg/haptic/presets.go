package haptic

import (
	"slices"
	"sort"
)

// presets are fixed on/off patterns (ms) usable without live audio.
var presets = map[string][]uint32{
	// Voiced fricative: fast, even buzz.
	"buzz-z": {15, 10, 15, 10, 15, 10, 15, 10, 15},
	// Nasal hum: long soft pulses.
	"hum-m": {40, 20, 40, 20, 40, 20, 40},
	// Sibilant: very short, rapid ticks.
	"hiss-s": {8, 6, 8, 6, 8, 6, 8, 6, 8, 6, 8},
	// Open vowel: steady medium cycle.
	"vowel-a": {30, 30, 30, 30, 30, 30, 30},
	// Rising pitch: cycles shorten.
	"sweep-up": {40, 60, 35, 50, 30, 40, 25, 30, 20, 20, 15},
	// Falling pitch: cycles lengthen.
	"sweep-down": {15, 20, 20, 30, 25, 40, 30, 50, 35, 60, 40},

	// Loudness tiers, see IntensityTier.
	"low":    {30, 50, 30},
	"medium": {60, 40, 60},
	"high":   {80, 20, 80, 20, 80},
	"burst":  {100, 15, 100, 15, 100, 15, 100},
}

// PresetNames returns the preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Presets returns a copy of every preset pattern keyed by name.
func Presets() map[string][]uint32 {
	out := make(map[string][]uint32, len(presets))
	for name, p := range presets {
		out[name] = slices.Clone(p)
	}
	return out
}

// Preset returns a copy of the named pattern.
func Preset(name string) ([]uint32, bool) {
	p, ok := presets[name]
	if !ok {
		return nil, false
	}
	return slices.Clone(p), true
}

// Tier names returned by IntensityTier.
const (
	TierSilence = "silence"
	TierLow     = "low"
	TierMedium  = "medium"
	TierHigh    = "high"
	TierBurst   = "burst"
)

// IntensityTier buckets an RMS value into a loudness tier. Every tier other
// than silence names a preset.
func IntensityTier(rms float64) string {
	switch {
	case rms < 0.01:
		return TierSilence
	case rms < 0.04:
		return TierLow
	case rms < 0.10:
		return TierMedium
	case rms < 0.20:
		return TierHigh
	default:
		return TierBurst
	}
}

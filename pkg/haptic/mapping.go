package haptic

import "math"

// rmsCeiling is the RMS that maps to the longest pulse.
const rmsCeiling = 0.3

// Pitch-factor range: the lowest pitch keeps full pulse length, the highest
// shortens it to 70%.
const (
	pitchFactorLow  = 1.0
	pitchFactorHigh = 0.7
)

// Map linearly maps v from [inLo, inHi] onto [outLo, outHi]. v is clamped to
// the input range first, so the result never leaves the output range. The
// output range may be descending.
func Map(v, inLo, inHi, outLo, outHi float64) float64 {
	if inHi == inLo {
		return outLo
	}
	t := (v - inLo) / (inHi - inLo)
	t = min(1, max(0, t))
	return outLo + t*(outHi-outLo)
}

// Pattern is the actuation computed from a smoothed pitch and loudness.
type Pattern struct {
	CyclePeriodMs     float64
	PitchFactor       float64
	OnDurationMs      float64
	OffDurationMs     float64
	Pulses            []uint32
	PatternDurationMs uint32
}

// ComputePattern maps smoothed pitch and RMS to a pulse pattern under cfg.
// Higher pitch gives a shorter cycle and slightly shorter pulses; higher RMS
// gives longer pulses. Pulses alternates on and off durations and has
// 2·PulsesPerBatch−1 entries, ending on an on-pulse.
func ComputePattern(cfg Config, pitch, rms float64) Pattern {
	cycle := Map(pitch, cfg.MinPitch, cfg.MaxPitch, cfg.MaxCycleMs, cfg.MinCycleMs)
	pf := Map(pitch, cfg.MinPitch, cfg.MaxPitch, pitchFactorLow, pitchFactorHigh)
	on := Map(rms, 0, rmsCeiling, cfg.MinOnMs, cfg.MaxOnMs) * pf
	on = min(cfg.MaxOnMs, max(cfg.MinOnMs, on))
	off := max(1, cycle-on)

	onMs := max(1, uint32(math.Round(on)))
	offMs := max(1, uint32(math.Round(off)))

	n := 2*max(1, cfg.PulsesPerBatch) - 1
	pulses := make([]uint32, n)
	var total uint32
	for i := range pulses {
		if i%2 == 0 {
			pulses[i] = onMs
		} else {
			pulses[i] = offMs
		}
		total += pulses[i]
	}

	return Pattern{
		CyclePeriodMs:     cycle,
		PitchFactor:       pf,
		OnDurationMs:      on,
		OffDurationMs:     off,
		Pulses:            pulses,
		PatternDurationMs: total,
	}
}

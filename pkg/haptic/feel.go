package haptic

// SilentLabel is the feel label of a resting actuator.
const SilentLabel = "Silent"

// FeelLabel describes a vibration in words, e.g. "Deep · moderate". The
// pitch band splits [MinPitch, MaxPitch] into thirds; the intensity band
// splits smoothed RMS at 0.05 and 0.15.
func FeelLabel(cfg Config, pitch, rms float64, vibrating bool) string {
	if !vibrating {
		return SilentLabel
	}

	t := Map(pitch, cfg.MinPitch, cfg.MaxPitch, 0, 1)
	band := "Light"
	switch {
	case t < 1.0/3:
		band = "Deep"
	case t < 2.0/3:
		band = "Medium"
	}

	intensity := "strong"
	switch {
	case rms < 0.05:
		intensity = "gentle"
	case rms < 0.15:
		intensity = "moderate"
	}
	return band + " · " + intensity
}

package pitch

import "math"

// YIN estimates the fundamental frequency of a window using the cumulative
// mean normalised difference function. A YIN reuses its scratch buffer and
// must not be shared between goroutines.
type YIN struct {
	sampleRate        float64
	minFrequency      float64
	maxFrequency      float64
	threshold         float64
	lenient           bool
	fallbackThreshold float64

	cmnd []float64
}

// NewYIN returns a detector for the bounds and thresholds in cfg.
func NewYIN(cfg Config) *YIN {
	return &YIN{
		sampleRate:        float64(cfg.SampleRate),
		minFrequency:      cfg.MinFrequency,
		maxFrequency:      cfg.MaxFrequency,
		threshold:         cfg.YINThreshold,
		lenient:           cfg.LenientFallback,
		fallbackThreshold: cfg.FallbackThreshold,
	}
}

// Detect returns the frequency in Hz and a confidence in [0, 1]. ok is false
// when no pitch could be found; this is not an error.
func (y *YIN) Detect(window []float64) (freq, confidence float64, ok bool) {
	half := len(window) / 2
	minLag := max(2, int(y.sampleRate/y.maxFrequency))
	maxLag := min(int(math.Ceil(y.sampleRate/y.minFrequency)), half-1)
	if minLag >= maxLag {
		return 0, 0, false
	}

	// One lag past maxLag so the chosen minimum always has a right neighbour.
	limit := min(maxLag+1, half)
	if cap(y.cmnd) < limit+1 {
		y.cmnd = make([]float64, limit+1)
	}
	d := y.cmnd[:limit+1]

	d[0] = 1
	var running float64
	for tau := 1; tau <= limit; tau++ {
		var sum float64
		for j := range half {
			delta := window[j] - window[j+tau]
			sum += delta * delta
		}
		running += sum
		if running == 0 {
			d[tau] = 1
		} else {
			d[tau] = sum * float64(tau) / running
		}
	}

	tau := -1
	for t := minLag; t <= maxLag; t++ {
		if d[t] < y.threshold {
			for t+1 <= maxLag && d[t+1] < d[t] {
				t++
			}
			tau = t
			break
		}
	}

	if tau < 0 {
		if !y.lenient {
			return 0, 0, false
		}
		best := minLag
		for t := minLag + 1; t <= maxLag; t++ {
			if d[t] < d[best] {
				best = t
			}
		}
		if !(d[best] < y.fallbackThreshold) {
			return 0, 0, false
		}
		tau = best
	}

	refined := float64(tau)
	if tau-1 >= 1 && tau+1 <= limit {
		s0, s1, s2 := d[tau-1], d[tau], d[tau+1]
		denom := 2 * (2*s1 - s2 - s0)
		if denom != 0 {
			shift := (s2 - s0) / denom
			if !math.IsNaN(shift) && !math.IsInf(shift, 0) && math.Abs(shift) < 1 {
				refined += shift
			}
		}
	}

	// tau is inside the lag band; interpolation may step just past its ends.
	refined = min(max(refined, float64(minLag)), float64(maxLag))
	freq = y.sampleRate / refined
	if math.IsNaN(freq) || math.IsInf(freq, 0) {
		return 0, 0, false
	}
	freq = min(max(freq, y.minFrequency), y.maxFrequency)
	confidence = min(1, max(0, 1-d[tau]))
	return freq, confidence, true
}

package pitch

import (
	"math"
	"time"
)

// voicedConfidence is the confidence a detected pitch must exceed for the
// frame to count as voiced.
const voicedConfidence = 0.5

// Analyzer turns sample windows into [Frame]s. It carries the trailing
// window of voiced pitches used for the stability measure, so one Analyzer
// serves one stream. Not safe for concurrent use.
type Analyzer struct {
	cfg    Config
	yin    *YIN
	recent []float64
	next   int
	filled int
}

// NewAnalyzer returns an Analyzer for cfg. cfg is assumed valid.
func NewAnalyzer(cfg Config) *Analyzer {
	return &Analyzer{
		cfg:    cfg,
		yin:    NewYIN(cfg),
		recent: make([]float64, cfg.StabilityWindow),
	}
}

// Analyze computes one frame from window, stamped with ts.
func (a *Analyzer) Analyze(window []float64, ts time.Duration) Frame {
	f := Frame{RMS: RMS(window), Timestamp: ts}
	if f.RMS < a.cfg.SilenceThreshold {
		return f
	}

	freq, conf, ok := a.yin.Detect(window)
	if !ok {
		f.PitchStability = a.stability()
		return f
	}
	f.Confidence = conf
	if conf <= voicedConfidence {
		f.PitchStability = a.stability()
		return f
	}

	f.Voiced = true
	f.Pitch = freq
	a.push(freq)
	f.PitchStability = a.stability()

	midi := MIDINote(freq)
	name := NoteName(midi)
	f.MIDINote = &midi
	f.NoteName = &name
	return f
}

// Reset forgets the voiced pitch window.
func (a *Analyzer) Reset() {
	a.next, a.filled = 0, 0
}

func (a *Analyzer) push(freq float64) {
	a.recent[a.next] = freq
	a.next = (a.next + 1) % len(a.recent)
	if a.filled < len(a.recent) {
		a.filled++
	}
}

// stability is the population standard deviation of the trailing voiced
// pitches, or 0 with fewer than two.
func (a *Analyzer) stability() float64 {
	if a.filled < 2 {
		return 0
	}
	var mean float64
	for _, p := range a.recent[:a.filled] {
		mean += p
	}
	mean /= float64(a.filled)
	var variance float64
	for _, p := range a.recent[:a.filled] {
		d := p - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(a.filled))
}

// RMS returns the root mean square of samples, or 0 for an empty slice.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

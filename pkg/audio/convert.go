package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// pcm16Scale maps int16 samples onto [-1, 1).
const pcm16Scale = 1.0 / 32768.0

// Format describes the sample rate and channel count of a chunk stream.
type Format struct {
	SampleRate int
	Channels   int
}

// FormatConverter converts chunks to a mono stream at the target rate. It
// logs a warning on the first format mismatch and on the first malformed
// chunk. Create one per stream; not designed for shared use across goroutines.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts c to mono at the target sample rate. If c already matches
// the target, it is returned unchanged (zero allocation). Chunks whose sample
// count is not a multiple of the channel count are dropped (empty Samples).
// Conversion order: downmix first, then resample.
func (fc *FormatConverter) Convert(c Chunk) Chunk {
	channels := c.Channels
	if channels <= 0 {
		channels = 1
	}
	if len(c.Samples)%channels != 0 {
		fc.warnedCorrupt.Do(func() {
			slog.Warn("audio format converter: partial sample frame, dropping chunk",
				"samples", len(c.Samples),
				"channels", channels,
			)
		})
		return Chunk{SampleRate: fc.Target.SampleRate, Channels: 1, Timestamp: c.Timestamp}
	}

	// Fast path: already mono at the target rate.
	if channels == 1 && (c.SampleRate == fc.Target.SampleRate || c.SampleRate <= 0) {
		c.Channels = 1
		if c.SampleRate <= 0 {
			c.SampleRate = fc.Target.SampleRate
		}
		return c
	}

	fc.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(c.SampleRate, channels),
			"to", formatString(fc.Target.SampleRate, 1),
		)
	})

	samples := c.Samples
	if channels > 1 {
		samples = DownmixMono(samples, channels)
	}
	if c.SampleRate != fc.Target.SampleRate {
		samples = Resample(samples, c.SampleRate, fc.Target.SampleRate)
	}
	return Chunk{
		Samples:    samples,
		SampleRate: fc.Target.SampleRate,
		Channels:   1,
		Timestamp:  c.Timestamp,
	}
}

// DecodePCM16 converts little-endian int16 PCM to normalised float samples.
// A trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []float64 {
	out := make([]float64, len(pcm)/2)
	for i := range out {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float64(s) * pcm16Scale
	}
	return out
}

// Int16ToFloat converts int16 samples (as produced by an Opus decoder) to
// normalised float samples.
func Int16ToFloat(pcm []int16) []float64 {
	out := make([]float64, len(pcm))
	for i, s := range pcm {
		out[i] = float64(s) * pcm16Scale
	}
	return out
}

// DownmixMono averages interleaved frames of the given channel count into a
// mono signal. Trailing partial frames are ignored.
func DownmixMono(samples []float64, channels int) []float64 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float64, frames)
	inv := 1.0 / float64(channels)
	for i := range frames {
		var sum float64
		for ch := range channels {
			sum += samples[i*channels+ch]
		}
		out[i] = sum * inv
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate using linear
// interpolation. If either rate is non-positive or they are equal, the input
// is returned unchanged.
func Resample(samples []float64, srcRate, dstRate int) []float64 {
	if srcRate <= 0 || dstRate <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float64, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	last := len(samples) - 1

	for i := range dstLen {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		if srcIdx >= last {
			out[i] = samples[last]
			continue
		}
		frac := srcPos - float64(srcIdx)
		out[i] = samples[srcIdx]*(1-frac) + samples[srcIdx+1]*frac
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}

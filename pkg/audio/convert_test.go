package audio_test

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/hapticphonix/larynx/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestDecodePCM16(t *testing.T) {
	t.Parallel()
	got := audio.DecodePCM16(samplesToBytes([]int16{0, 16384, -32768}))
	want := []float64{0, 0.5, -1}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !almostEqual(got[i], want[i]) {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDecodePCM16_OddLengthInput(t *testing.T) {
	t.Parallel()
	// 5 bytes = 2 complete samples + 1 trailing byte.
	pcm := []byte{0x00, 0x40, 0x00, 0xC0, 0xFF}
	got := audio.DecodePCM16(pcm)
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
}

func TestInt16ToFloat(t *testing.T) {
	t.Parallel()
	got := audio.Int16ToFloat([]int16{-16384, 8192})
	if !almostEqual(got[0], -0.5) || !almostEqual(got[1], 0.25) {
		t.Errorf("got %v, want [-0.5 0.25]", got)
	}
}

func TestDownmixMono(t *testing.T) {
	t.Parallel()
	// Two stereo frames: L=0.2,R=0.4 and L=-0.2,R=-0.4
	got := audio.DownmixMono([]float64{0.2, 0.4, -0.2, -0.4}, 2)
	want := []float64{0.3, -0.3}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !almostEqual(got[i], want[i]) {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestResample_SameRate(t *testing.T) {
	t.Parallel()
	in := []float64{0.1, 0.2, 0.3}
	out := audio.Resample(in, 48000, 48000)
	if &out[0] != &in[0] {
		t.Error("expected same slice for matching rates")
	}
}

func TestResample_Upsample(t *testing.T) {
	t.Parallel()
	// 2 samples at 16kHz → 6 samples at 48kHz (3x)
	out := audio.Resample([]float64{0.1, 0.4}, 16000, 48000)
	if len(out) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(out))
	}
	if !almostEqual(out[0], 0.1) {
		t.Errorf("first sample: got %v, want 0.1", out[0])
	}
	if !almostEqual(out[1], 0.2) {
		t.Errorf("second sample: got %v, want 0.2", out[1])
	}
	if !almostEqual(out[5], 0.4) {
		t.Errorf("last sample: got %v, want 0.4", out[5])
	}
}

func TestResample_Downsample(t *testing.T) {
	t.Parallel()
	out := audio.Resample([]float64{1, 2, 3, 4, 5, 6}, 48000, 16000)
	if len(out) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(out))
	}
}

func TestResample_ZeroRate(t *testing.T) {
	t.Parallel()
	in := []float64{0.1, 0.2}
	for _, tc := range []struct{ src, dst int }{{0, 48000}, {48000, 0}, {-1, 48000}} {
		if out := audio.Resample(in, tc.src, tc.dst); len(out) != len(in) {
			t.Errorf("Resample(%d→%d): expected unchanged output, got len %d", tc.src, tc.dst, len(out))
		}
	}
}

func TestFormatConverter_NoOp(t *testing.T) {
	t.Parallel()
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 48000, Channels: 1}}
	c := audio.Chunk{Samples: []float64{0.1, 0.2}, SampleRate: 48000, Channels: 1}
	result := conv.Convert(c)
	if &result.Samples[0] != &c.Samples[0] {
		t.Error("expected same slice (zero allocation) for matching format")
	}
}

func TestFormatConverter_StereoResampled(t *testing.T) {
	t.Parallel()
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 48000, Channels: 1}}
	c := audio.Chunk{
		Samples:    []float64{0.2, 0.4, 0.2, 0.4},
		SampleRate: 24000,
		Channels:   2,
	}
	result := conv.Convert(c)
	if result.SampleRate != 48000 || result.Channels != 1 {
		t.Fatalf("unexpected format: %dHz %dch", result.SampleRate, result.Channels)
	}
	if len(result.Samples) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(result.Samples))
	}
	for i, s := range result.Samples {
		if !almostEqual(s, 0.3) {
			t.Errorf("sample %d: got %v, want 0.3", i, s)
		}
	}
}

func TestFormatConverter_PartialFrameDropped(t *testing.T) {
	t.Parallel()
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 48000, Channels: 1}}
	result := conv.Convert(audio.Chunk{Samples: []float64{0.1, 0.2, 0.3}, SampleRate: 48000, Channels: 2})
	if len(result.Samples) != 0 {
		t.Errorf("expected empty samples for partial stereo frame, got %d", len(result.Samples))
	}
	if result.SampleRate != 48000 {
		t.Errorf("expected target sample rate 48000, got %d", result.SampleRate)
	}
}

func TestChunk_Frames(t *testing.T) {
	t.Parallel()
	if got := (audio.Chunk{Samples: make([]float64, 10), Channels: 2}).Frames(); got != 5 {
		t.Errorf("Frames() = %d, want 5", got)
	}
	if got := (audio.Chunk{Samples: make([]float64, 10)}).Frames(); got != 10 {
		t.Errorf("Frames() = %d, want 10", got)
	}
}

func TestDeviceError_Is(t *testing.T) {
	t.Parallel()
	cause := errors.New("exit status 1")
	err := error(audio.NewDeviceError(audio.DeviceBusy, "ffmpeg:pulse/default", cause))

	if !errors.Is(err, audio.ErrDeviceBusy) {
		t.Error("expected errors.Is(err, ErrDeviceBusy)")
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is(err, cause)")
	}
	if errors.Is(err, audio.ErrPermissionDenied) {
		t.Error("did not expect ErrPermissionDenied")
	}
	var de *audio.DeviceError
	if !errors.As(err, &de) || de.Kind != audio.DeviceBusy {
		t.Errorf("errors.As failed or wrong kind: %v", de)
	}
}

package wavfile_test

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"

	"github.com/hapticphonix/larynx/pkg/audio"
	"github.com/hapticphonix/larynx/pkg/audio/wavfile"
)

// writeSine writes a mono 16-bit WAV containing frames samples of a sine at freq.
func writeSine(t *testing.T, sampleRate, frames int, freq float64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	pos := 0
	src := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if pos >= frames {
			return 0, false
		}
		n := min(len(samples), frames-pos)
		for i := range n {
			v := 0.5 * math.Sin(2*math.Pi*freq*float64(pos+i)/float64(sampleRate))
			samples[i] = [2]float64{v, v}
		}
		pos += n
		return n, true
	})

	format := beep.Format{SampleRate: beep.SampleRate(sampleRate), NumChannels: 1, Precision: 2}
	if err := wav.Encode(f, src, format); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return path
}

func collect(t *testing.T, s audio.Stream, timeout time.Duration) []audio.Chunk {
	t.Helper()
	var out []audio.Chunk
	deadline := time.After(timeout)
	for {
		select {
		case c, ok := <-s.Chunks():
			if !ok {
				return out
			}
			out = append(out, c)
		case <-deadline:
			t.Fatalf("timed out after %d chunks", len(out))
		}
	}
}

func TestOpen_DeliversWholeFile(t *testing.T) {
	t.Parallel()

	path := writeSine(t, 8000, 800, 200)
	s, err := wavfile.New(path).Open(context.Background(), audio.CaptureConfig{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	chunks := collect(t, s, 2*time.Second)
	total := 0
	for i, c := range chunks {
		if c.SampleRate != 8000 || c.Channels != 1 {
			t.Fatalf("chunk %d: format %dHz %dch", i, c.SampleRate, c.Channels)
		}
		total += len(c.Samples)
	}
	if total != 800 {
		t.Errorf("got %d samples, want 800", total)
	}
	if got := chunks[1].Timestamp; got != 10*time.Millisecond {
		t.Errorf("second chunk timestamp = %v, want 10ms", got)
	}

	var peak float64
	for _, c := range chunks {
		for _, v := range c.Samples {
			peak = max(peak, math.Abs(v))
		}
	}
	if math.Abs(peak-0.5) > 0.01 {
		t.Errorf("peak = %v, want ~0.5", peak)
	}
}

func TestOpen_LoopKeepsStreaming(t *testing.T) {
	t.Parallel()

	path := writeSine(t, 8000, 160, 200)
	s, err := wavfile.New(path, wavfile.WithLoop(true)).Open(context.Background(), audio.CaptureConfig{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	total := 0
	for total < 800 {
		select {
		case c, ok := <-s.Chunks():
			if !ok {
				t.Fatalf("stream ended after %d samples despite loop", total)
			}
			total += len(c.Samples)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out")
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestOpen_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := wavfile.New(filepath.Join(t.TempDir(), "missing.wav")).Open(context.Background(), audio.CaptureConfig{})
	if !errors.Is(err, audio.ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}
}

func TestOpen_NotAWav(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "junk.wav")
	if err := os.WriteFile(path, []byte("definitely not RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := wavfile.New(path).Open(context.Background(), audio.CaptureConfig{})
	if err == nil {
		t.Fatal("expected decode error")
	}
	var de *audio.DeviceError
	if errors.As(err, &de) {
		t.Errorf("decode failure should not be a DeviceError, got %v", de)
	}
}

func TestClose_StopsRealtimeReplay(t *testing.T) {
	t.Parallel()

	path := writeSine(t, 8000, 8000, 200)
	s, err := wavfile.New(path, wavfile.WithRealtime(true)).Open(context.Background(), audio.CaptureConfig{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	<-s.Chunks()

	done := make(chan error, 1)
	go func() { done <- s.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("close: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("close did not return")
	}
}

package pitch_test

import (
	"sync"
	"testing"
	"time"

	"github.com/hapticphonix/larynx/pkg/pitch"
)

func frameAt(i int) pitch.Frame {
	return pitch.Frame{RMS: float64(i), Timestamp: time.Duration(i) * time.Millisecond}
}

func TestHistory_EvictsOldest(t *testing.T) {
	t.Parallel()

	h := pitch.NewHistory(3)
	for i := range 5 {
		h.Append(frameAt(i))
	}

	if h.Len() != 3 || h.Cap() != 3 {
		t.Fatalf("Len/Cap = %d/%d, want 3/3", h.Len(), h.Cap())
	}
	got := h.Snapshot()
	for i, want := range []float64{2, 3, 4} {
		if got[i].RMS != want {
			t.Errorf("snapshot[%d].RMS = %v, want %v", i, got[i].RMS, want)
		}
	}
}

func TestHistory_Last(t *testing.T) {
	t.Parallel()

	h := pitch.NewHistory(10)
	for i := range 4 {
		h.Append(frameAt(i))
	}

	tests := []struct {
		n    int
		want []float64
	}{
		{2, []float64{2, 3}},
		{0, []float64{}},
		{-1, []float64{0, 1, 2, 3}},
		{100, []float64{0, 1, 2, 3}},
	}
	for _, tc := range tests {
		got := h.Last(tc.n)
		if len(got) != len(tc.want) {
			t.Errorf("Last(%d) returned %d frames, want %d", tc.n, len(got), len(tc.want))
			continue
		}
		for i := range got {
			if got[i].RMS != tc.want[i] {
				t.Errorf("Last(%d)[%d].RMS = %v, want %v", tc.n, i, got[i].RMS, tc.want[i])
			}
		}
	}
}

func TestHistory_SnapshotIsACopy(t *testing.T) {
	t.Parallel()

	h := pitch.NewHistory(4)
	midi, name := 69.0, "A4"
	h.Append(pitch.Frame{Pitch: 440, Voiced: true, MIDINote: &midi, NoteName: &name})

	snap := h.Snapshot()
	snap[0].Pitch = 1
	*snap[0].MIDINote = 0
	*snap[0].NoteName = "X"

	again := h.Snapshot()[0]
	if again.Pitch != 440 || *again.MIDINote != 69 || *again.NoteName != "A4" {
		t.Errorf("mutating a snapshot leaked into the buffer: %+v", again)
	}
}

func TestHistory_Clear(t *testing.T) {
	t.Parallel()

	h := pitch.NewHistory(2)
	h.Append(frameAt(1))
	h.Clear()
	if h.Len() != 0 || len(h.Snapshot()) != 0 {
		t.Errorf("expected empty history after Clear")
	}
	h.Append(frameAt(7))
	if got := h.Snapshot(); len(got) != 1 || got[0].RMS != 7 {
		t.Errorf("unexpected snapshot after reuse: %+v", got)
	}
}

func TestHistory_ConcurrentAppendAndRead(t *testing.T) {
	t.Parallel()

	h := pitch.NewHistory(50)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := range 1000 {
			h.Append(frameAt(i))
		}
	}()
	go func() {
		defer wg.Done()
		for range 200 {
			snap := h.Snapshot()
			for i := 1; i < len(snap); i++ {
				if snap[i].RMS <= snap[i-1].RMS {
					t.Errorf("snapshot out of order at %d", i)
					return
				}
			}
		}
	}()
	wg.Wait()
	if h.Len() != 50 {
		t.Errorf("Len = %d, want 50", h.Len())
	}
}

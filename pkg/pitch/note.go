package pitch

import (
	"math"
	"strconv"
)

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// MIDINote returns the fractional MIDI note number of freq (A4 = 440 Hz = 69).
func MIDINote(freq float64) float64 {
	return 69 + 12*math.Log2(freq/440)
}

// NoteName returns the name of the nearest equal-tempered note, e.g. "A4".
func NoteName(midi float64) string {
	n := int(math.Round(midi))
	octave := n/12 - 1
	idx := n % 12
	if idx < 0 {
		idx += 12
		octave--
	}
	return noteNames[idx] + strconv.Itoa(octave)
}

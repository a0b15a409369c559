package pitch

import (
	"encoding/json"
	"time"
)

// Frame is the result of analysing one window of audio.
//
// Pitch is zero whenever Voiced is false, and MIDINote and NoteName are set
// exactly when Voiced is true.
type Frame struct {
	Pitch          float64       `json:"pitch"`
	RMS            float64       `json:"rms"`
	Confidence     float64       `json:"confidence"`
	Voiced         bool          `json:"voiced"`
	PitchStability float64       `json:"pitch_stability"`
	MIDINote       *float64      `json:"midi_note"`
	NoteName       *string       `json:"note_name"`
	Timestamp      time.Duration `json:"-"`
}

type frameAlias Frame

type frameJSON struct {
	frameAlias
	Timestamp float64 `json:"timestamp"`
}

// MarshalJSON encodes Timestamp as seconds since capture start.
func (f Frame) MarshalJSON() ([]byte, error) {
	return json.Marshal(frameJSON{frameAlias: frameAlias(f), Timestamp: f.Timestamp.Seconds()})
}

// UnmarshalJSON decodes the representation produced by MarshalJSON.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var v frameJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Frame(v.frameAlias)
	f.Timestamp = time.Duration(v.Timestamp * float64(time.Second))
	return nil
}

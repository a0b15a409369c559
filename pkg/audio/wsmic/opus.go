package wsmic

import (
	"fmt"

	"layeh.com/gopus"
)

// maxOpusFrame is the largest Opus frame (120 ms) in samples per channel at
// 48 kHz. Decode trims the output to the packet's real duration.
const maxOpusFrame = 5760

// opusDecoder decodes one client's Opus packets. Decoder state carries across
// packets, so each connection owns its own instance.
type opusDecoder struct {
	dec      *gopus.Decoder
	channels int
}

func newOpusDecoder(sampleRate, channels int) (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("wsmic: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec, channels: channels}, nil
}

// decode returns interleaved int16 PCM for one Opus packet.
func (d *opusDecoder) decode(packet []byte) ([]int16, error) {
	pcm, err := d.dec.Decode(packet, maxOpusFrame, false)
	if err != nil {
		return nil, fmt.Errorf("wsmic: opus decode: %w", err)
	}
	return pcm, nil
}

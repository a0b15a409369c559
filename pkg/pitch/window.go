package pitch

import "time"

// framer cuts a continuous sample stream into overlapping windows of size
// samples, one every hop samples, once the first window is full.
type framer struct {
	size       int
	hop        int
	sampleRate int

	buf     []float64
	base    int64 // absolute index of buf[0]
	nextEnd int64 // absolute index one past the next window
}

func newFramer(size, hop, sampleRate int) *framer {
	return &framer{
		size:       size,
		hop:        hop,
		sampleRate: sampleRate,
		buf:        make([]float64, 0, size+hop),
		nextEnd:    int64(size),
	}
}

// push appends samples and calls emit for every completed window. The
// window slice is only valid during the call. ts is the capture time of the
// window's last sample.
func (f *framer) push(samples []float64, emit func(window []float64, ts time.Duration)) {
	f.buf = append(f.buf, samples...)
	for f.base+int64(len(f.buf)) >= f.nextEnd {
		end := int(f.nextEnd - f.base)
		emit(f.buf[end-f.size:end], time.Duration(f.nextEnd)*time.Second/time.Duration(f.sampleRate))
		f.nextEnd += int64(f.hop)
	}
	if drop := int(f.nextEnd - int64(f.size) - f.base); drop > 0 {
		n := copy(f.buf, f.buf[drop:])
		f.buf = f.buf[:n]
		f.base += int64(drop)
	}
}

package pitch

import "sync"

// History is a bounded ring buffer of recent frames. When full, appending
// evicts the oldest frame. Readers always receive copies. Safe for
// concurrent use.
type History struct {
	mu     sync.RWMutex
	frames []Frame
	start  int
	size   int
}

// NewHistory returns a History holding at most capacity frames. A
// non-positive capacity is treated as 1.
func NewHistory(capacity int) *History {
	return &History{frames: make([]Frame, max(1, capacity))}
}

// Append adds f, evicting the oldest frame when the buffer is full.
func (h *History) Append(f Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.size < len(h.frames) {
		h.frames[(h.start+h.size)%len(h.frames)] = f
		h.size++
		return
	}
	h.frames[h.start] = f
	h.start = (h.start + 1) % len(h.frames)
}

// Snapshot returns all frames, oldest first.
func (h *History) Snapshot() []Frame {
	return h.Last(-1)
}

// Last returns the newest n frames, oldest first. A negative n returns all.
func (h *History) Last(n int) []Frame {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n < 0 || n > h.size {
		n = h.size
	}
	out := make([]Frame, n)
	first := h.size - n
	for i := range n {
		out[i] = cloneFrame(h.frames[(h.start+first+i)%len(h.frames)])
	}
	return out
}

// Len returns the number of stored frames.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Cap returns the maximum number of stored frames.
func (h *History) Cap() int { return len(h.frames) }

// Clear drops all frames.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.frames)
	h.start, h.size = 0, 0
}

// cloneFrame deep-copies the optional fields so callers cannot reach into
// the buffer.
func cloneFrame(f Frame) Frame {
	if f.MIDINote != nil {
		m := *f.MIDINote
		f.MIDINote = &m
	}
	if f.NoteName != nil {
		n := *f.NoteName
		f.NoteName = &n
	}
	return f
}

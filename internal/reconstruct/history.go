package reconstruct

import "github.com/park285/cheese-board/internal/board"

// Depth is the number of frames a reconstruction votes over.
const Depth = 3

// History is a ring of the most recent frames. The zero value is ready to use.
type History struct {
	frames [Depth]board.Frame
	next   int
	count  int
}

// Push records f, evicting the oldest frame once the ring is full.
func (h *History) Push(f board.Frame) {
	h.frames[h.next] = f
	h.next = (h.next + 1) % Depth
	if h.count < Depth {
		h.count++
	}
}

// Filled reports whether Depth frames were pushed since creation or the last Reset.
func (h *History) Filled() bool { return h.count >= Depth }

func (h *History) Len() int { return h.count }

// Reset marks a gap; the next reconstruction waits for Depth fresh frames.
func (h *History) Reset() {
	*h = History{}
}

// Samples returns the stored frames, oldest first.
func (h *History) Samples() []board.Frame {
	out := make([]board.Frame, 0, h.count)
	start := (h.next - h.count + Depth) % Depth
	for i := 0; i < h.count; i++ {
		out = append(out, h.frames[(start+i)%Depth])
	}
	return out
}

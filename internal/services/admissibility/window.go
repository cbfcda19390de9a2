package admissibility

import "TAMObserver/internal/domain/models"

// WindowSize is the number of bars a session keeps for diagnostics.
const WindowSize = 64

// Window is a fixed-capacity ring buffer of bars, oldest evicted first.
type Window struct {
	buf   []models.Bar
	start int
	size  int
}

func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = WindowSize
	}
	return &Window{buf: make([]models.Bar, capacity)}
}

// Push appends bar, evicting the oldest bar once the window is full.
func (w *Window) Push(bar models.Bar) {
	capacity := len(w.buf)
	if w.size < capacity {
		w.buf[(w.start+w.size)%capacity] = bar
		w.size++
		return
	}
	w.buf[w.start] = bar
	w.start = (w.start + 1) % capacity
}

// Snapshot returns the bars in arrival order. The slice is a copy.
func (w *Window) Snapshot() []models.Bar {
	out := make([]models.Bar, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}

func (w *Window) Len() int      { return w.size }
func (w *Window) Capacity() int { return len(w.buf) }

// FillRatio is Len/Capacity; values below 1 mark diagnostics computed on a
// partial window.
func (w *Window) FillRatio() float64 {
	return float64(w.size) / float64(len(w.buf))
}

// internal/dsp/window.go
package dsp

import "errors"

// ErrInvalidWindowSize indicates window size must be positive
var ErrInvalidWindowSize = errors.New("window size must be positive")

// Window holds the most recent raw samples, oldest first.
// It grows until it reaches its capacity, then evicts the oldest
// sample on every push (strict FIFO).
type Window struct {
	buf  []float64
	size int
}

// NewWindow creates an empty window with the given capacity.
func NewWindow(size int) (*Window, error) {
	if size <= 0 {
		return nil, ErrInvalidWindowSize
	}
	return &Window{
		buf:  make([]float64, 0, size),
		size: size,
	}, nil
}

// Push appends a sample and reports whether the window is full.
func (w *Window) Push(v float64) bool {
	if len(w.buf) == w.size {
		// Slide by one, reusing the backing array
		copy(w.buf, w.buf[1:])
		w.buf = w.buf[:w.size-1]
	}
	w.buf = append(w.buf, v)
	return len(w.buf) == w.size
}

// Values returns a copy of the buffered samples, oldest first.
func (w *Window) Values() []float64 {
	out := make([]float64, len(w.buf))
	copy(out, w.buf)
	return out
}

// Samples returns the live buffer without copying.
// Callers must not modify or retain it across pushes.
func (w *Window) Samples() []float64 {
	return w.buf
}

// Len returns the number of buffered samples
func (w *Window) Len() int {
	return len(w.buf)
}

// Size returns the window capacity
func (w *Window) Size() int {
	return w.size
}

// Full reports whether the window has reached capacity
func (w *Window) Full() bool {
	return len(w.buf) == w.size
}

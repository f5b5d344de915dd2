package calibration

import "slices"

// DefaultWindowSize is the number of readings that must agree before a
// reading stream counts as settled.
const DefaultWindowSize = 10

// Window holds the most recent readings, newest first. A new window is filled
// with zeros, so it cannot converge before it has seen size positive readings.
type Window struct {
	values []float64
}

// NewWindow creates a zero-filled window of the given capacity.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{values: make([]float64, size)}
}

// Push inserts v at the front and discards the oldest reading.
func (w *Window) Push(v float64) {
	copy(w.values[1:], w.values[:len(w.values)-1])
	w.values[0] = v
}

// Values returns a copy of the readings, newest first.
func (w *Window) Values() []float64 {
	return slices.Clone(w.values)
}

// Len returns the window capacity.
func (w *Window) Len() int {
	return len(w.values)
}

// Spread returns max - min over the window.
func (w *Window) Spread() float64 {
	return slices.Max(w.values) - slices.Min(w.values)
}

// Converged reports whether every reading is positive and the spread is
// strictly below tolerance.
func (w *Window) Converged(tolerance float64) bool {
	for _, v := range w.values {
		if v <= 0 {
			return false
		}
	}
	return w.Spread() < tolerance
}

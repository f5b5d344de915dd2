package calibration

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewWindow(t *testing.T) {
	w := NewWindow(4)
	assert.Equal(t, 4, w.Len())
	assert.Equal(t, []float64{0, 0, 0, 0}, w.Values())

	w = NewWindow(0)
	assert.Equal(t, DefaultWindowSize, w.Len())
}

func TestWindow_PushIsMostRecentFirst(t *testing.T) {
	w := NewWindow(3)

	w.Push(1)
	assert.Equal(t, []float64{1, 0, 0}, w.Values())

	w.Push(2)
	w.Push(3)
	assert.Equal(t, []float64{3, 2, 1}, w.Values())

	w.Push(4)
	assert.Equal(t, []float64{4, 3, 2}, w.Values(), "oldest reading is discarded")
}

func TestWindow_SingleSlot(t *testing.T) {
	w := NewWindow(1)
	w.Push(7)
	w.Push(8)
	assert.Equal(t, []float64{8}, w.Values())
	assert.True(t, w.Converged(0.01))
}

func TestWindow_ValuesIsACopy(t *testing.T) {
	w := NewWindow(2)
	w.Push(5)
	v := w.Values()
	v[0] = 100
	assert.Equal(t, []float64{5, 0}, w.Values())
}

func TestWindow_Converged(t *testing.T) {
	fill := func(values ...float64) *Window {
		w := NewWindow(len(values))
		for i := len(values) - 1; i >= 0; i-- {
			w.Push(values[i])
		}
		return w
	}

	tests := []struct {
		name      string
		values    []float64
		tolerance float64
		want      bool
	}{
		{
			name:      "settled around 7",
			values:    []float64{7.01, 7.02, 6.99, 7.00, 7.01, 7.00, 7.02, 6.98, 7.01, 7.00},
			tolerance: 0.05,
			want:      true,
		},
		{
			name:      "spread too wide",
			values:    []float64{7.01, 7.02, 6.99, 7.00, 7.01, 7.00, 7.02, 6.90, 7.01, 7.00},
			tolerance: 0.05,
			want:      false,
		},
		{
			name:      "spread equal to tolerance",
			values:    []float64{4.00, 4.50},
			tolerance: 0.5,
			want:      false,
		},
		{
			name:      "contains zero",
			values:    []float64{7.00, 7.00, 0, 7.00},
			tolerance: 100,
			want:      false,
		},
		{
			name:      "contains negative",
			values:    []float64{7.00, -0.01, 7.00},
			tolerance: 100,
			want:      false,
		},
		{
			name:      "all zero",
			values:    []float64{0, 0, 0},
			tolerance: 1,
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := fill(tt.values...)
			assert.Equal(t, tt.values, w.Values())
			assert.Equal(t, tt.want, w.Converged(tt.tolerance))
		})
	}
}

func TestWindow_Spread(t *testing.T) {
	w := NewWindow(3)
	w.Push(7.1)
	w.Push(6.9)
	assert.InDelta(t, 7.1, w.Spread(), 1e-9, "zero padding counts")
	w.Push(7.0)
	assert.InDelta(t, 0.2, w.Spread(), 1e-9)
}

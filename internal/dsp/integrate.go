// internal/dsp/integrate.go
package dsp

// MovingSum is the boxcar "moving window integration":
// y[i] = Σ x[n] for n in [i−width, i), clipped to n ≥ 0.
// It is a sum, not an average. dst must not alias x.
func MovingSum(dst, x []float64, width int) []float64 {
	dst = grow(dst, len(x))
	for i := range x {
		lo := i - width
		if lo < 0 {
			lo = 0
		}
		var sum float64
		for _, v := range x[lo:i] {
			sum += v
		}
		dst[i] = sum
	}
	return dst
}

// Boxcar is a streaming running sum of the last width values.
type Boxcar struct {
	ring []float64
	pos  int
	sum  float64
}

// NewBoxcar creates a running sum over width values. width must be positive.
func NewBoxcar(width int) (*Boxcar, error) {
	if width <= 0 {
		return nil, ErrInvalidWindowSize
	}
	return &Boxcar{ring: make([]float64, width)}, nil
}

// Push adds v, evicts the oldest value and returns the current sum.
func (b *Boxcar) Push(v float64) float64 {
	b.sum += v - b.ring[b.pos]
	b.ring[b.pos] = v
	b.pos++
	if b.pos == len(b.ring) {
		b.pos = 0
		// Resum once per lap so rounding error cannot accumulate
		var sum float64
		for _, r := range b.ring {
			sum += r
		}
		b.sum = sum
	}
	return b.sum
}

// Sum returns the current running sum
func (b *Boxcar) Sum() float64 {
	return b.sum
}

// Reset zeroes the ring
func (b *Boxcar) Reset() {
	clear(b.ring)
	b.pos = 0
	b.sum = 0
}

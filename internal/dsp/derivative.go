// internal/dsp/derivative.go
package dsp

// Derivative applies the five-point difference
// y[i] = (fs/8)·(−x[i−2] − 2x[i−1] + 2x[i+1] + x[i+2])
// with zero padding for taps outside x. dst must not alias x.
func Derivative(dst, x []float64, sampleRate float64) []float64 {
	n := len(x)
	dst = grow(dst, n)
	scale := sampleRate / 8
	for i := range x {
		var t float64
		if i >= 2 {
			t -= x[i-2]
		}
		if i >= 1 {
			t -= 2 * x[i-1]
		}
		if i+1 < n {
			t += 2 * x[i+1]
		}
		if i+2 < n {
			t += x[i+2]
		}
		dst[i] = scale * t
	}
	return dst
}

// Square squares x pointwise into dst. dst may alias x.
func Square(dst, x []float64) []float64 {
	dst = grow(dst, len(x))
	for i, v := range x {
		dst[i] = v * v
	}
	return dst
}

// Differentiator is the causal form of Derivative: each call returns the
// derivative centred two samples back, together with the input delayed by
// the same two samples so both stay aligned.
type Differentiator struct {
	scale float64
	taps  [5]float64 // oldest first: x[n-4] .. x[n]
}

// NewDifferentiator creates a streaming differentiator with zeroed taps
func NewDifferentiator(sampleRate float64) *Differentiator {
	return &Differentiator{scale: sampleRate / 8}
}

// Process pushes x and returns (derivative, delayed input)
func (d *Differentiator) Process(x float64) (float64, float64) {
	copy(d.taps[:], d.taps[1:])
	d.taps[4] = x
	t := -d.taps[0] - 2*d.taps[1] + 2*d.taps[3] + d.taps[4]
	return d.scale * t, d.taps[2]
}

// Reset zeroes the delay taps
func (d *Differentiator) Reset() {
	d.taps = [5]float64{}
}

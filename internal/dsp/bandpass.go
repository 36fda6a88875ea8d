// internal/dsp/bandpass.go
package dsp

import (
	"errors"
	"math"
)

// QRS band defaults: centre of the QRS spectral energy and a wide band
const (
	// QRSCentreFrequency is the band-pass centre frequency in Hz
	QRSCentreFrequency = 5.0
	// QRSQuality is the band-pass quality factor (low Q = wide band)
	QRSQuality = 0.4
)

var (
	// ErrInvalidSampleRate indicates sample rate must be positive
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
	// ErrInvalidCentre indicates centre frequency must be positive and below Nyquist
	ErrInvalidCentre = errors.New("centre frequency must be positive and less than Nyquist frequency")
	// ErrInvalidQuality indicates quality factor must be positive
	ErrInvalidQuality = errors.New("quality factor must be positive")
)

// Coefficients is a second-order IIR section.
// A[0] is always 1 after normalisation.
type Coefficients struct {
	B [3]float64
	A [3]float64
}

// Bilinear discretises a second-order analogue prototype with the bilinear
// (Tustin) transform, s = 2·fs·(1−z⁻¹)/(1+z⁻¹), without pre-warping.
// num and den hold the s-domain coefficients in ascending powers of s.
func Bilinear(num, den [3]float64, sampleRate float64) Coefficients {
	k := 2 * sampleRate
	kk := k * k

	// Substitute and collect powers of z⁻¹
	expand := func(p [3]float64) [3]float64 {
		return [3]float64{
			p[2]*kk + p[1]*k + p[0],
			-2*p[2]*kk + 2*p[0],
			p[2]*kk - p[1]*k + p[0],
		}
	}
	b := expand(num)
	a := expand(den)

	var c Coefficients
	for i := range 3 {
		c.B[i] = b[i] / a[0]
		c.A[i] = a[i] / a[0]
	}
	return c
}

// BandpassCoefficients derives the band-pass section
// H(s) = (ω0/Q)·s / (s² + (ω0/Q)·s + ω0²) at the given sample rate.
func BandpassCoefficients(sampleRate, centre, q float64) (Coefficients, error) {
	if !(sampleRate > 0) || math.IsInf(sampleRate, 0) {
		return Coefficients{}, ErrInvalidSampleRate
	}
	if !(centre > 0) || centre >= sampleRate/2 {
		return Coefficients{}, ErrInvalidCentre
	}
	if !(q > 0) {
		return Coefficients{}, ErrInvalidQuality
	}

	w0 := 2 * math.Pi * centre
	num := [3]float64{0, w0 / q, 0}
	den := [3]float64{w0 * w0, w0 / q, 1}
	return Bilinear(num, den, sampleRate), nil
}

// Filter runs the section over x from zero initial state and writes the
// result into dst, which is grown if needed and must not alias x.
// Returns dst[:len(x)].
func (c Coefficients) Filter(dst, x []float64) []float64 {
	dst = grow(dst, len(x))
	for n := range x {
		y := c.B[0] * x[n]
		if n >= 1 {
			y += c.B[1]*x[n-1] - c.A[1]*dst[n-1]
		}
		if n >= 2 {
			y += c.B[2]*x[n-2] - c.A[2]*dst[n-2]
		}
		dst[n] = y
	}
	return dst
}

// Biquad is a streaming Direct Form I section that carries its
// delay line across calls.
type Biquad struct {
	c      Coefficients
	x1, x2 float64
	y1, y2 float64
}

// NewBiquad creates a streaming section with zero initial state
func NewBiquad(c Coefficients) *Biquad {
	return &Biquad{c: c}
}

// Process filters one sample
func (b *Biquad) Process(x float64) float64 {
	y := b.c.B[0]*x + b.c.B[1]*b.x1 + b.c.B[2]*b.x2 - b.c.A[1]*b.y1 - b.c.A[2]*b.y2
	b.x2 = b.x1
	b.x1 = x
	b.y2 = b.y1
	b.y1 = y
	return y
}

// Reset clears the delay line
func (b *Biquad) Reset() {
	b.x1, b.x2, b.y1, b.y2 = 0, 0, 0, 0
}

// grow returns a slice of length n, reusing dst's backing array when it fits
func grow(dst []float64, n int) []float64 {
	if cap(dst) < n {
		return make([]float64, n)
	}
	return dst[:n]
}

// Package ecgsim generates a synthetic, non-clinical ECG waveform.
package ecgsim

import (
	"errors"
	"math"
)

var (
	// ErrInvalidSampleRate indicates the sample rate must be positive
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
	// ErrInvalidHeartRate indicates the heart rate must be positive
	ErrInvalidHeartRate = errors.New("heart rate must be positive")
	// ErrInvalidNoise indicates the noise amplitude must be non-negative
	ErrInvalidNoise = errors.New("noise amplitude must be non-negative")
)

// wave is one Gaussian component of the cycle, positioned in phase [0,1).
type wave struct {
	amp, mu, sigma float64
}

// P, Q, R, S and T waves
var cycle = [...]wave{
	{0.08, 0.18, 0.03},
	{-0.12, 0.30, 0.01},
	{1.00, 0.32, 0.008},
	{-0.25, 0.35, 0.012},
	{0.25, 0.60, 0.06},
}

// Generator produces one sample per call at a fixed heart rate.
// Baseline wander and noise are deterministic, so two generators with the
// same parameters produce identical streams.
type Generator struct {
	fs    float64
	hr    float64
	noise float64
	phase float64
}

// New creates a generator. fs is the sample rate in Hz, hr the heart rate
// in beats per minute, noise the peak noise amplitude.
func New(fs, hr, noise float64) (*Generator, error) {
	if !(fs > 0) {
		return nil, ErrInvalidSampleRate
	}
	if !(hr > 0) {
		return nil, ErrInvalidHeartRate
	}
	if noise < 0 || math.IsNaN(noise) {
		return nil, ErrInvalidNoise
	}
	return &Generator{fs: fs, hr: hr, noise: noise}, nil
}

// Next advances one sample and returns it.
func (g *Generator) Next() float64 {
	g.phase += g.hr / 60.0 / g.fs
	if g.phase >= 1.0 {
		g.phase -= 1.0
	}
	t := g.phase

	v := 0.05 * math.Sin(2*math.Pi*0.33*t)
	for _, w := range cycle {
		v += w.amp * gauss(t, w.mu, w.sigma)
	}
	return v + g.noise*(2*fract(math.Sin(12345.678*t)*9876.543)-1)
}

// Fill writes len(dst) consecutive samples into dst.
func (g *Generator) Fill(dst []float64) {
	for i := range dst {
		dst[i] = g.Next()
	}
}

// SetHeartRate changes the rate from the next sample on. Non-positive
// values are ignored.
func (g *Generator) SetHeartRate(hr float64) {
	if hr > 0 {
		g.hr = hr
	}
}

// HeartRate returns the current heart rate in beats per minute
func (g *Generator) HeartRate() float64 {
	return g.hr
}

// SampleRate returns the sample rate in Hz
func (g *Generator) SampleRate() float64 {
	return g.fs
}

func gauss(x, mu, sigma float64) float64 {
	z := (x - mu) / sigma
	return math.Exp(-0.5 * z * z)
}

func fract(x float64) float64 { return x - math.Floor(x) }

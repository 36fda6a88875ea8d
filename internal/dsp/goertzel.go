// internal/dsp/goertzel.go
package dsp

import (
	"errors"
	"math"
)

var (
	// ErrInvalidBlockSize indicates block size must be positive
	ErrInvalidBlockSize = errors.New("block size must be positive")
	// ErrInvalidFrequency indicates frequency must be positive and below Nyquist
	ErrInvalidFrequency = errors.New("target frequency must be positive and less than Nyquist frequency")
	// ErrInsufficientSamples indicates not enough samples for the configured block size
	ErrInsufficientSamples = errors.New("insufficient samples for block size")
)

// GoertzelConfig holds configuration for a single-bin Goertzel measurement.
type GoertzelConfig struct {
	// TargetFrequency is the frequency to measure in Hz (from config: mains_frequency)
	TargetFrequency float64
	// SampleRate is the input sample rate in Hz (from config: capture_rate)
	SampleRate float64
	// BlockSize is the number of samples per measurement
	BlockSize int
}

// Goertzel measures the amplitude of one frequency over a block of samples.
// Used to estimate mains (50/60 Hz) interference on raw ECG input.
type Goertzel struct {
	config      GoertzelConfig
	coefficient float64 // 2·cos(ω)
	normalizer  float64 // 2/N so a unit sine reads ~1.0
}

// NewGoertzel creates a new Goertzel bin with the given configuration.
func NewGoertzel(cfg GoertzelConfig) (*Goertzel, error) {
	if cfg.BlockSize <= 0 {
		return nil, ErrInvalidBlockSize
	}
	if !(cfg.SampleRate > 0) {
		return nil, ErrInvalidSampleRate
	}
	if cfg.TargetFrequency <= 0 || cfg.TargetFrequency >= cfg.SampleRate/2 {
		return nil, ErrInvalidFrequency
	}

	omega := 2.0 * math.Pi * cfg.TargetFrequency / cfg.SampleRate

	return &Goertzel{
		config:      cfg,
		coefficient: 2.0 * math.Cos(omega),
		normalizer:  2.0 / float64(cfg.BlockSize),
	}, nil
}

// Magnitude returns the amplitude of the target frequency in the first
// BlockSize samples.
func (g *Goertzel) Magnitude(samples []float64) (float64, error) {
	if len(samples) < g.config.BlockSize {
		return 0, ErrInsufficientSamples
	}

	var s0, s1, s2 float64
	coeff := g.coefficient
	for _, x := range samples[:g.config.BlockSize] {
		s0 = x + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}

	power := s1*s1 + s2*s2 - coeff*s1*s2
	// Rounding can push power slightly negative
	if power < 0 {
		power = 0
	}
	return math.Sqrt(power) * g.normalizer, nil
}

// Ratio returns the target-frequency amplitude relative to the block's
// peak-equivalent amplitude (√2·RMS). A block of pure hum reads ~1.0;
// a silent block reads 0.
func (g *Goertzel) Ratio(samples []float64) (float64, error) {
	mag, err := g.Magnitude(samples)
	if err != nil {
		return 0, err
	}

	var sumSq float64
	for _, x := range samples[:g.config.BlockSize] {
		sumSq += x * x
	}
	if sumSq == 0 {
		return 0, nil
	}
	amplitude := math.Sqrt(2 * sumSq / float64(g.config.BlockSize))
	return mag / amplitude, nil
}

// Config returns the current configuration
func (g *Goertzel) Config() GoertzelConfig {
	return g.config
}

// BlockSize returns the configured block size
func (g *Goertzel) BlockSize() int {
	return g.config.BlockSize
}

package audio

import (
	"errors"
	"fmt"

	resampler "github.com/tphakala/go-audio-resampler"
)

// ErrInvalidRate indicates a non-positive sample rate
var ErrInvalidRate = errors.New("sample rates must be positive")

// Resampler converts captured audio to the detector rate. Equal rates
// pass through untouched.
type Resampler struct {
	engine     *resampler.SimpleResampler
	inputRate  float64
	outputRate float64
	buf        []float64
}

// NewResampler creates a mono resampler from inputRate to outputRate.
func NewResampler(inputRate, outputRate float64) (*Resampler, error) {
	if !(inputRate > 0) || !(outputRate > 0) {
		return nil, ErrInvalidRate
	}
	r := &Resampler{inputRate: inputRate, outputRate: outputRate}
	if inputRate == outputRate {
		return r, nil
	}

	// The detector band tops out near 40 Hz, so the low preset's
	// passband is ample.
	engine, err := resampler.NewEngine(inputRate, outputRate, resampler.QualityLow)
	if err != nil {
		return nil, fmt.Errorf("create resampler %.0f -> %.0f Hz: %w", inputRate, outputRate, err)
	}
	r.engine = engine
	return r, nil
}

// Process resamples one buffer. The returned slice may be shorter or
// empty while the filter fills.
func (r *Resampler) Process(samples []float32) ([]float64, error) {
	if cap(r.buf) < len(samples) {
		r.buf = make([]float64, len(samples))
	}
	r.buf = r.buf[:len(samples)]
	for i, v := range samples {
		r.buf[i] = float64(v)
	}

	if r.engine == nil {
		out := make([]float64, len(r.buf))
		copy(out, r.buf)
		return out, nil
	}
	return r.engine.Process(r.buf)
}

// Flush drains samples still held in the filter.
func (r *Resampler) Flush() ([]float64, error) {
	if r.engine == nil {
		return nil, nil
	}
	return r.engine.Flush()
}

// Reset clears the filter state.
func (r *Resampler) Reset() {
	if r.engine != nil {
		r.engine.Reset()
	}
}

// Ratio returns output rate over input rate.
func (r *Resampler) Ratio() float64 {
	return r.outputRate / r.inputRate
}

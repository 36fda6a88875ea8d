package audio

import (
	"math"

	"github.com/ColonelBlimp/qrsdetect/internal/dsp"
)

// humCycles is the number of mains cycles per measurement block.
const humCycles = 10

// HumReading is one mains interference measurement.
type HumReading struct {
	// Ratio of the mains-frequency amplitude to the block amplitude
	Ratio float64
	// High is set when Ratio exceeds the configured threshold
	High bool
}

// HumMeter measures mains interference on the raw capture stream in
// blocks of ten mains cycles.
type HumMeter struct {
	goertzel  *dsp.Goertzel
	threshold float64
	block     []float64
	last      HumReading
	measured  bool
}

// NewHumMeter creates a meter for mainsFrequency at sampleRate.
func NewHumMeter(sampleRate, mainsFrequency, threshold float64) (*HumMeter, error) {
	blockSize := 0
	if mainsFrequency > 0 {
		blockSize = int(math.Round(sampleRate * humCycles / mainsFrequency))
	}
	g, err := dsp.NewGoertzel(dsp.GoertzelConfig{
		TargetFrequency: mainsFrequency,
		SampleRate:      sampleRate,
		BlockSize:       blockSize,
	})
	if err != nil {
		return nil, err
	}
	return &HumMeter{
		goertzel:  g,
		threshold: threshold,
		block:     make([]float64, 0, blockSize),
	}, nil
}

// Write accumulates samples and returns the readings of every block
// completed by this call.
func (h *HumMeter) Write(samples []float32) []HumReading {
	var out []HumReading
	size := h.goertzel.BlockSize()
	for _, v := range samples {
		h.block = append(h.block, float64(v))
		if len(h.block) < size {
			continue
		}
		// The block is exactly BlockSize long, so Ratio cannot fail
		ratio, _ := h.goertzel.Ratio(h.block)
		h.last = HumReading{Ratio: ratio, High: ratio > h.threshold}
		h.measured = true
		out = append(out, h.last)
		h.block = h.block[:0]
	}
	return out
}

// Last returns the most recent reading and whether one exists.
func (h *HumMeter) Last() (HumReading, bool) {
	return h.last, h.measured
}

// BlockSize returns the number of samples per reading.
func (h *HumMeter) BlockSize() int {
	return h.goertzel.BlockSize()
}

package audio

import "fmt"

// LineInConfig holds configuration for conditioning a line-in stream.
type LineInConfig struct {
	// CaptureRate is the device rate in Hz (from config: capture_rate)
	CaptureRate float64
	// DetectorRate is the rate samples are delivered at (from config: sampling_rate)
	DetectorRate float64
	// MainsFrequency is the local mains frequency (from config: mains_frequency)
	MainsFrequency float64
	// HumThreshold flags interference above this ratio (from config: hum_threshold)
	HumThreshold float64
}

// LineInResult is the output of one captured buffer.
type LineInResult struct {
	// Samples at the detector rate
	Samples []float64
	// Hum holds readings for blocks completed by this buffer
	Hum []HumReading
}

// LineIn turns raw captured buffers into detector-rate samples, checking
// for mains hum and optionally recording the raw stream.
type LineIn struct {
	resampler *Resampler
	hum       *HumMeter
	recorder  *Recorder
}

// NewLineIn creates the conditioning chain. rec may be nil.
func NewLineIn(cfg LineInConfig, rec *Recorder) (*LineIn, error) {
	rs, err := NewResampler(cfg.CaptureRate, cfg.DetectorRate)
	if err != nil {
		return nil, err
	}
	hum, err := NewHumMeter(cfg.CaptureRate, cfg.MainsFrequency, cfg.HumThreshold)
	if err != nil {
		return nil, fmt.Errorf("hum meter: %w", err)
	}
	return &LineIn{resampler: rs, hum: hum, recorder: rec}, nil
}

// Process conditions one captured buffer.
func (l *LineIn) Process(samples []float32) (LineInResult, error) {
	if l.recorder != nil {
		if err := l.recorder.Write(samples); err != nil {
			return LineInResult{}, err
		}
	}
	out, err := l.resampler.Process(samples)
	if err != nil {
		return LineInResult{}, fmt.Errorf("resample: %w", err)
	}
	return LineInResult{Samples: out, Hum: l.hum.Write(samples)}, nil
}

// Flush drains the resampler at end of stream.
func (l *LineIn) Flush() ([]float64, error) {
	return l.resampler.Flush()
}

// Hum returns the latest mains reading.
func (l *LineIn) Hum() (HumReading, bool) {
	return l.hum.Last()
}

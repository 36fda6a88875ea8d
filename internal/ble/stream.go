package ble

import (
	"math"
	"sync"

	"github.com/ColonelBlimp/qrsdetect/internal/qrs"
)

// DetectorConfig rescales base to the sensor rate, keeping the
// integration window the same length in time.
func DetectorConfig(base qrs.Config) qrs.Config {
	window := base.WindowSize
	if base.SamplingRate > 0 {
		window = int(math.Round(float64(base.WindowSize) * ECGSampleRate / base.SamplingRate))
	}
	return qrs.Config{
		SamplingRate: ECGSampleRate,
		WindowSize:   max(window, 1),
		Mode:         base.Mode,
	}
}

// StreamStats counts decoded traffic.
type StreamStats struct {
	Frames  int64
	Samples int64
	Errors  int64
}

// Stream feeds PMD notifications into a detector. Samples stay in
// microvolts; the threshold levels start at unit scale and settle too
// slowly on millivolt input.
type Stream struct {
	mu       sync.Mutex
	detector *qrs.Detector
	stats    StreamStats
	buf      []float64
}

// NewStream creates a stream with a detector built from cfg.
func NewStream(cfg qrs.Config) (*Stream, error) {
	d, err := qrs.New(cfg)
	if err != nil {
		return nil, err
	}
	return &Stream{detector: d}, nil
}

// Handle decodes one notification and returns any accepted beats.
func (s *Stream) Handle(b []byte) ([]qrs.Beat, error) {
	frame, err := DecodeFrame(b)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.stats.Errors++
		return nil, err
	}
	s.stats.Frames++
	s.stats.Samples += int64(len(frame.Samples))

	s.buf = s.buf[:0]
	for _, v := range frame.Samples {
		s.buf = append(s.buf, float64(v))
	}
	return s.detector.ProcessBatch(s.buf), nil
}

// Stats returns the running counters.
func (s *Stream) Stats() StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

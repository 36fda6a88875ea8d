// internal/rhythm/tracker.go
// Package rhythm accumulates inter-beat statistics from accepted beats.
package rhythm

import (
	"errors"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ColonelBlimp/qrsdetect/internal/qrs"
)

// DefaultSmoothing is the EMA weight given to each new BPM reading
const DefaultSmoothing = 0.1

var (
	// ErrInvalidSamplingRate indicates sampling rate must be positive
	ErrInvalidSamplingRate = errors.New("sampling rate must be positive")
	// ErrInvalidHistorySize indicates the interval history must hold at least two entries
	ErrInvalidHistorySize = errors.New("history size must be at least 2")
	// ErrInvalidSmoothing indicates smoothing factor must be in (0, 1]
	ErrInvalidSmoothing = errors.New("smoothing must be greater than 0.0 and at most 1.0")
)

// Config holds configuration for a rhythm tracker.
type Config struct {
	// SamplingRate converts sample intervals to time (from config: sampling_rate)
	SamplingRate float64
	// HistorySize is the number of recent intervals kept for HRV (from config: history_size)
	HistorySize int
	// Smoothing is the EMA weight for the smoothed heart rate
	// Higher values = faster tracking, lower = more stable
	Smoothing float64
}

// Stats is a snapshot of the rhythm so far.
type Stats struct {
	// Beats is the number of beats seen
	Beats int
	// InitialIBI is the first inter-beat interval
	InitialIBI time.Duration
	// FinalIBI is the most recent inter-beat interval
	FinalIBI time.Duration
	// AverageIBI is the mean interval over the whole session
	AverageIBI time.Duration
	// BPM is the heart rate reported with the latest beat
	BPM int
	// SmoothedBPM is the exponentially smoothed heart rate
	SmoothedBPM float64
	// SDNN is the standard deviation of the recent intervals
	SDNN time.Duration
	// RMSSD is the root mean square of successive differences of the recent intervals
	RMSSD time.Duration
}

// Tracker turns a stream of accepted beats into rhythm statistics.
//
// The first beat only anchors the rhythm: its interval runs from the start
// of the stream rather than from a previous beat, so it is not counted as
// an inter-beat interval.
type Tracker struct {
	config Config
	mu     sync.Mutex

	beats     int
	intervals int     // number of inter-beat intervals recorded
	firstMs   float64 // first interval
	lastMs    float64 // latest interval
	totalMs   float64 // sum of all intervals
	bpm       int
	smoothed  float64

	// Recent intervals in milliseconds, ring ordered by pos
	history []float64
	pos     int
}

// NewTracker creates a tracker with the given configuration.
func NewTracker(cfg Config) (*Tracker, error) {
	if !(cfg.SamplingRate > 0) {
		return nil, ErrInvalidSamplingRate
	}
	if cfg.HistorySize < 2 {
		return nil, ErrInvalidHistorySize
	}
	if !(cfg.Smoothing > 0) || cfg.Smoothing > 1 {
		return nil, ErrInvalidSmoothing
	}

	return &Tracker{
		config:  cfg,
		history: make([]float64, 0, cfg.HistorySize),
	}, nil
}

// Add records an accepted beat and returns the updated statistics.
func (t *Tracker) Add(beat qrs.Beat) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.beats++
	t.bpm = beat.BPM
	if t.beats == 1 {
		return t.stats()
	}

	ms := float64(beat.Interval) * 1000 / t.config.SamplingRate
	if t.intervals == 0 {
		t.firstMs = ms
		t.smoothed = float64(beat.BPM)
	} else {
		s := t.config.Smoothing
		t.smoothed = (1-s)*t.smoothed + s*float64(beat.BPM)
	}
	t.intervals++
	t.lastMs = ms
	t.totalMs += ms
	t.push(ms)

	return t.stats()
}

// push appends to the interval ring, evicting the oldest when full
func (t *Tracker) push(ms float64) {
	if len(t.history) < cap(t.history) {
		t.history = append(t.history, ms)
		return
	}
	t.history[t.pos] = ms
	t.pos = (t.pos + 1) % len(t.history)
}

// ordered returns the recent intervals oldest first
func (t *Tracker) ordered() []float64 {
	out := make([]float64, 0, len(t.history))
	out = append(out, t.history[t.pos:]...)
	return append(out, t.history[:t.pos]...)
}

func (t *Tracker) stats() Stats {
	s := Stats{
		Beats:       t.beats,
		BPM:         t.bpm,
		SmoothedBPM: t.smoothed,
	}
	if t.intervals == 0 {
		return s
	}

	s.InitialIBI = msToDuration(t.firstMs)
	s.FinalIBI = msToDuration(t.lastMs)
	s.AverageIBI = msToDuration(t.totalMs / float64(t.intervals))

	if len(t.history) >= 2 {
		rr := t.ordered()
		s.SDNN = msToDuration(stat.StdDev(rr, nil))

		diffs := make([]float64, len(rr)-1)
		floats.SubTo(diffs, rr[1:], rr[:len(rr)-1])
		s.RMSSD = msToDuration(math.Sqrt(floats.Dot(diffs, diffs) / float64(len(diffs))))
	}
	return s
}

// Stats returns the current statistics (thread-safe).
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats()
}

// Reset clears all recorded beats.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.beats = 0
	t.intervals = 0
	t.firstMs, t.lastMs, t.totalMs = 0, 0, 0
	t.bpm = 0
	t.smoothed = 0
	t.history = t.history[:0]
	t.pos = 0
}

// Config returns the current configuration
func (t *Tracker) Config() Config {
	return t.config
}

func msToDuration(ms float64) time.Duration {
	return time.Duration(math.Round(ms * float64(time.Millisecond)))
}

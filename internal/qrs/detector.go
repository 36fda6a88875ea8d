// internal/qrs/detector.go
package qrs

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"github.com/ColonelBlimp/qrsdetect/internal/dsp"
)

// Heart rate acceptance bounds in beats per minute (both exclusive)
const (
	MinBPM = 40
	MaxBPM = 180
)

// Construction defaults
const (
	DefaultSamplingRate = 250.0
	DefaultWindowSize   = 38
)

var (
	// ErrInvalidSamplingRate indicates the sampling rate cannot carry the QRS band.
	// Rates must be finite and above 10 Hz, twice the 5 Hz band-pass centre;
	// at or below that the centre sits at or above Nyquist.
	ErrInvalidSamplingRate = errors.New("sampling rate must be finite and above twice the band-pass centre frequency")
	// ErrInvalidWindowSize indicates window size must be a positive number of samples
	ErrInvalidWindowSize = errors.New("window size must be positive")
	// ErrInvalidMode indicates an unknown processing mode
	ErrInvalidMode = errors.New("mode must be \"streaming\" or \"window\"")
)

// Mode selects how the filter chain is evaluated for each new sample.
type Mode int

const (
	// ModeStreaming runs every stage incrementally and updates the
	// threshold state once per sample.
	ModeStreaming Mode = iota
	// ModeWindow re-filters the whole window from zero state on every
	// sample and walks the threshold state across every index in it.
	ModeWindow
)

// String returns the configuration name of the mode
func (m Mode) String() string {
	switch m {
	case ModeStreaming:
		return "streaming"
	case ModeWindow:
		return "window"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts a configuration string into a Mode
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "streaming":
		return ModeStreaming, nil
	case "window":
		return ModeWindow, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Config holds construction parameters for a detector.
// All values should come from the application config file.
type Config struct {
	// SamplingRate of the input in Hz (from config: sampling_rate)
	SamplingRate float64
	// WindowSize is the sample window and boxcar width W (from config: window_size)
	WindowSize int
	// Mode selects streaming or whole-window evaluation (from config: mode)
	Mode Mode
}

// DefaultConfig returns the 250 Hz, 38-sample streaming configuration
func DefaultConfig() Config {
	return Config{
		SamplingRate: DefaultSamplingRate,
		WindowSize:   DefaultWindowSize,
		Mode:         ModeStreaming,
	}
}

// Validate checks the configuration without building a detector
func (c Config) Validate() error {
	fs := c.SamplingRate
	if math.IsNaN(fs) || math.IsInf(fs, 0) || fs <= 2*dsp.QRSCentreFrequency {
		return ErrInvalidSamplingRate
	}
	if c.WindowSize <= 0 {
		return ErrInvalidWindowSize
	}
	if c.Mode != ModeStreaming && c.Mode != ModeWindow {
		return ErrInvalidMode
	}
	return nil
}

// Beat is an accepted heartbeat.
type Beat struct {
	// Count is the running number of accepted beats, starting at 1
	Count int
	// BPM is the rounded instantaneous heart rate, always in (MinBPM, MaxBPM)
	BPM int
	// Interval is the number of samples since the previous accepted beat
	// (or since the detector started, for the first one)
	Interval int
}

// BeatCallback is called for every accepted beat.
// Called from the processing path, so it must be fast and non-blocking.
type BeatCallback func(beat Beat)

// Detector is a single-channel Pan-Tompkins QRS detector with a
// dual-channel adaptive threshold.
//
// A Detector is not safe for concurrent use. Feed each signal source
// into its own instance from a single goroutine.
type Detector struct {
	config Config
	coeffs dsp.Coefficients
	window *dsp.Window

	// Streaming stages
	biquad *dsp.Biquad
	diff   *dsp.Differentiator
	boxcar *dsp.Boxcar

	// Window-mode scratch, reused across calls
	filtered   []float64
	squared    []float64
	integrated []float64

	integ channel // channel 1: integrated signal
	filt  channel // channel 2: band-pass output, two samples late

	pulse   bool // combined indicator of the previous index
	elapsed int  // samples since the last accepted beat
	beats   int

	callbackPtr atomic.Pointer[BeatCallback]
}

// New creates a detector with the given configuration.
func New(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	coeffs, err := dsp.BandpassCoefficients(cfg.SamplingRate, dsp.QRSCentreFrequency, dsp.QRSQuality)
	if err != nil {
		return nil, fmt.Errorf("band-pass design: %w", err)
	}
	window, err := dsp.NewWindow(cfg.WindowSize)
	if err != nil {
		return nil, ErrInvalidWindowSize
	}
	boxcar, err := dsp.NewBoxcar(cfg.WindowSize)
	if err != nil {
		return nil, ErrInvalidWindowSize
	}

	d := &Detector{
		config: cfg,
		coeffs: coeffs,
		window: window,
		biquad: dsp.NewBiquad(coeffs),
		diff:   dsp.NewDifferentiator(cfg.SamplingRate),
		boxcar: boxcar,
	}
	if cfg.Mode == ModeWindow {
		d.filtered = make([]float64, cfg.WindowSize)
		d.squared = make([]float64, cfg.WindowSize)
		d.integrated = make([]float64, cfg.WindowSize)
	}
	d.resetLevels()
	return d, nil
}

// SetCallback sets the callback for accepted beats.
func (d *Detector) SetCallback(cb BeatCallback) {
	if cb == nil {
		d.callbackPtr.Store(nil)
	} else {
		d.callbackPtr.Store(&cb)
	}
}

// Process consumes one sample. It returns the beat and true when a beat
// is accepted on this sample, and false otherwise (window not yet full,
// no falling edge, or an implausible rate).
func (d *Detector) Process(sample float64) (Beat, bool) {
	full := d.window.Push(sample)
	d.elapsed++

	var (
		beat Beat
		ok   bool
	)
	if d.config.Mode == ModeWindow {
		if full {
			beat, ok = d.processWindow()
		}
	} else {
		beat, ok = d.processStreaming(sample, full)
	}

	if ok {
		d.emit(beat)
	}
	return beat, ok
}

// ProcessBatch feeds samples in order and returns every accepted beat.
func (d *Detector) ProcessBatch(samples []float64) []Beat {
	var beats []Beat
	for _, s := range samples {
		if beat, ok := d.Process(s); ok {
			beats = append(beats, beat)
		}
	}
	return beats
}

// processStreaming advances every stage by one sample. The filter chain
// runs while the window fills so its state is warm by the first decision.
func (d *Detector) processStreaming(sample float64, full bool) (Beat, bool) {
	y := d.biquad.Process(sample)
	deriv, delayed := d.diff.Process(y)
	sum := d.boxcar.Push(deriv * deriv)
	if !full {
		return Beat{}, false
	}

	d.integ.update(sum)
	d.filt.update(delayed)
	found1 := d.integ.decide(sum)
	found2 := d.filt.decide(delayed)
	return d.edge(found1 && found2)
}

// processWindow recomputes the whole chain over the window and walks the
// threshold state across every index, stopping at the first accepted beat.
func (d *Detector) processWindow() (Beat, bool) {
	raw := d.window.Samples()
	fs := d.config.SamplingRate

	d.filtered = d.coeffs.Filter(d.filtered, raw)
	d.squared = dsp.Derivative(d.squared, d.filtered, fs)
	d.squared = dsp.Square(d.squared, d.squared)
	d.integrated = dsp.MovingSum(d.integrated, d.squared, d.config.WindowSize)

	for i, x := range d.integrated {
		d.integ.update(x)
		found1 := d.integ.decide(x)

		found2 := false
		if i >= 2 {
			y := d.filtered[i-2]
			if i > 2 {
				d.filt.update(y)
			}
			found2 = d.filt.decide(y)
		}

		if beat, ok := d.edge(found1 && found2); ok {
			return beat, true
		}
	}
	return Beat{}, false
}

// edge records the combined indicator and accepts a beat on a 1 -> 0
// transition whose implied rate is plausible.
func (d *Detector) edge(found bool) (Beat, bool) {
	falling := d.pulse && !found
	d.pulse = found
	if !falling {
		return Beat{}, false
	}

	bpm := 60 / (float64(d.elapsed) / d.config.SamplingRate)
	if !(bpm > MinBPM && bpm < MaxBPM) {
		return Beat{}, false
	}

	d.beats++
	beat := Beat{
		Count:    d.beats,
		BPM:      int(math.RoundToEven(bpm)),
		Interval: d.elapsed,
	}
	d.elapsed = 0
	return beat, true
}

// emit calls the registered callback if set
func (d *Detector) emit(beat Beat) {
	cbPtr := d.callbackPtr.Load()
	if cbPtr != nil {
		(*cbPtr)(beat)
	}
}

// Window returns a copy of the buffered raw samples, oldest first
func (d *Detector) Window() []float64 {
	return d.window.Values()
}

// Coefficients returns the band-pass section in use
func (d *Detector) Coefficients() dsp.Coefficients {
	return d.coeffs
}

// Beats returns the number of accepted beats so far
func (d *Detector) Beats() int {
	return d.beats
}

// Elapsed returns the number of samples since the last accepted beat
func (d *Detector) Elapsed() int {
	return d.elapsed
}

// Levels returns a snapshot of the adaptive threshold state
func (d *Detector) Levels() Levels {
	return Levels{
		Integrated: d.integ.snapshot(),
		Filtered:   d.filt.snapshot(),
	}
}

// Reset returns the detector to its freshly constructed state.
// The callback is kept.
func (d *Detector) Reset() {
	w, _ := dsp.NewWindow(d.config.WindowSize)
	d.window = w
	d.biquad.Reset()
	d.diff.Reset()
	d.boxcar.Reset()
	d.pulse = false
	d.elapsed = 0
	d.beats = 0
	d.resetLevels()
}

// Config returns the current configuration
func (d *Detector) Config() Config {
	return d.config
}

func (d *Detector) resetLevels() {
	d.integ = channel{}
	// The filtered channel starts with unit levels
	d.filt = channel{signal: 1, noise: 1}
}

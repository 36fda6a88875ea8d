// internal/qrs/threshold.go
package qrs

// Adaptive threshold constants
const (
	peakFraction = 0.85  // peak follows 0.85 of a new maximum
	levelWeight  = 0.125 // EMA weight of the peak in signal/noise levels
	pullWeight   = 0.25  // extra signal pull for samples between the thresholds
	threshSplit  = 0.25  // T = noise + 0.25·(signal − noise)
)

// ChannelLevels is a snapshot of one channel's adaptive state.
type ChannelLevels struct {
	Peak   float64
	Signal float64
	Noise  float64
	// Threshold1 is the primary threshold, Threshold2 the secondary one
	Threshold1 float64
	Threshold2 float64
}

// Levels holds both channels of the adaptive threshold.
type Levels struct {
	Integrated ChannelLevels
	Filtered   ChannelLevels
}

// channel tracks the peak, signal level, noise level and the two
// thresholds of one detection channel.
type channel struct {
	peak   float64
	signal float64
	noise  float64
	t1, t2 float64
}

// update folds x into the levels and recomputes the thresholds.
// Both thresholds are halved relative to the classic formulation.
func (c *channel) update(x float64) {
	if x > c.peak {
		c.peak = peakFraction * x
	}
	if x > c.t1 {
		c.signal = levelWeight*c.peak + (1-levelWeight)*c.signal
	} else if x > c.t2 {
		c.noise = levelWeight*c.peak + (1-levelWeight)*c.noise
	}
	t := c.noise + threshSplit*(c.signal-c.noise)
	c.t2 = 0.5 * t
	c.t1 = 0.5 * t
}

// decide reports whether x counts as a detection. A sample between the
// two thresholds is accepted and pulls the signal level toward the peak.
func (c *channel) decide(x float64) bool {
	switch {
	case x > c.t1:
		return true
	case x > c.t2:
		c.signal = pullWeight*c.peak + (1-pullWeight)*c.signal
		return true
	default:
		return false
	}
}

func (c *channel) snapshot() ChannelLevels {
	return ChannelLevels{
		Peak:       c.peak,
		Signal:     c.signal,
		Noise:      c.noise,
		Threshold1: c.t1,
		Threshold2: c.t2,
	}
}

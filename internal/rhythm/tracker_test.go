package rhythm

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/ColonelBlimp/qrsdetect/internal/qrs"
)

// validConfig returns a valid Config for testing
func validConfig() Config {
	return Config{
		SamplingRate: 250,
		HistorySize:  8,
		Smoothing:    DefaultSmoothing,
	}
}

// beatAt builds an accepted beat whose interval is the given number of samples
func beatAt(count, interval int) qrs.Beat {
	bpm := int(math.RoundToEven(60 / (float64(interval) / 250)))
	return qrs.Beat{Count: count, BPM: bpm, Interval: interval}
}

func TestNewTracker_ValidConfig(t *testing.T) {
	tr, err := NewTracker(validConfig())
	if err != nil {
		t.Fatalf("NewTracker() error = %v", err)
	}
	if tr == nil {
		t.Fatal("NewTracker() returned nil tracker")
	}
	if tr.Config() != validConfig() {
		t.Errorf("Config() = %+v", tr.Config())
	}
}

func TestNewTracker_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   error
	}{
		{"zero rate", func(c *Config) { c.SamplingRate = 0 }, ErrInvalidSamplingRate},
		{"NaN rate", func(c *Config) { c.SamplingRate = math.NaN() }, ErrInvalidSamplingRate},
		{"history one", func(c *Config) { c.HistorySize = 1 }, ErrInvalidHistorySize},
		{"zero smoothing", func(c *Config) { c.Smoothing = 0 }, ErrInvalidSmoothing},
		{"smoothing above one", func(c *Config) { c.Smoothing = 1.5 }, ErrInvalidSmoothing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)
			if _, err := NewTracker(cfg); err != tt.want {
				t.Errorf("NewTracker() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTracker_FirstBeatAnchorsOnly(t *testing.T) {
	tr, _ := NewTracker(validConfig())

	s := tr.Add(beatAt(1, 209))
	if s.Beats != 1 || s.BPM != 72 {
		t.Errorf("Beats=%d BPM=%d, want 1 and 72", s.Beats, s.BPM)
	}
	if s.InitialIBI != 0 || s.FinalIBI != 0 || s.AverageIBI != 0 {
		t.Errorf("first beat should not produce intervals: %+v", s)
	}
}

func TestTracker_Intervals(t *testing.T) {
	tr, _ := NewTracker(validConfig())

	// Intervals of 800, 1000 and 900 ms after the anchoring beat
	tr.Add(beatAt(1, 300))
	tr.Add(beatAt(2, 200))
	tr.Add(beatAt(3, 250))
	s := tr.Add(beatAt(4, 225))

	if s.Beats != 4 {
		t.Errorf("Beats = %d, want 4", s.Beats)
	}
	if s.InitialIBI != 800*time.Millisecond {
		t.Errorf("InitialIBI = %v, want 800ms", s.InitialIBI)
	}
	if s.FinalIBI != 900*time.Millisecond {
		t.Errorf("FinalIBI = %v, want 900ms", s.FinalIBI)
	}
	if s.AverageIBI != 900*time.Millisecond {
		t.Errorf("AverageIBI = %v, want 900ms", s.AverageIBI)
	}

	// Sample standard deviation of 800, 1000, 900 is 100
	if s.SDNN != 100*time.Millisecond {
		t.Errorf("SDNN = %v, want 100ms", s.SDNN)
	}
	// Successive differences 200, -100: sqrt((40000+10000)/2)
	wantRMSSD := time.Duration(math.Round(math.Sqrt(25000) * float64(time.Millisecond)))
	if s.RMSSD != wantRMSSD {
		t.Errorf("RMSSD = %v, want %v", s.RMSSD, wantRMSSD)
	}
}

func TestTracker_SteadyRhythmHasNoVariability(t *testing.T) {
	tr, _ := NewTracker(validConfig())

	var s Stats
	for i := 1; i <= 20; i++ {
		s = tr.Add(beatAt(i, 208))
	}
	if s.SDNN != 0 || s.RMSSD != 0 {
		t.Errorf("steady rhythm: SDNN=%v RMSSD=%v", s.SDNN, s.RMSSD)
	}
	if math.Abs(s.SmoothedBPM-72) > 1e-9 {
		t.Errorf("SmoothedBPM = %v, want 72", s.SmoothedBPM)
	}
}

func TestTracker_HistoryIsBounded(t *testing.T) {
	cfg := validConfig()
	cfg.HistorySize = 4
	tr, _ := NewTracker(cfg)

	tr.Add(beatAt(1, 250))
	// Early irregular intervals fall out of the history
	tr.Add(beatAt(2, 150))
	tr.Add(beatAt(3, 350))
	for i := 4; i < 10; i++ {
		tr.Add(beatAt(i, 250))
	}
	s := tr.Stats()
	if s.SDNN != 0 || s.RMSSD != 0 {
		t.Errorf("old intervals still counted: SDNN=%v RMSSD=%v", s.SDNN, s.RMSSD)
	}
	// The session average still includes them
	if s.AverageIBI != 1000*time.Millisecond {
		t.Errorf("AverageIBI = %v, want 1s", s.AverageIBI)
	}
	if s.InitialIBI != 600*time.Millisecond {
		t.Errorf("InitialIBI = %v, want 600ms", s.InitialIBI)
	}
}

func TestTracker_Smoothing(t *testing.T) {
	tr, _ := NewTracker(validConfig())

	tr.Add(qrs.Beat{Count: 1, BPM: 60, Interval: 250})
	tr.Add(qrs.Beat{Count: 2, BPM: 60, Interval: 250})
	s := tr.Add(qrs.Beat{Count: 3, BPM: 120, Interval: 125})

	want := 0.9*60 + 0.1*120
	if math.Abs(s.SmoothedBPM-want) > 1e-9 {
		t.Errorf("SmoothedBPM = %v, want %v", s.SmoothedBPM, want)
	}
	if s.BPM != 120 {
		t.Errorf("BPM = %d, want 120", s.BPM)
	}
}

func TestTracker_Reset(t *testing.T) {
	tr, _ := NewTracker(validConfig())
	for i := 1; i <= 5; i++ {
		tr.Add(beatAt(i, 200+10*i))
	}

	tr.Reset()
	if s := tr.Stats(); s != (Stats{}) {
		t.Errorf("Stats after Reset = %+v", s)
	}
}

func TestTracker_ConcurrentAccess(t *testing.T) {
	tr, _ := NewTracker(validConfig())

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				tr.Add(beatAt(i+1, 208))
				_ = tr.Stats()
			}
		}()
	}
	wg.Wait()

	if s := tr.Stats(); s.Beats != 400 {
		t.Errorf("Beats = %d, want 400", s.Beats)
	}
}

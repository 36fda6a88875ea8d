// internal/qrs/detector_test.go
package qrs

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/ColonelBlimp/qrsdetect/internal/dsp"
	"github.com/ColonelBlimp/qrsdetect/internal/ecgsim"
)

// Test configuration constants matching config file defaults
const (
	testSamplingRate = 250.0
	testWindowSize   = 38
	testSpike        = 100.0
)

// createTestDetector creates a detector for testing
func createTestDetector(t *testing.T, fs float64, w int, mode Mode) *Detector {
	t.Helper()
	d, err := New(Config{SamplingRate: fs, WindowSize: w, Mode: mode})
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}
	return d
}

// indexedBeat is a beat together with the 0-based call that produced it
type indexedBeat struct {
	at int
	Beat
}

// feedSpikes runs n calls, passing value at the given call indices and
// zero elsewhere, and returns every accepted beat.
func feedSpikes(d *Detector, n int, value float64, spikes ...int) []indexedBeat {
	at := make(map[int]bool, len(spikes))
	for _, s := range spikes {
		at[s] = true
	}
	var out []indexedBeat
	for i := 0; i < n; i++ {
		v := 0.0
		if at[i] {
			v = value
		}
		if beat, ok := d.Process(v); ok {
			out = append(out, indexedBeat{at: i, Beat: beat})
		}
	}
	return out
}

// feedConstant runs n calls with the same value
func feedConstant(d *Detector, n int, value float64) []indexedBeat {
	var out []indexedBeat
	for i := 0; i < n; i++ {
		if beat, ok := d.Process(value); ok {
			out = append(out, indexedBeat{at: i, Beat: beat})
		}
	}
	return out
}

func TestNew_DefaultConfig(t *testing.T) {
	d, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New failed with default config: %v", err)
	}
	if d == nil {
		t.Fatal("New returned nil with default config")
	}

	cfg := d.Config()
	if cfg.SamplingRate != 250 {
		t.Errorf("SamplingRate mismatch: got %v, want 250", cfg.SamplingRate)
	}
	if cfg.WindowSize != 38 {
		t.Errorf("WindowSize mismatch: got %v, want 38", cfg.WindowSize)
	}
	if cfg.Mode != ModeStreaming {
		t.Errorf("Mode mismatch: got %v, want streaming", cfg.Mode)
	}
	if d.Beats() != 0 {
		t.Errorf("expected 0 beats, got %d", d.Beats())
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	testCases := []struct {
		name string
		cfg  Config
		want error
	}{
		{"zero rate", Config{SamplingRate: 0, WindowSize: 38}, ErrInvalidSamplingRate},
		{"negative rate", Config{SamplingRate: -250, WindowSize: 38}, ErrInvalidSamplingRate},
		{"rate at band floor", Config{SamplingRate: 10, WindowSize: 38}, ErrInvalidSamplingRate},
		{"rate below band", Config{SamplingRate: 8, WindowSize: 38}, ErrInvalidSamplingRate},
		{"NaN rate", Config{SamplingRate: math.NaN(), WindowSize: 38}, ErrInvalidSamplingRate},
		{"infinite rate", Config{SamplingRate: math.Inf(1), WindowSize: 38}, ErrInvalidSamplingRate},
		{"zero window", Config{SamplingRate: 250, WindowSize: 0}, ErrInvalidWindowSize},
		{"negative window", Config{SamplingRate: 250, WindowSize: -1}, ErrInvalidWindowSize},
		{"unknown mode", Config{SamplingRate: 250, WindowSize: 38, Mode: Mode(7)}, ErrInvalidMode},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := New(tc.cfg)
			if !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got: %v", tc.want, err)
			}
			if d != nil {
				t.Error("expected nil detector on error")
			}
		})
	}
}

func TestNew_RateAboveBandFloor(t *testing.T) {
	for _, fs := range []float64{10.5, 11, 20} {
		t.Run(fmt.Sprintf("%v Hz", fs), func(t *testing.T) {
			d, err := New(Config{SamplingRate: fs, WindowSize: 2})
			if err != nil {
				t.Fatalf("New(%v Hz) failed: %v", fs, err)
			}
			if d.Config().SamplingRate != fs {
				t.Errorf("SamplingRate mismatch: got %v, want %v", d.Config().SamplingRate, fs)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	testCases := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"streaming", ModeStreaming, false},
		{"", ModeStreaming, false},
		{"window", ModeWindow, false},
		{" Window ", ModeWindow, false},
		{"batch", 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseMode(tc.in)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidMode) {
					t.Errorf("expected ErrInvalidMode, got: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}

	if ModeWindow.String() != "window" || ModeStreaming.String() != "streaming" {
		t.Error("mode names do not round-trip")
	}
}

func TestDetector_IdenticalCoefficients(t *testing.T) {
	for _, mode := range []Mode{ModeStreaming, ModeWindow} {
		a := createTestDetector(t, testSamplingRate, testWindowSize, mode)
		b := createTestDetector(t, testSamplingRate, testWindowSize, mode)
		if a.Coefficients() != b.Coefficients() {
			t.Errorf("%v: coefficients differ: %v vs %v", mode, a.Coefficients(), b.Coefficients())
		}
	}

	want, err := dsp.BandpassCoefficients(testSamplingRate, dsp.QRSCentreFrequency, dsp.QRSQuality)
	if err != nil {
		t.Fatalf("BandpassCoefficients failed: %v", err)
	}
	d := createTestDetector(t, testSamplingRate, testWindowSize, ModeStreaming)
	if d.Coefficients() != want {
		t.Errorf("detector coefficients %v, want %v", d.Coefficients(), want)
	}
}

func TestDetector_WindowInvariant(t *testing.T) {
	for _, mode := range []Mode{ModeStreaming, ModeWindow} {
		t.Run(mode.String(), func(t *testing.T) {
			d := createTestDetector(t, testSamplingRate, testWindowSize, mode)
			var fed []float64
			for k := 1; k <= 3*testWindowSize; k++ {
				v := float64(k) * 0.5
				d.Process(v)
				fed = append(fed, v)

				got := d.Window()
				lo := len(fed) - testWindowSize
				if lo < 0 {
					lo = 0
				}
				want := fed[lo:]
				if len(got) != len(want) {
					t.Fatalf("after %d calls: window length %d, want %d", k, len(got), len(want))
				}
				for i := range want {
					if got[i] != want[i] {
						t.Fatalf("after %d calls: window[%d] = %v, want %v", k, i, got[i], want[i])
					}
				}
			}
		})
	}
}

func TestDetector_NoResultWhileFilling(t *testing.T) {
	for _, mode := range []Mode{ModeStreaming, ModeWindow} {
		t.Run(mode.String(), func(t *testing.T) {
			d := createTestDetector(t, testSamplingRate, testWindowSize, mode)
			for i := 0; i < testWindowSize-1; i++ {
				// Alternate large swings so any active stage would react
				v := testSpike
				if i%2 == 1 {
					v = -testSpike
				}
				if _, ok := d.Process(v); ok {
					t.Fatalf("call %d produced a beat before the window filled", i)
				}
			}
			if d.Elapsed() != testWindowSize-1 {
				t.Errorf("elapsed = %d, want %d", d.Elapsed(), testWindowSize-1)
			}
		})
	}
}

func TestDetector_PulseScenario(t *testing.T) {
	// The first interval runs from detector start, so the first spike sits
	// where start-to-beat spacing, not spike-to-spike spacing, implies 72 bpm.
	testCases := []struct {
		name   string
		mode   Mode
		fs     float64
		window int
		n      int
		value  float64
		spikes []int
		want   []indexedBeat
	}{
		{
			name: "streaming 72 bpm", mode: ModeStreaming, fs: 250, window: 38, n: 480,
			value: testSpike, spikes: []int{38, 200, 408},
			want: []indexedBeat{{208, Beat{1, 72, 209}}, {416, Beat{2, 72, 208}}},
		},
		{
			name: "window 72 bpm", mode: ModeWindow, fs: 250, window: 38, n: 480,
			value: testSpike, spikes: []int{38, 205, 413},
			want: []indexedBeat{{208, Beat{1, 72, 209}}, {416, Beat{2, 72, 208}}},
		},
		{
			name: "streaming single interval", mode: ModeStreaming, fs: 250, window: 38, n: 480,
			value: testSpike, spikes: []int{38, 200},
			want: []indexedBeat{{208, Beat{1, 72, 209}}},
		},
		{
			name: "window single interval", mode: ModeWindow, fs: 250, window: 38, n: 480,
			value: testSpike, spikes: []int{38, 205},
			want: []indexedBeat{{208, Beat{1, 72, 209}}},
		},
		{
			name: "streaming 500 Hz", mode: ModeStreaming, fs: 500, window: 76, n: 900,
			value: testSpike, spikes: []int{76, 406, 822},
			want: []indexedBeat{{419, Beat{1, 71, 420}}, {835, Beat{2, 72, 416}}},
		},
		{
			name: "window 500 Hz", mode: ModeWindow, fs: 500, window: 76, n: 900,
			value: testSpike, spikes: []int{76, 406, 822},
			want: []indexedBeat{{409, Beat{1, 73, 410}}, {825, Beat{2, 72, 416}}},
		},
		{
			name: "streaming 130 Hz", mode: ModeStreaming, fs: 130, window: 20, n: 300,
			value: testSpike, spikes: []int{20, 108, 216},
			want: []indexedBeat{{114, Beat{1, 68, 115}}, {222, Beat{2, 72, 108}}},
		},
		{
			name: "window 130 Hz", mode: ModeWindow, fs: 130, window: 20, n: 300,
			value: testSpike, spikes: []int{20, 108, 216},
			want: []indexedBeat{{111, Beat{1, 70, 112}}, {219, Beat{2, 72, 108}}},
		},
		{
			name: "streaming negative spikes", mode: ModeStreaming, fs: 250, window: 38, n: 480,
			value: -testSpike, spikes: []int{38, 205, 413},
			want: []indexedBeat{{249, Beat{1, 60, 250}}, {457, Beat{2, 72, 208}}},
		},
		{
			name: "window negative spikes", mode: ModeWindow, fs: 250, window: 38, n: 480,
			value: -testSpike, spikes: []int{38, 205, 413},
			want: []indexedBeat{{216, Beat{1, 69, 217}}, {424, Beat{2, 72, 208}}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := createTestDetector(t, tc.fs, tc.window, tc.mode)
			got := feedSpikes(d, tc.n, tc.value, tc.spikes...)

			if len(got) != len(tc.want) {
				t.Fatalf("got %d beats %v, want %d %v", len(got), got, len(tc.want), tc.want)
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Errorf("beat %d: got %+v, want %+v", i, got[i], tc.want[i])
				}
			}
			if d.Beats() != len(tc.want) {
				t.Errorf("Beats() = %d, want %d", d.Beats(), len(tc.want))
			}
		})
	}
}

// Two spikes 208 samples apart after a zero-filled window report the interval
// from detector start, which lands below 72 bpm.
func TestDetector_FirstIntervalCountsFromStart(t *testing.T) {
	testCases := []struct {
		name    string
		mode    Mode
		wantBPM int
	}{
		{"streaming", ModeStreaming, 59},
		{"window", ModeWindow, 60},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := createTestDetector(t, testSamplingRate, testWindowSize, tc.mode)
			got := feedSpikes(d, 480, testSpike, testWindowSize, testWindowSize+208)

			if len(got) != 1 {
				t.Fatalf("got %d beats %v, want 1", len(got), got)
			}
			if got[0].Count != 1 {
				t.Errorf("Count = %d, want 1", got[0].Count)
			}
			if got[0].BPM != tc.wantBPM {
				t.Errorf("BPM = %d, want %d", got[0].BPM, tc.wantBPM)
			}
			if got[0].at < testWindowSize+208 {
				t.Errorf("beat at call %d, before the second spike", got[0].at)
			}
		})
	}
}

func TestDetector_RejectsImplausibleRate(t *testing.T) {
	// The spike at 275 follows the one at 200 by 75 samples (200 bpm)
	d := createTestDetector(t, testSamplingRate, testWindowSize, ModeStreaming)
	got := feedSpikes(d, 480, testSpike, 38, 200, 275, 408)

	want := []indexedBeat{{208, Beat{1, 72, 209}}, {416, Beat{2, 72, 208}}}
	if len(got) != len(want) {
		t.Fatalf("got %d beats %v, want %v", len(got), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("beat %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestDetector_WindowModeBPMBound(t *testing.T) {
	d := createTestDetector(t, testSamplingRate, testWindowSize, ModeWindow)
	got := feedSpikes(d, 480, testSpike, 38, 205, 280, 413)

	if len(got) == 0 {
		t.Fatal("expected beats")
	}
	for _, b := range got {
		if b.BPM <= MinBPM || b.BPM >= MaxBPM {
			t.Errorf("beat %+v outside (%d, %d)", b, MinBPM, MaxBPM)
		}
		if b.at > 208 && b.at < 292 {
			t.Errorf("unexpected beat %+v between the first accepted beat and the rejected edge", b)
		}
	}
}

func TestDetector_SilenceOnFlatline(t *testing.T) {
	testCases := []struct {
		name  string
		mode  Mode
		value float64
	}{
		{"streaming zero", ModeStreaming, 0},
		{"streaming one", ModeStreaming, 1},
		{"streaming hundred", ModeStreaming, 100},
		{"streaming negative", ModeStreaming, -3.5},
		{"streaming large", ModeStreaming, 1e6},
		{"window zero", ModeWindow, 0},
		{"window negative", ModeWindow, -3.5},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := createTestDetector(t, testSamplingRate, testWindowSize, tc.mode)
			if got := feedConstant(d, 600, tc.value); len(got) != 0 {
				t.Errorf("flatline %v produced beats: %v", tc.value, got)
			}
		})
	}
}

// Whole-window re-filtering starts every window from zero state, so a
// positive constant looks like a step at each window start. The resulting
// pulses land just under the upper bound.
func TestDetector_WindowModePositiveFlatline(t *testing.T) {
	for _, v := range []float64{1, 100, 1e6} {
		d := createTestDetector(t, testSamplingRate, testWindowSize, ModeWindow)
		got := feedConstant(d, 600, v)
		if len(got) != 7 {
			t.Fatalf("flatline %v: got %d beats, want 7", v, len(got))
		}
		if got[0].at != 83 {
			t.Errorf("flatline %v: first beat at %d, want 83", v, got[0].at)
		}
		for _, b := range got {
			if b.BPM != 179 {
				t.Errorf("flatline %v: beat %+v, want 179 bpm", v, b)
			}
		}
	}
}

func TestDetector_MonotonicCount(t *testing.T) {
	for _, mode := range []Mode{ModeStreaming, ModeWindow} {
		t.Run(mode.String(), func(t *testing.T) {
			d := createTestDetector(t, testSamplingRate, testWindowSize, mode)
			spikes := []int{38}
			for s := 38 + 208; s < 3000; s += 208 {
				spikes = append(spikes, s)
			}
			got := feedSpikes(d, 3000, testSpike, spikes...)
			if len(got) < 10 {
				t.Fatalf("expected a run of beats, got %d", len(got))
			}
			for i, b := range got {
				if b.Count != i+1 {
					t.Errorf("beat %d has count %d", i, b.Count)
				}
			}
		})
	}
}

func TestDetector_SimulatedECG(t *testing.T) {
	testCases := []struct {
		mode Mode
		hr   float64
	}{
		{ModeStreaming, 60},
		{ModeStreaming, 72},
		{ModeStreaming, 80},
		{ModeWindow, 60},
		{ModeWindow, 72},
		{ModeWindow, 80},
	}

	for _, tc := range testCases {
		t.Run(tc.mode.String(), func(t *testing.T) {
			d := createTestDetector(t, testSamplingRate, testWindowSize, tc.mode)
			sim, err := ecgsim.New(testSamplingRate, tc.hr, 0.02)
			if err != nil {
				t.Fatalf("ecgsim.New failed: %v", err)
			}

			buf := make([]float64, 20*int(testSamplingRate))
			sim.Fill(buf)
			beats := d.ProcessBatch(buf)

			// 20 seconds of signal; the first two beats are still learning
			wantBeats := int(20 * tc.hr / 60)
			if len(beats) < wantBeats-2 || len(beats) > wantBeats+1 {
				t.Fatalf("hr %v: got %d beats, want about %d", tc.hr, len(beats), wantBeats)
			}
			for _, b := range beats[2:] {
				if math.Abs(float64(b.BPM)-tc.hr) > 2 {
					t.Errorf("hr %v: beat %+v off target", tc.hr, b)
				}
			}
		})
	}
}

func TestDetector_Callback(t *testing.T) {
	d := createTestDetector(t, testSamplingRate, testWindowSize, ModeStreaming)

	var received []Beat
	d.SetCallback(func(b Beat) {
		received = append(received, b)
	})
	got := feedSpikes(d, 480, testSpike, 38, 200, 408)

	if len(received) != len(got) {
		t.Fatalf("callback saw %d beats, Process returned %d", len(received), len(got))
	}
	for i := range got {
		if received[i] != got[i].Beat {
			t.Errorf("callback beat %d = %+v, want %+v", i, received[i], got[i].Beat)
		}
	}

	d.SetCallback(nil)
	d.Reset()
	feedSpikes(d, 480, testSpike, 38, 200, 408)
	if len(received) != len(got) {
		t.Error("callback invoked after being cleared")
	}
}

func TestDetector_Reset(t *testing.T) {
	d := createTestDetector(t, testSamplingRate, testWindowSize, ModeStreaming)
	first := feedSpikes(d, 480, testSpike, 38, 200, 408)

	d.Reset()
	if d.Beats() != 0 || d.Elapsed() != 0 || len(d.Window()) != 0 {
		t.Fatalf("reset left state: beats=%d elapsed=%d window=%d", d.Beats(), d.Elapsed(), len(d.Window()))
	}
	if d.Levels() != (Levels{Filtered: ChannelLevels{Signal: 1, Noise: 1}}) {
		t.Errorf("reset left levels: %+v", d.Levels())
	}

	second := feedSpikes(d, 480, testSpike, 38, 200, 408)
	if len(first) != len(second) {
		t.Fatalf("replay after reset: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("replay beat %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestDetector_InitialLevels(t *testing.T) {
	d := createTestDetector(t, testSamplingRate, testWindowSize, ModeWindow)
	lv := d.Levels()
	if lv.Integrated != (ChannelLevels{}) {
		t.Errorf("integrated channel should start at zero: %+v", lv.Integrated)
	}
	if lv.Filtered.Signal != 1 || lv.Filtered.Noise != 1 || lv.Filtered.Peak != 0 {
		t.Errorf("filtered channel should start with unit levels: %+v", lv.Filtered)
	}
}

func BenchmarkDetector_Streaming(b *testing.B) {
	d, _ := New(DefaultConfig())
	sim, _ := ecgsim.New(testSamplingRate, 72, 0.02)
	buf := make([]float64, 4096)
	sim.Fill(buf)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Process(buf[i%len(buf)])
	}
}

func BenchmarkDetector_Window(b *testing.B) {
	d, _ := New(Config{SamplingRate: testSamplingRate, WindowSize: testWindowSize, Mode: ModeWindow})
	sim, _ := ecgsim.New(testSamplingRate, 72, 0.02)
	buf := make([]float64, 4096)
	sim.Fill(buf)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Process(buf[i%len(buf)])
	}
}

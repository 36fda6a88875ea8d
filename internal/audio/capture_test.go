package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DeviceIndex != -1 {
		t.Errorf("DefaultConfig().DeviceIndex = %d, want -1", cfg.DeviceIndex)
	}
	if cfg.SampleRate != DefaultCaptureRate {
		t.Errorf("DefaultConfig().SampleRate = %d, want %d", cfg.SampleRate, DefaultCaptureRate)
	}
	if cfg.Channels != 1 {
		t.Errorf("DefaultConfig().Channels = %d, want 1", cfg.Channels)
	}
	if cfg.BufferSize != 256 {
		t.Errorf("DefaultConfig().BufferSize = %d, want 256", cfg.BufferSize)
	}
}

func TestNew(t *testing.T) {
	cfg := Config{DeviceIndex: 2, SampleRate: 16000, Channels: 2, BufferSize: 128}
	capture := New(cfg)

	if capture.config != cfg {
		t.Errorf("New() config = %+v, want %+v", capture.config, cfg)
	}
	if cap(capture.Samples) != 64 {
		t.Errorf("Samples buffer = %d, want 64", cap(capture.Samples))
	}
	if capture.IsRunning() {
		t.Error("new capture should not be running")
	}
	if capture.closed.Load() {
		t.Error("closed flag should be false initially")
	}
}

func TestCapture_NotInitialized(t *testing.T) {
	capture := New(DefaultConfig())

	if _, err := capture.ListDevices(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("ListDevices() error = %v, want ErrNotInitialized", err)
	}
	if err := capture.Start(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Start() error = %v, want ErrNotInitialized", err)
	}
	if err := capture.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop() error = %v, want ErrNotRunning", err)
	}
}

func TestCapture_Start_AlreadyRunning(t *testing.T) {
	capture := New(DefaultConfig())
	capture.running = true

	if err := capture.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Start() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestCapture_SetCallback(t *testing.T) {
	capture := New(DefaultConfig())

	var got []float32
	capture.SetCallback(func(s []float32) { got = s })
	capture.callback([]float32{0.5})
	if len(got) != 1 || got[0] != 0.5 {
		t.Errorf("callback received %v", got)
	}

	capture.SetCallback(nil)
	if capture.callback != nil {
		t.Error("SetCallback(nil) should clear the callback")
	}
}

func TestBytesAsFloat32(t *testing.T) {
	want := []float32{0, 1, -1, 0.25, float32(math.Inf(1))}
	data := make([]byte, 4*len(want))
	for i, v := range want {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}

	got := bytesAsFloat32(data)
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}

	// The view aliases the input
	binary.LittleEndian.PutUint32(data, math.Float32bits(2))
	if got[0] != 2 {
		t.Errorf("bytesAsFloat32 should not copy, got[0] = %v", got[0])
	}
}

func TestBytesAsFloat32_Short(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"nil", nil},
		{"empty", []byte{}},
		{"three bytes", []byte{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := bytesAsFloat32(tt.data); got != nil {
				t.Errorf("bytesAsFloat32() = %v, want nil", got)
			}
		})
	}

	// Trailing bytes are ignored
	if got := bytesAsFloat32(make([]byte, 7)); len(got) != 1 {
		t.Errorf("len = %d, want 1", len(got))
	}
}

func TestCopyFloat32Slice(t *testing.T) {
	src := []float32{1, 2, 3}
	dst := copyFloat32Slice(src)
	src[0] = 9

	if dst[0] != 1 || len(dst) != 3 {
		t.Errorf("copyFloat32Slice() = %v, want independent copy", dst)
	}
	if copyFloat32Slice(nil) != nil {
		t.Error("copyFloat32Slice(nil) should be nil")
	}
	if got := copyFloat32Slice([]float32{}); got == nil || len(got) != 0 {
		t.Errorf("copyFloat32Slice(empty) = %v, want empty non-nil", got)
	}
}

func TestFirstChannel(t *testing.T) {
	tests := []struct {
		name     string
		in       []float32
		channels int
		want     []float32
	}{
		{"mono", []float32{1, 2, 3}, 1, []float32{1, 2, 3}},
		{"stereo", []float32{1, -1, 2, -2, 3, -3}, 2, []float32{1, 2, 3}},
		{"partial frame", []float32{1, -1, 2}, 2, []float32{1}},
		{"zero channels", []float32{4}, 0, []float32{4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := firstChannel(tt.in, tt.channels)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestCapture_SafeSend(t *testing.T) {
	capture := &Capture{config: DefaultConfig(), Samples: make(chan []float32, 1)}

	capture.safeSend([]float32{1})
	// Full channel drops instead of blocking
	capture.safeSend([]float32{2})

	if got := <-capture.Samples; got[0] != 1 {
		t.Errorf("first buffer = %v, want [1]", got)
	}
	if capture.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", capture.Dropped())
	}
}

func TestCapture_SafeSend_ClosedChannel(t *testing.T) {
	capture := New(DefaultConfig())
	close(capture.Samples)

	// Must recover rather than panic
	capture.safeSend([]float32{1})
	if capture.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", capture.Dropped())
	}

	// Once flagged closed nothing is attempted
	capture.closed.Store(true)
	capture.safeSend([]float32{1})
	if capture.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", capture.Dropped())
	}
}

func TestCapture_Close(t *testing.T) {
	capture := New(DefaultConfig())

	if err := capture.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !capture.closed.Load() {
		t.Error("closed flag should be set after Close()")
	}
	if _, ok := <-capture.Samples; ok {
		t.Error("Samples should be closed")
	}
	if err := capture.Init(); !errors.Is(err, ErrClosed) {
		t.Errorf("Init() after Close() error = %v, want ErrClosed", err)
	}

	// A second close must not panic
	_ = capture.Close()
}

func TestCapture_Close_Concurrent(t *testing.T) {
	for i := 0; i < 50; i++ {
		capture := New(DefaultConfig())

		var wg sync.WaitGroup
		for j := 0; j < 5; j++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				_ = capture.Close()
			}()
			go func() {
				defer wg.Done()
				capture.safeSend([]float32{1})
			}()
		}
		wg.Wait()

		if !capture.closed.Load() {
			t.Fatalf("iteration %d: capture should be closed", i)
		}
	}
}

func TestCapture_Close_SetsClosedBeforeChannelClose(t *testing.T) {
	capture := New(DefaultConfig())

	done := make(chan bool)
	go func() {
		for range capture.Samples {
		}
		done <- capture.closed.Load()
	}()

	if err := capture.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !<-done {
		t.Error("closed flag should be true when the channel closes")
	}
}

func BenchmarkBytesAsFloat32(b *testing.B) {
	data := make([]byte, 256*4)
	for i := range data {
		data[i] = byte(i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = bytesAsFloat32(data)
	}
}

func BenchmarkCopyFloat32Slice(b *testing.B) {
	data := make([]float32, 256)
	for i := range data {
		data[i] = float32(i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = copyFloat32Slice(data)
	}
}

// Package audio captures an ECG front end wired to a sound-card input and
// conditions it for the detector: resampling to the detector rate,
// optional WAV recording and a mains hum check.
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/gen2brain/malgo"
)

var (
	ErrNotInitialized = errors.New("audio capture not initialized")
	ErrAlreadyRunning = errors.New("audio capture already running")
	ErrNotRunning     = errors.New("audio capture not running")
	ErrClosed         = errors.New("audio capture closed")
)

// DefaultCaptureRate is the lowest rate most sound cards open reliably.
const DefaultCaptureRate = 8000

// Config holds line-in capture configuration
type Config struct {
	DeviceIndex int    // -1 for default device
	SampleRate  uint32 // capture rate, resampled later
	Channels    uint32 // the first channel carries the lead
	BufferSize  uint32 // frames per callback
}

// DefaultConfig returns defaults for a single-lead front end
func DefaultConfig() Config {
	return Config{
		DeviceIndex: -1,
		SampleRate:  DefaultCaptureRate,
		Channels:    1,
		BufferSize:  256,
	}
}

// SampleCallback is called from the audio thread. The slice aliases the
// device buffer and is only valid for the duration of the call.
type SampleCallback func(samples []float32)

// Capture reads mono float32 frames from an audio device.
type Capture struct {
	config   Config
	ctx      *malgo.AllocatedContext
	device   *malgo.Device
	running  bool
	mu       sync.RWMutex
	callback SampleCallback

	closed    atomic.Bool
	closeOnce sync.Once
	dropped   atomic.Int64

	// Samples receives a copy of every device buffer, first channel only.
	Samples chan []float32
}

// New creates a new capture instance
func New(cfg Config) *Capture {
	return &Capture{
		config:  cfg,
		Samples: make(chan []float32, 64),
	}
}

// SetCallback sets the low-latency sample callback. Set before Start.
func (c *Capture) SetCallback(cb SampleCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
}

// Init initializes the audio backend
func (c *Capture) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}
	c.ctx = ctx
	return nil
}

// ListDevices returns available capture devices
func (c *Capture) ListDevices() ([]malgo.DeviceInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.ctx == nil {
		return nil, ErrNotInitialized
	}

	infos, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	return infos, nil
}

// Start begins capture. The device is stopped when ctx is cancelled.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	if c.ctx == nil {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	c.mu.Unlock()

	deviceConfig := malgo.DeviceConfig{
		DeviceType:         malgo.Capture,
		SampleRate:         c.config.SampleRate,
		PeriodSizeInFrames: c.config.BufferSize,
		Capture: malgo.SubConfig{
			Format:   malgo.FormatF32,
			Channels: c.config.Channels,
		},
	}

	if c.config.DeviceIndex >= 0 {
		devices, err := c.ListDevices()
		if err != nil {
			return err
		}
		if c.config.DeviceIndex >= len(devices) {
			return fmt.Errorf("device index %d out of range (have %d devices)",
				c.config.DeviceIndex, len(devices))
		}
		deviceConfig.Capture.DeviceID = devices[c.config.DeviceIndex].ID.Pointer()
	}

	channels := int(max(c.config.Channels, 1))
	onRecvFrames := func(_, inputSamples []byte, _ uint32) {
		if len(inputSamples) == 0 || c.closed.Load() {
			return
		}

		samples := firstChannel(bytesAsFloat32(inputSamples), channels)

		c.mu.RLock()
		cb := c.callback
		c.mu.RUnlock()
		if cb != nil {
			cb(samples)
		}

		c.safeSend(copyFloat32Slice(samples))
	}

	c.mu.RLock()
	actx := c.ctx
	c.mu.RUnlock()
	if actx == nil {
		return ErrNotInitialized
	}

	device, err := malgo.InitDevice(actx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecvFrames})
	if err != nil {
		return fmt.Errorf("init device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start device: %w", err)
	}

	c.mu.Lock()
	c.device = device
	c.running = true
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = c.Stop()
	}()

	return nil
}

// safeSend hands samples to the channel without blocking the audio
// thread. Samples are dropped when the consumer falls behind or the
// channel has been closed.
func (c *Capture) safeSend(samples []float32) {
	defer func() {
		if recover() != nil {
			c.dropped.Add(1)
		}
	}()
	if c.closed.Load() {
		return
	}
	select {
	case c.Samples <- samples:
	default:
		c.dropped.Add(1)
	}
}

// Stop stops capture
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return ErrNotRunning
	}

	if c.device != nil {
		_ = c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}

	c.running = false
	return nil
}

// Close releases all audio resources and closes Samples. It is safe to
// call more than once.
func (c *Capture) Close() error {
	c.closed.Store(true)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running && c.device != nil {
		_ = c.device.Stop()
		c.device.Uninit()
		c.device = nil
		c.running = false
	}

	var err error
	if c.ctx != nil {
		if uerr := c.ctx.Uninit(); uerr != nil {
			err = fmt.Errorf("uninit context: %w", uerr)
		}
		c.ctx.Free()
		c.ctx = nil
	}

	c.closeOnce.Do(func() {
		close(c.Samples)
	})
	return err
}

// IsRunning returns true if capture is active
func (c *Capture) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// Dropped returns the number of buffers discarded because the consumer
// was too slow.
func (c *Capture) Dropped() int64 {
	return c.dropped.Load()
}

// firstChannel keeps channel 0 of interleaved frames. Mono input is
// returned as is.
func firstChannel(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	out := make([]float32, len(samples)/channels)
	for i := range out {
		out[i] = samples[i*channels]
	}
	return out
}

// bytesAsFloat32 reinterprets little-endian float32 bytes without
// copying. The result aliases data.
func bytesAsFloat32(data []byte) []float32 {
	n := len(data) / 4
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&data[0])), n)
}

func copyFloat32Slice(src []float32) []float32 {
	if src == nil {
		return nil
	}
	dst := make([]float32, len(src))
	copy(dst, src)
	return dst
}

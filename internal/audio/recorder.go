package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	recordBitDepth = 16
	wavFormatPCM   = 1
)

// ErrRecorderClosed indicates a write after Close
var ErrRecorderClosed = errors.New("recorder closed")

// Recorder writes raw captured samples to a 16-bit mono WAV file.
type Recorder struct {
	mu      sync.Mutex
	encoder *wav.Encoder
	file    io.Closer
	buf     *goaudio.IntBuffer
	frames  int64
	closed  bool
}

// CreateRecorder creates path and records at sampleRate.
func CreateRecorder(path string, sampleRate int) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	r, err := NewRecorder(f, sampleRate)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r.file = f
	return r, nil
}

// NewRecorder records to w. The caller owns w.
func NewRecorder(w io.WriteSeeker, sampleRate int) (*Recorder, error) {
	if sampleRate <= 0 {
		return nil, ErrInvalidRate
	}
	return &Recorder{
		encoder: wav.NewEncoder(w, sampleRate, recordBitDepth, 1, wavFormatPCM),
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
			SourceBitDepth: recordBitDepth,
		},
	}, nil
}

// Write appends samples in [-1, 1]. Out-of-range values are clipped.
func (r *Recorder) Write(samples []float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRecorderClosed
	}
	if len(samples) == 0 {
		return nil
	}

	data := r.buf.Data[:0]
	for _, v := range samples {
		data = append(data, toPCM16(v))
	}
	r.buf.Data = data

	if err := r.encoder.Write(r.buf); err != nil {
		return fmt.Errorf("write recording: %w", err)
	}
	r.frames += int64(len(samples))
	return nil
}

// Frames returns the number of samples written.
func (r *Recorder) Frames() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Close finalises the WAV header and closes the file if the recorder
// created it.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	err := r.encoder.Close()
	if r.file != nil {
		err = errors.Join(err, r.file.Close())
	}
	return err
}

func toPCM16(v float32) int {
	f := float64(v)
	if math.IsNaN(f) {
		return 0
	}
	f = max(-1, min(1, f))
	return int(math.Round(f * math.MaxInt16))
}

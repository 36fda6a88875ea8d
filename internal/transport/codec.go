package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/ColonelBlimp/qrsdetect/internal/rhythm"
	"github.com/ColonelBlimp/qrsdetect/internal/session"
)

var (
	// ErrMisalignedPayload indicates a wave payload is not a whole number of float32 samples
	ErrMisalignedPayload = errors.New("wave payload length must be a multiple of 4")
	// ErrInvalidSource indicates a source name that cannot be used as a subject token
	ErrInvalidSource = errors.New("source must be a single non-empty subject token")
	// ErrSubjectMismatch indicates a subject outside the expected prefix
	ErrSubjectMismatch = errors.New("subject does not match prefix")
)

// EncodeSamples packs samples as little-endian float32.
func EncodeSamples(samples []float32) []byte {
	out := make([]byte, 4*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// DecodeSamples unpacks little-endian float32 samples into dst, which is
// grown as needed, and returns it.
func DecodeSamples(dst []float64, data []byte) ([]float64, error) {
	if len(data)%4 != 0 {
		return dst[:0], ErrMisalignedPayload
	}
	n := len(data) / 4
	if cap(dst) < n {
		dst = make([]float64, n)
	}
	dst = dst[:n]
	for i := range dst {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		dst[i] = float64(math.Float32frombits(bits))
	}
	return dst, nil
}

// ValidSource reports whether source can be a single subject token.
func ValidSource(source string) error {
	if source == "" || strings.ContainsAny(source, ".*> \t\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidSource, source)
	}
	return nil
}

// SanitizeSource turns a free-form device name into a subject token:
// lower case, with separators and wildcards replaced by '-'.
func SanitizeSource(name string) string {
	token := strings.Map(func(r rune) rune {
		if strings.ContainsRune(".*> \t\r\n", r) {
			return '-'
		}
		return unicode.ToLower(r)
	}, strings.TrimSpace(name))
	if token == "" {
		return "unknown"
	}
	return token
}

// Subject joins a subject prefix and a source, e.g. ecg.wave + chest.
func Subject(prefix, source string) string {
	return prefix + "." + source
}

// SourceFromSubject extracts the source token from prefix.source.
func SourceFromSubject(prefix, subject string) (string, error) {
	source, ok := strings.CutPrefix(subject, prefix+".")
	if !ok {
		return "", fmt.Errorf("%w: %q not under %q", ErrSubjectMismatch, subject, prefix)
	}
	if err := ValidSource(source); err != nil {
		return "", err
	}
	return source, nil
}

// RhythmMessage carries rhythm statistics in milliseconds.
type RhythmMessage struct {
	Beats       int     `json:"beats"`
	InitialIBI  float64 `json:"initial_ibi_ms"`
	FinalIBI    float64 `json:"final_ibi_ms"`
	AverageIBI  float64 `json:"avg_ibi_ms"`
	SmoothedBPM float64 `json:"smoothed_bpm"`
	SDNN        float64 `json:"sdnn_ms"`
	RMSSD       float64 `json:"rmssd_ms"`
}

// BeatMessage is the JSON published for every accepted beat.
type BeatMessage struct {
	Source     string        `json:"source"`
	Session    string        `json:"session"`
	Count      int           `json:"count"`
	BPM        int           `json:"bpm"`
	IntervalMs float64       `json:"interval_ms"`
	Ts         int64         `json:"ts"`
	Rhythm     RhythmMessage `json:"rhythm"`
}

// NewBeatMessage builds the wire form of a detector result.
func NewBeatMessage(source, sessionID string, r session.Result, fs float64, ts time.Time) BeatMessage {
	return BeatMessage{
		Source:     source,
		Session:    sessionID,
		Count:      r.Beat.Count,
		BPM:        r.Beat.BPM,
		IntervalMs: float64(r.Beat.Interval) * 1000 / fs,
		Ts:         ts.UnixMilli(),
		Rhythm:     newRhythmMessage(r.Stats),
	}
}

func newRhythmMessage(s rhythm.Stats) RhythmMessage {
	return RhythmMessage{
		Beats:       s.Beats,
		InitialIBI:  ms(s.InitialIBI),
		FinalIBI:    ms(s.FinalIBI),
		AverageIBI:  ms(s.AverageIBI),
		SmoothedBPM: s.SmoothedBPM,
		SDNN:        ms(s.SDNN),
		RMSSD:       ms(s.RMSSD),
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

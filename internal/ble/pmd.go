// Package ble streams single-lead ECG from a Polar chest strap over the
// Polar Measurement Data (PMD) GATT service.
package ble

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// PMD service and characteristic UUIDs.
const (
	PMDServiceUUID = "FB005C80-02E7-F387-1CAD-8ACD2D8DF0C8"
	PMDControlUUID = "FB005C81-02E7-F387-1CAD-8ACD2D8DF0C8"
	PMDDataUUID    = "FB005C82-02E7-F387-1CAD-8ACD2D8DF0C8"
)

// ECGSampleRate is the only rate the H10 offers for ECG.
const ECGSampleRate = 130

const (
	measurementECG = 0x00
	frameTypeECG   = 0x00

	opStart        = 0x02
	opStop         = 0x03
	controlRespond = 0xF0

	settingSampleRate = 0x00
	settingResolution = 0x01
	ecgResolution     = 14

	frameHeaderSize = 10
	ecgSampleSize   = 3
)

var (
	// ErrShortFrame indicates a notification too small to hold a header
	ErrShortFrame = errors.New("pmd frame shorter than header")
	// ErrNotECG indicates a frame for another measurement type
	ErrNotECG = errors.New("pmd frame is not an ecg measurement")
	// ErrFrameType indicates a compressed or unknown ECG frame layout
	ErrFrameType = errors.New("unsupported pmd frame type")
	// ErrControlResponse indicates a malformed control point response
	ErrControlResponse = errors.New("malformed pmd control response")
)

// StartECGCommand returns the control point write that starts ECG at
// 130 Hz with 14-bit resolution.
func StartECGCommand() []byte {
	cmd := []byte{opStart, measurementECG, settingSampleRate, 1, 0, 0, settingResolution, 1, 0, 0}
	binary.LittleEndian.PutUint16(cmd[4:], ECGSampleRate)
	binary.LittleEndian.PutUint16(cmd[8:], ecgResolution)
	return cmd
}

// StopECGCommand returns the control point write that stops ECG.
func StopECGCommand() []byte {
	return []byte{opStop, measurementECG}
}

// Frame is one decoded ECG notification.
type Frame struct {
	// Timestamp of the last sample in nanoseconds, sensor clock
	Timestamp uint64
	// Samples in microvolts
	Samples []int32
}

// DecodeFrame parses a PMD data notification. Trailing bytes that do not
// make a whole sample are ignored.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) < frameHeaderSize {
		return Frame{}, ErrShortFrame
	}
	if b[0] != measurementECG {
		return Frame{}, fmt.Errorf("%w: type 0x%02x", ErrNotECG, b[0])
	}
	if b[9] != frameTypeECG {
		return Frame{}, fmt.Errorf("%w: 0x%02x", ErrFrameType, b[9])
	}

	payload := b[frameHeaderSize:]
	samples := make([]int32, len(payload)/ecgSampleSize)
	for i := range samples {
		p := payload[i*ecgSampleSize:]
		samples[i] = int24(p[0], p[1], p[2])
	}
	return Frame{
		Timestamp: binary.LittleEndian.Uint64(b[1:9]),
		Samples:   samples,
	}, nil
}

// int24 sign-extends a little-endian 24-bit value.
func int24(b0, b1, b2 byte) int32 {
	v := int32(b0) | int32(b1)<<8 | int32(b2)<<16
	return v << 8 >> 8
}

// ControlResponse is the sensor's answer to a control point write.
type ControlResponse struct {
	Opcode      byte
	Measurement byte
	Status      byte
}

// OK reports whether the sensor accepted the command.
func (r ControlResponse) OK() bool {
	return r.Status == 0
}

// ParseControlResponse parses a control point indication.
func ParseControlResponse(b []byte) (ControlResponse, error) {
	if len(b) < 4 || b[0] != controlRespond {
		return ControlResponse{}, fmt.Errorf("%w: % x", ErrControlResponse, b)
	}
	return ControlResponse{Opcode: b[1], Measurement: b[2], Status: b[3]}, nil
}

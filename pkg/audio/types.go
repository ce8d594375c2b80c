// ABOUTME: Audio type definitions
// ABOUTME: Defines stream formats, device clock readings and sample packing helpers
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23
)

// Direction identifies which side of the pass-through a device serves
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	switch d {
	case Input:
		return "input"
	case Output:
		return "output"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Format describes the stream format shared by the input and output side
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int  // 8, 16, 24 or 32
	Float      bool // IEEE float samples (BitDepth must be 32)
	Planar     bool // one buffer per channel instead of interleaved frames
}

// BytesPerSample returns the size of one sample of one channel
func (f Format) BytesPerSample() int {
	return f.BitDepth / 8
}

// Planes returns the number of buffers a frame range is split across
func (f Format) Planes() int {
	if f.Planar {
		return f.Channels
	}
	return 1
}

// FrameSize returns the bytes one frame occupies in a single plane
func (f Format) FrameSize() int {
	if f.Planar {
		return f.BytesPerSample()
	}
	return f.BytesPerSample() * f.Channels
}

// Validate checks that the format can be carried without conversion
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 32 {
		return fmt.Errorf("invalid channel count: %d", f.Channels)
	}
	switch f.BitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("unsupported bit depth: %d (supported: 8, 16, 24, 32)", f.BitDepth)
	}
	if f.Float && f.BitDepth != 32 {
		return fmt.Errorf("float samples require 32-bit depth, got %d", f.BitDepth)
	}
	return nil
}

// Equal reports whether two formats are identical
func (f Format) Equal(o Format) bool {
	return f == o
}

// FramesIn returns the number of frames in the given duration
func (f Format) FramesIn(d time.Duration) int {
	return int(int64(f.SampleRate) * int64(d) / int64(time.Second))
}

// Duration returns the playback duration of the given number of frames
func (f Format) Duration(frames int) time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

func (f Format) String() string {
	enc := fmt.Sprintf("s%d", f.BitDepth)
	if f.BitDepth == 8 {
		enc = "u8"
	}
	if f.Float {
		enc = "f32"
	}
	layout := ""
	if f.Planar {
		layout = "/planar"
	}
	return fmt.Sprintf("%dHz/%dch/%s%s", f.SampleRate, f.Channels, enc, layout)
}

// Timestamp is a device clock reading delivered with every device callback
type Timestamp struct {
	SampleTime float64 // frames since the device clock's anchor
	HostTime   int64   // host clock in nanoseconds, 0 when unknown
	RateScalar float64 // measured rate relative to nominal, 0 when unknown
}

// Valid reports whether the reading carries a usable sample time
func (t Timestamp) Valid() bool {
	return t.SampleTime >= 0 && !math.IsNaN(t.SampleTime) && !math.IsInf(t.SampleTime, 0)
}

// SampleToInt16 converts int32 sample to int16 (for 16-bit playback)
func SampleToInt16(sample int32) int16 {
	// Right-shift to convert 24-bit (or 16-bit) to 16-bit range
	return int16(sample >> 8)
}

// SampleFromInt16 converts int16 sample to int32 (left-justified in 24-bit)
func SampleFromInt16(sample int16) int32 {
	return int32(sample) << 8
}

// SampleTo24Bit converts int32 to 24-bit packed bytes (little-endian)
func SampleTo24Bit(sample int32) [3]byte {
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}

// SampleFrom24Bit converts 24-bit packed bytes to int32 (little-endian)
func SampleFrom24Bit(b [3]byte) int32 {
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	// Sign extend from 24-bit to 32-bit
	if val&0x800000 != 0 {
		val |= ^0xFFFFFF
	}
	return val
}

// PutSample writes a normalized sample (-1..1) into dst using the format's encoding.
// dst must hold at least BytesPerSample bytes.
func PutSample(dst []byte, f Format, v float64) {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}

	switch {
	case f.Float:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(v)))
	case f.BitDepth == 8:
		dst[0] = byte(int(v*127) + 128)
	case f.BitDepth == 16:
		binary.LittleEndian.PutUint16(dst, uint16(int16(v*32767)))
	case f.BitDepth == 24:
		b := SampleTo24Bit(int32(v * Max24Bit))
		copy(dst, b[:])
	case f.BitDepth == 32:
		binary.LittleEndian.PutUint32(dst, uint32(int32(v*math.MaxInt32)))
	}
}

// Silence fills b with the zero level of the format; unsigned 8-bit centres on 128
func Silence(b []byte, f Format) {
	if f.BitDepth == 8 && !f.Float {
		for i := range b {
			b[i] = 128
		}
		return
	}
	clear(b)
}

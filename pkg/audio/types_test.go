// ABOUTME: Tests for audio types
// ABOUTME: Tests format arithmetic, timestamps and sample conversion functions
package audio

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func TestSampleFromInt16(t *testing.T) {
	tests := []struct {
		name     string
		input    int16
		expected int32
	}{
		{"zero", 0, 0},
		{"positive", 100, 100 << 8},
		{"negative", -100, -100 << 8},
		{"max", 32767, 32767 << 8},
		{"min", -32768, -32768 << 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SampleFromInt16(tt.input)
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
		})
	}
}

func TestSampleToInt16(t *testing.T) {
	tests := []struct {
		name     string
		input    int32
		expected int16
	}{
		{"zero", 0, 0},
		{"positive", 100 << 8, 100},
		{"negative", -100 << 8, -100},
		{"24bit positive", 1000000, 3906}, // 1000000 >> 8 = 3906
		{"24bit negative", -1000000, -3907},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SampleToInt16(tt.input)
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
		})
	}
}

func TestSampleTo24Bit(t *testing.T) {
	tests := []struct {
		name     string
		input    int32
		expected [3]byte
	}{
		{"zero", 0, [3]byte{0, 0, 0}},
		{"positive", 0x123456, [3]byte{0x56, 0x34, 0x12}},
		{"negative", -256, [3]byte{0x00, 0xFF, 0xFF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SampleTo24Bit(tt.input)
			if result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestSampleFrom24Bit(t *testing.T) {
	tests := []struct {
		name     string
		input    [3]byte
		expected int32
	}{
		{"zero", [3]byte{0, 0, 0}, 0},
		{"positive", [3]byte{0x56, 0x34, 0x12}, 0x123456},
		{"negative", [3]byte{0x00, 0xFF, 0xFF}, -256},
		{"max positive", [3]byte{0xFF, 0xFF, 0x7F}, Max24Bit},
		{"max negative", [3]byte{0x00, 0x00, 0x80}, Min24Bit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SampleFrom24Bit(tt.input)
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
		})
	}
}

func TestFormatFrameSize(t *testing.T) {
	tests := []struct {
		name      string
		format    Format
		frameSize int
		planes    int
	}{
		{"s16 stereo", Format{SampleRate: 48000, Channels: 2, BitDepth: 16}, 4, 1},
		{"s24 mono", Format{SampleRate: 48000, Channels: 1, BitDepth: 24}, 3, 1},
		{"f32 stereo", Format{SampleRate: 44100, Channels: 2, BitDepth: 32, Float: true}, 8, 1},
		{"f32 planar", Format{SampleRate: 44100, Channels: 2, BitDepth: 32, Float: true, Planar: true}, 4, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.format.FrameSize(); got != tt.frameSize {
				t.Errorf("expected frame size %d, got %d", tt.frameSize, got)
			}
			if got := tt.format.Planes(); got != tt.planes {
				t.Errorf("expected %d planes, got %d", tt.planes, got)
			}
		})
	}
}

func TestFormatValidate(t *testing.T) {
	tests := []struct {
		name    string
		format  Format
		wantErr bool
	}{
		{"valid", Format{SampleRate: 48000, Channels: 2, BitDepth: 16}, false},
		{"zero rate", Format{Channels: 2, BitDepth: 16}, true},
		{"no channels", Format{SampleRate: 48000, BitDepth: 16}, true},
		{"odd depth", Format{SampleRate: 48000, Channels: 2, BitDepth: 12}, true},
		{"float16", Format{SampleRate: 48000, Channels: 2, BitDepth: 16, Float: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.format.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestFormatDurations(t *testing.T) {
	f := Format{SampleRate: 48000, Channels: 2, BitDepth: 16}

	if got := f.FramesIn(10 * time.Millisecond); got != 480 {
		t.Errorf("expected 480 frames in 10ms, got %d", got)
	}
	if got := f.Duration(512); got != 10666666*time.Nanosecond {
		t.Errorf("expected ~10.67ms for 512 frames, got %v", got)
	}
	if got := f.String(); got != "48000Hz/2ch/s16" {
		t.Errorf("expected 48000Hz/2ch/s16, got %s", got)
	}
}

func TestTimestampValid(t *testing.T) {
	tests := []struct {
		ts    Timestamp
		valid bool
	}{
		{Timestamp{SampleTime: 0}, true},
		{Timestamp{SampleTime: 1024.5}, true},
		{Timestamp{SampleTime: -1}, false},
		{Timestamp{SampleTime: math.NaN()}, false},
		{Timestamp{SampleTime: math.Inf(1)}, false},
	}

	for _, tt := range tests {
		if got := tt.ts.Valid(); got != tt.valid {
			t.Errorf("sample time %v: expected valid=%v, got %v", tt.ts.SampleTime, tt.valid, got)
		}
	}
}

func TestPutSample(t *testing.T) {
	buf := make([]byte, 4)

	PutSample(buf, Format{BitDepth: 16}, 1.0)
	if got := int16(binary.LittleEndian.Uint16(buf)); got != 32767 {
		t.Errorf("expected 32767, got %d", got)
	}

	PutSample(buf, Format{BitDepth: 24}, -2.0) // clamped
	if got := SampleFrom24Bit([3]byte{buf[0], buf[1], buf[2]}); got != -Max24Bit {
		t.Errorf("expected %d, got %d", -Max24Bit, got)
	}

	PutSample(buf, Format{BitDepth: 32, Float: true}, 0.5)
	if got := math.Float32frombits(binary.LittleEndian.Uint32(buf)); got != 0.5 {
		t.Errorf("expected 0.5, got %f", got)
	}

	PutSample(buf, Format{BitDepth: 8}, 0)
	if buf[0] != 128 {
		t.Errorf("expected unsigned midpoint 128, got %d", buf[0])
	}
}

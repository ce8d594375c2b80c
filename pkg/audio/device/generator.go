// ABOUTME: Signal generators feeding simulated capture devices
// ABOUTME: Tone, ramp and silence sources that write frames in any supported format
package device

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
)

// Generator produces captured frames for a simulated input device.
// An error skips the buffer and is reported through OnDeviceError.
type Generator interface {
	Generate(dst [][]byte, frames int) error
}

// sampleAt returns the bytes of one sample in a frame range
func sampleAt(dst [][]byte, f audio.Format, frame, ch int) []byte {
	bps := f.BytesPerSample()
	if f.Planar {
		return dst[ch][frame*bps:]
	}
	return dst[0][(frame*f.Channels+ch)*bps:]
}

// ToneGenerator generates a sine wave on every channel
type ToneGenerator struct {
	format    audio.Format
	frequency float64
	amplitude float64
	index     uint64
}

// NewToneGenerator creates a sine generator at half amplitude
func NewToneGenerator(format audio.Format, frequency float64) *ToneGenerator {
	if frequency <= 0 {
		frequency = 440.0 // A4 note
	}
	return &ToneGenerator{
		format:    format,
		frequency: frequency,
		amplitude: 0.5,
	}
}

// Frequency returns the tone frequency in Hz
func (g *ToneGenerator) Frequency() float64 {
	return g.frequency
}

// Generate writes the next frames of the tone
func (g *ToneGenerator) Generate(dst [][]byte, frames int) error {
	for i := 0; i < frames; i++ {
		t := float64(g.index+uint64(i)) / float64(g.format.SampleRate)
		v := math.Sin(2*math.Pi*g.frequency*t) * g.amplitude
		for ch := 0; ch < g.format.Channels; ch++ {
			audio.PutSample(sampleAt(dst, g.format, i, ch), g.format, v)
		}
	}
	g.index += uint64(frames)
	return nil
}

// RampGenerator writes the running frame counter into every frame, so a
// rendered frame can be traced back to the captured frame it came from
type RampGenerator struct {
	format audio.Format
	index  uint64
}

// NewRampGenerator creates a frame counter generator
func NewRampGenerator(format audio.Format) *RampGenerator {
	return &RampGenerator{format: format}
}

// Generate writes counter values; each plane carries the counter bytes
// little-endian, repeated across the frame
func (g *RampGenerator) Generate(dst [][]byte, frames int) error {
	fs := g.format.FrameSize()
	var counter [8]byte
	for i := 0; i < frames; i++ {
		binary.LittleEndian.PutUint64(counter[:], g.index+uint64(i))
		for _, plane := range dst {
			frame := plane[i*fs : (i+1)*fs]
			for j := range frame {
				frame[j] = counter[j%len(counter)]
			}
		}
	}
	g.index += uint64(frames)
	return nil
}

// RampValue decodes the counter a RampGenerator wrote into a frame
func RampValue(frame []byte) uint64 {
	var counter [8]byte
	copy(counter[:], frame)
	return binary.LittleEndian.Uint64(counter[:])
}

// SilenceGenerator captures digital silence
type SilenceGenerator struct {
	format audio.Format
}

// NewSilenceGenerator creates a silence generator
func NewSilenceGenerator(format audio.Format) *SilenceGenerator {
	return &SilenceGenerator{format: format}
}

// Generate writes silence for the format
func (g *SilenceGenerator) Generate(dst [][]byte, frames int) error {
	fs := g.format.FrameSize()
	for _, plane := range dst {
		audio.Silence(plane[:frames*fs], g.format)
	}
	return nil
}

// checkPlaneSizes verifies that dst can hold frames of f
func checkPlaneSizes(dst [][]byte, f audio.Format, frames int) error {
	if len(dst) != f.Planes() {
		return fmt.Errorf("expected %d planes, got %d", f.Planes(), len(dst))
	}
	for i, plane := range dst {
		if len(plane) < frames*f.FrameSize() {
			return fmt.Errorf("plane %d holds %d bytes, need %d", i, len(plane), frames*f.FrameSize())
		}
	}
	return nil
}

// ABOUTME: Malgo-based capture and playback devices
// ABOUTME: Uses miniaudio via malgo; each device runs on its own hardware clock
package device

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
	"github.com/gen2brain/malgo"
)

// Malgo is a Provider backed by a miniaudio context
type Malgo struct {
	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
}

// NewMalgo initializes a miniaudio context
func NewMalgo() (*Malgo, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}
	return &Malgo{malgoCtx: ctx}, nil
}

// Name returns the backend name
func (m *Malgo) Name() string {
	return "malgo"
}

// Devices lists capture or playback devices
func (m *Malgo) Devices(dir audio.Direction) ([]Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.malgoCtx == nil {
		return nil, fmt.Errorf("malgo provider closed")
	}

	infos, err := m.malgoCtx.Devices(deviceType(dir))
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate %s devices: %w", dir, err)
	}

	out := make([]Info, 0, len(infos))
	for i := range infos {
		out = append(out, Info{
			ID:        infos[i].ID.String(),
			Name:      infos[i].Name(),
			Direction: dir,
			IsDefault: infos[i].IsDefault != 0,
		})
	}
	return out, nil
}

// OpenInput opens a capture device
func (m *Malgo) OpenInput(id string, p Params) (Device, error) {
	return m.open(audio.Input, id, p)
}

// OpenOutput opens a playback device
func (m *Malgo) OpenOutput(id string, p Params) (Device, error) {
	return m.open(audio.Output, id, p)
}

func (m *Malgo) open(dir audio.Direction, id string, p Params) (Device, error) {
	if err := checkParams(p); err != nil {
		return nil, err
	}
	if p.Format.Planar {
		return nil, fmt.Errorf("malgo delivers interleaved frames only: %w", ErrUnsupported)
	}

	format, err := malgoFormat(p.Format)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.malgoCtx == nil {
		return nil, fmt.Errorf("malgo provider closed")
	}

	kind := deviceType(dir)
	infos, err := m.malgoCtx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate %s devices: %w", dir, err)
	}

	d := &malgoDevice{
		info:   Info{ID: id, Name: "default", Direction: dir, IsDefault: id == ""},
		format: p.Format,
		frames: p.FramesPerBuffer,
		planes: make([][]byte, 1),
	}

	deviceConfig := malgo.DefaultDeviceConfig(kind)
	deviceConfig.SampleRate = uint32(p.Format.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(p.FramesPerBuffer)
	deviceConfig.PerformanceProfile = malgo.LowLatency
	deviceConfig.Alsa.NoMMap = 1

	if id != "" {
		found := false
		for i := range infos {
			if infos[i].ID.String() != id {
				continue
			}
			d.info.Name = infos[i].Name()
			d.info.IsDefault = infos[i].IsDefault != 0
			if dir == audio.Input {
				deviceConfig.Capture.DeviceID = infos[i].ID.Pointer()
			} else {
				deviceConfig.Playback.DeviceID = infos[i].ID.Pointer()
			}
			found = true
			break
		}
		if !found {
			return nil, fmt.Errorf("%s device %q: %w", dir, id, ErrNotFound)
		}
	}

	if dir == audio.Input {
		deviceConfig.Capture.Format = format
		deviceConfig.Capture.Channels = uint32(p.Format.Channels)
	} else {
		deviceConfig.Playback.Format = format
		deviceConfig.Playback.Channels = uint32(p.Format.Channels)
	}

	deviceCallbacks := malgo.DeviceCallbacks{
		Data: d.dataCallback,
	}

	device, err := malgo.InitDevice(m.malgoCtx.Context, deviceConfig, deviceCallbacks)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s device: %w", dir, err)
	}
	d.device = device

	log.Printf("Opened %s device %q: %s, %d frames per buffer (malgo/%s)",
		dir, d.info.Name, p.Format, p.FramesPerBuffer, formatName(format))

	return d, nil
}

// Close releases the miniaudio context
func (m *Malgo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.malgoCtx == nil {
		return nil
	}
	if err := m.malgoCtx.Uninit(); err != nil {
		log.Printf("Warning: malgo context uninit error: %v", err)
	}
	m.malgoCtx.Free()
	m.malgoCtx = nil
	return nil
}

// malgoDevice is one opened miniaudio device
type malgoDevice struct {
	info    Info
	format  audio.Format
	frames  int
	device  *malgo.Device
	handler atomic.Pointer[handlerRef]

	// owned by the device thread
	sampleTime float64
	planes     [][]byte

	mu      sync.Mutex
	started bool
}

func (d *malgoDevice) Info() Info           { return d.info }
func (d *malgoDevice) Format() audio.Format { return d.format }
func (d *malgoDevice) FramesPerBuffer() int { return d.frames }

// Start registers h and starts the hardware clock
func (d *malgoDevice) Start(h Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device == nil {
		return fmt.Errorf("device closed")
	}
	if d.started {
		return nil
	}

	d.sampleTime = 0
	d.handler.Store(&handlerRef{h: h})
	if err := d.device.Start(); err != nil {
		d.handler.Store(nil)
		return fmt.Errorf("failed to start %s device: %w", d.info.Direction, err)
	}
	d.started = true
	return nil
}

// Stop halts the device; miniaudio waits for the running callback to return
func (d *malgoDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return nil
	}
	d.started = false
	err := d.device.Stop()
	d.handler.Store(nil)
	if err != nil {
		return fmt.Errorf("failed to stop %s device: %w", d.info.Direction, err)
	}
	return nil
}

// Close stops and uninitializes the device
func (d *malgoDevice) Close() error {
	if err := d.Stop(); err != nil {
		log.Printf("Warning: device stop error: %v", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device != nil {
		d.device.Uninit()
		d.device = nil
	}
	return nil
}

// dataCallback is called by miniaudio once per period
func (d *malgoDevice) dataCallback(pOutput, pInput []byte, frameCount uint32) {
	frames := int(frameCount)
	ref := d.handler.Load()
	if ref == nil {
		if pOutput != nil {
			clear(pOutput)
		}
		return
	}

	ts := audio.Timestamp{
		SampleTime: d.sampleTime,
		HostTime:   time.Now().UnixNano(),
		RateScalar: 1,
	}
	d.sampleTime += float64(frames)

	size := frames * d.format.FrameSize()
	if d.info.Direction == audio.Input {
		if len(pInput) < size {
			ref.h.OnDeviceError(audio.Input, fmt.Errorf("short capture buffer: %d bytes for %d frames", len(pInput), frames))
			return
		}
		d.planes[0] = pInput[:size]
		ref.h.OnCapture(ts, frames, d.planes)
		return
	}

	if len(pOutput) < size {
		ref.h.OnDeviceError(audio.Output, fmt.Errorf("short playback buffer: %d bytes for %d frames", len(pOutput), frames))
		return
	}
	d.planes[0] = pOutput[:size]
	ref.h.OnRender(ts, frames, d.planes)
}

func deviceType(dir audio.Direction) malgo.DeviceType {
	if dir == audio.Input {
		return malgo.Capture
	}
	return malgo.Playback
}

// malgoFormat maps a stream format to a miniaudio sample format
func malgoFormat(f audio.Format) (malgo.FormatType, error) {
	switch {
	case f.Float:
		return malgo.FormatF32, nil
	case f.BitDepth == 8:
		return malgo.FormatU8, nil
	case f.BitDepth == 16:
		return malgo.FormatS16, nil
	case f.BitDepth == 24:
		return malgo.FormatS24, nil
	case f.BitDepth == 32:
		return malgo.FormatS32, nil
	default:
		return malgo.FormatUnknown, fmt.Errorf("unsupported bit depth %d: %w", f.BitDepth, ErrFormatMismatch)
	}
}

// formatName returns human-readable format name
func formatName(format malgo.FormatType) string {
	switch format {
	case malgo.FormatU8:
		return "U8"
	case malgo.FormatS16:
		return "S16"
	case malgo.FormatS24:
		return "S24"
	case malgo.FormatS32:
		return "S32"
	case malgo.FormatF32:
		return "F32"
	default:
		return fmt.Sprintf("Unknown(%d)", format)
	}
}

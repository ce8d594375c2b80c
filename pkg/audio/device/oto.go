// ABOUTME: Oto-based render device
// ABOUTME: Oto pulls PCM through an io.Reader; each Read becomes one OnRender call
package device

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
	"github.com/ebitengine/oto/v3"
)

// stopPoll is how often Stop checks for an in-flight Read
const stopPoll = time.Millisecond

// Oto is an output-only Provider. Oto allows one context per process, so the
// first opened format is fixed for the lifetime of the provider.
type Oto struct {
	mu     sync.Mutex
	otoCtx *oto.Context
	format audio.Format
}

// NewOto creates an Oto provider; the context is created on first open
func NewOto() *Oto {
	return &Oto{}
}

// Name returns the backend name
func (o *Oto) Name() string {
	return "oto"
}

// Devices lists the single default output
func (o *Oto) Devices(dir audio.Direction) ([]Info, error) {
	if dir == audio.Input {
		return nil, nil
	}
	return []Info{{ID: "default", Name: "oto default output", Direction: audio.Output, IsDefault: true}}, nil
}

// OpenInput is not supported by oto
func (o *Oto) OpenInput(id string, p Params) (Device, error) {
	return nil, fmt.Errorf("oto capture: %w", ErrUnsupported)
}

// OpenOutput opens the default output
func (o *Oto) OpenOutput(id string, p Params) (Device, error) {
	if id != "" && id != "default" {
		return nil, fmt.Errorf("output device %q: %w", id, ErrNotFound)
	}
	if err := checkParams(p); err != nil {
		return nil, err
	}
	if p.Format.Planar {
		return nil, fmt.Errorf("oto plays interleaved frames only: %w", ErrUnsupported)
	}

	format, err := otoFormat(p.Format)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.otoCtx != nil && !o.format.Equal(p.Format) {
		return nil, fmt.Errorf("oto context already running %s, cannot open %s: %w", o.format, p.Format, ErrFormatMismatch)
	}

	if o.otoCtx == nil {
		op := &oto.NewContextOptions{
			SampleRate:   p.Format.SampleRate,
			ChannelCount: p.Format.Channels,
			Format:       format,
			BufferSize:   p.Format.Duration(p.FramesPerBuffer),
		}

		ctx, readyChan, err := oto.NewContext(op)
		if err != nil {
			return nil, fmt.Errorf("failed to create oto context: %w", err)
		}
		<-readyChan

		o.otoCtx = ctx
		o.format = p.Format
	}

	d := &otoDevice{
		otoCtx: o.otoCtx,
		format: p.Format,
		frames: p.FramesPerBuffer,
		planes: make([][]byte, 1),
	}

	log.Printf("Opened output device (oto): %s, %d frames per buffer", p.Format, p.FramesPerBuffer)
	return d, nil
}

// Close suspends the oto context. The context itself cannot be destroyed.
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.otoCtx != nil {
		if err := o.otoCtx.Suspend(); err != nil {
			log.Printf("Warning: oto suspend error: %v", err)
		}
	}
	return nil
}

// otoDevice adapts OnRender to the io.Reader oto pulls from
type otoDevice struct {
	otoCtx *oto.Context
	format audio.Format
	frames int

	mu     sync.Mutex
	player *oto.Player

	handler  atomic.Pointer[handlerRef]
	active   atomic.Bool
	inflight atomic.Int32

	// owned by the oto reader goroutine
	sampleTime float64
	planes     [][]byte
}

func (d *otoDevice) Info() Info {
	return Info{ID: "default", Name: "oto default output", Direction: audio.Output, IsDefault: true}
}
func (d *otoDevice) Format() audio.Format { return d.format }
func (d *otoDevice) FramesPerBuffer() int { return d.frames }

// Start registers h and starts pulling audio
func (d *otoDevice) Start(h Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active.Load() {
		return nil
	}

	d.handler.Store(&handlerRef{h: h})
	if d.player == nil {
		d.player = d.otoCtx.NewPlayer(d)
		d.player.SetBufferSize(d.frames * d.format.FrameSize())
	}
	d.active.Store(true)
	d.player.Play()
	return nil
}

// Stop pauses the player and waits for an in-flight Read to finish
func (d *otoDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active.Load() {
		return nil
	}
	d.active.Store(false)
	if d.player != nil {
		d.player.Pause()
	}
	// a stalled oto reader must not pin a core while we wait
	for d.inflight.Load() > 0 {
		time.Sleep(stopPoll)
	}
	d.handler.Store(nil)
	return nil
}

// Close stops and releases the player
func (d *otoDevice) Close() error {
	if err := d.Stop(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.player != nil {
		if err := d.player.Close(); err != nil {
			return fmt.Errorf("failed to close oto player: %w", err)
		}
		d.player = nil
	}
	return nil
}

// Read is called by oto whenever it needs more PCM
func (d *otoDevice) Read(p []byte) (int, error) {
	d.inflight.Add(1)
	defer d.inflight.Add(-1)

	ref := d.handler.Load()
	if !d.active.Load() || ref == nil {
		clear(p)
		return len(p), nil
	}

	frames := len(p) / d.format.FrameSize()
	if frames == 0 {
		clear(p)
		return len(p), nil
	}
	size := frames * d.format.FrameSize()

	ts := audio.Timestamp{
		SampleTime: d.sampleTime,
		HostTime:   time.Now().UnixNano(),
		RateScalar: 1,
	}
	d.sampleTime += float64(frames)

	d.planes[0] = p[:size]
	ref.h.OnRender(ts, frames, d.planes)
	return size, nil
}

// otoFormat maps a stream format to an oto sample format
func otoFormat(f audio.Format) (oto.Format, error) {
	switch {
	case f.Float:
		return oto.FormatFloat32LE, nil
	case f.BitDepth == 8:
		return oto.FormatUnsignedInt8, nil
	case f.BitDepth == 16:
		return oto.FormatSignedInt16LE, nil
	default:
		return 0, fmt.Errorf("oto supports u8, s16 and f32, not %s: %w", f, ErrFormatMismatch)
	}
}

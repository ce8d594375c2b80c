// ABOUTME: Simulated audio devices driven by tickers or by hand
// ABOUTME: Lets the engine run without hardware, with independent clocks per device
package device

import (
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
)

// Sink receives every buffer a simulated output device renders
type Sink func(ts audio.Timestamp, frames int, out [][]byte)

// SimConfig configures simulated devices
type SimConfig struct {
	// InputAnchor and OutputAnchor are the sample times each device clock starts at
	InputAnchor  float64
	OutputAnchor float64

	// SkewPPM makes output clocks run fast (positive) or slow (negative)
	SkewPPM float64

	// Manual disables the tickers; buffers are exchanged by calling Tick
	Manual bool

	// HostClock returns host time in nanoseconds (defaults to time.Now)
	HostClock func() int64

	// Loop restarts mp3 sources at end of stream
	Loop bool
}

// Sim is a Provider of simulated devices.
//
// Input ids: "tone", "tone:<hz>", "silence", "ramp", "mp3:<path>" and any id
// added with AddInput. Output ids: "null" and any id added with AddOutput.
type Sim struct {
	cfg SimConfig

	mu     sync.Mutex
	inputs map[string]Generator
	sinks  map[string]Sink
}

// NewSim creates a simulated provider
func NewSim(cfg SimConfig) *Sim {
	if cfg.HostClock == nil {
		cfg.HostClock = func() int64 { return time.Now().UnixNano() }
	}
	return &Sim{
		cfg:    cfg,
		inputs: make(map[string]Generator),
		sinks:  make(map[string]Sink),
	}
}

// AddInput registers a capture device fed by g
func (s *Sim) AddInput(id string, g Generator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs[id] = g
}

// AddOutput registers a render device whose buffers go to sink
func (s *Sim) AddOutput(id string, sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks[id] = sink
}

// Name returns the backend name
func (s *Sim) Name() string {
	return "sim"
}

// Devices lists the simulated devices for a direction
func (s *Sim) Devices(dir audio.Direction) ([]Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	if dir == audio.Input {
		ids = []string{"tone", "silence", "ramp"}
		for id := range s.inputs {
			ids = append(ids, id)
		}
	} else {
		ids = []string{"null"}
		for id := range s.sinks {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids[1:])

	infos := make([]Info, 0, len(ids))
	for i, id := range ids {
		infos = append(infos, Info{ID: id, Name: "sim " + id, Direction: dir, IsDefault: i == 0})
	}
	return infos, nil
}

// OpenInput opens a simulated capture device
func (s *Sim) OpenInput(id string, p Params) (Device, error) {
	if err := checkParams(p); err != nil {
		return nil, err
	}
	if id == "" {
		id = "tone"
	}

	gen, err := s.generator(id, p.Format)
	if err != nil {
		return nil, err
	}

	d := s.newDevice(Info{ID: id, Name: "sim " + id, Direction: audio.Input}, p, s.cfg.InputAnchor, 0)
	d.gen = gen
	log.Printf("Opened sim input %q: %s, %d frames per buffer", id, p.Format, p.FramesPerBuffer)
	return d, nil
}

// OpenOutput opens a simulated render device
func (s *Sim) OpenOutput(id string, p Params) (Device, error) {
	if err := checkParams(p); err != nil {
		return nil, err
	}
	if id == "" {
		id = "null"
	}

	var sink Sink
	if id != "null" {
		s.mu.Lock()
		var ok bool
		sink, ok = s.sinks[id]
		s.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("sim output %q: %w", id, ErrNotFound)
		}
	}

	d := s.newDevice(Info{ID: id, Name: "sim " + id, Direction: audio.Output}, p, s.cfg.OutputAnchor, s.cfg.SkewPPM)
	d.sink = sink
	log.Printf("Opened sim output %q: %s, %d frames per buffer", id, p.Format, p.FramesPerBuffer)
	return d, nil
}

// Close is a no-op for simulated devices
func (s *Sim) Close() error {
	return nil
}

func (s *Sim) generator(id string, format audio.Format) (Generator, error) {
	s.mu.Lock()
	g, ok := s.inputs[id]
	s.mu.Unlock()
	if ok {
		return g, nil
	}

	switch {
	case id == "tone":
		return NewToneGenerator(format, 440), nil
	case strings.HasPrefix(id, "tone:"):
		hz, err := strconv.ParseFloat(strings.TrimPrefix(id, "tone:"), 64)
		if err != nil || hz <= 0 {
			return nil, fmt.Errorf("invalid tone frequency in %q", id)
		}
		return NewToneGenerator(format, hz), nil
	case id == "silence":
		return NewSilenceGenerator(format), nil
	case id == "ramp":
		return NewRampGenerator(format), nil
	case strings.HasPrefix(id, "mp3:"):
		return OpenMP3(strings.TrimPrefix(id, "mp3:"), format, s.cfg.Loop)
	default:
		return nil, fmt.Errorf("sim input %q: %w", id, ErrNotFound)
	}
}

func (s *Sim) newDevice(info Info, p Params, anchor, skewPPM float64) *SimDevice {
	scalar := 1 + skewPPM/1e6
	period := time.Duration(float64(p.Format.Duration(p.FramesPerBuffer)) / scalar)
	return &SimDevice{
		info:      info,
		format:    p.Format,
		frames:    p.FramesPerBuffer,
		anchor:    anchor,
		period:    period,
		scalar:    scalar,
		manual:    s.cfg.Manual,
		hostClock: s.cfg.HostClock,
		planes:    makePlanes(p.Format, p.FramesPerBuffer),
	}
}

// SimDevice is a simulated device. Unless the provider is manual, a ticker
// exchanges one buffer per period on its own goroutine.
type SimDevice struct {
	info      Info
	format    audio.Format
	frames    int
	anchor    float64
	period    time.Duration
	scalar    float64
	manual    bool
	hostClock func() int64
	gen       Generator
	sink      Sink

	handler atomic.Pointer[handlerRef]

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup

	// tickMu guards the device clock and scratch buffers
	tickMu     sync.Mutex
	sampleTime float64
	planes     [][]byte
}

func (d *SimDevice) Info() Info           { return d.info }
func (d *SimDevice) Format() audio.Format { return d.format }
func (d *SimDevice) FramesPerBuffer() int { return d.frames }

// Period returns the time between buffers
func (d *SimDevice) Period() time.Duration { return d.period }

// Start resets the device clock to its anchor and begins exchanging buffers
func (d *SimDevice) Start(h Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil
	}

	d.tickMu.Lock()
	d.sampleTime = d.anchor
	d.tickMu.Unlock()

	d.handler.Store(&handlerRef{h: h})
	d.running = true

	if !d.manual {
		d.done = make(chan struct{})
		d.wg.Add(1)
		go d.run(d.done)
	}
	return nil
}

func (d *SimDevice) run(done chan struct{}) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.period)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			d.Tick()
		}
	}
}

// Tick exchanges one buffer with the handler. It returns false when the
// device is not started.
func (d *SimDevice) Tick() bool {
	d.tickMu.Lock()
	defer d.tickMu.Unlock()

	ref := d.handler.Load()
	if ref == nil {
		return false
	}

	ts := audio.Timestamp{
		SampleTime: d.sampleTime,
		HostTime:   d.hostClock(),
		RateScalar: d.scalar,
	}
	d.sampleTime += float64(d.frames)

	if d.info.Direction == audio.Input {
		if err := d.gen.Generate(d.planes, d.frames); err != nil {
			ref.h.OnDeviceError(audio.Input, err)
			return true
		}
		ref.h.OnCapture(ts, d.frames, d.planes)
		return true
	}

	for _, plane := range d.planes {
		audio.Silence(plane, d.format)
	}
	ref.h.OnRender(ts, d.frames, d.planes)
	if d.sink != nil {
		d.sink(ts, d.frames, d.planes)
	}
	return true
}

// Stop halts the ticker and waits for the running buffer exchange
func (d *SimDevice) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.handler.Store(nil)
	if d.done != nil {
		close(d.done)
		d.done = nil
	}
	d.mu.Unlock()

	d.wg.Wait()

	// wait out a manual Tick that loaded the handler before it was cleared
	d.tickMu.Lock()
	d.tickMu.Unlock()
	return nil
}

// Close stops the device and releases its source
func (d *SimDevice) Close() error {
	if err := d.Stop(); err != nil {
		return err
	}
	if c, ok := d.gen.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ABOUTME: Non-real-time controller for the pass-through engine
// ABOUTME: Opens devices, sizes buffers and sequences start, stop and device changes
package playthrough

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
	"github.com/Resonate-Protocol/playthrough/pkg/audio/device"
)

// State is the controller state
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// MarshalText encodes the state as its name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name
func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{StateStopped, StateStarting, StateRunning, StateStopping} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

const (
	defaultFramesPerBuffer  = 512
	defaultCapacityMultiple = 8
	minCapacityMultiple     = 3
)

// Config holds controller configuration
type Config struct {
	// Inputs opens capture devices
	Inputs device.Provider

	// Outputs opens render devices; may be the same provider as Inputs
	Outputs device.Provider

	// Format is the stream format both devices must run
	Format audio.Format

	// FramesPerBuffer is the requested device buffer size (default: 512)
	FramesPerBuffer int

	// CapacityMultiple sizes the ring as a multiple of the larger device buffer (default: 8, min: 3)
	CapacityMultiple int

	// SafetyMargin is how many frames render trails capture (default: the larger device buffer)
	SafetyMargin int

	// FillMode selects what render plays when frames are missing
	FillMode FillMode

	// OnStateChange is called after every state transition
	OnStateChange func(State)

	// OnError is called for errors that do not reach a caller, such as device stop failures
	OnError func(error)
}

// PlayThrough owns the devices and the engine of one pass-through session
type PlayThrough struct {
	config Config

	// mu serializes controller calls; callbacks never take it
	mu    sync.Mutex
	state atomic.Int32

	initialized bool
	inputID     string
	outputID    string
	input       device.Device
	output      device.Device
	engine      *Engine
}

// NewPlayThrough creates a controller with the given configuration
func NewPlayThrough(config Config) (*PlayThrough, error) {
	if config.Inputs == nil || config.Outputs == nil {
		return nil, fmt.Errorf("input and output providers are required")
	}
	if err := config.Format.Validate(); err != nil {
		return nil, fmt.Errorf("invalid format: %w", err)
	}

	// Set defaults
	if config.FramesPerBuffer == 0 {
		config.FramesPerBuffer = defaultFramesPerBuffer
	}
	if config.FramesPerBuffer < 0 {
		return nil, fmt.Errorf("invalid frames per buffer: %d", config.FramesPerBuffer)
	}
	if config.CapacityMultiple == 0 {
		config.CapacityMultiple = defaultCapacityMultiple
	}
	if config.CapacityMultiple < minCapacityMultiple {
		return nil, fmt.Errorf("capacity multiple %d below minimum %d", config.CapacityMultiple, minCapacityMultiple)
	}
	if config.SafetyMargin < 0 {
		return nil, fmt.Errorf("invalid safety margin: %d", config.SafetyMargin)
	}

	return &PlayThrough{config: config}, nil
}

// Init opens both devices and allocates the engine. An empty id selects the
// backend's default device.
func (p *PlayThrough) Init(inputID, outputID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s := p.State(); s != StateStopped {
		return invalidState("init", s)
	}

	p.closeDevices()
	p.initialized = false
	p.engine = nil

	in, err := p.openInput(inputID)
	if err != nil {
		return err
	}
	out, err := p.openOutput(outputID)
	if err != nil {
		in.Close()
		return err
	}

	engine, err := p.newEngine(in, out)
	if err != nil {
		in.Close()
		out.Close()
		return err
	}

	p.input, p.output, p.engine = in, out, engine
	p.inputID, p.outputID = inputID, outputID
	p.initialized = true

	log.Printf("Pass-through initialized: %s -> %s, %s, capacity %d frames, margin %d frames",
		in.Info().Name, out.Info().Name, p.config.Format, engine.Capacity(), engine.ClockSync().Margin())
	return nil
}

// Start starts a new run: sync state is reset and both device clocks start
func (p *PlayThrough) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return ErrNotInitialized
	}
	if s := p.State(); s != StateStopped {
		return invalidState("start", s)
	}

	p.setState(StateStarting)
	p.engine.Start()

	if err := p.input.Start(p.engine); err != nil {
		p.engine.Stop()
		p.setState(StateStopped)
		return &SetupError{Op: "start input", Device: p.inputID, Err: err}
	}
	if err := p.output.Start(p.engine); err != nil {
		p.engine.Stop()
		p.stopDevice(p.input)
		p.setState(StateStopped)
		return &SetupError{Op: "start output", Device: p.outputID, Err: err}
	}

	p.setState(StateRunning)
	log.Printf("Pass-through started (run %s)", p.engine.Stats().RunID)
	return nil
}

// Stop stops both device clocks. It returns once no callback is running.
func (p *PlayThrough) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s := p.State(); s != StateRunning {
		return invalidState("stop", s)
	}
	return p.stopLocked()
}

func (p *PlayThrough) stopLocked() error {
	p.setState(StateStopping)
	p.engine.Stop()

	err := errors.Join(p.stopDevice(p.input), p.stopDevice(p.output))

	p.setState(StateStopped)
	stats := p.engine.Stats()
	log.Printf("Pass-through stopped: rendered %d frames, %d underruns, %d overruns",
		stats.RenderedFrames, stats.Underruns, stats.Overruns)
	return err
}

// IsRunning reports whether a run is in progress
func (p *PlayThrough) IsRunning() bool {
	return p.State() == StateRunning
}

// State returns the controller state
func (p *PlayThrough) State() State {
	return State(p.state.Load())
}

// SetInputDevice switches the capture device. Only allowed while stopped.
// Before Init it only records the id.
func (p *PlayThrough) SetInputDevice(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s := p.State(); s != StateStopped {
		return invalidState("set input device", s)
	}
	if !p.initialized {
		p.inputID = id
		return nil
	}

	in, err := p.openInput(id)
	if err != nil {
		return err
	}
	engine, err := p.newEngine(in, p.output)
	if err != nil {
		in.Close()
		return err
	}

	if err := p.input.Close(); err != nil {
		log.Printf("Warning: failed to close input device %q: %v", p.inputID, err)
	}
	p.input, p.inputID, p.engine = in, id, engine
	log.Printf("Input device changed to %q", in.Info().Name)
	return nil
}

// SetOutputDevice switches the render device. Only allowed while stopped.
// Before Init it only records the id.
func (p *PlayThrough) SetOutputDevice(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s := p.State(); s != StateStopped {
		return invalidState("set output device", s)
	}
	if !p.initialized {
		p.outputID = id
		return nil
	}

	out, err := p.openOutput(id)
	if err != nil {
		return err
	}
	engine, err := p.newEngine(p.input, out)
	if err != nil {
		out.Close()
		return err
	}

	if err := p.output.Close(); err != nil {
		log.Printf("Warning: failed to close output device %q: %v", p.outputID, err)
	}
	p.output, p.outputID, p.engine = out, id, engine
	log.Printf("Output device changed to %q", out.Info().Name)
	return nil
}

// InputDevice returns the current input device id
func (p *PlayThrough) InputDevice() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inputID
}

// OutputDevice returns the current output device id
func (p *PlayThrough) OutputDevice() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outputID
}

// Stats returns engine counters together with controller state
func (p *PlayThrough) Stats() Stats {
	p.mu.Lock()
	engine, in, out := p.engine, p.input, p.output
	p.mu.Unlock()

	var s Stats
	if engine != nil {
		s = engine.Stats()
	} else {
		s.FirstInputTime, s.FirstOutputTime = -1, -1
		s.Format = p.config.Format.String()
	}
	s.State = p.State()
	if in != nil {
		s.Input = in.Info().Name
	}
	if out != nil {
		s.Output = out.Info().Name
	}
	return s
}

// Close stops a running session and releases both devices. Safe to call more than once.
func (p *PlayThrough) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.State() == StateRunning {
		err = p.stopLocked()
	}
	p.closeDevices()
	p.initialized = false
	p.engine = nil
	return err
}

func (p *PlayThrough) openInput(id string) (device.Device, error) {
	in, err := p.config.Inputs.OpenInput(id, device.Params{Format: p.config.Format, FramesPerBuffer: p.config.FramesPerBuffer})
	if err != nil {
		return nil, &SetupError{Op: "open input", Device: id, Err: err}
	}
	if !in.Format().Equal(p.config.Format) {
		in.Close()
		return nil, &SetupError{Op: "open input", Device: id,
			Err: fmt.Errorf("device runs %s, stream is %s: %w", in.Format(), p.config.Format, device.ErrFormatMismatch)}
	}
	return in, nil
}

func (p *PlayThrough) openOutput(id string) (device.Device, error) {
	out, err := p.config.Outputs.OpenOutput(id, device.Params{Format: p.config.Format, FramesPerBuffer: p.config.FramesPerBuffer})
	if err != nil {
		return nil, &SetupError{Op: "open output", Device: id, Err: err}
	}
	if !out.Format().Equal(p.config.Format) {
		out.Close()
		return nil, &SetupError{Op: "open output", Device: id,
			Err: fmt.Errorf("device runs %s, stream is %s: %w", out.Format(), p.config.Format, device.ErrFormatMismatch)}
	}
	return out, nil
}

// newEngine sizes an engine for the pair of devices
func (p *PlayThrough) newEngine(in, out device.Device) (*Engine, error) {
	frames := max(in.FramesPerBuffer(), out.FramesPerBuffer())

	margin := p.config.SafetyMargin
	if margin == 0 {
		margin = frames
	}

	engine, err := NewEngine(EngineConfig{
		Format:          p.config.Format,
		CapacityFrames:  frames * p.config.CapacityMultiple,
		Margin:          margin,
		FramesPerBuffer: frames,
		FillMode:        p.config.FillMode,
	})
	if err != nil {
		return nil, &SetupError{Op: "allocate buffer", Err: err}
	}
	if margin >= engine.Capacity() {
		return nil, &SetupError{Op: "allocate buffer",
			Err: fmt.Errorf("safety margin %d does not fit capacity %d", margin, engine.Capacity())}
	}
	return engine, nil
}

func (p *PlayThrough) stopDevice(d device.Device) error {
	if err := d.Stop(); err != nil {
		err = fmt.Errorf("failed to stop %s device: %w", d.Info().Direction, err)
		p.reportError(err)
		return err
	}
	return nil
}

// closeDevices releases the devices; they must already be stopped
func (p *PlayThrough) closeDevices() {
	if p.input != nil {
		if err := p.input.Close(); err != nil {
			p.reportError(fmt.Errorf("failed to close input device: %w", err))
		}
		p.input = nil
	}
	if p.output != nil {
		if err := p.output.Close(); err != nil {
			p.reportError(fmt.Errorf("failed to close output device: %w", err))
		}
		p.output = nil
	}
}

func (p *PlayThrough) setState(s State) {
	p.state.Store(int32(s))
	if p.config.OnStateChange != nil {
		p.config.OnStateChange(s)
	}
}

func (p *PlayThrough) reportError(err error) {
	log.Printf("Pass-through error: %v", err)
	if p.config.OnError != nil {
		p.config.OnError(err)
	}
}

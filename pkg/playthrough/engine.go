// ABOUTME: Real-time synchronization engine shared by capture and render callbacks
// ABOUTME: Stores captured frames by sample time and fetches them at the offset output time
package playthrough

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
	"github.com/Resonate-Protocol/playthrough/pkg/audio/ring"
	psync "github.com/Resonate-Protocol/playthrough/pkg/sync"
	"github.com/google/uuid"
)

// FillMode selects what render plays when no captured frames are available
type FillMode int

const (
	// FillSilence plays silence
	FillSilence FillMode = iota
	// FillRepeat repeats the last frame that was played
	FillRepeat
)

func (m FillMode) String() string {
	if m == FillRepeat {
		return "repeat"
	}
	return "silence"
}

// ParseFillMode parses "silence" or "repeat"
func ParseFillMode(s string) (FillMode, error) {
	switch strings.ToLower(s) {
	case "", "silence":
		return FillSilence, nil
	case "repeat":
		return FillRepeat, nil
	default:
		return FillSilence, fmt.Errorf("unknown fill mode %q (expected silence or repeat)", s)
	}
}

// EngineConfig sizes an engine
type EngineConfig struct {
	// Format is the stream format shared by both devices
	Format audio.Format

	// CapacityFrames is the ring buffer size, rounded up to a power of two
	CapacityFrames int

	// Margin is how many frames render trails capture
	Margin int

	// FramesPerBuffer is the larger of the two device buffer sizes
	FramesPerBuffer int

	// FillMode selects the render substitute for missing frames
	FillMode FillMode
}

// Engine is the real-time core. Its callbacks may run concurrently with each
// other but each is called by a single device thread.
type Engine struct {
	format          audio.Format
	frameSize       int
	framesPerBuffer int
	fill            FillMode

	ring  *ring.Buffer
	clock *psync.ClockSync

	running atomic.Bool

	mu    sync.Mutex
	runID string

	captureBuffers atomic.Uint64
	renderBuffers  atomic.Uint64
	capturedFrames atomic.Uint64
	renderedFrames atomic.Uint64
	underruns      atomic.Uint64
	overruns       atomic.Uint64
	droppedFrames  atomic.Uint64
	preRoll        atomic.Uint64
	silentBuffers  atomic.Uint64
	captureErrors  atomic.Uint64
	renderErrors   atomic.Uint64
	storeErrors    atomic.Uint64

	// owned by the render thread
	lastFrame [][]byte
	haveLast  bool
	view      [][]byte
}

// NewEngine allocates the ring buffer and all render scratch space
func NewEngine(config EngineConfig) (*Engine, error) {
	if err := config.Format.Validate(); err != nil {
		return nil, err
	}
	if config.FramesPerBuffer <= 0 {
		return nil, fmt.Errorf("invalid frames per buffer: %d", config.FramesPerBuffer)
	}
	if config.CapacityFrames < config.FramesPerBuffer {
		return nil, fmt.Errorf("capacity %d smaller than one buffer of %d frames", config.CapacityFrames, config.FramesPerBuffer)
	}

	planes := config.Format.Planes()
	lastFrame := make([][]byte, planes)
	for i := range lastFrame {
		lastFrame[i] = make([]byte, config.Format.FrameSize())
	}

	return &Engine{
		format:          config.Format,
		frameSize:       config.Format.FrameSize(),
		framesPerBuffer: config.FramesPerBuffer,
		fill:            config.FillMode,
		ring:            ring.New(config.Format, config.CapacityFrames),
		clock:           psync.NewClockSync(config.Format.SampleRate, config.Margin),
		lastFrame:       lastFrame,
		view:            make([][]byte, planes),
	}, nil
}

// Start begins a new run. Both devices must be stopped.
func (e *Engine) Start() {
	e.clock.Reset()
	e.ring.Reset()
	e.haveLast = false

	for _, c := range e.counters() {
		c.Store(0)
	}

	e.mu.Lock()
	e.runID = uuid.New().String()
	e.mu.Unlock()

	e.running.Store(true)
}

// Stop makes the callbacks no-ops. Callers still have to stop both devices
// before touching the engine's buffers.
func (e *Engine) Stop() {
	e.running.Store(false)
}

// Running reports whether the callbacks are active
func (e *Engine) Running() bool {
	return e.running.Load()
}

// ClockSync returns the synchronization state
func (e *Engine) ClockSync() *psync.ClockSync {
	return e.clock
}

// Format returns the stream format
func (e *Engine) Format() audio.Format {
	return e.format
}

// Capacity returns the ring buffer capacity in frames
func (e *Engine) Capacity() int {
	return e.ring.Capacity()
}

// OnCapture stores one captured buffer at its sample time
func (e *Engine) OnCapture(ts audio.Timestamp, frames int, in [][]byte) {
	if !e.running.Load() {
		return
	}
	e.captureBuffers.Add(1)

	if !ts.Valid() {
		e.captureErrors.Add(1)
		return
	}
	e.clock.ObserveInput(ts)

	if err := e.ring.Store(int64(math.Floor(ts.SampleTime)), frames, in...); err != nil {
		e.storeErrors.Add(1)
		return
	}
	e.capturedFrames.Add(uint64(frames))
}

// OnRender fills out with the captured frames that line up with ts
func (e *Engine) OnRender(ts audio.Timestamp, frames int, out [][]byte) {
	if !e.running.Load() {
		e.silence(out, 0, frames)
		return
	}
	e.renderBuffers.Add(1)

	if !ts.Valid() {
		e.renderErrors.Add(1)
		e.substitute(out, 0, frames)
		return
	}
	e.clock.ObserveOutput(ts)

	inputTime, ok := e.clock.InputTime(ts.SampleTime)
	if !ok {
		// nothing captured yet
		e.preRoll.Add(1)
		e.silentBuffers.Add(1)
		e.silence(out, 0, frames)
		return
	}

	first, _ := e.clock.FirstInput()
	start := int64(math.Floor(inputTime))
	firstInput := int64(math.Floor(first.SampleTime))

	lead := 0
	if start < firstInput {
		if firstInput-start >= int64(frames) {
			e.preRoll.Add(1)
			e.silentBuffers.Add(1)
			e.silence(out, 0, frames)
			return
		}
		lead = int(firstInput - start)
		e.preRoll.Add(1)
		e.silence(out, 0, lead)
	}

	n := frames - lead
	for i, plane := range out {
		e.view[i] = plane[lead*e.frameSize:]
	}

	err := e.ring.Fetch(start+int64(lead), n, e.view...)
	switch {
	case err == nil:
		e.renderedFrames.Add(uint64(n))
		if e.fill == FillRepeat {
			e.remember(out, frames-1)
		}
		return
	case errors.Is(err, ring.ErrUnderrun):
		e.underruns.Add(1)
	case errors.Is(err, ring.ErrOverrun):
		e.overruns.Add(1)
		e.droppedFrames.Add(uint64(n))
	default:
		e.renderErrors.Add(1)
	}

	if lead == 0 {
		e.silentBuffers.Add(1)
	}
	e.substitute(out, lead, n)
}

// OnDeviceError counts a skipped buffer
func (e *Engine) OnDeviceError(dir audio.Direction, err error) {
	if dir == audio.Input {
		e.captureErrors.Add(1)
	} else {
		e.renderErrors.Add(1)
	}
}

// substitute fills frames starting at from according to the fill mode
func (e *Engine) substitute(out [][]byte, from, frames int) {
	if e.fill != FillRepeat || !e.haveLast {
		e.silence(out, from, frames)
		return
	}
	for i, plane := range out {
		frame := e.lastFrame[i]
		for f := from; f < from+frames; f++ {
			copy(plane[f*e.frameSize:(f+1)*e.frameSize], frame)
		}
	}
}

func (e *Engine) silence(out [][]byte, from, frames int) {
	for _, plane := range out {
		audio.Silence(plane[from*e.frameSize:(from+frames)*e.frameSize], e.format)
	}
}

// remember keeps frame index f of out for FillRepeat
func (e *Engine) remember(out [][]byte, f int) {
	for i, plane := range out {
		copy(e.lastFrame[i], plane[f*e.frameSize:(f+1)*e.frameSize])
	}
	e.haveLast = true
}

func (e *Engine) counters() []*atomic.Uint64 {
	return []*atomic.Uint64{
		&e.captureBuffers, &e.renderBuffers, &e.capturedFrames, &e.renderedFrames,
		&e.underruns, &e.overruns, &e.droppedFrames, &e.preRoll, &e.silentBuffers,
		&e.captureErrors, &e.renderErrors, &e.storeErrors,
	}
}

// Stats returns a snapshot of the engine counters and clock state
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	runID := e.runID
	e.mu.Unlock()

	s := Stats{
		RunID:           runID,
		Running:         e.running.Load(),
		Format:          e.format.String(),
		Capacity:        e.ring.Capacity(),
		Margin:          e.clock.Margin(),
		CaptureBuffers:  e.captureBuffers.Load(),
		RenderBuffers:   e.renderBuffers.Load(),
		CapturedFrames:  e.capturedFrames.Load(),
		RenderedFrames:  e.renderedFrames.Load(),
		Underruns:       e.underruns.Load(),
		Overruns:        e.overruns.Load(),
		DroppedFrames:   e.droppedFrames.Load(),
		PreRoll:         e.preRoll.Load(),
		SilentBuffers:   e.silentBuffers.Load(),
		CaptureErrors:   e.captureErrors.Load(),
		RenderErrors:    e.renderErrors.Load(),
		StoreErrors:     e.storeErrors.Load(),
		FirstInputTime:  -1,
		FirstOutputTime: -1,
	}

	if in, ok := e.clock.FirstInput(); ok {
		s.FirstInputTime = in.SampleTime
	}
	if out, ok := e.clock.FirstOutput(); ok {
		s.FirstOutputTime = out.SampleTime
	}
	s.Offset, s.OffsetComputed = e.clock.Offset()

	_, end := e.ring.Bounds()
	if readPos := e.ring.ReadPosition(); s.OffsetComputed && readPos != 0 {
		s.Headroom = end - readPos
		s.Drift = e.clock.Drift(s.Headroom)
	}
	s.Quality = e.clock.Assess(s.Headroom, e.framesPerBuffer)
	return s
}

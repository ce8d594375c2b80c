// ABOUTME: One-shot clock offset between input and output device clocks
// ABOUTME: Atomic first readings, offset computation and headroom quality
package sync

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
)

// Quality represents sync quality
type Quality int

const (
	QualityGood Quality = iota
	QualityDegraded
	QualityLost
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityDegraded:
		return "degraded"
	default:
		return "lost"
	}
}

// MarshalText encodes the quality as its name
func (q Quality) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalText decodes a quality name
func (q *Quality) UnmarshalText(text []byte) error {
	switch string(text) {
	case "good":
		*q = QualityGood
	case "degraded":
		*q = QualityDegraded
	case "lost":
		*q = QualityLost
	default:
		return fmt.Errorf("unknown sync quality %q", text)
	}
	return nil
}

const (
	readingUnset uint32 = iota
	readingClaimed
	readingSet
)

// reading is a device clock reading that is written exactly once per run
type reading struct {
	state  atomic.Uint32
	sample atomic.Uint64 // float64 bits
	host   atomic.Int64
}

func (r *reading) set(ts audio.Timestamp) bool {
	if r.state.Load() != readingUnset || !r.state.CompareAndSwap(readingUnset, readingClaimed) {
		return false
	}
	r.sample.Store(math.Float64bits(ts.SampleTime))
	r.host.Store(ts.HostTime)
	r.state.Store(readingSet)
	return true
}

func (r *reading) get() (audio.Timestamp, bool) {
	if r.state.Load() != readingSet {
		return audio.Timestamp{}, false
	}
	return audio.Timestamp{
		SampleTime: math.Float64frombits(r.sample.Load()),
		HostTime:   r.host.Load(),
	}, true
}

func (r *reading) reset() {
	r.sample.Store(0)
	r.host.Store(0)
	r.state.Store(readingUnset)
}

// ClockSync holds the synchronization state of one pass-through run
type ClockSync struct {
	sampleRate int
	margin     int

	firstInput  reading
	firstOutput reading

	offset   atomic.Uint64 // float64 bits
	computed atomic.Bool
}

// NewClockSync creates a clock synchronizer. margin is the number of frames the
// render side stays behind the capture side.
func NewClockSync(sampleRate, margin int) *ClockSync {
	if margin < 0 {
		margin = 0
	}
	return &ClockSync{
		sampleRate: sampleRate,
		margin:     margin,
	}
}

// ObserveInput records the first valid input clock reading of the run.
// Returns true only for the call that recorded it.
func (cs *ClockSync) ObserveInput(ts audio.Timestamp) bool {
	if !ts.Valid() {
		return false
	}
	return cs.firstInput.set(ts)
}

// ObserveOutput records the first valid output clock reading of the run.
// Returns true only for the call that recorded it.
func (cs *ClockSync) ObserveOutput(ts audio.Timestamp) bool {
	if !ts.Valid() {
		return false
	}
	return cs.firstOutput.set(ts)
}

// FirstInput returns the first input reading, if any
func (cs *ClockSync) FirstInput() (audio.Timestamp, bool) {
	return cs.firstInput.get()
}

// FirstOutput returns the first output reading, if any
func (cs *ClockSync) FirstOutput() (audio.Timestamp, bool) {
	return cs.firstOutput.get()
}

// Margin returns the safety margin in frames
func (cs *ClockSync) Margin() int {
	return cs.margin
}

// Computed reports whether the offset has been computed for this run
func (cs *ClockSync) Computed() bool {
	return cs.computed.Load()
}

// Offset returns the computed offset without trying to compute it
func (cs *ClockSync) Offset() (float64, bool) {
	if !cs.computed.Load() {
		return 0, false
	}
	return math.Float64frombits(cs.offset.Load()), true
}

// Resolve returns the offset, computing it on the first call where both first
// readings are known. Only the render path may call it.
func (cs *ClockSync) Resolve() (float64, bool) {
	if cs.computed.Load() {
		return math.Float64frombits(cs.offset.Load()), true
	}

	in, ok := cs.firstInput.get()
	if !ok {
		return 0, false
	}
	out, ok := cs.firstOutput.get()
	if !ok {
		return 0, false
	}

	offset := computeOffset(in, out, cs.sampleRate, cs.margin)
	cs.offset.Store(math.Float64bits(offset))
	cs.computed.Store(true)
	return offset, true
}

// InputTime maps an output sample time onto the input clock
func (cs *ClockSync) InputTime(outputSampleTime float64) (float64, bool) {
	offset, ok := cs.Resolve()
	if !ok {
		return 0, false
	}
	return outputSampleTime + offset, true
}

// Reset clears the state for a new run. Callers must stop both devices first.
func (cs *ClockSync) Reset() {
	cs.firstInput.reset()
	cs.firstOutput.reset()
	cs.offset.Store(0)
	cs.computed.Store(false)
}

// Assess rates how safely the render side trails the capture side.
// headroom is the number of captured frames not yet read.
func (cs *ClockSync) Assess(headroom int64, framesPerBuffer int) Quality {
	if !cs.computed.Load() {
		return QualityLost
	}
	if headroom < int64(framesPerBuffer) {
		return QualityDegraded
	}
	return QualityGood
}

// Drift returns how far the current headroom has moved away from the margin the
// run started with, in frames. Positive means the input clock runs ahead.
func (cs *ClockSync) Drift(headroom int64) int64 {
	if !cs.computed.Load() {
		return 0
	}
	return headroom - int64(cs.margin)
}

// computeOffset returns the value to add to an output sample time to get the
// input sample time that is margin frames behind the capture head.
//
// Both readings are projected onto the same host instant when host times are
// known, so the result does not depend on which device called back first.
func computeOffset(in, out audio.Timestamp, sampleRate, margin int) float64 {
	offset := in.SampleTime - out.SampleTime
	if in.HostTime != 0 && out.HostTime != 0 && sampleRate > 0 {
		offset += float64(out.HostTime-in.HostTime) * float64(sampleRate) / 1e9
	}
	return offset - float64(margin)
}

// ABOUTME: Time-indexed circular audio frame store
// ABOUTME: Store/Fetch by absolute sample time with underrun and overrun detection
package ring

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
)

var (
	// ErrUnderrun is returned when part of the requested range has not been stored yet
	ErrUnderrun = errors.New("ring: requested frames not yet stored")

	// ErrOverrun is returned when the requested range was already overwritten
	ErrOverrun = errors.New("ring: requested frames already overwritten")

	// ErrTooMuch is returned when a single call spans more frames than the capacity
	ErrTooMuch = errors.New("ring: frame count exceeds capacity")

	// ErrFrameSize is returned when the supplied planes do not match the format
	ErrFrameSize = errors.New("ring: plane count or length does not match format")
)

// Buffer is a fixed-capacity audio store indexed by sample time.
// Store must only be called from one goroutine and Fetch from one other goroutine.
type Buffer struct {
	format    audio.Format
	frameSize int
	capacity  int64
	mask      int64
	planes    [][]byte

	bounds  boundsQueue
	readPos atomic.Int64

	// writer-local copy of the last published window
	wStart, wEnd int64
}

// New allocates a buffer for the format holding at least capacityFrames frames.
// The capacity is rounded up to a power of two.
func New(format audio.Format, capacityFrames int) *Buffer {
	capacity := nextPowerOfTwo(int64(capacityFrames))

	planes := make([][]byte, format.Planes())
	for i := range planes {
		planes[i] = make([]byte, capacity*int64(format.FrameSize()))
	}

	return &Buffer{
		format:    format,
		frameSize: format.FrameSize(),
		capacity:  capacity,
		mask:      capacity - 1,
		planes:    planes,
	}
}

// Format returns the format of the stored frames
func (b *Buffer) Format() audio.Format {
	return b.format
}

// Capacity returns the number of frames retained
func (b *Buffer) Capacity() int {
	return int(b.capacity)
}

// Bounds returns the window [start, end) of sample times that can be fetched.
// An empty buffer reports start == end.
func (b *Buffer) Bounds() (start, end int64) {
	start, end, _ = b.bounds.load()
	return start, end
}

// ReadPosition returns the sample time just past the last successful Fetch
func (b *Buffer) ReadPosition() int64 {
	return b.readPos.Load()
}

// Store writes frames beginning at sample time start. It never blocks and always
// wins over a pending read: the oldest frames are overwritten to make room.
//
// A start earlier than the current end discards all retained frames. A start
// later than the current end fills the gap with silence.
func (b *Buffer) Store(start int64, frames int, planes ...[]byte) error {
	if frames == 0 {
		return nil
	}
	if int64(frames) > b.capacity {
		return fmt.Errorf("%w: %d > %d", ErrTooMuch, frames, b.capacity)
	}
	if err := b.checkPlanes(frames, planes); err != nil {
		return err
	}

	end := start + int64(frames)
	curStart, curEnd := b.wStart, b.wEnd

	newStart := curStart
	discard := false
	switch {
	case curStart == curEnd:
		newStart = start
		discard = true
	case start < curEnd:
		// clock went backwards
		newStart = start
		discard = true
	case start-curEnd >= b.capacity:
		newStart = start
		discard = true
	}
	if end-newStart > b.capacity {
		newStart = end - b.capacity
	}

	// Hide the region about to be overwritten before touching it.
	preEnd := curEnd
	if discard || preEnd < newStart {
		preEnd = newStart
	}
	if newStart != curStart || preEnd != curEnd {
		b.bounds.publish(newStart, preEnd)
	}

	if !discard && start > curEnd {
		gapStart := curEnd
		if gapStart < newStart {
			gapStart = newStart
		}
		b.zero(gapStart, int(start-gapStart))
	}

	for i, dst := range b.planes {
		b.copyIn(dst, planes[i], start, frames)
	}

	b.wStart, b.wEnd = newStart, end
	b.bounds.publish(newStart, end)
	return nil
}

// Fetch copies frames beginning at sample time start into planes.
// It fails with ErrUnderrun when any requested frame has not been stored yet and
// with ErrOverrun when the requested frames have already been overwritten.
func (b *Buffer) Fetch(start int64, frames int, planes ...[]byte) error {
	if frames == 0 {
		return nil
	}
	if int64(frames) > b.capacity {
		return fmt.Errorf("%w: %d > %d", ErrTooMuch, frames, b.capacity)
	}
	if err := b.checkPlanes(frames, planes); err != nil {
		return err
	}

	curStart, curEnd, ok := b.bounds.load()
	if !ok {
		return ErrOverrun
	}
	if curStart == curEnd || start+int64(frames) > curEnd {
		return ErrUnderrun
	}
	if start < curStart {
		return ErrOverrun
	}

	for i, src := range b.planes {
		b.copyOut(planes[i], src, start, frames)
	}

	// the writer may have lapped us while copying
	curStart, _, ok = b.bounds.load()
	if !ok || start < curStart {
		return ErrOverrun
	}

	b.readPos.Store(start + int64(frames))
	return nil
}

// Reset forgets all stored frames. Must not be called while Store or Fetch run.
func (b *Buffer) Reset() {
	b.bounds.reset()
	b.readPos.Store(0)
	b.wStart, b.wEnd = 0, 0
}

func (b *Buffer) checkPlanes(frames int, planes [][]byte) error {
	if len(planes) != len(b.planes) {
		return fmt.Errorf("%w: expected %d planes, got %d", ErrFrameSize, len(b.planes), len(planes))
	}
	need := frames * b.frameSize
	for _, p := range planes {
		if len(p) < need {
			return fmt.Errorf("%w: plane holds %d bytes, need %d", ErrFrameSize, len(p), need)
		}
	}
	return nil
}

func (b *Buffer) copyIn(dst, src []byte, start int64, frames int) {
	pos := int(start & b.mask)
	first := frames
	if pos+first > int(b.capacity) {
		first = int(b.capacity) - pos
	}
	fs := b.frameSize
	copy(dst[pos*fs:], src[:first*fs])
	if first < frames {
		copy(dst, src[first*fs:frames*fs])
	}
}

func (b *Buffer) copyOut(dst, src []byte, start int64, frames int) {
	pos := int(start & b.mask)
	first := frames
	if pos+first > int(b.capacity) {
		first = int(b.capacity) - pos
	}
	fs := b.frameSize
	copy(dst[:first*fs], src[pos*fs:])
	if first < frames {
		copy(dst[first*fs:frames*fs], src)
	}
}

func (b *Buffer) zero(start int64, frames int) {
	if frames <= 0 {
		return
	}
	for _, plane := range b.planes {
		pos := int(start & b.mask)
		first := frames
		if pos+first > int(b.capacity) {
			first = int(b.capacity) - pos
		}
		audio.Silence(plane[pos*b.frameSize:(pos+first)*b.frameSize], b.format)
		if first < frames {
			audio.Silence(plane[:(frames-first)*b.frameSize], b.format)
		}
	}
}

func nextPowerOfTwo(n int64) int64 {
	if n <= 1 {
		return 1
	}
	p := int64(1)
	for p < n {
		p <<= 1
	}
	return p
}

// ABOUTME: Lock-free publication of the ring buffer's valid time window
// ABOUTME: Writer-side seqlock slots so readers never see a torn (start, end) pair
package ring

import "sync/atomic"

const (
	boundsQueueSize = 32
	boundsRetries   = 8
)

// boundsSlot holds one published window. gen is zero while the slot is being rewritten.
type boundsSlot struct {
	gen   atomic.Uint64
	start atomic.Int64
	end   atomic.Int64
}

type boundsQueue struct {
	slots [boundsQueueSize]boundsSlot
	gen   atomic.Uint64
}

// publish makes [start, end) the current window. Writer only.
func (q *boundsQueue) publish(start, end int64) {
	next := q.gen.Load() + 1
	slot := &q.slots[next%boundsQueueSize]
	slot.gen.Store(0)
	slot.start.Store(start)
	slot.end.Store(end)
	slot.gen.Store(next)
	q.gen.Store(next)
}

// load returns the current window. ok is false only if the writer lapped the
// whole queue while we were reading, which means the reader is starved.
func (q *boundsQueue) load() (start, end int64, ok bool) {
	for i := 0; i < boundsRetries; i++ {
		g := q.gen.Load()
		slot := &q.slots[g%boundsQueueSize]
		if slot.gen.Load() != g {
			continue
		}
		start = slot.start.Load()
		end = slot.end.Load()
		if slot.gen.Load() == g {
			return start, end, true
		}
	}
	return 0, 0, false
}

// reset clears every slot. Callers must guarantee no concurrent access.
func (q *boundsQueue) reset() {
	for i := range q.slots {
		q.slots[i].gen.Store(0)
		q.slots[i].start.Store(0)
		q.slots[i].end.Store(0)
	}
	q.gen.Store(0)
}

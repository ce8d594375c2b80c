// ABOUTME: Time-indexed ring buffer package
// ABOUTME: Lock-free single-producer/single-consumer audio store addressed by sample time
// Package ring provides a fixed-capacity circular store of audio frames that is
// addressed by absolute sample time instead of by position.
//
// One goroutine (the capture callback) stores frames and exactly one goroutine
// (the render callback) fetches them. Neither side blocks or takes a lock: the
// valid time window is published through atomics and a reader re-checks the
// window after copying to detect data that was overwritten underneath it.
//
// Example:
//
//	rb := ring.New(format, 4096)
//	err := rb.Store(1000, 512, captured)
//	err = rb.Fetch(1000, 512, dst)
//	if errors.Is(err, ring.ErrUnderrun) {
//	    // not captured yet
//	}
package ring

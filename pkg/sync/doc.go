// ABOUTME: Clock synchronization package
// ABOUTME: Reconciles the sample clocks of an input and an output device
// Package sync computes the sample-time offset between two independently clocked
// audio devices.
//
// Each device reports its clock on every callback. The first valid reading of each
// side is captured once; from the pair a constant offset is derived that maps an
// output sample time onto the input clock, minus a safety margin so the render
// side always reads frames that were already captured.
//
// All state is held in atomics so both real-time callbacks can touch it without locks.
//
// Example:
//
//	cs := sync.NewClockSync(48000, 512)
//	cs.ObserveInput(inTS)
//	cs.ObserveOutput(outTS)
//	if inputTime, ok := cs.InputTime(outTS.SampleTime); ok {
//	    // fetch frames at inputTime
//	}
package sync

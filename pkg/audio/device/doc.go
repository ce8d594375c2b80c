// ABOUTME: Audio device package for capture and render endpoints
// ABOUTME: Provides Device/Provider interfaces plus malgo, oto and simulated backends
// Package device connects the pass-through engine to audio hardware.
//
// A Provider enumerates and opens devices. Every Device runs its own clock and
// calls a Handler once per hardware buffer: OnCapture for input devices,
// OnRender for output devices. Handlers are registered with Start, so no
// opaque context pointers are involved.
//
// Backends:
//   - malgo: miniaudio devices, input and output, each on its own clock
//   - oto:   output only, pulled through an io.Reader
//   - sim:   ticker-driven simulated devices for tests and demos
//
// Example:
//
//	p, err := device.Open("malgo")
//	in, err := p.OpenInput("", device.Params{Format: format, FramesPerBuffer: 512})
//	err = in.Start(handler)
package device

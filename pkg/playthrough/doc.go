// ABOUTME: Audio pass-through engine and controller
// ABOUTME: Relays captured frames to an output device running on another clock
// Package playthrough relays audio from an input device to an output device
// whose hardware clock is independent of the input's.
//
// The Engine is the real-time half. It implements device.Handler: OnCapture
// stores frames in a time-indexed ring buffer, OnRender translates the output
// clock onto the input clock with a one-shot offset and fetches the matching
// frames. Neither callback blocks, allocates or logs. Underruns, overruns and
// device failures are absorbed and counted.
//
// PlayThrough is the controller. It opens devices, sizes the buffer, and
// sequences Start and Stop so that no callback touches the buffer while it is
// being replaced.
//
// Example:
//
//	inputs, _ := device.Open("malgo")
//	pt, err := playthrough.NewPlayThrough(playthrough.Config{
//		Inputs:  inputs,
//		Outputs: inputs,
//		Format:  audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 16},
//	})
//	if err := pt.Init("", ""); err != nil { ... }
//	if err := pt.Start(); err != nil { ... }
//	defer pt.Close()
package playthrough

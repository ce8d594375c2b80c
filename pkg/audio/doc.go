// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format, Timestamp and Direction plus sample conversions
// Package audio provides the fundamental types shared by the pass-through packages.
//
// This package defines:
//   - Format: the stream format negotiated for both devices (rate, channels, depth, layout)
//   - Timestamp: a device clock reading (sample time plus host time)
//   - Direction: input (capture) or output (render)
//
// It also provides helpers for packing samples:
//   - 16-bit ↔ 24-bit conversions
//   - int32 ↔ packed byte conversions
//   - PutSample for writing a normalized value in any supported encoding
//
// Example:
//
//	format := audio.Format{
//	    SampleRate: 48000,
//	    Channels:   2,
//	    BitDepth:   16,
//	}
//
//	frames := format.FramesIn(10 * time.Millisecond) // 480
package audio

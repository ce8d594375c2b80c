// ABOUTME: Diagnostic snapshot of a pass-through run
// ABOUTME: Counters for recoverable per-buffer conditions plus clock state
package playthrough

import (
	psync "github.com/Resonate-Protocol/playthrough/pkg/sync"
)

// Stats is a point-in-time snapshot. Per-buffer failures only surface here.
type Stats struct {
	RunID   string `json:"run_id"`
	State   State  `json:"state"`
	Running bool   `json:"running"`

	Input    string `json:"input,omitempty"`
	Output   string `json:"output,omitempty"`
	Format   string `json:"format,omitempty"`
	Capacity int    `json:"capacity"`
	Margin   int    `json:"margin"`

	CaptureBuffers uint64 `json:"capture_buffers"`
	RenderBuffers  uint64 `json:"render_buffers"`
	CapturedFrames uint64 `json:"captured_frames"`
	RenderedFrames uint64 `json:"rendered_frames"`

	Underruns     uint64 `json:"underruns"`
	Overruns      uint64 `json:"overruns"`
	DroppedFrames uint64 `json:"dropped_frames"`
	PreRoll       uint64 `json:"pre_roll"`
	SilentBuffers uint64 `json:"silent_buffers"`
	CaptureErrors uint64 `json:"capture_errors"`
	RenderErrors  uint64 `json:"render_errors"`
	StoreErrors   uint64 `json:"store_errors"`

	// FirstInputTime and FirstOutputTime are -1 until observed
	FirstInputTime  float64 `json:"first_input_time"`
	FirstOutputTime float64 `json:"first_output_time"`

	Offset         float64       `json:"offset"`
	OffsetComputed bool          `json:"offset_computed"`
	Headroom       int64         `json:"headroom"`
	Drift          int64         `json:"drift"`
	Quality        psync.Quality `json:"quality"`
}

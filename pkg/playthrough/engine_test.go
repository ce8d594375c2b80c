// ABOUTME: Tests for the real-time pass-through engine
// ABOUTME: Drives OnCapture/OnRender directly with scripted device clocks
package playthrough

import (
	"encoding/binary"
	"encoding/json"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
	psync "github.com/Resonate-Protocol/playthrough/pkg/sync"
)

var testFormat = audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 16}

func newTestEngine(t *testing.T, capacity, margin int, fill FillMode) *Engine {
	t.Helper()
	e, err := NewEngine(EngineConfig{
		Format:          testFormat,
		CapacityFrames:  capacity,
		Margin:          margin,
		FramesPerBuffer: 512,
		FillMode:        fill,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func at(sampleTime float64) audio.Timestamp {
	return audio.Timestamp{SampleTime: sampleTime, RateScalar: 1}
}

// stamped returns frames whose value is their own input sample time
func stamped(start int64, frames int) [][]byte {
	buf := make([]byte, frames*testFormat.FrameSize())
	for i := 0; i < frames; i++ {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(start)+uint32(i))
	}
	return [][]byte{buf}
}

func frameValue(out [][]byte, i int) uint32 {
	return binary.LittleEndian.Uint32(out[0][i*4:])
}

func dirty(frames int) [][]byte {
	buf := make([]byte, frames*testFormat.FrameSize())
	for i := range buf {
		buf[i] = 0xee
	}
	return [][]byte{buf}
}

func expectSilence(t *testing.T, out [][]byte, from, to int) {
	t.Helper()
	for i := from; i < to; i++ {
		if v := frameValue(out, i); v != 0 {
			t.Fatalf("frame %d: expected silence, got %d", i, v)
		}
	}
}

func TestEngineScenario(t *testing.T) {
	e := newTestEngine(t, 4096, 512, FillSilence)
	e.Start()

	out := dirty(512)
	e.OnCapture(at(1000), 512, stamped(1000, 512))
	e.OnRender(at(200), 512, out)

	// the first render lands before the first captured frame
	expectSilence(t, out, 0, 512)

	offset, ok := e.ClockSync().Offset()
	if !ok || offset != 1000-200-512 {
		t.Fatalf("expected offset %d, got %v (computed %v)", 1000-200-512, offset, ok)
	}

	for k := 1; k < 32; k++ {
		e.OnCapture(at(float64(1000+k*512)), 512, stamped(int64(1000+k*512), 512))

		out := dirty(512)
		e.OnRender(at(float64(200+k*512)), 512, out)

		want := uint32(1000 + (k-1)*512)
		for i := 0; i < 512; i++ {
			if got := frameValue(out, i); got != want+uint32(i) {
				t.Fatalf("render %d frame %d: expected input time %d, got %d", k, i, want+uint32(i), got)
			}
		}
	}

	stats := e.Stats()
	if stats.Underruns != 0 || stats.Overruns != 0 {
		t.Errorf("expected no underruns or overruns, got %d and %d", stats.Underruns, stats.Overruns)
	}
	if stats.PreRoll != 1 {
		t.Errorf("expected 1 pre-roll buffer, got %d", stats.PreRoll)
	}
	if stats.RenderedFrames != 31*512 {
		t.Errorf("expected %d rendered frames, got %d", 31*512, stats.RenderedFrames)
	}
	if stats.Headroom != 512 || stats.Drift != 0 {
		t.Errorf("expected headroom 512 and drift 0, got %d and %d", stats.Headroom, stats.Drift)
	}
	if stats.Quality != psync.QualityGood {
		t.Errorf("expected good quality, got %v", stats.Quality)
	}
	if stats.FirstInputTime != 1000 || stats.FirstOutputTime != 200 {
		t.Errorf("expected first times 1000/200, got %v/%v", stats.FirstInputTime, stats.FirstOutputTime)
	}
}

func TestEngineRenderBeforeCapture(t *testing.T) {
	e := newTestEngine(t, 4096, 512, FillSilence)
	e.Start()

	out := dirty(512)
	e.OnRender(at(200), 512, out)
	expectSilence(t, out, 0, 512)

	if e.ClockSync().Computed() {
		t.Fatal("expected no offset before the first capture")
	}

	e.OnCapture(at(1000), 512, stamped(1000, 512))
	out = dirty(512)
	e.OnRender(at(712), 512, out)

	offset, _ := e.ClockSync().Offset()
	if offset != 1000-200-512 {
		t.Errorf("expected same offset as capture-first order (%d), got %v", 1000-200-512, offset)
	}
	if got := frameValue(out, 0); got != 1000 {
		t.Errorf("expected render to start at input time 1000, got %d", got)
	}
}

func TestEnginePartialPreRoll(t *testing.T) {
	e := newTestEngine(t, 4096, 100, FillSilence)
	e.Start()

	e.OnCapture(at(1000), 512, stamped(1000, 512))
	out := dirty(512)
	e.OnRender(at(200), 512, out)

	// translated start is 900: 100 frames of silence then captured data
	expectSilence(t, out, 0, 100)
	for i := 100; i < 512; i++ {
		if got := frameValue(out, i); got != uint32(900+i) {
			t.Fatalf("frame %d: expected %d, got %d", i, 900+i, got)
		}
	}

	stats := e.Stats()
	if stats.RenderedFrames != 412 || stats.PreRoll != 1 || stats.SilentBuffers != 0 {
		t.Errorf("expected 412 rendered, 1 pre-roll, 0 silent; got %d, %d, %d",
			stats.RenderedFrames, stats.PreRoll, stats.SilentBuffers)
	}
}

func TestEngineUnderrun(t *testing.T) {
	e := newTestEngine(t, 4096, 0, FillSilence)
	e.Start()

	e.OnCapture(at(1000), 512, stamped(1000, 512))
	e.OnRender(at(200), 512, dirty(512))

	out := dirty(512)
	e.OnRender(at(712), 512, out)
	expectSilence(t, out, 0, 512)

	stats := e.Stats()
	if stats.Underruns != 1 || stats.SilentBuffers != 1 {
		t.Errorf("expected 1 underrun and 1 silent buffer, got %d and %d", stats.Underruns, stats.SilentBuffers)
	}
	if stats.Overruns != 0 {
		t.Errorf("expected no overruns, got %d", stats.Overruns)
	}
}

func TestEngineOverrun(t *testing.T) {
	e := newTestEngine(t, 1024, 512, FillSilence)
	e.Start()

	e.OnCapture(at(1000), 512, stamped(1000, 512))
	e.OnRender(at(200), 512, dirty(512))

	// capture laps the ring before render asks for input time 1000
	for k := 1; k <= 4; k++ {
		e.OnCapture(at(float64(1000+k*512)), 512, stamped(int64(1000+k*512), 512))
	}

	out := dirty(512)
	e.OnRender(at(712), 512, out)
	expectSilence(t, out, 0, 512)

	stats := e.Stats()
	if stats.Overruns != 1 || stats.DroppedFrames != 512 {
		t.Errorf("expected 1 overrun dropping 512 frames, got %d and %d", stats.Overruns, stats.DroppedFrames)
	}
	if stats.Underruns != 0 {
		t.Errorf("expected no underruns, got %d", stats.Underruns)
	}
}

func TestEngineFillRepeat(t *testing.T) {
	e := newTestEngine(t, 4096, 0, FillRepeat)
	e.Start()

	e.OnCapture(at(1000), 512, stamped(1000, 512))
	e.OnRender(at(200), 512, dirty(512))

	out := dirty(512)
	e.OnRender(at(712), 512, out)

	for i := 0; i < 512; i++ {
		if got := frameValue(out, i); got != 1511 {
			t.Fatalf("frame %d: expected repeated last frame 1511, got %d", i, got)
		}
	}
}

func TestEngineFillRepeatWithoutHistory(t *testing.T) {
	e := newTestEngine(t, 4096, 0, FillRepeat)
	e.Start()

	e.OnCapture(at(1000), 512, stamped(1000, 512))
	out := dirty(512)
	e.OnRender(at(-1), 512, out)

	expectSilence(t, out, 0, 512)
	if stats := e.Stats(); stats.RenderErrors != 1 {
		t.Errorf("expected 1 render error for invalid timestamp, got %d", stats.RenderErrors)
	}
}

func TestEngineNotRunning(t *testing.T) {
	e := newTestEngine(t, 4096, 512, FillSilence)

	out := dirty(512)
	e.OnCapture(at(1000), 512, stamped(1000, 512))
	e.OnRender(at(200), 512, out)

	expectSilence(t, out, 0, 512)
	stats := e.Stats()
	if stats.CaptureBuffers != 0 || stats.RenderBuffers != 0 || e.ClockSync().Computed() {
		t.Errorf("expected stopped engine to ignore callbacks, got %+v", stats)
	}
}

func TestEngineCaptureFailures(t *testing.T) {
	e := newTestEngine(t, 4096, 512, FillSilence)
	e.Start()

	e.OnCapture(at(-5), 512, stamped(0, 512))
	e.OnCapture(at(1000), 512, [][]byte{make([]byte, 10)})
	e.OnDeviceError(audio.Input, nil)
	e.OnDeviceError(audio.Output, nil)

	stats := e.Stats()
	if stats.CaptureErrors != 2 {
		t.Errorf("expected 2 capture errors, got %d", stats.CaptureErrors)
	}
	if stats.StoreErrors != 1 {
		t.Errorf("expected 1 store error, got %d", stats.StoreErrors)
	}
	if stats.RenderErrors != 1 {
		t.Errorf("expected 1 render error, got %d", stats.RenderErrors)
	}
	if stats.CapturedFrames != 0 {
		t.Errorf("expected no captured frames, got %d", stats.CapturedFrames)
	}
}

func TestEngineRestartResets(t *testing.T) {
	e := newTestEngine(t, 4096, 512, FillSilence)
	e.Start()
	firstRun := e.Stats().RunID

	e.OnCapture(at(1000), 512, stamped(1000, 512))
	e.OnRender(at(200), 512, dirty(512))
	e.Stop()

	e.Start()
	stats := e.Stats()
	if stats.RunID == firstRun || stats.RunID == "" {
		t.Errorf("expected a new run id, got %q (previous %q)", stats.RunID, firstRun)
	}
	if stats.OffsetComputed || stats.FirstInputTime != -1 || stats.FirstOutputTime != -1 {
		t.Errorf("expected clean sync state, got %+v", stats)
	}
	if stats.CaptureBuffers != 0 || stats.PreRoll != 0 {
		t.Errorf("expected counters reset, got %+v", stats)
	}

	e.OnCapture(at(5000), 512, stamped(5000, 512))
	e.OnRender(at(100), 512, dirty(512))
	if offset, _ := e.ClockSync().Offset(); offset != 5000-100-512 {
		t.Errorf("expected offset from the new run (%d), got %v", 5000-100-512, offset)
	}
}

func TestEngineStatsJSON(t *testing.T) {
	e := newTestEngine(t, 4096, 512, FillSilence)
	data, err := json.Marshal(e.Stats())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	for _, want := range []string{`"quality":"lost"`, `"state":"stopped"`, `"first_input_time":-1`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("expected %s in %s", want, data)
		}
	}
}

func TestParseFillMode(t *testing.T) {
	tests := []struct {
		in      string
		want    FillMode
		wantErr bool
	}{
		{"", FillSilence, false},
		{"silence", FillSilence, false},
		{"Repeat", FillRepeat, false},
		{"loop", FillSilence, true},
	}

	for _, tt := range tests {
		got, err := ParseFillMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: expected error %v, got %v", tt.in, tt.wantErr, err)
		}
		if got != tt.want {
			t.Errorf("%q: expected %v, got %v", tt.in, tt.want, got)
		}
	}
}

func TestNewEngineValidation(t *testing.T) {
	tests := []struct {
		name   string
		config EngineConfig
	}{
		{"bad format", EngineConfig{Format: audio.Format{}, CapacityFrames: 4096, FramesPerBuffer: 512}},
		{"no buffer size", EngineConfig{Format: testFormat, CapacityFrames: 4096}},
		{"capacity below buffer", EngineConfig{Format: testFormat, CapacityFrames: 256, FramesPerBuffer: 512}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewEngine(tt.config); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestEngineConcurrentCallbacks(t *testing.T) {
	const (
		frames   = 512
		capacity = 4096
		buffers  = 2000
		// capture may run this many buffers ahead of the render in flight;
		// render k reads the buffer captured at k-1, so the writer stays a
		// full buffer clear of the plane bytes being copied out
		lead = capacity/frames - 3
	)
	e := newTestEngine(t, capacity, 512, FillSilence)
	e.Start()

	captured := make(chan int, buffers)
	var rendered atomic.Int64

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for k := 0; k < buffers; k++ {
			for int64(k)-rendered.Load() > lead {
				runtime.Gosched()
			}
			e.OnCapture(at(float64(1000+k*frames)), frames, stamped(int64(1000+k*frames), frames))
			captured <- k
		}
		close(captured)
	}()

	var corrupt, checked int
	go func() {
		defer wg.Done()
		out := dirty(frames)
		k := 0
		for range captured {
			e.OnRender(at(float64(200+k*frames)), frames, out)
			want := uint32(1000 + (k-1)*frames)
			if frameValue(out, 0) != 0 {
				checked++
				// a delivered range is exactly the frames captured for it, in order
				for i := 0; i < frames; i++ {
					if frameValue(out, i) != want+uint32(i) {
						corrupt++
						break
					}
				}
			}
			k++
			rendered.Store(int64(k))
		}
	}()

	wg.Wait()

	if corrupt != 0 {
		t.Fatalf("expected no corrupt buffers, got %d", corrupt)
	}
	if checked != buffers-1 {
		t.Errorf("expected %d delivered buffers, got %d", buffers-1, checked)
	}

	stats := e.Stats()
	if stats.RenderBuffers != buffers || stats.CaptureBuffers != buffers {
		t.Errorf("expected %d buffers each way, got %d capture and %d render",
			buffers, stats.CaptureBuffers, stats.RenderBuffers)
	}
	if stats.Overruns != 0 {
		t.Errorf("expected no overruns with a bounded writer lead, got %d", stats.Overruns)
	}
}

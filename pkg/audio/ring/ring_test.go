// ABOUTME: Tests for the time-indexed ring buffer
// ABOUTME: Covers round trips, underrun/overrun classification, gaps and concurrent use
package ring

import (
	"bytes"
	"errors"
	"hash/crc32"
	"math/rand"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
)

var stereo16 = audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 16}

// pattern fills buf with bytes derived from the absolute sample time so any
// range can be verified without remembering what was stored.
func pattern(buf []byte, start int64, frameSize int) {
	for i := range buf {
		frame := start + int64(i/frameSize)
		buf[i] = byte(frame*7 + int64(i%frameSize)*13)
	}
}

func patterned(start int64, frames, frameSize int) []byte {
	buf := make([]byte, frames*frameSize)
	pattern(buf, start, frameSize)
	return buf
}

func TestNewRoundsCapacity(t *testing.T) {
	tests := []struct {
		requested int
		expected  int
	}{
		{1, 1},
		{3, 4},
		{4096, 4096},
		{4097, 8192},
		{1536, 2048},
	}

	for _, tt := range tests {
		rb := New(stereo16, tt.requested)
		if rb.Capacity() != tt.expected {
			t.Errorf("requested %d: expected capacity %d, got %d", tt.requested, tt.expected, rb.Capacity())
		}
	}
}

func TestStoreFetchRoundTrip(t *testing.T) {
	rb := New(stereo16, 4096)
	fs := stereo16.FrameSize()

	for k := int64(0); k < 4; k++ {
		start := 1000 + k*512
		if err := rb.Store(start, 512, patterned(start, 512, fs)); err != nil {
			t.Fatalf("store %d: %v", k, err)
		}
	}

	start, end := rb.Bounds()
	if start != 1000 || end != 1000+4*512 {
		t.Fatalf("expected bounds [1000, 3048), got [%d, %d)", start, end)
	}

	// range spanning two stores
	dst := make([]byte, 700*fs)
	if err := rb.Fetch(1300, 700, dst); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !bytes.Equal(dst, patterned(1300, 700, fs)) {
		t.Error("fetched bytes differ from stored bytes")
	}
	if rb.ReadPosition() != 2000 {
		t.Errorf("expected read position 2000, got %d", rb.ReadPosition())
	}
}

func TestFetchUnderrun(t *testing.T) {
	rb := New(stereo16, 4096)
	fs := stereo16.FrameSize()
	dst := make([]byte, 512*fs)

	if err := rb.Fetch(0, 512, dst); !errors.Is(err, ErrUnderrun) {
		t.Errorf("empty buffer: expected ErrUnderrun, got %v", err)
	}

	rb.Store(1000, 512, patterned(1000, 512, fs))

	tests := []struct {
		name  string
		start int64
	}{
		{"at end", 1512},
		{"beyond end", 5000},
		{"straddles end", 1200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := rb.Fetch(tt.start, 512, dst); !errors.Is(err, ErrUnderrun) {
				t.Errorf("expected ErrUnderrun, got %v", err)
			}
		})
	}
}

func TestFetchOverrun(t *testing.T) {
	rb := New(stereo16, 1024)
	fs := stereo16.FrameSize()

	for start := int64(0); start < 4096; start += 256 {
		rb.Store(start, 256, patterned(start, 256, fs))
	}

	start, end := rb.Bounds()
	if start != 4096-1024 || end != 4096 {
		t.Fatalf("expected window [3072, 4096), got [%d, %d)", start, end)
	}

	dst := make([]byte, 256*fs)
	if err := rb.Fetch(0, 256, dst); !errors.Is(err, ErrOverrun) {
		t.Errorf("expected ErrOverrun for evicted range, got %v", err)
	}
	if err := rb.Fetch(3000, 256, dst); !errors.Is(err, ErrOverrun) {
		t.Errorf("expected ErrOverrun for partially evicted range, got %v", err)
	}
	if err := rb.Fetch(3072, 256, dst); err != nil {
		t.Errorf("expected oldest retained range to fetch, got %v", err)
	}
	if !bytes.Equal(dst, patterned(3072, 256, fs)) {
		t.Error("oldest retained range corrupted")
	}
}

func TestStoreGapIsSilent(t *testing.T) {
	rb := New(stereo16, 4096)
	fs := stereo16.FrameSize()

	// dirty the slots the gap will use
	rb.Store(0, 1024, patterned(0, 1024, fs))
	rb.Reset()

	rb.Store(0, 256, patterned(0, 256, fs))
	rb.Store(512, 256, patterned(512, 256, fs))

	dst := make([]byte, 256*fs)
	if err := rb.Fetch(256, 256, dst); err != nil {
		t.Fatalf("fetch gap: %v", err)
	}
	if !bytes.Equal(dst, make([]byte, 256*fs)) {
		t.Error("expected gap to be zero filled")
	}
	if err := rb.Fetch(512, 256, dst); err != nil || !bytes.Equal(dst, patterned(512, 256, fs)) {
		t.Errorf("data after gap lost: %v", err)
	}
}

func TestStoreLargeGapResetsWindow(t *testing.T) {
	rb := New(stereo16, 1024)
	fs := stereo16.FrameSize()

	rb.Store(0, 256, patterned(0, 256, fs))
	rb.Store(10000, 256, patterned(10000, 256, fs))

	start, end := rb.Bounds()
	if start != 10000 || end != 10256 {
		t.Errorf("expected window [10000, 10256), got [%d, %d)", start, end)
	}
}

func TestStoreRewindDiscards(t *testing.T) {
	rb := New(stereo16, 4096)
	fs := stereo16.FrameSize()

	rb.Store(5000, 512, patterned(5000, 512, fs))
	rb.Store(100, 512, patterned(100, 512, fs))

	start, end := rb.Bounds()
	if start != 100 || end != 612 {
		t.Errorf("expected window [100, 612), got [%d, %d)", start, end)
	}

	dst := make([]byte, 512*fs)
	if err := rb.Fetch(5000, 512, dst); !errors.Is(err, ErrUnderrun) {
		t.Errorf("expected discarded range to be unavailable, got %v", err)
	}
}

func TestTooMuchAndFrameSize(t *testing.T) {
	rb := New(stereo16, 256)
	fs := stereo16.FrameSize()

	if err := rb.Store(0, 512, make([]byte, 512*fs)); !errors.Is(err, ErrTooMuch) {
		t.Errorf("expected ErrTooMuch, got %v", err)
	}
	if err := rb.Store(0, 128, make([]byte, 10)); !errors.Is(err, ErrFrameSize) {
		t.Errorf("expected ErrFrameSize for short plane, got %v", err)
	}
	if err := rb.Store(0, 128, make([]byte, 128*fs), make([]byte, 128*fs)); !errors.Is(err, ErrFrameSize) {
		t.Errorf("expected ErrFrameSize for extra plane, got %v", err)
	}
	if err := rb.Store(0, 0); err != nil {
		t.Errorf("expected zero-frame store to be a no-op, got %v", err)
	}
}

func TestPlanarRoundTrip(t *testing.T) {
	format := audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 32, Float: true, Planar: true}
	rb := New(format, 1024)
	fs := format.FrameSize()

	left := patterned(0, 300, fs)
	right := patterned(50000, 300, fs)
	if err := rb.Store(0, 300, left, right); err != nil {
		t.Fatalf("store: %v", err)
	}

	gotLeft := make([]byte, 100*fs)
	gotRight := make([]byte, 100*fs)
	if err := rb.Fetch(200, 100, gotLeft, gotRight); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !bytes.Equal(gotLeft, left[200*fs:]) || !bytes.Equal(gotRight, right[200*fs:]) {
		t.Error("planes mixed up or corrupted")
	}
}

func TestNegativeSampleTimes(t *testing.T) {
	rb := New(stereo16, 1024)
	fs := stereo16.FrameSize()

	rb.Store(-300, 600, patterned(-300, 600, fs))

	dst := make([]byte, 400*fs)
	if err := rb.Fetch(-200, 400, dst); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !bytes.Equal(dst, patterned(-200, 400, fs)) {
		t.Error("negative sample times wrapped incorrectly")
	}
}

// Random monotonic store sequences; every range inside the window must read back
// exactly, every range outside must be classified.
func TestRandomStoreSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	fs := stereo16.FrameSize()

	for run := 0; run < 20; run++ {
		rb := New(stereo16, 2048)
		next := int64(rng.Intn(100000))

		for i := 0; i < 200; i++ {
			frames := 1 + rng.Intn(700)
			if err := rb.Store(next, frames, patterned(next, frames, fs)); err != nil {
				t.Fatalf("store: %v", err)
			}
			next += int64(frames)

			start, end := rb.Bounds()
			if end != next || end-start > int64(rb.Capacity()) {
				t.Fatalf("bad window [%d, %d) after writing up to %d", start, end, next)
			}

			n := 1 + rng.Intn(int(end-start))
			from := start + int64(rng.Intn(int(end-start)-n+1))
			dst := make([]byte, n*fs)
			if err := rb.Fetch(from, n, dst); err != nil {
				t.Fatalf("fetch [%d, %d) inside [%d, %d): %v", from, from+int64(n), start, end, err)
			}
			if !bytes.Equal(dst, patterned(from, n, fs)) {
				t.Fatalf("fetch [%d, %d) returned wrong bytes", from, from+int64(n))
			}

			if err := rb.Fetch(end, 1, dst); !errors.Is(err, ErrUnderrun) {
				t.Fatalf("expected ErrUnderrun at end, got %v", err)
			}
			if end-start == int64(rb.Capacity()) {
				if err := rb.Fetch(start-1, 1, dst); !errors.Is(err, ErrOverrun) {
					t.Fatalf("expected ErrOverrun before window, got %v", err)
				}
			}
		}
	}
}

func TestConcurrentStoreFetch(t *testing.T) {
	const (
		block  = 256
		blocks = 4000
	)
	rb := New(stereo16, 2048)
	fs := stereo16.FrameSize()

	expected := make([]uint32, blocks)
	for k := range expected {
		expected[k] = crc32.ChecksumIEEE(patterned(int64(k*block), block, fs))
	}

	var wg sync.WaitGroup
	done := make(chan struct{})
	mismatches := 0

	wg.Add(2)
	go func() {
		defer wg.Done()
		src := make([]byte, block*fs)
		for k := 0; k < blocks; k++ {
			start := int64(k * block)
			// stay within one capacity of the reader so nothing it still needs is evicted
			for start+block-rb.ReadPosition() > int64(rb.Capacity()) {
				runtime.Gosched()
			}
			pattern(src, start, fs)
			if err := rb.Store(start, block, src); err != nil {
				t.Errorf("store %d: %v", k, err)
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		dst := make([]byte, block*fs)
		for k := 0; k < blocks; k++ {
			for {
				err := rb.Fetch(int64(k*block), block, dst)
				if err == nil {
					break
				}
				if !errors.Is(err, ErrUnderrun) {
					t.Errorf("fetch %d: %v", k, err)
					return
				}
				runtime.Gosched()
			}
			if crc32.ChecksumIEEE(dst) != expected[k] {
				mismatches++
			}
		}
	}()

	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("writer/reader deadlocked")
	}

	if mismatches != 0 {
		t.Errorf("expected no corrupted ranges, got %d", mismatches)
	}
}

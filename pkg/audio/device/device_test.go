// ABOUTME: Device interface and backend registry tests
// ABOUTME: Verifies implementations, backend lookup and format mapping
package device

import (
	"errors"
	"testing"
	"time"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"
)

var s16 = audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 16}

func TestImplementations(t *testing.T) {
	var _ Provider = (*Malgo)(nil)
	var _ Provider = (*Oto)(nil)
	var _ Provider = (*Sim)(nil)
	var _ Device = (*malgoDevice)(nil)
	var _ Device = (*otoDevice)(nil)
	var _ Device = (*SimDevice)(nil)
}

func TestBackends(t *testing.T) {
	names := Backends()
	for _, want := range []string{"malgo", "oto", "sim"} {
		found := false
		for _, name := range names {
			if name == want {
				found = true
			}
		}
		if !found {
			t.Errorf("expected backend %q in %v", want, names)
		}
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestOpenSimBackend(t *testing.T) {
	p, err := Open("sim")
	if err != nil {
		t.Fatalf("open sim: %v", err)
	}
	defer p.Close()

	if p.Name() != "sim" {
		t.Errorf("expected sim, got %s", p.Name())
	}
}

func TestRegister(t *testing.T) {
	Register("test-sim", func() (Provider, error) { return NewSim(SimConfig{Manual: true}), nil })

	p, err := Open("test-sim")
	if err != nil {
		t.Fatalf("open registered backend: %v", err)
	}
	if p.Name() != "sim" {
		t.Errorf("expected sim provider, got %s", p.Name())
	}
}

func TestCheckParams(t *testing.T) {
	tests := []struct {
		name    string
		params  Params
		wantErr bool
	}{
		{"valid", Params{Format: s16, FramesPerBuffer: 512}, false},
		{"zero frames", Params{Format: s16}, true},
		{"bad format", Params{Format: audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 12}, FramesPerBuffer: 512}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkParams(tt.params)
			if (err != nil) != tt.wantErr {
				t.Errorf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestMalgoFormat(t *testing.T) {
	tests := []struct {
		format audio.Format
		want   malgo.FormatType
	}{
		{audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 8}, malgo.FormatU8},
		{audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 16}, malgo.FormatS16},
		{audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 24}, malgo.FormatS24},
		{audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 32}, malgo.FormatS32},
		{audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 32, Float: true}, malgo.FormatF32},
	}

	for _, tt := range tests {
		got, err := malgoFormat(tt.format)
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.format, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.format, formatName(tt.want), formatName(got))
		}
	}
}

func TestOtoFormat(t *testing.T) {
	if f, err := otoFormat(s16); err != nil || f != oto.FormatSignedInt16LE {
		t.Errorf("expected s16 mapping, got %v %v", f, err)
	}

	_, err := otoFormat(audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 24})
	if !errors.Is(err, ErrFormatMismatch) {
		t.Errorf("expected ErrFormatMismatch for 24-bit, got %v", err)
	}
}

func TestOtoRejectsCapture(t *testing.T) {
	o := NewOto()
	_, err := o.OpenInput("", Params{Format: s16, FramesPerBuffer: 512})
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}

	infos, err := o.Devices(audio.Input)
	if err != nil || len(infos) != 0 {
		t.Errorf("expected no input devices, got %v %v", infos, err)
	}
}

func TestOtoReadWhenStopped(t *testing.T) {
	d := &otoDevice{format: s16, frames: 4, planes: make([][]byte, 1)}

	buf := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	n, err := d.Read(buf)
	if err != nil || n != len(buf) {
		t.Fatalf("expected full read, got %d %v", n, err)
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("expected silence at %d, got %d", i, b)
		}
	}
}

func TestOtoReadCallsHandler(t *testing.T) {
	d := &otoDevice{format: s16, frames: 4, planes: make([][]byte, 1)}
	h := &recorder{fill: 0x5a}
	d.handler.Store(&handlerRef{h: h})
	d.active.Store(true)

	buf := make([]byte, 4*4+2)
	n, err := d.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 16 {
		t.Errorf("expected whole frames only (16 bytes), got %d", n)
	}
	if len(h.renders) != 1 || h.renders[0].frames != 4 {
		t.Fatalf("expected one render of 4 frames, got %+v", h.renders)
	}
	if buf[0] != 0x5a {
		t.Errorf("expected handler data in buffer, got %x", buf[0])
	}

	d.Read(buf)
	if h.renders[1].ts.SampleTime != 4 {
		t.Errorf("expected second read at sample 4, got %v", h.renders[1].ts.SampleTime)
	}
}

// blockingRenderer holds OnRender until released
type blockingRenderer struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingRenderer) OnCapture(audio.Timestamp, int, [][]byte) {}

func (b *blockingRenderer) OnRender(audio.Timestamp, int, [][]byte) {
	close(b.entered)
	<-b.release
}

func (b *blockingRenderer) OnDeviceError(audio.Direction, error) {}

func TestOtoStopWaitsForRead(t *testing.T) {
	d := &otoDevice{format: s16, frames: 4, planes: make([][]byte, 1)}
	h := &blockingRenderer{entered: make(chan struct{}), release: make(chan struct{})}
	d.handler.Store(&handlerRef{h: h})
	d.active.Store(true)

	go d.Read(make([]byte, 16))
	<-h.entered

	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("expected Stop to wait for the in-flight read")
	case <-time.After(20 * time.Millisecond):
	}

	close(h.release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("expected Stop to return once the read finished")
	}

	if d.handler.Load() != nil {
		t.Error("expected handler to be cleared after Stop")
	}
}

// ABOUTME: Device, Provider and Handler interface definitions
// ABOUTME: Common contract between audio backends and the pass-through engine
package device

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
)

var (
	// ErrUnsupported is returned when a backend cannot serve a direction or format
	ErrUnsupported = errors.New("device: unsupported by backend")

	// ErrNotFound is returned for unknown device ids
	ErrNotFound = errors.New("device: not found")

	// ErrFormatMismatch is returned when a device cannot run the requested format
	ErrFormatMismatch = errors.New("device: format mismatch")
)

// Handler receives one call per hardware buffer. Implementations run on the
// device's real-time thread and must not block.
type Handler interface {
	// OnCapture delivers frames captured by an input device
	OnCapture(ts audio.Timestamp, frames int, in [][]byte)

	// OnRender asks for frames to be written into out for an output device
	OnRender(ts audio.Timestamp, frames int, out [][]byte)

	// OnDeviceError reports a failed buffer exchange; the buffer is skipped
	OnDeviceError(dir audio.Direction, err error)
}

// Info describes an audio device
type Info struct {
	ID        string
	Name      string
	Direction audio.Direction
	IsDefault bool
}

// Params configures a device when it is opened
type Params struct {
	Format          audio.Format
	FramesPerBuffer int
}

// Device is an opened audio endpoint with its own clock
type Device interface {
	// Info returns the device description
	Info() Info

	// Format returns the negotiated stream format
	Format() audio.Format

	// FramesPerBuffer returns the nominal frames per callback
	FramesPerBuffer() int

	// Start starts the device clock and begins calling h
	Start(h Handler) error

	// Stop stops the device clock. It returns once no callback is running.
	Stop() error

	// Close releases the device
	Close() error
}

// Provider enumerates and opens devices of one backend
type Provider interface {
	// Name returns the backend name
	Name() string

	// Devices lists the devices available for a direction
	Devices(dir audio.Direction) ([]Info, error)

	// OpenInput opens a capture device. An empty id selects the default device.
	OpenInput(id string, p Params) (Device, error)

	// OpenOutput opens a render device. An empty id selects the default device.
	OpenOutput(id string, p Params) (Device, error)

	// Close releases backend resources
	Close() error
}

// Factory creates a provider
type Factory func() (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		"malgo": func() (Provider, error) { return NewMalgo() },
		"oto":   func() (Provider, error) { return NewOto(), nil },
		"sim":   func() (Provider, error) { return NewSim(SimConfig{}), nil },
	}
)

// Register adds or replaces a backend
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// Backends returns the registered backend names
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open creates a provider for the named backend
func Open(backend string) (Provider, error) {
	registryMu.RLock()
	f, ok := registry[backend]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown audio backend %q (available: %v): %w", backend, Backends(), ErrNotFound)
	}
	return f()
}

// checkParams validates open parameters shared by all backends
func checkParams(p Params) error {
	if err := p.Format.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrFormatMismatch, err)
	}
	if p.FramesPerBuffer <= 0 {
		return fmt.Errorf("invalid frames per buffer: %d", p.FramesPerBuffer)
	}
	return nil
}

// handlerRef lets callbacks load the handler atomically
type handlerRef struct {
	h Handler
}

// makePlanes allocates scratch planes for frames of the given format
func makePlanes(f audio.Format, frames int) [][]byte {
	planes := make([][]byte, f.Planes())
	for i := range planes {
		planes[i] = make([]byte, frames*f.FrameSize())
	}
	return planes
}

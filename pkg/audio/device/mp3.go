// ABOUTME: MP3 file source for simulated capture devices
// ABOUTME: Decodes MP3 with go-mp3 and hands out 16-bit stereo frames
package device

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Resonate-Protocol/playthrough/pkg/audio"
	"github.com/hajimehoshi/go-mp3"
)

// MP3Generator streams decoded MP3 audio. go-mp3 always decodes to
// interleaved signed 16-bit stereo, so the stream format must match.
type MP3Generator struct {
	format  audio.Format
	closer  io.Closer
	decoder *mp3.Decoder
	loop    bool
	done    bool
}

// OpenMP3 opens an MP3 file as a generator
func OpenMP3(path string, format audio.Format, loop bool) (*MP3Generator, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mp3 %s: %w", path, err)
	}

	g, err := NewMP3Generator(f, format, loop)
	if err != nil {
		f.Close()
		return nil, err
	}
	g.closer = f
	return g, nil
}

// NewMP3Generator decodes MP3 data from r
func NewMP3Generator(r io.ReadSeeker, format audio.Format, loop bool) (*MP3Generator, error) {
	if format.BitDepth != 16 || format.Float || format.Channels != 2 || format.Planar {
		return nil, fmt.Errorf("mp3 decodes to interleaved s16 stereo, stream is %s: %w", format, ErrFormatMismatch)
	}

	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
	}
	if decoder.SampleRate() != format.SampleRate {
		return nil, fmt.Errorf("mp3 sample rate %dHz, stream is %dHz: %w", decoder.SampleRate(), format.SampleRate, ErrFormatMismatch)
	}

	return &MP3Generator{
		format:  format,
		decoder: decoder,
		loop:    loop,
	}, nil
}

// Generate decodes the next frames. At end of stream it rewinds when looping,
// otherwise it pads with silence and returns io.EOF once.
func (g *MP3Generator) Generate(dst [][]byte, frames int) error {
	if err := checkPlaneSizes(dst, g.format, frames); err != nil {
		return err
	}
	buf := dst[0][:frames*g.format.FrameSize()]

	if g.done {
		clear(buf)
		return nil
	}

	filled := 0
	rewound := false
	for filled < len(buf) {
		n, err := io.ReadFull(g.decoder, buf[filled:])
		filled += n
		if err == nil {
			break
		}
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("mp3 decode error: %w", err)
		}
		if !g.loop {
			clear(buf[filled:])
			g.done = true
			return io.EOF
		}
		if n == 0 && rewound {
			return fmt.Errorf("mp3 stream is empty: %w", io.ErrUnexpectedEOF)
		}
		if _, err := g.decoder.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to rewind mp3: %w", err)
		}
		rewound = true
	}
	return nil
}

// Close releases the underlying file
func (g *MP3Generator) Close() error {
	if g.closer != nil {
		return g.closer.Close()
	}
	return nil
}

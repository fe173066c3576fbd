// Package sink writes resynchronized stream output to files.
package sink

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/saker-ai/audiosync/pkg/audio"
	"github.com/saker-ai/audiosync/pkg/stream"
)

// ErrCapsChanged is returned when a packet does not match the caps the file
// was started with.
var ErrCapsChanged = errors.New("sink: caps changed mid-stream")

// WAVWriter writes packed stream packets to a RIFF/WAVE file. The encoder is
// started with the first packet and patches the chunk sizes on Close.
type WAVWriter struct {
	mu      sync.Mutex
	w       io.WriteSeeker
	enc     *wav.Encoder
	caps    audio.Caps
	ints    goaudio.IntBuffer
	samples int64
	closed  bool
}

// NewWAVWriter wraps w. w is closed on Close when it is an io.Closer.
func NewWAVWriter(w io.WriteSeeker) *WAVWriter {
	return &WAVWriter{w: w}
}

// CreateWAV creates path and its parent directories.
func CreateWAV(path string) (*WAVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return NewWAVWriter(f), nil
}

// WritePacket appends the packet's samples.
func (w *WAVWriter) WritePacket(p stream.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return os.ErrClosed
	}
	if w.enc == nil {
		tag, err := wavFormatTag(p.Caps.Format)
		if err != nil {
			return err
		}
		channels := p.Caps.Layout.Channels()
		w.caps = p.Caps
		w.enc = wav.NewEncoder(w.w, p.Caps.Rate, p.Caps.Format.BytesPerSample()*8, channels, tag)
		w.ints.Format = &goaudio.Format{NumChannels: channels, SampleRate: p.Caps.Rate}
	}
	if p.Caps.Format != w.caps.Format || p.Caps.Layout != w.caps.Layout || p.Caps.Rate != w.caps.Rate {
		return fmt.Errorf("%w: %s -> %s", ErrCapsChanged, w.caps, p.Caps)
	}
	w.ints.Data = unpack(w.ints.Data[:0], p.Buffer, w.caps.Format)
	if err := w.enc.Write(&w.ints); err != nil {
		return fmt.Errorf("write wav data: %w", err)
	}
	w.samples += int64(p.Caps.Samples)
	return nil
}

// Samples returns the number of samples per channel written so far.
func (w *WAVWriter) Samples() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.samples
}

// Close patches the header and closes the underlying writer.
func (w *WAVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	var err error
	if w.enc != nil {
		if eerr := w.enc.Close(); eerr != nil {
			err = fmt.Errorf("finish wav: %w", eerr)
		}
	}
	if c, ok := w.w.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// unpack turns packed little-endian samples into encoder ints. Float samples
// keep their bit pattern and are written back unchanged as 32-bit words.
func unpack(dst []int, buf []byte, format audio.SampleFormat) []int {
	switch format {
	case audio.SampleFormatU8:
		for _, b := range buf {
			dst = append(dst, int(b))
		}
	case audio.SampleFormatS16:
		for i := 0; i+2 <= len(buf); i += 2 {
			dst = append(dst, int(int16(binary.LittleEndian.Uint16(buf[i:]))))
		}
	default:
		for i := 0; i+4 <= len(buf); i += 4 {
			dst = append(dst, int(int32(binary.LittleEndian.Uint32(buf[i:]))))
		}
	}
	return dst
}

func wavFormatTag(format audio.SampleFormat) (int, error) {
	switch format {
	case audio.SampleFormatU8, audio.SampleFormatS16, audio.SampleFormatS32:
		return 1, nil
	case audio.SampleFormatFlt:
		return 3, nil
	}
	return 0, fmt.Errorf("sink: wav cannot hold %q samples", format)
}

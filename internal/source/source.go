// Package source opens audio files as packet streams for the resync core.
package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/saker-ai/audiosync/pkg/audio"
	"github.com/saker-ai/audiosync/pkg/codec"
)

// ErrUnsupported is returned for inputs whose extension has no reader.
var ErrUnsupported = errors.New("source: unsupported input")

// Extensions lists the file extensions Open understands.
var Extensions = []string{".wav", ".mp3", ".flac", ".opus", ".ogg"}

// Source yields the packets of one input. ReadPacket returns io.EOF after
// the last packet.
type Source interface {
	Params() codec.Params
	TimeBase() audio.Rational
	ReadPacket() (codec.Packet, error)
	// Position is the PTS that follows the last packet read.
	Position() int64
	Close() error
}

// Open picks a reader by file extension.
func Open(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	var src Source
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		src, err = NewWAV(f)
	case ".mp3":
		src, err = NewMP3(f)
	case ".flac":
		src, err = NewFLAC(f)
	case ".opus", ".ogg":
		src, err = NewOggOpus(f)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupported, path)
	}
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return src, nil
}

// closer closes the underlying reader when it is an io.Closer.
func closer(r io.Reader) error {
	if c, ok := r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

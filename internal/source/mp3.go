package source

import (
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"

	"github.com/saker-ai/audiosync/pkg/audio"
	"github.com/saker-ai/audiosync/pkg/codec"
)

// mp3FrameSamples is the sample count of one MPEG-1 Layer III frame.
const mp3FrameSamples = 1152

// MP3 decodes MP3 files. go-mp3 always yields interleaved s16 stereo.
type MP3 struct {
	r   io.Reader
	dec *mp3.Decoder
	pos int64
}

func NewMP3(r io.Reader) (*MP3, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("mp3: %w", err)
	}
	return &MP3{r: r, dec: dec}, nil
}

func (m *MP3) Params() codec.Params {
	return codec.Params{
		Codec:  "pcm",
		Format: audio.SampleFormatS16,
		Layout: audio.LayoutStereo,
		Rate:   m.dec.SampleRate(),
	}
}

func (m *MP3) TimeBase() audio.Rational {
	return audio.Rational{Num: 1, Den: m.dec.SampleRate()}
}

func (m *MP3) ReadPacket() (codec.Packet, error) {
	buf := make([]byte, mp3FrameSamples*4)
	n, err := io.ReadFull(m.dec, buf)
	n -= n % 4
	if n == 0 {
		if err == nil || errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		return codec.Packet{}, err
	}
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return codec.Packet{}, fmt.Errorf("mp3: %w", err)
	}
	pkt := codec.Packet{Data: buf[:n], PTS: m.pos}
	m.pos += int64(n / 4)
	return pkt, nil
}

func (m *MP3) Position() int64 { return m.pos }

func (m *MP3) Close() error { return closer(m.r) }

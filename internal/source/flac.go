package source

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/mewkiz/flac"

	"github.com/saker-ai/audiosync/pkg/audio"
	"github.com/saker-ai/audiosync/pkg/codec"
)

// FLAC decodes FLAC files frame by frame into planar s32 packets, samples
// scaled to the full 32-bit range.
type FLAC struct {
	stream   *flac.Stream
	channels int
	bits     int
	rate     int
	pos      int64
}

func NewFLAC(r io.Reader) (*FLAC, error) {
	stream, err := flac.New(r)
	if err != nil {
		return nil, fmt.Errorf("flac: %w", err)
	}
	info := stream.Info
	f := &FLAC{
		stream:   stream,
		channels: int(info.NChannels),
		bits:     int(info.BitsPerSample),
		rate:     int(info.SampleRate),
	}
	if f.channels <= 0 || f.rate <= 0 || f.bits <= 0 || f.bits > 32 {
		return nil, fmt.Errorf("flac: unsupported stream info %d ch %d Hz %d bits", f.channels, f.rate, f.bits)
	}
	return f, nil
}

func (f *FLAC) Params() codec.Params {
	return codec.Params{
		Codec:  "pcm",
		Format: audio.SampleFormatS32P,
		Layout: audio.LayoutForChannels(f.channels),
		Rate:   f.rate,
	}
}

func (f *FLAC) TimeBase() audio.Rational {
	return audio.Rational{Num: 1, Den: f.rate}
}

func (f *FLAC) ReadPacket() (codec.Packet, error) {
	fr, err := f.stream.ParseNext()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return codec.Packet{}, io.EOF
		}
		return codec.Packet{}, fmt.Errorf("flac: %w", err)
	}
	if len(fr.Subframes) != f.channels {
		return codec.Packet{}, fmt.Errorf("flac: frame has %d channels, stream has %d", len(fr.Subframes), f.channels)
	}
	samples := int(fr.BlockSize)
	plane := samples * 4
	data := make([]byte, plane*f.channels)
	shift := uint(32 - f.bits)
	for ch, sub := range fr.Subframes {
		dst := data[ch*plane : (ch+1)*plane]
		for i := 0; i < samples && i < len(sub.Samples); i++ {
			binary.LittleEndian.PutUint32(dst[i*4:], uint32(sub.Samples[i]<<shift))
		}
	}
	pkt := codec.Packet{Data: data, PTS: f.pos}
	f.pos += int64(samples)
	return pkt, nil
}

// Close also closes the reader when it is an io.Closer.
func (f *FLAC) Position() int64 { return f.pos }

func (f *FLAC) Close() error { return f.stream.Close() }

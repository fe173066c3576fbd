package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mewkiz/flac/frame"

	"github.com/saker-ai/audiosync/pkg/audio"
)

type flacDecoder struct {
	params Params
	queue  frameQueue
}

// NewFLAC decodes packets that each hold one complete FLAC frame. Output is
// planar s32 with samples scaled to the full 32-bit range.
func NewFLAC(params Params) (Decoder, error) {
	params.Format = audio.SampleFormatS32P
	return &flacDecoder{params: params}, nil
}

func (d *flacDecoder) SendPacket(pkt Packet) error {
	if d.queue.closed {
		return ErrClosed
	}
	if len(pkt.Data) == 0 {
		return errors.New("flac: empty packet")
	}
	fr, err := frame.Parse(bytes.NewReader(pkt.Data))
	if err != nil {
		return fmt.Errorf("flac: parse frame: %w", err)
	}

	channels := fr.Channels.Count()
	if channels <= 0 || len(fr.Subframes) < channels {
		return fmt.Errorf("flac: frame has %d subframes for %d channels", len(fr.Subframes), channels)
	}
	bps := int(fr.BitsPerSample)
	if bps <= 0 || bps > 32 {
		return fmt.Errorf("flac: unsupported bits per sample %d", bps)
	}
	rate := int(fr.SampleRate)
	if rate == 0 {
		rate = d.params.Rate
	}
	layout := d.params.Layout
	if layout.Channels() != channels {
		layout = audio.LayoutForChannels(channels)
	}
	samples := int(fr.BlockSize)

	f, err := audio.NewFrame(audio.SampleFormatS32P, layout, rate, samples)
	if err != nil {
		return fmt.Errorf("flac: %w", err)
	}
	shift := uint(32 - bps)
	for ch := 0; ch < channels; ch++ {
		src := fr.Subframes[ch].Samples
		plane := f.Data[ch]
		for i := 0; i < samples && i < len(src); i++ {
			binary.LittleEndian.PutUint32(plane[i*4:], uint32(src[i]<<shift))
		}
	}
	f.PTS = pkt.PTS
	d.params.Rate = rate
	d.params.Layout = layout
	d.queue.push(f)
	return nil
}

func (d *flacDecoder) ReceiveFrame() (*audio.Frame, error) {
	return d.queue.pop()
}

func (d *flacDecoder) Params() Params {
	return d.params
}

func (d *flacDecoder) Close() error {
	d.queue.close()
	return nil
}

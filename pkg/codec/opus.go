package codec

import (
	"errors"
	"fmt"

	"github.com/saker-ai/audiosync/pkg/audio"
	"github.com/saker-ai/audiosync/pkg/audio/opusx"
)

var opusRates = map[int]struct{}{8000: {}, 12000: {}, 16000: {}, 24000: {}, 48000: {}}

type opusDecoder struct {
	params Params
	dec    *opusx.Decoder
	queue  frameQueue
}

// NewOpus decodes Opus packets to interleaved s16. Rate defaults to 48 kHz
// and the layout to stereo.
func NewOpus(params Params) (Decoder, error) {
	if params.Rate == 0 {
		params.Rate = 48000
	}
	if _, ok := opusRates[params.Rate]; !ok {
		return nil, fmt.Errorf("opus: unsupported sample rate %d", params.Rate)
	}
	if params.Layout == audio.LayoutNone {
		params.Layout = audio.LayoutStereo
	}
	channels := params.Layout.Channels()
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("opus: unsupported channel layout %q", params.Layout)
	}
	params.Format = audio.SampleFormatS16

	dec, err := opusx.NewDecoder(params.Rate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &opusDecoder{params: params, dec: dec}, nil
}

func (d *opusDecoder) SendPacket(pkt Packet) error {
	if d.queue.closed {
		return ErrClosed
	}
	if len(pkt.Data) == 0 {
		return errors.New("opus: empty packet")
	}
	channels := d.params.Layout.Channels()
	pcm := audio.AcquireInt16(opusx.MaxFrameSamples(d.params.Rate) * channels)
	defer audio.ReleaseInt16(pcm)

	n, err := d.dec.Decode(pkt.Data, pcm)
	if err != nil {
		return fmt.Errorf("opus: decode: %w", err)
	}
	if n <= 0 {
		return errors.New("opus: decoder produced no samples")
	}
	f, err := audio.NewFrame(audio.SampleFormatS16, d.params.Layout, d.params.Rate, n)
	if err != nil {
		return fmt.Errorf("opus: %w", err)
	}
	audio.Int16SliceToBytesInto(f.Data[0], pcm[:n*channels])
	f.PTS = pkt.PTS
	d.queue.push(f)
	return nil
}

func (d *opusDecoder) ReceiveFrame() (*audio.Frame, error) {
	return d.queue.pop()
}

func (d *opusDecoder) Params() Params {
	return d.params
}

func (d *opusDecoder) Close() error {
	d.queue.close()
	d.dec = nil
	return nil
}

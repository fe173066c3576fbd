package codec

import (
	"errors"
	"fmt"

	"github.com/saker-ai/audiosync/pkg/audio"
)

type pcmDecoder struct {
	params Params
	queue  frameQueue
}

// NewPCM decodes uncompressed packets. Packed packets are interleaved,
// planar packets hold each channel plane back to back.
func NewPCM(params Params) (Decoder, error) {
	if !params.Format.Valid() {
		return nil, fmt.Errorf("pcm: invalid sample format %q", params.Format)
	}
	if params.Layout.Channels() <= 0 {
		return nil, fmt.Errorf("pcm: invalid channel layout %q", params.Layout)
	}
	if params.Rate <= 0 {
		return nil, fmt.Errorf("pcm: invalid sample rate %d", params.Rate)
	}
	return &pcmDecoder{params: params}, nil
}

func (d *pcmDecoder) SendPacket(pkt Packet) error {
	if d.queue.closed {
		return ErrClosed
	}
	frameBytes := d.params.Layout.Channels() * d.params.Format.BytesPerSample()
	if len(pkt.Data) == 0 {
		return errors.New("pcm: empty packet")
	}
	if len(pkt.Data)%frameBytes != 0 {
		return fmt.Errorf("pcm: packet size %d is not a multiple of %d", len(pkt.Data), frameBytes)
	}
	samples := len(pkt.Data) / frameBytes
	f, err := audio.NewFrame(d.params.Format, d.params.Layout, d.params.Rate, samples)
	if err != nil {
		return fmt.Errorf("pcm: %w", err)
	}
	if d.params.Format.IsPlanar() {
		planeBytes := samples * d.params.Format.BytesPerSample()
		for ch := range f.Data {
			copy(f.Data[ch], pkt.Data[ch*planeBytes:(ch+1)*planeBytes])
		}
	} else {
		copy(f.Data[0], pkt.Data)
	}
	f.PTS = pkt.PTS
	d.queue.push(f)
	return nil
}

func (d *pcmDecoder) ReceiveFrame() (*audio.Frame, error) {
	return d.queue.pop()
}

func (d *pcmDecoder) Params() Params {
	return d.params
}

func (d *pcmDecoder) Close() error {
	d.queue.close()
	return nil
}

package stream

import (
	"time"

	"github.com/saker-ai/audiosync/pkg/audio"
	"github.com/saker-ai/audiosync/pkg/resample"
)

// Packet is one block of resynchronized audio handed downstream. It is not
// modified after emission; the receiver owns Buffer.
type Packet struct {
	Caps     audio.Caps
	Buffer   []byte
	PTS      int64
	TimeBase audio.Rational
	Index    int
	ID       string
}

// NewPacket assembles an output packet from a converted block.
func NewPacket(out resample.Output, timeBase audio.Rational, index int, id string) Packet {
	return Packet{
		Caps: audio.Caps{
			Valid:    true,
			Format:   out.Format,
			BPS:      8 * out.Format.BytesPerSample(),
			Channels: out.Channels,
			Rate:     out.Rate,
			Layout:   out.Layout,
			Samples:  out.Samples,
			Align:    false,
		},
		Buffer:   out.Buffer,
		PTS:      out.PTS,
		TimeBase: timeBase,
		Index:    index,
		ID:       id,
	}
}

// PTSSeconds returns the presentation time in seconds.
func (p Packet) PTSSeconds() float64 {
	return p.TimeBase.Seconds(p.PTS)
}

// Duration returns the playback length of the packet.
func (p Packet) Duration() time.Duration {
	if p.Caps.Rate <= 0 {
		return 0
	}
	return time.Duration(p.Caps.Samples) * time.Second / time.Duration(p.Caps.Rate)
}

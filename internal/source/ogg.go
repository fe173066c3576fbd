package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/thesyncim/gopus/container/ogg"

	"github.com/saker-ai/audiosync/pkg/audio"
	"github.com/saker-ai/audiosync/pkg/codec"
)

const (
	// opusRate is the granule rate of Ogg/Opus streams.
	opusRate = 48000

	oggReadSize = 64 * 1024
	noGranule   = ^uint64(0)
)

var oggCapture = []byte("OggS")

// oggPages cuts a byte stream into pages with the container/ogg parser.
// Bytes before a capture pattern are skipped, so a damaged region costs
// the pages it covers and nothing more.
type oggPages struct {
	r   io.Reader
	buf []byte
	off int
	eof bool
}

func (p *oggPages) next() (*ogg.Page, error) {
	for {
		data := p.buf[p.off:]
		switch i := bytes.Index(data, oggCapture); {
		case i > 0:
			p.off += i
			data = data[i:]
		case i < 0 && len(data) > len(oggCapture)-1:
			// Keep a tail that may be the start of a split pattern.
			p.off += len(data) - (len(oggCapture) - 1)
			data = data[len(data)-(len(oggCapture)-1):]
		}

		if bytes.HasPrefix(data, oggCapture) {
			page, n, err := ogg.ParsePage(data)
			switch {
			case err == nil:
				p.off += n
				return page, nil
			case errors.Is(err, ogg.ErrBadCRC):
				p.off++
				return nil, fmt.Errorf("ogg: %w", err)
			case p.eof:
				// Truncated page or a false capture inside payload data.
				p.off++
				continue
			}
		}
		if p.eof {
			return nil, io.EOF
		}
		if err := p.fill(); err != nil {
			return nil, err
		}
	}
}

func (p *oggPages) fill() error {
	if p.off > 0 {
		n := copy(p.buf, p.buf[p.off:])
		p.buf = p.buf[:n]
		p.off = 0
	}
	if cap(p.buf)-len(p.buf) < oggReadSize {
		grown := make([]byte, len(p.buf), len(p.buf)+oggReadSize)
		copy(grown, p.buf)
		p.buf = grown
	}
	n, err := p.r.Read(p.buf[len(p.buf):cap(p.buf)])
	p.buf = p.buf[:len(p.buf)+n]
	if errors.Is(err, io.EOF) {
		p.eof = true
		return nil
	}
	return err
}

// OggOpus yields the Opus packets of an Ogg file. PTS are in 1/48000 ticks
// with the pre-skip removed. Only the first logical stream is read.
type OggOpus struct {
	r      io.Reader
	pages  *oggPages
	head   *ogg.OpusHead
	tags   *ogg.OpusTags
	serial uint32

	partial []byte
	queue   [][]byte
	// pageGranule is applied once the queued packets of its page are out.
	pageGranule uint64
	granule     int64
}

// NewOggOpus reads the identification and comment headers.
func NewOggOpus(r io.Reader) (*OggOpus, error) {
	o := &OggOpus{r: r, pages: &oggPages{r: r}, pageGranule: noGranule}
	first, err := o.nextPacket(true)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("ogg: no OpusHead found")
		}
		return nil, err
	}
	head, err := ogg.ParseOpusHead(first)
	if err != nil {
		return nil, fmt.Errorf("ogg: %w", err)
	}
	if head.Channels > 2 {
		return nil, fmt.Errorf("ogg: %d channel Opus is not supported", head.Channels)
	}
	o.head = head

	second, err := o.nextPacket(false)
	switch {
	case errors.Is(err, io.EOF):
	case err != nil:
		return nil, err
	case isOpusTags(second):
		if o.tags, err = ogg.ParseOpusTags(second); err != nil {
			return nil, fmt.Errorf("ogg: %w", err)
		}
	default:
		o.queue = append([][]byte{second}, o.queue...)
	}
	return o, nil
}

// nextPacket returns the next complete packet of the followed stream. The
// first page read fixes the stream serial when adopt is set.
func (o *OggOpus) nextPacket(adopt bool) ([]byte, error) {
	for len(o.queue) == 0 {
		page, err := o.pages.next()
		if err != nil {
			return nil, err
		}
		if adopt {
			o.serial = page.SerialNumber
			adopt = false
		}
		if page.SerialNumber != o.serial {
			continue
		}
		o.split(page)
	}
	pkt := o.queue[0]
	o.queue = o.queue[1:]
	return pkt, nil
}

// split queues the packets completed on page and keeps an unfinished tail
// for the next page.
func (o *OggOpus) split(page *ogg.Page) {
	packets := page.Packets()
	used := 0
	for _, pkt := range packets {
		used += len(pkt)
	}
	if page.IsContinuation() {
		switch {
		case o.partial == nil:
			// The start of this packet was lost with an earlier page.
			if len(packets) == 0 {
				return
			}
			packets = packets[1:]
		case len(packets) == 0:
			o.partial = append(o.partial, page.Payload...)
			return
		default:
			packets[0] = append(o.partial, packets[0]...)
		}
	}
	o.partial = nil
	if used < len(page.Payload) {
		o.partial = append([]byte(nil), page.Payload[used:]...)
	}
	for _, pkt := range packets {
		if len(pkt) > 0 {
			o.queue = append(o.queue, pkt)
		}
	}
	if len(packets) > 0 {
		o.pageGranule = page.GranulePos
	}
}

func isOpusTags(pkt []byte) bool {
	return len(pkt) >= 8 && string(pkt[:8]) == "OpusTags"
}

func (o *OggOpus) Params() codec.Params {
	return codec.Params{
		Codec:  "opus",
		Format: audio.SampleFormatS16,
		Layout: audio.LayoutForChannels(int(o.head.Channels)),
		Rate:   opusRate,
	}
}

func (o *OggOpus) TimeBase() audio.Rational {
	return audio.Rational{Num: 1, Den: opusRate}
}

// Head returns the stream's identification header.
func (o *OggOpus) Head() ogg.OpusHead { return *o.head }

// Tags returns the comment header, nil when the stream has none.
func (o *OggOpus) Tags() *ogg.OpusTags { return o.tags }

func (o *OggOpus) ReadPacket() (codec.Packet, error) {
	for {
		data, err := o.nextPacket(false)
		if err != nil {
			return codec.Packet{}, err
		}
		if isOpusTags(data) {
			continue
		}
		out := codec.Packet{Data: data, PTS: o.granule - int64(o.head.PreSkip)}
		o.granule += int64(PacketSamples(data))
		if len(o.queue) == 0 && o.pageGranule != noGranule {
			if g := int64(o.pageGranule); g >= o.granule {
				o.granule = g
			}
			o.pageGranule = noGranule
		}
		return out, nil
	}
}

func (o *OggOpus) Position() int64 { return o.granule - int64(o.head.PreSkip) }

func (o *OggOpus) Close() error { return closer(o.r) }

// PacketSamples returns the duration of an Opus packet in 48 kHz samples,
// read from its TOC byte. Malformed packets report 0.
func PacketSamples(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	toc := data[0]
	config := int(toc >> 3)
	var frame int
	switch {
	case config < 12:
		frame = []int{480, 960, 1920, 2880}[config%4]
	case config < 16:
		frame = []int{480, 960}[config%2]
	default:
		frame = []int{120, 240, 480, 960}[config%4]
	}
	var count int
	switch toc & 0x03 {
	case 0:
		count = 1
	case 1, 2:
		count = 2
	default:
		if len(data) < 2 {
			return 0
		}
		count = int(data[1] & 0x3f)
	}
	return frame * count
}

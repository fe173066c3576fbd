// Package codec wraps compressed-audio decoders behind a send/receive API:
// packets go in with SendPacket, decoded frames come out of ReceiveFrame
// until it reports ErrAgain.
package codec

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/saker-ai/audiosync/pkg/audio"
)

var (
	// ErrAgain means no frame is ready; send more packets.
	ErrAgain = errors.New("codec: no frame available")
	// ErrUnknownCodec is returned by New for unregistered codec names.
	ErrUnknownCodec = errors.New("codec: unknown codec")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("codec: decoder closed")
)

// Params are the static parameters of a stream's decoder.
type Params struct {
	Codec     string              `mapstructure:"codec" yaml:"codec"`
	Format    audio.SampleFormat  `mapstructure:"format" yaml:"format"`
	Layout    audio.ChannelLayout `mapstructure:"layout" yaml:"layout"`
	Rate      int                 `mapstructure:"rate" yaml:"rate"`
	Extradata []byte              `mapstructure:"-" yaml:"-"`
}

// Packet is one compressed unit with its timestamp in stream ticks.
type Packet struct {
	Data []byte
	PTS  int64
}

// Decoder decodes packets of one stream. Implementations are not safe for
// concurrent use.
type Decoder interface {
	// SendPacket feeds one packet. A rejected packet leaves the decoder
	// usable.
	SendPacket(pkt Packet) error
	// ReceiveFrame returns the next decoded frame or ErrAgain. The caller
	// owns the frame and must Release it.
	ReceiveFrame() (*audio.Frame, error)
	// Params reports the native output parameters.
	Params() Params
	Close() error
}

// Factory builds a decoder for params.
type Factory func(params Params) (Decoder, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a decoder available under name.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = factory
}

// New builds the decoder registered for params.Codec.
func New(params Params) (Decoder, error) {
	registryMu.RLock()
	factory, ok := registry[strings.ToLower(strings.TrimSpace(params.Codec))]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, params.Codec)
	}
	return factory(params)
}

// Names lists registered codecs.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register("pcm", NewPCM)
	Register("opus", NewOpus)
	Register("flac", NewFLAC)
}

// frameQueue holds decoded frames until they are received.
type frameQueue struct {
	frames []*audio.Frame
	closed bool
}

func (q *frameQueue) push(f *audio.Frame) {
	q.frames = append(q.frames, f)
}

func (q *frameQueue) pop() (*audio.Frame, error) {
	if q.closed {
		return nil, ErrClosed
	}
	if len(q.frames) == 0 {
		return nil, ErrAgain
	}
	f := q.frames[0]
	q.frames[0] = nil
	q.frames = q.frames[1:]
	return f, nil
}

func (q *frameQueue) close() {
	for _, f := range q.frames {
		f.Release()
	}
	q.frames = nil
	q.closed = true
}

package source

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/saker-ai/audiosync/pkg/audio"
	"github.com/saker-ai/audiosync/pkg/codec"
)

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xfffe

	// WAVPacketSamples is the number of samples per emitted packet.
	WAVPacketSamples = 1024
)

// WAV reads RIFF/WAVE files holding integer or float PCM. Integer samples
// go through the wav decoder; float samples are passed through as raw bytes.
type WAV struct {
	r        io.Reader
	dec      *wav.Decoder
	params   codec.Params
	channels int
	srcBytes int
	float    bool

	ints      *goaudio.IntBuffer
	remaining int64
	pos       int64
}

// NewWAV parses the header chunks and stops at the start of the data chunk.
func NewWAV(r io.ReadSeeker) (*WAV, error) {
	dec := wav.NewDecoder(r)
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("wav: %w", err)
	}
	if err := dec.Err(); err != nil {
		return nil, fmt.Errorf("wav: %w", err)
	}
	if dec.PCMChunk == nil {
		return nil, errors.New("wav: missing data chunk")
	}

	channels, rate, bits := int(dec.NumChans), int(dec.SampleRate), int(dec.BitDepth)
	if channels <= 0 {
		return nil, errors.New("wav: invalid channel count 0")
	}
	if rate <= 0 {
		return nil, fmt.Errorf("wav: invalid sample rate %d", rate)
	}
	var (
		format audio.SampleFormat
		float  bool
	)
	switch pcm := dec.WavAudioFormat == wavFormatPCM || dec.WavAudioFormat == wavFormatExtensible; {
	case pcm && bits == 8:
		format = audio.SampleFormatU8
	case pcm && bits == 16:
		format = audio.SampleFormatS16
	case pcm && (bits == 24 || bits == 32):
		format = audio.SampleFormatS32
	case dec.WavAudioFormat == wavFormatFloat && bits == 32:
		format, float = audio.SampleFormatFlt, true
	case dec.WavAudioFormat == wavFormatFloat && bits == 64:
		format, float = audio.SampleFormatDbl, true
	default:
		return nil, fmt.Errorf("wav: unsupported format %d with %d bits", dec.WavAudioFormat, bits)
	}

	w := &WAV{
		r:         r,
		dec:       dec,
		channels:  channels,
		srcBytes:  bits / 8,
		float:     float,
		remaining: int64(dec.PCMSize),
		params: codec.Params{
			Codec:  "pcm",
			Format: format,
			Layout: audio.LayoutForChannels(channels),
			Rate:   rate,
		},
	}
	if !float {
		w.ints = &goaudio.IntBuffer{Data: make([]int, WAVPacketSamples*channels)}
	}
	return w, nil
}

func (w *WAV) Params() codec.Params { return w.params }

func (w *WAV) TimeBase() audio.Rational {
	return audio.Rational{Num: 1, Den: w.params.Rate}
}

// ReadPacket returns up to WAVPacketSamples samples. 24-bit input is widened
// to s32.
func (w *WAV) ReadPacket() (codec.Packet, error) {
	var (
		data    []byte
		samples int
		err     error
	)
	if w.float {
		data, samples, err = w.readRaw()
	} else {
		data, samples, err = w.readInts()
	}
	if err != nil {
		return codec.Packet{}, err
	}
	pkt := codec.Packet{Data: data, PTS: w.pos}
	w.pos += int64(samples)
	return pkt, nil
}

func (w *WAV) readInts() ([]byte, int, error) {
	n, err := w.dec.PCMBuffer(w.ints)
	if err != nil {
		return nil, 0, fmt.Errorf("wav: %w", err)
	}
	n -= n % w.channels
	if n == 0 {
		return nil, 0, io.EOF
	}
	var out []byte
	switch w.params.Format {
	case audio.SampleFormatU8:
		out = make([]byte, n)
		for i, v := range w.ints.Data[:n] {
			out[i] = byte(v)
		}
	case audio.SampleFormatS16:
		out = make([]byte, 0, n*2)
		for _, v := range w.ints.Data[:n] {
			out = binary.LittleEndian.AppendUint16(out, uint16(int16(v)))
		}
	default:
		shift := 32 - 8*w.srcBytes
		out = make([]byte, 0, n*4)
		for _, v := range w.ints.Data[:n] {
			out = binary.LittleEndian.AppendUint32(out, uint32(int32(v)<<shift))
		}
	}
	return out, n / w.channels, nil
}

// readRaw copies float frames from the data chunk unchanged.
func (w *WAV) readRaw() ([]byte, int, error) {
	frameBytes := w.channels * w.srcBytes
	want := int64(WAVPacketSamples * frameBytes)
	if w.remaining < want {
		want = w.remaining - w.remaining%int64(frameBytes)
	}
	if want <= 0 {
		return nil, 0, io.EOF
	}
	raw := make([]byte, want)
	n, err := io.ReadFull(w.dec.PCMChunk, raw)
	n -= n % frameBytes
	if n == 0 {
		if err == nil || errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		return nil, 0, err
	}
	w.remaining -= int64(n)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		w.remaining = 0
	}
	return raw[:n], n / frameBytes, nil
}

func (w *WAV) Position() int64 { return w.pos }

func (w *WAV) Close() error { return closer(w.r) }

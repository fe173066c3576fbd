// Package monitor turns output packets into 20 ms Opus frames for live
// listening over the packet websocket.
package monitor

import (
	"errors"
	"fmt"

	"github.com/saker-ai/audiosync/pkg/audio"
	"github.com/saker-ai/audiosync/pkg/audio/opusx"
	"github.com/saker-ai/audiosync/pkg/stream"
)

// FrameDurationMs is the length of each encoded frame.
const FrameDurationMs = 20

const maxPacketBytes = 4000

var opusRates = map[int]struct{}{8000: {}, 12000: {}, 16000: {}, 24000: {}, 48000: {}}

// EncodeRate returns the rate the encoder runs at for an input rate.
// Rates Opus cannot take are resampled to 48 kHz.
func EncodeRate(rate int) int {
	if _, ok := opusRates[rate]; ok {
		return rate
	}
	return 48000
}

// Encoder keeps the resampler and Opus state of one stream. It is not safe
// for concurrent use.
type Encoder struct {
	bitrate    int
	caps       audio.Caps
	rate       int
	channels   int
	frameSize  int
	enc        *opusx.Encoder
	resamplers []*audio.SoxrStream
	pending    []int16
	scratch    []byte
}

// NewEncoder creates an encoder; it is configured by the first packet.
func NewEncoder(bitrate int) *Encoder {
	return &Encoder{bitrate: bitrate, scratch: make([]byte, maxPacketBytes)}
}

func (e *Encoder) configure(caps audio.Caps) error {
	e.Close()
	if caps.Channels < 1 || caps.Channels > 2 {
		return fmt.Errorf("monitor: %d channels not supported", caps.Channels)
	}
	if caps.Rate <= 0 {
		return errors.New("monitor: invalid sample rate")
	}
	rate := EncodeRate(caps.Rate)
	enc, err := opusx.NewEncoder(rate, caps.Channels, opusx.AppAudio)
	if err != nil {
		return fmt.Errorf("monitor: opus encoder: %w", err)
	}
	if e.bitrate > 0 {
		if err := enc.SetBitrate(e.bitrate); err != nil {
			return fmt.Errorf("monitor: set bitrate: %w", err)
		}
	}
	if rate != caps.Rate {
		for ch := 0; ch < caps.Channels; ch++ {
			r, err := audio.NewSoxrStream(caps.Rate, rate)
			if err != nil {
				e.Close()
				return fmt.Errorf("monitor: resampler: %w", err)
			}
			e.resamplers = append(e.resamplers, r)
		}
	}
	caps.Samples = 0
	e.caps = caps
	e.rate = rate
	e.channels = caps.Channels
	e.frameSize = rate * FrameDurationMs / 1000
	e.enc = enc
	return nil
}

// Rate returns the current encode rate, zero before the first packet.
func (e *Encoder) Rate() int { return e.rate }

// Channels returns the current channel count.
func (e *Encoder) Channels() int { return e.channels }

// Encode appends p to the pending audio and returns every complete Opus
// frame. A change of caps restarts the encoder and drops pending audio.
func (e *Encoder) Encode(p stream.Packet) ([][]byte, error) {
	caps := p.Caps
	caps.Samples = 0
	if e.enc == nil || caps != e.caps {
		if err := e.configure(caps); err != nil {
			return nil, err
		}
	}
	if p.Caps.Samples == 0 {
		return nil, nil
	}

	f := &audio.Frame{
		Format:  p.Caps.Format,
		Layout:  p.Caps.Layout,
		Rate:    p.Caps.Rate,
		Samples: p.Caps.Samples,
		Data:    [][]byte{p.Buffer},
	}
	planes, err := audio.FrameToPlanes(f, f.Samples)
	if err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}
	defer audio.ReleasePlanes(planes)

	if len(e.resamplers) > 0 {
		resampled := make([][]float32, len(planes))
		for ch, plane := range planes {
			out, err := e.resamplers[ch].Process(plane)
			if err != nil {
				return nil, fmt.Errorf("monitor: resample: %w", err)
			}
			resampled[ch] = out
		}
		planes = resampled
	}
	e.appendPlanes(planes)
	return e.drain()
}

func (e *Encoder) appendPlanes(planes [][]float32) {
	n := len(planes[0])
	for _, plane := range planes[1:] {
		n = min(n, len(plane))
	}
	for i := 0; i < n; i++ {
		for ch := range planes {
			v := planes[ch][i]
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			e.pending = append(e.pending, int16(v*32767))
		}
	}
}

func (e *Encoder) drain() ([][]byte, error) {
	step := e.frameSize * e.channels
	var frames [][]byte
	for len(e.pending) >= step {
		n, err := e.enc.Encode(e.pending[:step], e.scratch)
		if err != nil {
			return frames, fmt.Errorf("monitor: opus encode: %w", err)
		}
		frames = append(frames, append([]byte(nil), e.scratch[:n]...))
		e.pending = e.pending[step:]
	}
	if len(e.pending) == 0 {
		e.pending = e.pending[:0:0]
	}
	return frames, nil
}

// Close releases the resamplers.
func (e *Encoder) Close() {
	for _, r := range e.resamplers {
		r.Close()
	}
	e.resamplers = nil
	e.enc = nil
	e.pending = nil
}

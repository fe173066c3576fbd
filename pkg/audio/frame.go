package audio

import (
	"errors"
	"fmt"
	"math"
)

// NoPTS marks a frame or packet without a presentation timestamp.
const NoPTS int64 = math.MinInt64

// Rational is a time-base expressed in seconds per tick.
type Rational struct {
	Num int `json:"num" yaml:"num"`
	Den int `json:"den" yaml:"den"`
}

// Float64 returns the value of the rational, or NaN when Den is zero.
func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return math.NaN()
	}
	return float64(r.Num) / float64(r.Den)
}

// Seconds converts a tick count to seconds.
func (r Rational) Seconds(ticks int64) float64 {
	if ticks == NoPTS {
		return math.NaN()
	}
	return float64(ticks) * r.Float64()
}

// Ticks converts seconds to the nearest tick count.
func (r Rational) Ticks(seconds float64) int64 {
	tb := r.Float64()
	if tb == 0 || math.IsNaN(tb) || math.IsNaN(seconds) {
		return NoPTS
	}
	return int64(math.Round(seconds / tb))
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// Frame is one block of decoded audio. Packed frames keep all channels in
// Data[0]; planar frames keep one plane per channel.
type Frame struct {
	Format  SampleFormat
	Layout  ChannelLayout
	Rate    int
	Samples int
	PTS     int64
	Data    [][]byte

	pooled bool
}

// NewFrame allocates pooled, zeroed planes sized for the given parameters.
func NewFrame(format SampleFormat, layout ChannelLayout, rate, samples int) (*Frame, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("invalid sample format: %q", format)
	}
	channels := layout.Channels()
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel layout: %q", layout)
	}
	if samples < 0 {
		return nil, errors.New("negative sample count")
	}
	planes := 1
	planeSize := samples * channels * format.BytesPerSample()
	if format.IsPlanar() {
		planes = channels
		planeSize = samples * format.BytesPerSample()
	}
	data := make([][]byte, planes)
	for i := range data {
		buf := AcquireBytes(planeSize)
		clear(buf)
		data[i] = buf
	}
	return &Frame{
		Format:  format,
		Layout:  layout,
		Rate:    rate,
		Samples: samples,
		PTS:     NoPTS,
		Data:    data,
		pooled:  true,
	}, nil
}

// Channels returns the channel count of the frame layout.
func (f *Frame) Channels() int {
	if f == nil {
		return 0
	}
	return f.Layout.Channels()
}

// Validate checks that the planes hold Samples samples for every channel.
func (f *Frame) Validate() error {
	if f == nil {
		return errors.New("nil frame")
	}
	if !f.Format.Valid() {
		return fmt.Errorf("invalid sample format: %q", f.Format)
	}
	channels := f.Channels()
	if channels <= 0 {
		return fmt.Errorf("invalid channel layout: %q", f.Layout)
	}
	if f.Rate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", f.Rate)
	}
	bps := f.Format.BytesPerSample()
	if f.Format.IsPlanar() {
		if len(f.Data) < channels {
			return fmt.Errorf("planar frame has %d planes, want %d", len(f.Data), channels)
		}
		for i := 0; i < channels; i++ {
			if len(f.Data[i]) < f.Samples*bps {
				return fmt.Errorf("plane %d too short: %d bytes", i, len(f.Data[i]))
			}
		}
		return nil
	}
	if len(f.Data) == 0 || len(f.Data[0]) < f.Samples*channels*bps {
		return errors.New("packed frame too short")
	}
	return nil
}

// Release returns pooled planes. The frame must not be used afterwards.
func (f *Frame) Release() {
	if f == nil {
		return
	}
	if f.pooled {
		for _, plane := range f.Data {
			ReleaseBytes(plane)
		}
	}
	f.Data = nil
	f.pooled = false
}

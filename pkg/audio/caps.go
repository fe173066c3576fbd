package audio

import (
	"fmt"
	"strconv"
	"strings"
)

// SampleFormat names a sample encoding. Planar variants carry a "p" suffix.
type SampleFormat string

const (
	SampleFormatNone SampleFormat = ""
	SampleFormatU8   SampleFormat = "u8"
	SampleFormatS16  SampleFormat = "s16"
	SampleFormatS32  SampleFormat = "s32"
	SampleFormatS64  SampleFormat = "s64"
	SampleFormatFlt  SampleFormat = "flt"
	SampleFormatDbl  SampleFormat = "dbl"
	SampleFormatU8P  SampleFormat = "u8p"
	SampleFormatS16P SampleFormat = "s16p"
	SampleFormatS32P SampleFormat = "s32p"
	SampleFormatS64P SampleFormat = "s64p"
	SampleFormatFltP SampleFormat = "fltp"
	SampleFormatDblP SampleFormat = "dblp"
)

var sampleFormatSizes = map[SampleFormat]int{
	SampleFormatU8:   1,
	SampleFormatS16:  2,
	SampleFormatS32:  4,
	SampleFormatS64:  8,
	SampleFormatFlt:  4,
	SampleFormatDbl:  8,
	SampleFormatU8P:  1,
	SampleFormatS16P: 2,
	SampleFormatS32P: 4,
	SampleFormatS64P: 8,
	SampleFormatFltP: 4,
	SampleFormatDblP: 8,
}

// ParseSampleFormat validates a format name.
func ParseSampleFormat(raw string) (SampleFormat, error) {
	format := SampleFormat(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := sampleFormatSizes[format]; !ok {
		return SampleFormatNone, fmt.Errorf("unknown sample format: %q", raw)
	}
	return format, nil
}

// Valid reports whether the format is known.
func (f SampleFormat) Valid() bool {
	_, ok := sampleFormatSizes[f]
	return ok
}

// BytesPerSample returns the storage size of one sample of one channel, or 0
// for unknown formats.
func (f SampleFormat) BytesPerSample() int {
	return sampleFormatSizes[f]
}

// IsPlanar reports whether each channel is stored in its own plane.
func (f SampleFormat) IsPlanar() bool {
	return f.Valid() && strings.HasSuffix(string(f), "p")
}

// Packed returns the interleaved variant of the format.
func (f SampleFormat) Packed() SampleFormat {
	if !f.IsPlanar() {
		return f
	}
	return SampleFormat(strings.TrimSuffix(string(f), "p"))
}

// ChannelLayout names a speaker arrangement.
type ChannelLayout string

const (
	LayoutNone   ChannelLayout = ""
	LayoutMono   ChannelLayout = "mono"
	LayoutStereo ChannelLayout = "stereo"
	Layout2_1    ChannelLayout = "2.1"
	Layout3_0    ChannelLayout = "3.0"
	LayoutQuad   ChannelLayout = "quad"
	Layout5_0    ChannelLayout = "5.0"
	Layout5_1    ChannelLayout = "5.1"
	Layout7_1    ChannelLayout = "7.1"
)

// Channel identifies a speaker position inside a layout.
type Channel int

const (
	ChannelFrontLeft Channel = iota
	ChannelFrontRight
	ChannelFrontCenter
	ChannelLowFrequency
	ChannelBackLeft
	ChannelBackRight
	ChannelSideLeft
	ChannelSideRight
	ChannelUnknown
)

var layoutChannels = map[ChannelLayout][]Channel{
	LayoutMono:   {ChannelFrontCenter},
	LayoutStereo: {ChannelFrontLeft, ChannelFrontRight},
	Layout2_1:    {ChannelFrontLeft, ChannelFrontRight, ChannelLowFrequency},
	Layout3_0:    {ChannelFrontLeft, ChannelFrontRight, ChannelFrontCenter},
	LayoutQuad:   {ChannelFrontLeft, ChannelFrontRight, ChannelBackLeft, ChannelBackRight},
	Layout5_0:    {ChannelFrontLeft, ChannelFrontRight, ChannelFrontCenter, ChannelBackLeft, ChannelBackRight},
	Layout5_1:    {ChannelFrontLeft, ChannelFrontRight, ChannelFrontCenter, ChannelLowFrequency, ChannelBackLeft, ChannelBackRight},
	Layout7_1: {ChannelFrontLeft, ChannelFrontRight, ChannelFrontCenter, ChannelLowFrequency,
		ChannelBackLeft, ChannelBackRight, ChannelSideLeft, ChannelSideRight},
}

var defaultLayouts = map[int]ChannelLayout{
	1: LayoutMono,
	2: LayoutStereo,
	3: Layout2_1,
	4: LayoutQuad,
	5: Layout5_0,
	6: Layout5_1,
	8: Layout7_1,
}

// LayoutForChannels returns the default layout for a channel count. Counts
// without a named layout get an anonymous "<n>c" layout.
func LayoutForChannels(channels int) ChannelLayout {
	if channels <= 0 {
		return LayoutNone
	}
	if layout, ok := defaultLayouts[channels]; ok {
		return layout
	}
	return ChannelLayout(strconv.Itoa(channels) + "c")
}

// Channels returns the number of channels in the layout.
func (l ChannelLayout) Channels() int {
	if positions, ok := layoutChannels[l]; ok {
		return len(positions)
	}
	if count, ok := strings.CutSuffix(string(l), "c"); ok {
		if n, err := strconv.Atoi(count); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

// Positions returns the speaker position of every channel, in storage order.
func (l ChannelLayout) Positions() []Channel {
	if positions, ok := layoutChannels[l]; ok {
		return positions
	}
	n := l.Channels()
	positions := make([]Channel, n)
	for i := range positions {
		positions[i] = ChannelUnknown
	}
	return positions
}

// Capability tables. Both are fixed at init and never mutated.
var (
	supportedFormats = map[SampleFormat]struct{}{
		SampleFormatU8:  {},
		SampleFormatS16: {},
		SampleFormatS32: {},
		SampleFormatFlt: {},
	}
	supportedLayouts = map[ChannelLayout]struct{}{
		LayoutMono:   {},
		LayoutStereo: {},
	}
)

// IsSupportedFormat reports whether downstream consumers accept the format.
func IsSupportedFormat(f SampleFormat) bool {
	_, ok := supportedFormats[f]
	return ok
}

// IsSupportedLayout reports whether downstream consumers accept the layout.
func IsSupportedLayout(l ChannelLayout) bool {
	_, ok := supportedLayouts[l]
	return ok
}

// OutputFormat returns the packed variant of in when it is supported and
// packed float otherwise.
func OutputFormat(in SampleFormat) SampleFormat {
	packed := in.Packed()
	if IsSupportedFormat(packed) {
		return packed
	}
	return SampleFormatFlt
}

// OutputLayout returns in when it is supported and stereo otherwise.
func OutputLayout(in ChannelLayout) ChannelLayout {
	if IsSupportedLayout(in) {
		return in
	}
	return LayoutStereo
}

// Caps describes a block of audio handed to downstream consumers.
type Caps struct {
	Valid    bool          `json:"valid" yaml:"valid"`
	Format   SampleFormat  `json:"format" yaml:"format"`
	BPS      int           `json:"bps" yaml:"bps"`
	Channels int           `json:"channels" yaml:"channels"`
	Rate     int           `json:"rate" yaml:"rate"`
	Layout   ChannelLayout `json:"layout" yaml:"layout"`
	Samples  int           `json:"samples" yaml:"samples"`
	Align    bool          `json:"align" yaml:"align"`
}

// NegotiateCaps applies the output fallback rules to native codec
// parameters. Samples is left at zero.
func NegotiateCaps(format SampleFormat, layout ChannelLayout, rate int) Caps {
	outFormat := OutputFormat(format)
	outLayout := OutputLayout(layout)
	return Caps{
		Valid:    true,
		Format:   outFormat,
		BPS:      8 * outFormat.BytesPerSample(),
		Channels: outLayout.Channels(),
		Rate:     rate,
		Layout:   outLayout,
		Align:    false,
	}
}

// FrameBytes returns the size of one interleaved sample frame.
func (c Caps) FrameBytes() int {
	return c.Channels * c.Format.BytesPerSample()
}

// String formats caps as e.g. "s16 48000Hz stereo".
func (c Caps) String() string {
	return fmt.Sprintf("%s %dHz %s", c.Format, c.Rate, c.Layout)
}

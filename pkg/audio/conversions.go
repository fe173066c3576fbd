package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

func float32ToInt16(sample float32) int16 {
	if sample > 1.0 {
		return 32767
	}
	if sample < -1.0 {
		return -32768
	}
	return int16(sample * 32767)
}

// Float32SliceToInt16SliceInto fills dst with float32 converted to int16 and returns the slice.
func Float32SliceToInt16SliceInto(dst []int16, samples []float32) []int16 {
	if cap(dst) < len(samples) {
		dst = make([]int16, len(samples))
	} else {
		dst = dst[:len(samples)]
	}
	for i, sample := range samples {
		dst[i] = float32ToInt16(sample)
	}
	return dst
}

// Int16SliceToBytesInto converts int16 samples to little-endian bytes.
func Int16SliceToBytesInto(dst []byte, samples []int16) []byte {
	needed := len(samples) * 2
	if cap(dst) < needed {
		dst = make([]byte, needed)
	} else {
		dst = dst[:needed]
	}
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(sample))
	}
	return dst
}

// decodeSample reads the sample stored at index i of buf as a float in
// [-1, 1). The format must be valid; planar formats decode like their packed
// variant.
func decodeSample(format SampleFormat, buf []byte, i int) float32 {
	switch format.Packed() {
	case SampleFormatU8:
		return (float32(buf[i]) - 128) / 128
	case SampleFormatS16:
		return float32(int16(binary.LittleEndian.Uint16(buf[i*2:]))) / 32768
	case SampleFormatS32:
		return float32(float64(int32(binary.LittleEndian.Uint32(buf[i*4:]))) / 2147483648)
	case SampleFormatS64:
		return float32(float64(int64(binary.LittleEndian.Uint64(buf[i*8:]))) / 9223372036854775808)
	case SampleFormatFlt:
		return math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	case SampleFormatDbl:
		return float32(math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:])))
	}
	return 0
}

// encodeSample stores v at index i of buf, clipping integer formats.
func encodeSample(format SampleFormat, buf []byte, i int, v float32) {
	x := float64(v)
	switch format.Packed() {
	case SampleFormatU8:
		buf[i] = uint8(clamp(math.Round(x*128)+128, 0, 255))
	case SampleFormatS16:
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(clamp(math.Round(x*32768), -32768, 32767))))
	case SampleFormatS32:
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(int32(clamp(math.Round(x*2147483648), -2147483648, 2147483647))))
	case SampleFormatS64:
		// float64 cannot hold MaxInt64 exactly; the clamp keeps the conversion in range.
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(int64(clamp(math.Round(x*9223372036854775808), -9223372036854775808, 9223372036854774784))))
	case SampleFormatFlt:
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	case SampleFormatDbl:
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(x))
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// FrameToPlanes decodes the first samples of every channel of f into pooled
// float32 planes. Release them with ReleasePlanes.
func FrameToPlanes(f *Frame, samples int) ([][]float32, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if samples > f.Samples {
		samples = f.Samples
	}
	channels := f.Channels()
	planes := make([][]float32, channels)
	planar := f.Format.IsPlanar()
	for ch := range planes {
		plane := AcquireFloat32(samples)
		for i := 0; i < samples; i++ {
			if planar {
				plane[i] = decodeSample(f.Format, f.Data[ch], i)
			} else {
				plane[i] = decodeSample(f.Format, f.Data[0], i*channels+ch)
			}
		}
		planes[ch] = plane
	}
	return planes, nil
}

// ReleasePlanes returns planes obtained from FrameToPlanes.
func ReleasePlanes(planes [][]float32) {
	for _, plane := range planes {
		ReleaseFloat32(plane)
	}
}

// PlanesToPacked interleaves samples frames of planes into dst using the
// packed variant of format. dst must hold len(planes)*samples samples.
func PlanesToPacked(dst []byte, format SampleFormat, planes [][]float32, samples int) error {
	format = format.Packed()
	if !format.Valid() {
		return fmt.Errorf("invalid sample format: %q", format)
	}
	channels := len(planes)
	if len(dst) < channels*samples*format.BytesPerSample() {
		return fmt.Errorf("output buffer too short: %d bytes", len(dst))
	}
	for ch, plane := range planes {
		if len(plane) < samples {
			return fmt.Errorf("plane %d has %d samples, want %d", ch, len(plane), samples)
		}
		for i := 0; i < samples; i++ {
			encodeSample(format, dst, i*channels+ch, plane[i])
		}
	}
	return nil
}

// InterleaveInto copies the first samples frames of f into dst without
// changing the sample encoding. Planar data is interleaved.
func InterleaveInto(dst []byte, f *Frame, samples int) (int, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	if samples > f.Samples {
		samples = f.Samples
	}
	channels := f.Channels()
	bps := f.Format.BytesPerSample()
	if len(dst) < samples*channels*bps {
		return 0, fmt.Errorf("output buffer too short: %d bytes", len(dst))
	}
	if !f.Format.IsPlanar() {
		copy(dst, f.Data[0][:samples*channels*bps])
		return samples, nil
	}
	for i := 0; i < samples; i++ {
		for ch := 0; ch < channels; ch++ {
			out := (i*channels + ch) * bps
			copy(dst[out:out+bps], f.Data[ch][i*bps:(i+1)*bps])
		}
	}
	return samples, nil
}

package resample

import (
	"errors"

	"github.com/saker-ai/audiosync/pkg/audio"
)

// stretcher maps every plane of n samples onto target samples. Returned
// planes come from the audio pools.
type stretcher interface {
	stretch(planes [][]float32, target int) ([][]float32, error)
}

// linearStretcher interpolates between neighbouring samples so the first
// and last input samples land on the first and last output samples.
type linearStretcher struct{}

func (linearStretcher) stretch(planes [][]float32, target int) ([][]float32, error) {
	if target <= 0 {
		return nil, errors.New("non-positive stretch target")
	}
	out := make([][]float32, len(planes))
	for ch, in := range planes {
		plane := audio.AcquireFloat32(target)
		n := len(in)
		switch {
		case n == 0:
			clear(plane)
		case n == 1 || target == 1:
			for i := range plane {
				plane[i] = in[0]
			}
		default:
			step := float64(n-1) / float64(target-1)
			for i := range plane {
				pos := float64(i) * step
				idx := int(pos)
				if idx >= n-1 {
					plane[i] = in[n-1]
					continue
				}
				frac := float32(pos - float64(idx))
				plane[i] = in[idx] + (in[idx+1]-in[idx])*frac
			}
		}
		out[ch] = plane
	}
	return out, nil
}

// soxrStretcher runs a flushed soxr engine per channel.
type soxrStretcher struct{}

func (soxrStretcher) stretch(planes [][]float32, target int) ([][]float32, error) {
	out := make([][]float32, 0, len(planes))
	for _, in := range planes {
		res, err := audio.SoxrStretch(in, target)
		if err != nil {
			audio.ReleasePlanes(out)
			return nil, err
		}
		plane := audio.AcquireFloat32(len(res))
		copy(plane, res)
		out = append(out, plane)
	}
	return out, nil
}

package resample

import (
	"math"

	"github.com/saker-ai/audiosync/pkg/audio"
)

const surroundGain = float32(math.Sqrt2 / 2)

// mixMatrix returns out-by-in coefficients. Rows are normalized so a full
// scale input cannot clip.
func mixMatrix(in, out audio.ChannelLayout) [][]float32 {
	inPos := in.Positions()
	outCh := out.Channels()
	matrix := make([][]float32, outCh)
	for o := range matrix {
		matrix[o] = make([]float32, len(inPos))
	}

	if in == out {
		for i := range inPos {
			matrix[i][i] = 1
		}
		return matrix
	}

	for i, pos := range inPos {
		if outCh == 1 {
			if pos != audio.ChannelLowFrequency {
				matrix[0][i] = 1
			}
			continue
		}
		switch pos {
		case audio.ChannelFrontLeft:
			matrix[0][i] = 1
		case audio.ChannelFrontRight:
			matrix[1][i] = 1
		case audio.ChannelFrontCenter:
			matrix[0][i] = surroundGain
			matrix[1][i] = surroundGain
		case audio.ChannelBackLeft, audio.ChannelSideLeft:
			matrix[0][i] = surroundGain
		case audio.ChannelBackRight, audio.ChannelSideRight:
			matrix[1][i] = surroundGain
		case audio.ChannelLowFrequency:
		default:
			matrix[i%2][i] = 1
		}
	}

	for _, row := range matrix {
		var sum float32
		for _, c := range row {
			sum += c
		}
		if sum > 1 {
			for i := range row {
				row[i] /= sum
			}
		}
	}
	return matrix
}

// remix applies matrix to planes, returning pooled output planes.
func remix(planes [][]float32, matrix [][]float32, samples int) [][]float32 {
	out := make([][]float32, len(matrix))
	for o, row := range matrix {
		plane := audio.AcquireFloat32(samples)
		for s := 0; s < samples; s++ {
			var acc float32
			for i, coef := range row {
				if coef != 0 {
					acc += coef * planes[i][s]
				}
			}
			plane[s] = acc
		}
		out[o] = plane
	}
	return out
}

package audio

import (
	"errors"
	"sync"

	resampler "github.com/godeps/go-audio-soxr"
)

type soxrKey struct {
	inRate  int
	outRate int
	quality resampler.QualityPreset
}

var soxrPools sync.Map

func getSoxrPool(key soxrKey) *sync.Pool {
	if pool, ok := soxrPools.Load(key); ok {
		return pool.(*sync.Pool)
	}
	pool := &sync.Pool{}
	actual, _ := soxrPools.LoadOrStore(key, pool)
	return actual.(*sync.Pool)
}

func acquireSoxr(key soxrKey) (*resampler.SimpleResamplerFloat32, error) {
	if v := getSoxrPool(key).Get(); v != nil {
		if r, ok := v.(*resampler.SimpleResamplerFloat32); ok && r != nil {
			return r, nil
		}
	}
	return resampler.NewEngineFloat32(float64(key.inRate), float64(key.outRate), key.quality)
}

func releaseSoxr(key soxrKey, r *resampler.SimpleResamplerFloat32) {
	if r == nil {
		return
	}
	r.Reset()
	getSoxrPool(key).Put(r)
}

// SoxrStretch resamples one channel block so that len(in) samples become at
// most want samples, treating both counts as rates. The engine is flushed,
// so no state carries into the next block. Fewer than want samples may be
// returned.
func SoxrStretch(in []float32, want int) ([]float32, error) {
	if len(in) == 0 || want <= 0 {
		return nil, errors.New("soxr stretch: empty input or target")
	}
	key := soxrKey{inRate: len(in), outRate: want, quality: resampler.QualityHigh}
	r, err := acquireSoxr(key)
	if err != nil {
		return nil, err
	}
	defer releaseSoxr(key, r)

	out, err := r.Process(in)
	if err != nil {
		return nil, err
	}
	tail, err := r.Flush()
	if err != nil {
		return nil, err
	}
	out = append(out, tail...)
	if len(out) > want {
		out = out[:want]
	}
	return out, nil
}

// SoxrStream keeps soxr state across blocks of a continuous mono signal.
type SoxrStream struct {
	key soxrKey
	r   *resampler.SimpleResamplerFloat32
}

// NewSoxrStream acquires a pooled engine converting inRate to outRate.
func NewSoxrStream(inRate, outRate int) (*SoxrStream, error) {
	key := soxrKey{inRate: inRate, outRate: outRate, quality: resampler.QualityHigh}
	r, err := acquireSoxr(key)
	if err != nil {
		return nil, err
	}
	return &SoxrStream{key: key, r: r}, nil
}

// Process resamples the next block.
func (s *SoxrStream) Process(input []float32) ([]float32, error) {
	if s == nil || s.r == nil {
		return nil, errors.New("soxr resampler is nil")
	}
	return s.r.Process(input)
}

// Flush drains samples held back by the filter.
func (s *SoxrStream) Flush() ([]float32, error) {
	if s == nil || s.r == nil {
		return nil, errors.New("soxr resampler is nil")
	}
	return s.r.Flush()
}

// Close returns the engine to its pool.
func (s *SoxrStream) Close() {
	if s == nil || s.r == nil {
		return
	}
	releaseSoxr(s.key, s.r)
	s.r = nil
}

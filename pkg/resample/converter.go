// Package resample converts decoded frames to the canonical packed output
// format, stretching or squeezing the sample count on request so a stream
// can follow its reference clock without changing its nominal rate.
package resample

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/saker-ai/audiosync/pkg/audio"
)

var (
	// ErrNoContext is returned when compensation is requested before any
	// frame configured the converter.
	ErrNoContext = errors.New("resample: context not configured")
	// ErrInvalidCompensation is returned for out-of-range compensation.
	ErrInvalidCompensation = errors.New("resample: invalid compensation")
	// ErrInvalidParams is returned when a frame cannot be described.
	ErrInvalidParams = errors.New("resample: invalid input parameters")
)

const (
	EngineLinear = "linear"
	EngineSoxr   = "soxr"
)

// Config selects the compensation engine.
type Config struct {
	Engine string `mapstructure:"engine" yaml:"engine"`
}

// Params is the format, layout and rate of one side of the conversion.
type Params struct {
	Format audio.SampleFormat
	Layout audio.ChannelLayout
	Rate   int
}

func (p Params) String() string {
	return fmt.Sprintf("%s %dHz %s", p.Format, p.Rate, p.Layout)
}

// OutputParams applies the output negotiation rules to in.
func OutputParams(in Params) Params {
	return Params{
		Format: audio.OutputFormat(in.Format),
		Layout: audio.OutputLayout(in.Layout),
		Rate:   in.Rate,
	}
}

// Output is one converted block.
type Output struct {
	Format   audio.SampleFormat
	Layout   audio.ChannelLayout
	Channels int
	Rate     int
	Samples  int
	PTS      int64
	Buffer   []byte
}

type compensation struct {
	delta    int
	distance int
}

// resampleContext holds everything derived from one input tuple.
type resampleContext struct {
	in      Params
	out     Params
	matrix  [][]float32
	pending *compensation
}

// Converter owns one lazily configured resample context. It is not safe for
// concurrent use.
type Converter struct {
	logger    *zap.Logger
	engine    stretcher
	ctx       *resampleContext
	reconfigs int
}

// New creates a converter. Unknown engines fall back to linear.
func New(cfg Config, logger *zap.Logger) *Converter {
	if logger == nil {
		logger = zap.NewNop()
	}
	var engine stretcher
	switch strings.ToLower(strings.TrimSpace(cfg.Engine)) {
	case EngineSoxr:
		engine = soxrStretcher{}
	case EngineLinear, "":
		engine = linearStretcher{}
	default:
		logger.Warn("unknown resample engine; using linear", zap.String("engine", cfg.Engine))
		engine = linearStretcher{}
	}
	return &Converter{logger: logger, engine: engine}
}

// Configure makes sure the context matches in. It is a no-op when nothing
// changed. On failure the previous context is discarded.
func (c *Converter) Configure(in Params) error {
	if c.ctx != nil && c.ctx.in == in {
		return nil
	}
	var pending *compensation
	if c.ctx != nil {
		pending = c.ctx.pending
	}
	c.ctx = nil

	if !in.Format.Valid() || in.Layout.Channels() <= 0 || in.Rate <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidParams, in)
	}
	out := OutputParams(in)
	c.ctx = &resampleContext{
		in:      in,
		out:     out,
		matrix:  mixMatrix(in.Layout, out.Layout),
		pending: pending,
	}
	c.reconfigs++
	c.logger.Debug("resample context configured",
		zap.String("in", in.String()),
		zap.String("out", out.String()),
	)
	return nil
}

// SetCompensation asks the next conversion to output delta extra samples
// spread over distance output samples.
func (c *Converter) SetCompensation(delta, distance int) error {
	if c.ctx == nil {
		return ErrNoContext
	}
	if distance <= 0 || delta <= -distance || delta >= distance {
		return fmt.Errorf("%w: delta=%d distance=%d", ErrInvalidCompensation, delta, distance)
	}
	c.ctx.pending = &compensation{delta: delta, distance: distance}
	return nil
}

// Convert turns f into a packed buffer sized for wanted samples. The
// returned sample count is what the conversion produced, which may be less
// than wanted. f is not released.
func (c *Converter) Convert(f *audio.Frame, wanted int) (Output, error) {
	if f == nil {
		return Output{}, fmt.Errorf("%w: nil frame", ErrInvalidParams)
	}
	if err := c.Configure(Params{Format: f.Format, Layout: f.Layout, Rate: f.Rate}); err != nil {
		return Output{}, err
	}
	// A compensation request applies to this frame only, converted or not.
	ctx := c.ctx
	comp := ctx.pending
	ctx.pending = nil
	if err := f.Validate(); err != nil {
		return Output{}, fmt.Errorf("resample: %w", err)
	}
	if wanted <= 0 {
		wanted = f.Samples
	}
	out := Output{
		Format:   ctx.out.Format,
		Layout:   ctx.out.Layout,
		Channels: ctx.out.Layout.Channels(),
		Rate:     ctx.out.Rate,
		PTS:      f.PTS,
	}
	frameBytes := out.Channels * out.Format.BytesPerSample()
	buf := make([]byte, wanted*frameBytes)

	target := f.Samples
	if comp != nil {
		target = f.Samples + comp.delta
	}
	if target <= 0 || f.Samples == 0 {
		out.Buffer = buf[:0]
		return out, nil
	}

	if target == f.Samples && ctx.in.Format.Packed() == ctx.out.Format && ctx.in.Layout == ctx.out.Layout {
		n, err := audio.InterleaveInto(buf, f, min(target, wanted))
		if err != nil {
			return Output{}, fmt.Errorf("resample: %w", err)
		}
		out.Samples = n
		out.Buffer = buf[:n*frameBytes]
		return out, nil
	}

	planes, err := audio.FrameToPlanes(f, f.Samples)
	if err != nil {
		return Output{}, fmt.Errorf("resample: %w", err)
	}
	defer audio.ReleasePlanes(planes)

	mixed := remix(planes, ctx.matrix, f.Samples)
	defer audio.ReleasePlanes(mixed)

	if target != f.Samples {
		stretched, err := c.engine.stretch(mixed, target)
		if err != nil {
			return Output{}, fmt.Errorf("resample: stretch %d -> %d: %w", f.Samples, target, err)
		}
		defer audio.ReleasePlanes(stretched)
		mixed = stretched
	}

	produced := min(target, wanted)
	for _, plane := range mixed {
		if len(plane) < produced {
			produced = len(plane)
		}
	}
	if err := audio.PlanesToPacked(buf, out.Format, mixed, produced); err != nil {
		return Output{}, fmt.Errorf("resample: %w", err)
	}
	out.Samples = produced
	out.Buffer = buf[:produced*frameBytes]
	return out, nil
}

// Configured returns the input parameters of the current context.
func (c *Converter) Configured() (Params, bool) {
	if c.ctx == nil {
		return Params{}, false
	}
	return c.ctx.in, true
}

// Reconfigurations counts how often a context was built.
func (c *Converter) Reconfigurations() int {
	return c.reconfigs
}

// Close releases the context.
func (c *Converter) Close() {
	c.ctx = nil
}

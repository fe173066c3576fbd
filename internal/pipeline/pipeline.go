// Package pipeline drives input files through resynchronizing streams that
// share one reference clock, writing each result to a WAV file.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	appconfig "github.com/saker-ai/audiosync/internal/config"
	"github.com/saker-ai/audiosync/internal/group"
	"github.com/saker-ai/audiosync/internal/lifecycle"
	"github.com/saker-ai/audiosync/internal/observe"
	"github.com/saker-ai/audiosync/internal/report"
	"github.com/saker-ai/audiosync/internal/sink"
	"github.com/saker-ai/audiosync/internal/source"
	"github.com/saker-ai/audiosync/internal/ws"
	"github.com/saker-ai/audiosync/pkg/audio"
	"github.com/saker-ai/audiosync/pkg/clock"
	"github.com/saker-ai/audiosync/pkg/codec"
	"github.com/saker-ai/audiosync/pkg/stream"
)

const (
	// feedLead is how far ahead of the wall clock packets are queued.
	feedLead = 0.1
	// maxWait bounds one pacing sleep so clock rate changes are picked up.
	maxWait = 50 * time.Millisecond
)

// Deps are the shared services a pipeline publishes to. Hub and Metrics
// may be nil.
type Deps struct {
	Groups  *group.Manager
	Hub     *ws.Hub
	Metrics *observe.Metrics
	Logger  *zap.Logger
}

// Pipeline runs a set of inputs once.
type Pipeline struct {
	cfg    appconfig.Config
	deps   Deps
	logger *zap.Logger
	clock  clock.Clock
	inputs []*input
}

type input struct {
	index   int
	path    string
	id      string
	outPath string

	src      source.Source
	timeBase audio.Rational
	offset   int64
	stream   *stream.AudioStream
	sink     *sink.WAVWriter
	machine  *lifecycle.Machine
	logger   *zap.Logger
	closed   bool
}

// New creates a pipeline and its reference clock.
func New(cfg appconfig.Config, deps Deps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Groups == nil {
		deps.Groups = group.NewManager()
	}
	var clk clock.Clock
	if cfg.Stream.Clock == appconfig.ClockWall {
		wall := clock.NewWall()
		wall.SetRate(cfg.Stream.ClockRate)
		clk = wall
	} else {
		clk = clock.NewManual(0)
	}
	return &Pipeline{cfg: cfg, deps: deps, logger: logger, clock: clk}
}

// Clock returns the shared reference clock.
func (p *Pipeline) Clock() clock.Clock { return p.clock }

// Open opens every input, builds its stream and registers it in the group.
// An input that cannot be opened is recorded as failed and skipped.
func (p *Pipeline) Open(paths []string) error {
	groupID := p.cfg.Stream.Group
	if _, ok := p.deps.Groups.Clock(groupID); !ok {
		if _, err := p.deps.Groups.Create(groupID, p.clock); err != nil {
			return err
		}
	}
	for i, path := range paths {
		in := &input{
			index:   i,
			path:    path,
			id:      streamID(i, path),
			machine: lifecycle.New(lifecycle.ParseMode(p.cfg.Stream.Mode), p.cfg.Stream.MaxLoops),
		}
		in.logger = p.logger.With(zap.String("stream", in.id), zap.String("path", path))
		in.outPath = filepath.Join(p.cfg.Output.Dir, in.id+".wav")
		p.inputs = append(p.inputs, in)

		if err := p.open(in, groupID); err != nil {
			in.machine.OnError(err)
			in.logger.Error("open input failed", zap.Error(err))
			p.closeInput(in)
		}
	}
	return nil
}

func (p *Pipeline) open(in *input, groupID string) error {
	in.machine.OnOpen()
	src, err := source.Open(in.path)
	if err != nil {
		return err
	}
	in.src = src
	in.timeBase = src.TimeBase()

	w, err := sink.CreateWAV(in.outPath)
	if err != nil {
		return err
	}
	in.sink = w

	s, err := stream.New(stream.Descriptor{
		Index:    in.index,
		ID:       in.id,
		TimeBase: in.timeBase,
		Codec:    src.Params(),
	}, p.clock, p.callbacks(in), stream.Options{
		Logger:   p.logger,
		Metrics:  p.deps.Metrics,
		Resample: p.cfg.Resample,
	})
	if err != nil {
		return err
	}
	in.stream = s
	if err := p.deps.Groups.AddStream(groupID, s); err != nil {
		return err
	}
	in.machine.OnStart()
	in.logger.Info("input opened",
		zap.String("codec", src.Params().Codec),
		zap.Int("rate", src.Params().Rate),
		zap.String("caps", s.Caps().String()),
	)
	return nil
}

func (p *Pipeline) callbacks(in *input) stream.Callbacks {
	return stream.Callbacks{
		OnPacket: func(pkt stream.Packet) {
			if err := in.sink.WritePacket(pkt); err != nil {
				in.machine.OnError(err)
				in.stream.SetDrop(true)
				in.logger.Error("write output failed", zap.Error(err))
			}
			if p.deps.Hub != nil {
				p.deps.Hub.Publish(pkt)
			}
		},
		OnEOS: func() {
			in.machine.OnEOS()
			in.logger.Info("stream ended", zap.String("state", string(in.machine.State())))
		},
		OnError: func(err error) {
			in.logger.Debug("frame dropped", zap.Error(err))
		},
	}
}

// Run processes every open input until all have ended or ctx is done.
func (p *Pipeline) Run(ctx context.Context) error {
	live := p.live()
	if len(live) == 0 {
		return errors.New("pipeline: no input could be opened")
	}
	var err error
	if manual, ok := p.clock.(*clock.Manual); ok {
		err = p.runSimulated(ctx, manual, live)
	} else {
		err = p.runWall(ctx, live)
	}
	if errors.Is(err, context.Canceled) {
		for _, in := range live {
			in.machine.OnCancel()
		}
	}
	return err
}

// runSimulated processes packets in presentation order on the caller's
// goroutine, moving the clock to each packet's timestamp.
func (p *Pipeline) runSimulated(ctx context.Context, clk *clock.Manual, live []*input) error {
	type head struct {
		in  *input
		pkt codec.Packet
	}
	var heads []*head
	for _, in := range live {
		pkt, err := in.next()
		if err != nil {
			in.finish(err)
			continue
		}
		heads = append(heads, &head{in: in, pkt: pkt})
	}
	for len(heads) > 0 {
		if err := ctx.Err(); err != nil {
			for _, h := range heads {
				h.in.finish(err)
			}
			return err
		}
		i := 0
		for j := 1; j < len(heads); j++ {
			if heads[j].in.timeBase.Seconds(heads[j].pkt.PTS) < heads[i].in.timeBase.Seconds(heads[i].pkt.PTS) {
				i = j
			}
		}
		h := heads[i]
		if d := h.in.timeBase.Seconds(h.pkt.PTS) - clk.Read(); d > 0 {
			clk.Advance(d)
		}
		pkt := h.pkt
		h.in.stream.ProcessPacket(&pkt)

		next, err := h.in.next()
		if err != nil {
			h.in.finish(err)
			heads = append(heads[:i], heads[i+1:]...)
			continue
		}
		h.pkt = next
	}
	return nil
}

// runWall paces every input against the wall clock and decodes each on its
// own runner goroutine.
func (p *Pipeline) runWall(ctx context.Context, live []*input) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, in := range live {
		runner := stream.NewRunner(in.stream, p.cfg.Stream.QueueSize)
		g.Go(func() error { return runner.Run(ctx) })
		g.Go(func() error { return p.feed(ctx, in, runner) })
	}
	return g.Wait()
}

func (p *Pipeline) feed(ctx context.Context, in *input, r *stream.Runner) error {
	defer r.Finish()
	for {
		pkt, err := in.next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				in.machine.OnError(err)
				in.logger.Error("read input failed", zap.Error(err))
			}
			return nil
		}
		if err := waitUntil(ctx, p.clock, in.timeBase.Seconds(pkt.PTS)-feedLead); err != nil {
			in.machine.OnCancel()
			return err
		}
		if err := r.Enqueue(ctx, pkt); err != nil {
			in.machine.OnCancel()
			return err
		}
	}
}

func waitUntil(ctx context.Context, clk clock.Clock, target float64) error {
	for {
		d := target - clk.Read()
		if d <= 0 {
			return nil
		}
		wait := time.Duration(d * float64(time.Second))
		if wait > maxWait {
			wait = maxWait
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// next reads the following packet, restarting the input in loop mode. PTS
// keep increasing across restarts.
func (in *input) next() (codec.Packet, error) {
	for {
		pkt, err := in.src.ReadPacket()
		if err == nil {
			pkt.PTS += in.offset
			return pkt, nil
		}
		if !errors.Is(err, io.EOF) {
			return codec.Packet{}, err
		}
		if !in.machine.OnEndOfInput() {
			return codec.Packet{}, io.EOF
		}
		in.offset += in.src.Position()
		_ = in.src.Close()
		src, err := source.Open(in.path)
		if err != nil {
			return codec.Packet{}, fmt.Errorf("reopen: %w", err)
		}
		in.src = src
		in.stream.ResetDrift()
		in.machine.OnStart()
		in.logger.Info("input restarted", zap.Int("loops", in.machine.Loops()), zap.Int64("pts_offset", in.offset))
	}
}

// finish ends the stream. Read errors mark the input failed before the
// decoder is flushed.
func (in *input) finish(err error) {
	switch {
	case errors.Is(err, io.EOF):
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		in.machine.OnCancel()
	default:
		in.machine.OnError(err)
		in.logger.Error("read input failed", zap.Error(err))
	}
	in.stream.ProcessPacket(nil)
}

func (p *Pipeline) live() []*input {
	var live []*input
	for _, in := range p.inputs {
		if in.stream != nil && !in.machine.State().Terminal() {
			live = append(live, in)
		}
	}
	return live
}

// Close releases every input. Streams leave the group registry and the
// monitor.
func (p *Pipeline) Close() error {
	var errs []error
	for _, in := range p.inputs {
		if err := p.closeInput(in); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", in.id, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Pipeline) closeInput(in *input) error {
	if in.closed {
		return nil
	}
	in.closed = true
	var errs []error
	if in.stream != nil {
		p.deps.Groups.RemoveStream(in.id)
		if p.deps.Hub != nil {
			p.deps.Hub.ForgetStream(in.id)
		}
		errs = append(errs, in.stream.Close())
	}
	if in.sink != nil {
		errs = append(errs, in.sink.Close())
	}
	if in.src != nil {
		errs = append(errs, in.src.Close())
	}
	return errors.Join(errs...)
}

// Fill records the outcome of every input into r.
func (p *Pipeline) Fill(r *report.Report) {
	r.Finished = time.Now().UTC()
	r.Settings = map[string]string{
		"queue_size": strconv.Itoa(p.cfg.Stream.QueueSize),
		"clock_rate": strconv.FormatFloat(p.cfg.Stream.ClockRate, 'g', -1, 64),
		"mode":       p.cfg.Stream.Mode,
		"output_dir": p.cfg.Output.Dir,
	}
	for _, in := range p.inputs {
		entry := report.Input{
			Path:  in.path,
			Group: p.cfg.Stream.Group,
			State: string(in.machine.State()),
			Loops: in.machine.Loops(),
		}
		if in.sink != nil {
			entry.Output = in.outPath
		}
		if err := in.machine.Err(); err != nil {
			entry.Error = err.Error()
		}
		if in.stream != nil {
			entry.Stats = in.stream.Stats()
		}
		r.Inputs = append(r.Inputs, entry)
	}
}

// streamID derives a stable id such as "00-voice" from the input path.
func streamID(index int, path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	stem = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, stem)
	return fmt.Sprintf("%02d-%s", index, stem)
}

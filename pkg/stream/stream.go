// Package stream implements the audio stream core: it decodes the packets
// of one stream, keeps the decoded audio locked to a shared reference clock
// and emits canonical packed packets through callbacks.
package stream

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saker-ai/audiosync/internal/observe"
	"github.com/saker-ai/audiosync/pkg/audio"
	"github.com/saker-ai/audiosync/pkg/clock"
	"github.com/saker-ai/audiosync/pkg/codec"
	"github.com/saker-ai/audiosync/pkg/drift"
	"github.com/saker-ai/audiosync/pkg/resample"
)

// Stream is the contract the stream lifecycle layer drives. Audio and video
// streams both implement it.
type Stream interface {
	// ProcessPacket decodes pkt and emits its output. A nil pkt marks the
	// end of the stream.
	ProcessPacket(pkt *codec.Packet)
	// Caps describes the output negotiated from the codec parameters.
	Caps() audio.Caps
	Index() int
	ID() string
	TimeBase() audio.Rational
	Close() error
}

// Descriptor identifies a stream and its codec.
type Descriptor struct {
	Index    int
	ID       string
	TimeBase audio.Rational
	Codec    codec.Params
}

// Callbacks receive stream output. Every callback is optional and runs on
// the goroutine that called ProcessPacket.
type Callbacks struct {
	OnPacket    func(Packet)
	OnEOS       func()
	OnFrameSent func()
	OnError     func(error)
}

// Options tune a stream.
type Options struct {
	Logger   *zap.Logger
	Metrics  *observe.Metrics
	Resample resample.Config
}

// Stats is a snapshot of stream counters.
type Stats struct {
	ID              string      `json:"id" yaml:"id"`
	Index           int         `json:"index" yaml:"index"`
	Caps            audio.Caps  `json:"caps" yaml:"caps"`
	PacketsIn       uint64      `json:"packets_in" yaml:"packets_in"`
	PacketsRejected uint64      `json:"packets_rejected" yaml:"packets_rejected"`
	FramesDecoded   uint64      `json:"frames_decoded" yaml:"frames_decoded"`
	PacketsEmitted  uint64      `json:"packets_emitted" yaml:"packets_emitted"`
	FramesDropped   uint64      `json:"frames_dropped" yaml:"frames_dropped"`
	Resyncs         uint64      `json:"resyncs" yaml:"resyncs"`
	Compensations   uint64      `json:"compensations" yaml:"compensations"`
	SamplesOut      uint64      `json:"samples_out" yaml:"samples_out"`
	ClockDiff       float64     `json:"clock_diff" yaml:"clock_diff"`
	Phase           drift.Phase `json:"phase" yaml:"phase"`
	Dropping        bool        `json:"dropping" yaml:"dropping"`
	Ended           bool        `json:"ended" yaml:"ended"`
}

// AudioStream is the audio implementation of Stream. ProcessPacket must not
// be called concurrently; Stats, SetDrop, ResetDrift and Caps may be called
// from any goroutine.
type AudioStream struct {
	desc      Descriptor
	decoder   codec.Decoder
	clock     clock.Clock
	estimator *drift.Estimator
	converter *resample.Converter
	callbacks Callbacks
	logger    *zap.Logger
	metrics   *observe.Metrics
	drop      atomic.Bool
	reset     atomic.Bool
	pts       int64
	closed    bool

	mu    sync.Mutex
	stats Stats
}

var _ Stream = (*AudioStream)(nil)

// New builds an audio stream decoding desc.Codec.
func New(desc Descriptor, clk clock.Clock, callbacks Callbacks, opts Options) (*AudioStream, error) {
	dec, err := codec.New(desc.Codec)
	if err != nil {
		return nil, err
	}
	s, err := NewWithDecoder(desc, dec, clk, callbacks, opts)
	if err != nil {
		_ = dec.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDecoder builds an audio stream around an existing decoder. The
// stream takes ownership of dec.
func NewWithDecoder(desc Descriptor, dec codec.Decoder, clk clock.Clock, callbacks Callbacks, opts Options) (*AudioStream, error) {
	if dec == nil {
		return nil, errors.New("stream: nil decoder")
	}
	if clk == nil {
		return nil, errors.New("stream: nil clock")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if desc.ID == "" {
		desc.ID = uuid.NewString()
	}
	if desc.TimeBase.Den == 0 {
		rate := dec.Params().Rate
		if rate <= 0 {
			return nil, fmt.Errorf("stream %s: no time base and no sample rate", desc.ID)
		}
		desc.TimeBase = audio.Rational{Num: 1, Den: rate}
	}
	logger = logger.With(zap.String("stream_id", desc.ID), zap.Int("stream_index", desc.Index))

	s := &AudioStream{
		desc:      desc,
		decoder:   dec,
		clock:     clk,
		estimator: drift.New(),
		converter: resample.New(opts.Resample, logger),
		callbacks: callbacks,
		logger:    logger,
		metrics:   metrics,
	}
	s.stats = Stats{ID: desc.ID, Index: desc.Index, Caps: s.Caps(), Phase: drift.PhaseWarmingUp}
	metrics.ActiveStreams.Add(context.Background(), 1)
	logger.Info("audio stream opened",
		zap.String("codec", dec.Params().Codec),
		zap.String("caps", s.stats.Caps.String()),
		zap.String("time_base", desc.TimeBase.String()),
	)
	return s, nil
}

// Index returns the stream index.
func (s *AudioStream) Index() int { return s.desc.Index }

// ID returns the opaque stream id.
func (s *AudioStream) ID() string { return s.desc.ID }

// TimeBase returns the seconds per pts tick.
func (s *AudioStream) TimeBase() audio.Rational { return s.desc.TimeBase }

// Caps negotiates the output capabilities from the decoder's static
// parameters.
func (s *AudioStream) Caps() audio.Caps {
	p := s.decoder.Params()
	return audio.NegotiateCaps(p.Format, p.Layout, p.Rate)
}

// SetDrop makes the stream decode without emitting or touching the drift
// state.
func (s *AudioStream) SetDrop(drop bool) {
	s.drop.Store(drop)
}

// ResetDrift restarts the drift warm-up before the next frame. Used when
// the input is reopened and the gap would skew the running average.
func (s *AudioStream) ResetDrift() {
	s.reset.Store(true)
}

// Dropping reports the drop flag.
func (s *AudioStream) Dropping() bool {
	return s.drop.Load()
}

// Stats returns a snapshot of the counters.
func (s *AudioStream) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Dropping = s.drop.Load()
	return st
}

func (s *AudioStream) updateStats(fn func(st *Stats)) {
	s.mu.Lock()
	fn(&s.stats)
	s.mu.Unlock()
}

// ProcessPacket implements Stream.
func (s *AudioStream) ProcessPacket(pkt *codec.Packet) {
	if s.closed {
		return
	}
	ctx := context.Background()
	if pkt == nil {
		s.updateStats(func(st *Stats) { st.Ended = true })
		s.logger.Debug("end of stream")
		if s.callbacks.OnEOS != nil {
			s.callbacks.OnEOS()
		}
		return
	}

	s.updateStats(func(st *Stats) { st.PacketsIn++ })
	if err := s.decoder.SendPacket(*pkt); err != nil {
		s.updateStats(func(st *Stats) { st.PacketsRejected++ })
		s.metrics.RecordRejected(ctx, s.desc.ID)
		s.logger.Debug("decoder rejected packet", zap.Int("bytes", len(pkt.Data)), zap.Error(err))
		return
	}

	for {
		f, err := s.decoder.ReceiveFrame()
		if err != nil {
			break
		}
		s.processFrame(ctx, f)
	}
}

func (s *AudioStream) processFrame(ctx context.Context, f *audio.Frame) {
	defer f.Release()
	s.updateStats(func(st *Stats) { st.FramesDecoded++ })
	s.metrics.RecordDecoded(ctx, s.desc.ID)

	if f.PTS == audio.NoPTS {
		f.PTS = s.pts
	}
	defer s.advancePTS(f)

	if s.drop.Load() {
		s.updateStats(func(st *Stats) { st.FramesDropped++ })
		s.metrics.RecordDropped(ctx, s.desc.ID, observe.ReasonDropFlag)
		return
	}

	pkt, ok := s.convert(ctx, f)
	if !ok {
		return
	}
	s.updateStats(func(st *Stats) {
		st.PacketsEmitted++
		st.SamplesOut += uint64(pkt.Caps.Samples)
	})
	s.metrics.RecordEmitted(ctx, s.desc.ID)
	if s.callbacks.OnPacket != nil {
		s.callbacks.OnPacket(pkt)
	}
	if s.callbacks.OnFrameSent != nil {
		s.callbacks.OnFrameSent()
	}
}

// advancePTS moves the running pts past f, used for frames that arrive
// without a timestamp.
func (s *AudioStream) advancePTS(f *audio.Frame) {
	if f.Rate <= 0 {
		s.pts = f.PTS + int64(f.Samples)
		return
	}
	ticks := s.desc.TimeBase.Ticks(float64(f.Samples) / float64(f.Rate))
	if ticks == audio.NoPTS {
		ticks = int64(f.Samples)
	}
	s.pts = f.PTS + ticks
}

func (s *AudioStream) convert(ctx context.Context, f *audio.Frame) (Packet, bool) {
	if s.reset.Swap(false) {
		s.estimator.Reset()
	}
	d := s.estimator.Update(s.desc.TimeBase.Seconds(f.PTS), s.clock, f.Samples, f.Rate)
	if !math.IsNaN(d.Diff) && !math.IsInf(d.Diff, 0) {
		s.metrics.RecordDrift(ctx, s.desc.ID, d.Diff)
	}
	s.updateStats(func(st *Stats) {
		st.ClockDiff = d.Diff
		st.Phase = d.Phase
		if d.ClockWritten {
			st.Resyncs++
		}
	})
	if d.ClockWritten {
		s.metrics.RecordResync(ctx, s.desc.ID)
		s.logger.Info("reference clock resynchronized",
			zap.Float64("diff", d.Diff),
			zap.Int64("pts", f.PTS),
		)
	}

	if d.Compensate {
		err := s.converter.Configure(resample.Params{Format: f.Format, Layout: f.Layout, Rate: f.Rate})
		if err == nil {
			err = s.converter.SetCompensation(d.Delta(), d.Wanted)
		}
		if err != nil {
			s.fail(ctx, observe.ReasonCompensation, err)
			return Packet{}, false
		}
		s.updateStats(func(st *Stats) { st.Compensations++ })
		s.metrics.RecordCompensation(ctx, s.desc.ID)
	}

	start := time.Now()
	out, err := s.converter.Convert(f, d.Wanted)
	s.metrics.RecordConvert(ctx, s.desc.ID, time.Since(start).Seconds())
	if err != nil {
		s.logger.Warn("convert audio frame failed", zap.Error(err))
		s.fail(ctx, observe.ReasonConvert, err)
		return Packet{}, false
	}
	return NewPacket(out, s.desc.TimeBase, s.desc.Index, s.desc.ID), true
}

func (s *AudioStream) fail(ctx context.Context, reason string, err error) {
	s.updateStats(func(st *Stats) { st.FramesDropped++ })
	s.metrics.RecordDropped(ctx, s.desc.ID, reason)
	if reason != observe.ReasonConvert {
		s.logger.Debug("frame dropped", zap.String("reason", reason), zap.Error(err))
	}
	if s.callbacks.OnError != nil {
		s.callbacks.OnError(fmt.Errorf("stream %s: %s: %w", s.desc.ID, reason, err))
	}
}

// Close releases the decoder and the resample context. Further packets
// are ignored.
func (s *AudioStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.converter.Close()
	s.metrics.ActiveStreams.Add(context.Background(), -1)
	s.logger.Info("audio stream closed")
	return s.decoder.Close()
}

// Package observe provides the OpenTelemetry metrics of the resync pipeline
// and the provider setup that exposes them to Prometheus.
//
// Tests should build a [Metrics] with [NewMetrics] on their own
// [metric.MeterProvider]; [DefaultMetrics] uses the global provider.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all audiosync metrics.
const meterName = "github.com/saker-ai/audiosync"

// Drop reasons recorded on FramesDropped.
const (
	ReasonDropFlag     = "drop_flag"
	ReasonCompensation = "compensation_rejected"
	ReasonConvert      = "convert_failed"
)

// Metrics holds the instruments. All fields are safe for concurrent use.
type Metrics struct {
	// PacketsRejected counts packets the decoder refused. Attribute: stream.
	PacketsRejected metric.Int64Counter

	// FramesDecoded counts raw frames pulled from decoders. Attribute: stream.
	FramesDecoded metric.Int64Counter

	// PacketsEmitted counts output packets handed downstream. Attribute: stream.
	PacketsEmitted metric.Int64Counter

	// FramesDropped counts frames that produced no output. Attributes:
	// stream, reason.
	FramesDropped metric.Int64Counter

	// Resyncs counts hard clock resynchronizations. Attribute: stream.
	Resyncs metric.Int64Counter

	// Compensations counts accepted sample count corrections. Attribute: stream.
	Compensations metric.Int64Counter

	// Drift tracks the absolute pts minus clock difference.
	Drift metric.Float64Histogram

	// ConvertDuration tracks per-frame conversion latency.
	ConvertDuration metric.Float64Histogram

	// ActiveStreams tracks open streams.
	ActiveStreams metric.Int64UpDownCounter

	// HTTPRequestDuration tracks API latency. Attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

var driftBuckets = []float64{
	0.001, 0.005, 0.01, 0.02, 0.04, 0.08, 0.16, 0.5, 1, 5, 10,
}

var convertBuckets = []float64{
	0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.PacketsRejected, err = m.Int64Counter("audiosync.packets.rejected",
		metric.WithDescription("Packets rejected by the decoder."),
	); err != nil {
		return nil, err
	}
	if met.FramesDecoded, err = m.Int64Counter("audiosync.frames.decoded",
		metric.WithDescription("Raw frames produced by decoders."),
	); err != nil {
		return nil, err
	}
	if met.PacketsEmitted, err = m.Int64Counter("audiosync.packets.emitted",
		metric.WithDescription("Output packets emitted downstream."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("audiosync.frames.dropped",
		metric.WithDescription("Frames that produced no output, by reason."),
	); err != nil {
		return nil, err
	}
	if met.Resyncs, err = m.Int64Counter("audiosync.clock.resyncs",
		metric.WithDescription("Hard resynchronizations of the reference clock."),
	); err != nil {
		return nil, err
	}
	if met.Compensations, err = m.Int64Counter("audiosync.compensations",
		metric.WithDescription("Sample count corrections applied."),
	); err != nil {
		return nil, err
	}
	if met.Drift, err = m.Float64Histogram("audiosync.drift",
		metric.WithDescription("Absolute difference between frame pts and the reference clock."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(driftBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ConvertDuration, err = m.Float64Histogram("audiosync.convert.duration",
		metric.WithDescription("Latency of converting one frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(convertBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("audiosync.active_streams",
		metric.WithDescription("Number of open audio streams."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("audiosync.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance built on
// [otel.GetMeterProvider]. Panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

func streamAttr(stream string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("stream", stream))
}

// RecordRejected counts a rejected packet.
func (m *Metrics) RecordRejected(ctx context.Context, stream string) {
	m.PacketsRejected.Add(ctx, 1, streamAttr(stream))
}

// RecordDecoded counts a decoded frame.
func (m *Metrics) RecordDecoded(ctx context.Context, stream string) {
	m.FramesDecoded.Add(ctx, 1, streamAttr(stream))
}

// RecordEmitted counts an emitted packet.
func (m *Metrics) RecordEmitted(ctx context.Context, stream string) {
	m.PacketsEmitted.Add(ctx, 1, streamAttr(stream))
}

// RecordDropped counts a frame without output.
func (m *Metrics) RecordDropped(ctx context.Context, stream, reason string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stream", stream),
		attribute.String("reason", reason),
	))
}

// RecordResync counts a hard clock resync.
func (m *Metrics) RecordResync(ctx context.Context, stream string) {
	m.Resyncs.Add(ctx, 1, streamAttr(stream))
}

// RecordCompensation counts an applied correction.
func (m *Metrics) RecordCompensation(ctx context.Context, stream string) {
	m.Compensations.Add(ctx, 1, streamAttr(stream))
}

// RecordDrift records |diff| in seconds. Non-finite values are skipped by
// the caller.
func (m *Metrics) RecordDrift(ctx context.Context, stream string, seconds float64) {
	if seconds < 0 {
		seconds = -seconds
	}
	m.Drift.Record(ctx, seconds, streamAttr(stream))
}

// RecordConvert records conversion latency in seconds.
func (m *Metrics) RecordConvert(ctx context.Context, stream string, seconds float64) {
	m.ConvertDuration.Record(ctx, seconds, streamAttr(stream))
}

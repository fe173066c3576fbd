package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumInt64(t *testing.T, m *metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s data=%T, want Sum[int64]", m.Name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestCountersRecord(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRejected(ctx, "a")
	m.RecordDecoded(ctx, "a")
	m.RecordDecoded(ctx, "a")
	m.RecordEmitted(ctx, "a")
	m.RecordDropped(ctx, "a", ReasonConvert)
	m.RecordResync(ctx, "a")
	m.RecordCompensation(ctx, "b")

	rm := collect(t, reader)
	cases := map[string]int64{
		"audiosync.packets.rejected": 1,
		"audiosync.frames.decoded":   2,
		"audiosync.packets.emitted":  1,
		"audiosync.frames.dropped":   1,
		"audiosync.clock.resyncs":    1,
		"audiosync.compensations":    1,
	}
	for name, want := range cases {
		got := findMetric(rm, name)
		if got == nil {
			t.Fatalf("metric %s not found", name)
		}
		if total := sumInt64(t, got); total != want {
			t.Fatalf("%s=%d, want %d", name, total, want)
		}
	}
}

func TestDriftHistogramUsesAbsoluteValue(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordDrift(context.Background(), "a", -0.25)

	rm := collect(t, reader)
	got := findMetric(rm, "audiosync.drift")
	if got == nil {
		t.Fatal("audiosync.drift not found")
	}
	hist, ok := got.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("data=%T, want Histogram[float64]", got.Data)
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points=%d, want 1", len(hist.DataPoints))
	}
	if hist.DataPoints[0].Sum != 0.25 {
		t.Fatalf("sum=%v, want 0.25", hist.DataPoints[0].Sum)
	}
}

func TestDefaultMetricsIsSingleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Fatal("DefaultMetrics returned different instances")
	}
}

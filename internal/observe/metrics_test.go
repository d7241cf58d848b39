package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

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

func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRecordEncoded(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordEncoded(ctx, "nv", "h264", 2, 3000)
	m.RecordEncoded(ctx, "nv", "h264", 1, 500)
	m.RecordEncoded(ctx, "nv", "h264", 0, 0)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "vram.encoder.packets"); got != 3 {
		t.Errorf("packets = %d, want 3", got)
	}
	if got := sumValue(t, rm, "vram.encoder.bytes"); got != 3500 {
		t.Errorf("bytes = %d, want 3500", got)
	}
}

func TestCountersAndGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSwitch(ctx, "amf", "h265")
	m.RecordOpenFailure(ctx, "decoder", "mfx")
	m.RecordOpenFailure(ctx, "encoder", "nv")
	m.RecordCoverageRejection(ctx, "h264")
	m.RecordDecoded(ctx, "ffmpeg", "h264", 4)
	m.RecordBitrate(ctx, "nv", "h264", 2073)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "vram.encoder.switches"); got != 1 {
		t.Errorf("switches = %d, want 1", got)
	}
	if got := sumValue(t, rm, "vram.open.failures"); got != 2 {
		t.Errorf("open failures = %d, want 2", got)
	}
	if got := sumValue(t, rm, "vram.registry.coverage_rejections"); got != 1 {
		t.Errorf("coverage rejections = %d, want 1", got)
	}
	if got := sumValue(t, rm, "vram.decoder.frames"); got != 4 {
		t.Errorf("decoded frames = %d, want 4", got)
	}

	met := findMetric(rm, "vram.encoder.bitrate")
	if met == nil {
		t.Fatal("bitrate gauge not found")
	}
	gauge, ok := met.Data.(metricdata.Gauge[int64])
	if !ok || len(gauge.DataPoints) != 1 || gauge.DataPoints[0].Value != 2073 {
		t.Fatalf("unexpected bitrate gauge %+v", met.Data)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordEncoded(ctx, "nv", "h264", 1, 1)
	m.RecordDecoded(ctx, "nv", "h264", 1)
	m.RecordSwitch(ctx, "nv", "h264")
	m.RecordOpenFailure(ctx, "encoder", "nv")
	m.RecordCoverageRejection(ctx, "h264")
	m.RecordBitrate(ctx, "nv", "h264", 1)
}

func TestDefaultMetricsIsSingleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Fatal("DefaultMetrics should return the same instance")
	}
}

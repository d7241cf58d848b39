// Package observe holds the OpenTelemetry instruments recorded by the codec
// sessions and the capability registry.
//
// A package-level default ([DefaultMetrics]) is backed by the global meter
// provider; tests should build their own with [NewMetrics] and a
// ManualReader-backed provider.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/breeze-rmm/vramcodec"

// Metrics holds every instrument used by the module. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// EncodedPackets counts packets produced by encoder sessions.
	// Attributes: driver, format.
	EncodedPackets metric.Int64Counter

	// EncodedBytes counts compressed payload bytes.
	EncodedBytes metric.Int64Counter

	// DecodedFrames counts frames returned by decoder sessions.
	DecodedFrames metric.Int64Counter

	// CodecSwitches counts stuck-output detections that asked the caller to
	// leave the hardware path.
	CodecSwitches metric.Int64Counter

	// OpenFailures counts encoder/decoder handles the engine refused.
	// Attributes: kind, driver.
	OpenFailures metric.Int64Counter

	// CoverageRejections counts encoder lists discarded because not every
	// display's adapter could encode the format.
	CoverageRejections metric.Int64Counter

	// Bitrate is the last bitrate (kbps) applied to an encoder.
	Bitrate metric.Int64Gauge
}

// NewMetrics creates all instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.EncodedPackets, err = m.Int64Counter("vram.encoder.packets",
		metric.WithDescription("Compressed packets produced by VRAM encoders."),
	); err != nil {
		return nil, err
	}
	if met.EncodedBytes, err = m.Int64Counter("vram.encoder.bytes",
		metric.WithDescription("Compressed bytes produced by VRAM encoders."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.DecodedFrames, err = m.Int64Counter("vram.decoder.frames",
		metric.WithDescription("Frames produced by VRAM decoders."),
	); err != nil {
		return nil, err
	}
	if met.CodecSwitches, err = m.Int64Counter("vram.encoder.switches",
		metric.WithDescription("Stuck encoder detections that requested a codec path switch."),
	); err != nil {
		return nil, err
	}
	if met.OpenFailures, err = m.Int64Counter("vram.open.failures",
		metric.WithDescription("Encoder or decoder handles the codec engine failed to open."),
	); err != nil {
		return nil, err
	}
	if met.CoverageRejections, err = m.Int64Counter("vram.registry.coverage_rejections",
		metric.WithDescription("Encoder lists discarded for partial adapter coverage."),
	); err != nil {
		return nil, err
	}
	if met.Bitrate, err = m.Int64Gauge("vram.encoder.bitrate",
		metric.WithDescription("Bitrate last applied to a VRAM encoder."),
		metric.WithUnit("kbit/s"),
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
// otel.GetMeterProvider. It panics if instrument creation fails.
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

func codecAttrs(driver, format string) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("driver", driver),
		attribute.String("format", format),
	)
}

// RecordEncoded adds one encode call's output.
func (m *Metrics) RecordEncoded(ctx context.Context, driver, format string, packets, bytes int) {
	if m == nil || packets == 0 {
		return
	}
	attrs := codecAttrs(driver, format)
	m.EncodedPackets.Add(ctx, int64(packets), attrs)
	m.EncodedBytes.Add(ctx, int64(bytes), attrs)
}

// RecordDecoded adds one decode call's output.
func (m *Metrics) RecordDecoded(ctx context.Context, driver, format string, frames int) {
	if m == nil || frames == 0 {
		return
	}
	m.DecodedFrames.Add(ctx, int64(frames), codecAttrs(driver, format))
}

// RecordSwitch counts one codec path switch request.
func (m *Metrics) RecordSwitch(ctx context.Context, driver, format string) {
	if m == nil {
		return
	}
	m.CodecSwitches.Add(ctx, 1, codecAttrs(driver, format))
}

// RecordOpenFailure counts one refused encoder ("encoder") or decoder ("decoder").
func (m *Metrics) RecordOpenFailure(ctx context.Context, kind, driver string) {
	if m == nil {
		return
	}
	m.OpenFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("driver", driver),
	))
}

// RecordCoverageRejection counts one discarded encoder list.
func (m *Metrics) RecordCoverageRejection(ctx context.Context, format string) {
	if m == nil {
		return
	}
	m.CoverageRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("format", format)))
}

// RecordBitrate stores the bitrate just applied to an encoder.
func (m *Metrics) RecordBitrate(ctx context.Context, driver, format string, kbps int) {
	if m == nil {
		return
	}
	m.Bitrate.Record(ctx, int64(kbps), codecAttrs(driver, format))
}

// Package observe provides the observability primitives of btlatency:
// OpenTelemetry metrics for the latency probe, tracing helpers, structured
// logging enriched with trace ids, and HTTP middleware for the metrics
// listener.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// bridges them to Prometheus so a long probe run can be scraped from
// /metrics. Tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all btlatency metrics.
const meterName = "github.com/MrWong99/btlatency"

// Role values used as the "role" attribute.
const (
	RoleEncoder = "encoder"
	RoleDecoder = "decoder"
)

// Frame kinds used as the "kind" attribute of [Metrics.Frames].
const (
	FrameNoise  = "noise"
	FrameMarker = "marker"
	FrameRead   = "read"
)

// Metrics holds all OpenTelemetry metric instruments for the probe.
// All fields are safe for concurrent use.
type Metrics struct {
	// Latency is the detected marker time minus the expected interval boundary.
	Latency metric.Float64Histogram

	// MarkerDuration is the observed width of a detected marker burst.
	MarkerDuration metric.Float64Histogram

	// Markers counts marker bursts written (encoder) or detected (decoder).
	// Use with attribute.String("role", ...).
	Markers metric.Int64Counter

	// Frames counts PCM frames moved through the stream. Use with attributes:
	//   attribute.String("role", ...), attribute.String("kind", ...)
	Frames metric.Int64Counter

	// RateSyncDelay tracks how long the rate governor slept per sync.
	RateSyncDelay metric.Float64Histogram

	// RateSyncOverdue counts syncs where the writer was already behind
	// real time.
	RateSyncOverdue metric.Int64Counter

	// HTTPRequestDuration tracks metrics-listener request time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram bucket boundaries (in seconds) covering the
// range of Bluetooth A2DP/HFP end-to-end latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.075, 0.1, 0.125, 0.15, 0.2, 0.25, 0.3, 0.4, 0.5, 0.75, 1, 2,
}

// syncBuckets cover governor sleeps, which are bounded by one interval.
var syncBuckets = []float64{
	0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Latency, err = m.Float64Histogram("btlatency.latency",
		metric.WithDescription("Marker detection time minus the expected interval boundary."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MarkerDuration, err = m.Float64Histogram("btlatency.marker.duration",
		metric.WithDescription("Observed duration of a detected marker burst."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Markers, err = m.Int64Counter("btlatency.markers",
		metric.WithDescription("Marker bursts written or detected, by role."),
	); err != nil {
		return nil, err
	}
	if met.Frames, err = m.Int64Counter("btlatency.frames",
		metric.WithDescription("PCM frames moved through the stream, by role and kind."),
	); err != nil {
		return nil, err
	}
	if met.RateSyncDelay, err = m.Float64Histogram("btlatency.rate_sync.delay",
		metric.WithDescription("Time the rate governor slept to keep pace with the sample rate."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(syncBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RateSyncOverdue, err = m.Int64Counter("btlatency.rate_sync.overdue",
		metric.WithDescription("Rate syncs where the writer was already behind real time."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("btlatency.http.request.duration",
		metric.WithDescription("Metrics listener request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// RecordSample records one decoded latency measurement.
func (m *Metrics) RecordSample(ctx context.Context, latency, duration time.Duration) {
	m.Latency.Record(ctx, latency.Seconds())
	m.MarkerDuration.Record(ctx, duration.Seconds())
	m.Markers.Add(ctx, 1, metric.WithAttributes(attribute.String("role", RoleDecoder)))
}

// RecordFrames adds n frames of the given kind for role.
func (m *Metrics) RecordFrames(ctx context.Context, role, kind string, n int) {
	m.Frames.Add(ctx, int64(n),
		metric.WithAttributes(
			attribute.String("role", role),
			attribute.String("kind", kind),
		),
	)
}

// RecordMarkerWritten counts one burst emitted by the encoder.
func (m *Metrics) RecordMarkerWritten(ctx context.Context) {
	m.Markers.Add(ctx, 1, metric.WithAttributes(attribute.String("role", RoleEncoder)))
}

// RecordRateSync records a governor observation. A positive delta is the
// time slept; a non-positive delta counts as overdue.
func (m *Metrics) RecordRateSync(ctx context.Context, delta time.Duration) {
	if delta > 0 {
		m.RateSyncDelay.Record(ctx, delta.Seconds())
		return
	}
	m.RateSyncOverdue.Add(ctx, 1)
}

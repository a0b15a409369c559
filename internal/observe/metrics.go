// Package observe provides application-wide observability primitives for
// larynx: OpenTelemetry metrics, tracing helpers, and HTTP middleware that
// ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is set up by [InitProvider] so that metrics can be scraped
// from /metrics. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hapticphonix/larynx/pkg/pitch"
)

// meterName is the instrumentation scope name used for all larynx metrics.
const meterName = "github.com/hapticphonix/larynx"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// PitchFrames counts analysed frames. Attribute: voiced=true|false.
	PitchFrames metric.Int64Counter

	// AnalysisDuration tracks the time spent analysing one window.
	AnalysisDuration metric.Float64Histogram

	// DetectedPitch records the pitch of voiced frames, in Hz.
	DetectedPitch metric.Float64Histogram

	// HapticCommands counts actuator commands. Attribute: kind=vibrate|cancel.
	HapticCommands metric.Int64Counter

	// HapticUpdates counts haptic states fanned out to consumers.
	HapticUpdates metric.Int64Counter

	// FramesDropped counts frames lost because the haptic task fell behind.
	FramesDropped metric.Int64Counter

	// ActiveSessions tracks the number of running capture sessions (0 or 1).
	ActiveSessions metric.Int64UpDownCounter

	// ConnectedClients tracks websocket clients. Attribute: role=actuator|viewer|mic.
	ConnectedClients metric.Int64UpDownCounter

	// PublishErrors counts failed fan-out publishes. Attribute: sink.
	PublishErrors metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// analysisBuckets are histogram boundaries (in seconds) for one YIN pass;
// a 60 fps pipeline has about 16 ms per frame.
var analysisBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.016, 0.025, 0.05,
}

// pitchBuckets cover the speaking range in Hz.
var pitchBuckets = []float64{
	60, 80, 100, 120, 150, 180, 220, 260, 300, 350, 400, 500,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.PitchFrames, err = m.Int64Counter("larynx.pitch.frames",
		metric.WithDescription("Total analysed pitch frames by voicing."),
	); err != nil {
		return nil, err
	}
	if met.AnalysisDuration, err = m.Float64Histogram("larynx.pitch.analysis.duration",
		metric.WithDescription("Time spent analysing one window."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(analysisBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DetectedPitch, err = m.Float64Histogram("larynx.pitch.detected_hz",
		metric.WithDescription("Fundamental frequency of voiced frames."),
		metric.WithUnit("Hz"),
		metric.WithExplicitBucketBoundaries(pitchBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HapticCommands, err = m.Int64Counter("larynx.haptic.commands",
		metric.WithDescription("Total actuator commands by kind."),
	); err != nil {
		return nil, err
	}
	if met.HapticUpdates, err = m.Int64Counter("larynx.haptic.updates",
		metric.WithDescription("Total haptic states published."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("larynx.pipeline.frames_dropped",
		metric.WithDescription("Frames dropped between analysis and the haptic engine."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("larynx.active_sessions",
		metric.WithDescription("Number of running capture sessions."),
	); err != nil {
		return nil, err
	}
	if met.ConnectedClients, err = m.Int64UpDownCounter("larynx.connected_clients",
		metric.WithDescription("Number of connected websocket clients by role."),
	); err != nil {
		return nil, err
	}
	if met.PublishErrors, err = m.Int64Counter("larynx.publish.errors",
		metric.WithDescription("Total failed publishes by sink."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("larynx.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrame implements [pitch.MetricsRecorder].
func (m *Metrics) RecordFrame(ctx context.Context, f pitch.Frame, took time.Duration) {
	m.PitchFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("voiced", strconv.FormatBool(f.Voiced))))
	m.AnalysisDuration.Record(ctx, took.Seconds())
	if f.Voiced {
		m.DetectedPitch.Record(ctx, f.Pitch)
	}
}

// RecordCommand counts one actuator command of kind.
func (m *Metrics) RecordCommand(ctx context.Context, kind string) {
	m.HapticCommands.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordDroppedFrame counts one frame lost to back-pressure.
func (m *Metrics) RecordDroppedFrame(ctx context.Context) {
	m.FramesDropped.Add(ctx, 1)
}

// RecordPublishError counts one failed publish to sink.
func (m *Metrics) RecordPublishError(ctx context.Context, sink string) {
	m.PublishErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
}

// ClientConnected adjusts the connected-clients gauge for role by delta.
func (m *Metrics) ClientConnected(ctx context.Context, role string, delta int64) {
	m.ConnectedClients.Add(ctx, delta, metric.WithAttributes(attribute.String("role", role)))
}

var _ pitch.MetricsRecorder = (*Metrics)(nil)

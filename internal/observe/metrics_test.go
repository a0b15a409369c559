package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/hapticphonix/larynx/pkg/pitch"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
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

// sumByAttr returns the int64 sum data point whose attribute key has value.
func sumByAttr(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, not an int64 sum", name, met.Data)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no point with %s=%s", name, key, value)
	return 0
}

func TestRecordFrame(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrame(ctx, pitch.Frame{Voiced: true, Pitch: 220, RMS: 0.1}, 2*time.Millisecond)
	m.RecordFrame(ctx, pitch.Frame{Voiced: true, Pitch: 110, RMS: 0.1}, time.Millisecond)
	m.RecordFrame(ctx, pitch.Frame{}, 100*time.Microsecond)

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "larynx.pitch.frames", "voiced", "true"); got != 2 {
		t.Errorf("voiced frames = %d, want 2", got)
	}
	if got := sumByAttr(t, rm, "larynx.pitch.frames", "voiced", "false"); got != 1 {
		t.Errorf("unvoiced frames = %d, want 1", got)
	}

	hz := findMetric(rm, "larynx.pitch.detected_hz").Data.(metricdata.Histogram[float64])
	if dp := hz.DataPoints[0]; dp.Count != 2 || dp.Sum != 330 {
		t.Errorf("detected_hz count=%d sum=%v, want 2 and 330", dp.Count, dp.Sum)
	}
	dur := findMetric(rm, "larynx.pitch.analysis.duration").Data.(metricdata.Histogram[float64])
	if dp := dur.DataPoints[0]; dp.Count != 3 {
		t.Errorf("analysis.duration count = %d, want 3", dp.Count)
	}
}

func TestCountersAndGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCommand(ctx, "cancel")
	m.RecordCommand(ctx, "vibrate")
	m.RecordCommand(ctx, "cancel")
	m.RecordDroppedFrame(ctx)
	m.RecordPublishError(ctx, "nats")
	m.HapticUpdates.Add(ctx, 4)
	m.ActiveSessions.Add(ctx, 1)
	m.ClientConnected(ctx, "viewer", 1)
	m.ClientConnected(ctx, "viewer", 1)
	m.ClientConnected(ctx, "viewer", -1)
	m.ClientConnected(ctx, "actuator", 1)

	rm := collect(t, reader)
	checks := []struct {
		name, key, value string
		want             int64
	}{
		{"larynx.haptic.commands", "kind", "cancel", 2},
		{"larynx.haptic.commands", "kind", "vibrate", 1},
		{"larynx.pipeline.frames_dropped", "", "", 1},
		{"larynx.publish.errors", "sink", "nats", 1},
		{"larynx.haptic.updates", "", "", 4},
		{"larynx.active_sessions", "", "", 1},
		{"larynx.connected_clients", "role", "viewer", 1},
		{"larynx.connected_clients", "role", "actuator", 1},
	}
	for _, c := range checks {
		if got := sumByAttr(t, rm, c.name, c.key, c.value); got != c.want {
			t.Errorf("%s{%s=%s} = %d, want %d", c.name, c.key, c.value, got, c.want)
		}
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}

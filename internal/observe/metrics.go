// Package observe provides application-wide observability primitives for the
// MeetMate backend: OpenTelemetry metrics, tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all MeetMate metrics.
const meterName = "github.com/meetmate/meetmate"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// StartDuration tracks time from a start command to the ready handshake.
	StartDuration metric.Float64Histogram

	// StopDuration tracks time from a stop command to the stopped
	// confirmation or the forced close.
	StopDuration metric.Float64Histogram

	// HTTPRequestDuration tracks control-server request processing time.
	// Use with attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// SessionStarts counts start attempts. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	SessionStarts metric.Int64Counter

	// SegmentsReceived counts transcript segments forwarded to the ledger.
	SegmentsReceived metric.Int64Counter

	// SessionErrors counts abnormal session endings. Use with attribute:
	//   attribute.String("stage", "connect"|"active"|"stop")
	SessionErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks whether a recording session is live (0 or 1).
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds). The upper
// buckets cover the 60-second stop-confirmation bound.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StartDuration, err = m.Float64Histogram("meetmate.session.start.duration",
		metric.WithDescription("Latency from start command to ready handshake."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StopDuration, err = m.Float64Histogram("meetmate.session.stop.duration",
		metric.WithDescription("Latency from stop command to confirmation or forced close."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("meetmate.http.request.duration",
		metric.WithDescription("Control-server request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SessionStarts, err = m.Int64Counter("meetmate.session.starts",
		metric.WithDescription("Total start attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsReceived, err = m.Int64Counter("meetmate.segments.received",
		metric.WithDescription("Total transcript segments received from the audio service."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("meetmate.session.errors",
		metric.WithDescription("Total abnormal session endings by stage."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("meetmate.active_sessions",
		metric.WithDescription("Number of live recording sessions."),
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
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordSessionStart records one start attempt with its outcome status.
func (m *Metrics) RecordSessionStart(ctx context.Context, status string) {
	m.SessionStarts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordSessionError records one abnormal session ending at the given stage.
func (m *Metrics) RecordSessionError(ctx context.Context, stage string) {
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

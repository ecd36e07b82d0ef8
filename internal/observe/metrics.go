// Package observe provides application-wide observability primitives for
// poise: OpenTelemetry metrics, distributed tracing, structured logging, and
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

// meterName is the instrumentation scope name used for all poise metrics.
const meterName = "github.com/MrWong99/poise"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// DetectorDuration tracks face and pose detector latency. Use with
	// attribute.String("detector", "face"|"pose").
	DetectorDuration metric.Float64Histogram

	// ReportDuration tracks end-of-session report generation time.
	ReportDuration metric.Float64Histogram

	// --- Counters ---

	// FramesProcessed counts sampled frames. Use with
	// attribute.Bool("face", ...).
	FramesProcessed metric.Int64Counter

	// DetectorErrors counts detector failures. Use with attributes:
	//   attribute.String("detector", ...), attribute.String("kind", "unavailable"|"transient")
	DetectorErrors metric.Int64Counter

	// FeedbackFired counts coaching tips. Use with attributes:
	//   attribute.String("type", ...), attribute.String("severity", ...)
	FeedbackFired metric.Int64Counter

	// TranscriptRestarts counts speech-to-text stream restarts. Use with
	// attribute.String("status", "ok"|"failed").
	TranscriptRestarts metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of running coaching sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- Distributions ---

	// ReportScore records overall report scores (0-100).
	ReportScore metric.Int64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// per-frame detector calls.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

var scoreBuckets = []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.DetectorDuration, err = m.Float64Histogram("poise.detector.duration",
		metric.WithDescription("Latency of face and pose detector calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ReportDuration, err = m.Float64Histogram("poise.report.duration",
		metric.WithDescription("Time spent generating performance reports."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.FramesProcessed, err = m.Int64Counter("poise.frames.processed",
		metric.WithDescription("Total sampled video frames by face presence."),
	); err != nil {
		return nil, err
	}
	if met.DetectorErrors, err = m.Int64Counter("poise.detector.errors",
		metric.WithDescription("Total detector errors by detector and kind."),
	); err != nil {
		return nil, err
	}
	if met.FeedbackFired, err = m.Int64Counter("poise.feedback.fired",
		metric.WithDescription("Total coaching tips fired by type and severity."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptRestarts, err = m.Int64Counter("poise.transcript.restarts",
		metric.WithDescription("Total speech-to-text stream restarts by outcome."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("poise.active_sessions",
		metric.WithDescription("Number of running coaching sessions."),
	); err != nil {
		return nil, err
	}

	if met.ReportScore, err = m.Int64Histogram("poise.report.score",
		metric.WithDescription("Overall performance report scores."),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("poise.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordDetector records one detector call. kind is empty on success,
// otherwise "unavailable" or "transient".
func (m *Metrics) RecordDetector(ctx context.Context, detector string, seconds float64, kind string) {
	m.DetectorDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("detector", detector)))
	if kind != "" {
		m.DetectorErrors.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("detector", detector),
				attribute.String("kind", kind),
			),
		)
	}
}

// RecordFrame counts one sampled frame.
func (m *Metrics) RecordFrame(ctx context.Context, face bool) {
	m.FramesProcessed.Add(ctx, 1, metric.WithAttributes(attribute.Bool("face", face)))
}

// RecordFeedback counts one fired coaching tip.
func (m *Metrics) RecordFeedback(ctx context.Context, feedbackType, severity string) {
	m.FeedbackFired.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("type", feedbackType),
			attribute.String("severity", severity),
		),
	)
}

// RecordTranscriptRestart counts one speech-to-text restart attempt.
func (m *Metrics) RecordTranscriptRestart(ctx context.Context, ok bool) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.TranscriptRestarts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordReport records a generated report.
func (m *Metrics) RecordReport(ctx context.Context, seconds float64, score int) {
	m.ReportDuration.Record(ctx, seconds)
	m.ReportScore.Record(ctx, int64(score))
}

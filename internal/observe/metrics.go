// Package observe holds the OpenTelemetry metric instruments for the lesson
// pipeline and the Prometheus bridge that exposes them on /metrics.
//
// Tests should build a [Metrics] with [NewMetrics] over their own
// [metric.MeterProvider] instead of using [DefaultMetrics].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/windfall/langodyssey"

// Stage kinds used as the "kind" attribute on provider metrics.
const (
	KindSTT       = "stt"
	KindTTS       = "tts"
	KindTranslate = "translate"
	KindLLM       = "llm"
	KindEmbedding = "embedding"
)

// Metrics holds all metric instruments for the service.
type Metrics struct {
	// Latency per pipeline stage.
	STTDuration metric.Float64Histogram
	LLMDuration metric.Float64Histogram
	TTSDuration metric.Float64Histogram

	// ProviderRequests counts vendor calls by provider, kind and status.
	ProviderRequests metric.Int64Counter
	// ProviderErrors counts failed vendor calls by provider and kind.
	ProviderErrors metric.Int64Counter

	// LessonAttempts counts scored attempts by outcome (complete, incomplete).
	LessonAttempts metric.Int64Counter
	// LessonCompletions counts Continue transitions.
	LessonCompletions metric.Int64Counter
	// Milestones counts stage and level completions.
	Milestones metric.Int64Counter

	// ActiveSockets tracks connected WebSocket clients.
	ActiveSockets metric.Int64UpDownCounter

	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. Vendor calls in this
// pipeline run from tens of milliseconds to tens of seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40,
}

// NewMetrics creates all instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.STTDuration, err = m.Float64Histogram("langodyssey.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("langodyssey.llm.duration",
		metric.WithDescription("Latency of LLM chain calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("langodyssey.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("langodyssey.provider.requests",
		metric.WithDescription("Vendor API requests by provider, kind and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("langodyssey.provider.errors",
		metric.WithDescription("Vendor API errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.LessonAttempts, err = m.Int64Counter("langodyssey.lesson.attempts",
		metric.WithDescription("Scored lesson attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.LessonCompletions, err = m.Int64Counter("langodyssey.lesson.completions",
		metric.WithDescription("Lessons completed and advanced past."),
	); err != nil {
		return nil, err
	}
	if met.Milestones, err = m.Int64Counter("langodyssey.lesson.milestones",
		metric.WithDescription("Stage and level milestones reached."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSockets, err = m.Int64UpDownCounter("langodyssey.ws.active",
		metric.WithDescription("Connected WebSocket clients."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("langodyssey.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
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

// DefaultMetrics returns the package-level instance built on the global
// meter provider. Call [InitProvider] first so the instruments are exported.
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

// RecordProviderRequest increments the request counter.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError increments the error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// ObserveCall records latency and outcome of one vendor call started at
// start. A nil receiver is a no-op.
func (m *Metrics) ObserveCall(ctx context.Context, provider, kind string, start time.Time, err error) {
	if m == nil {
		return
	}
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(attribute.String("provider", provider))
	switch kind {
	case KindSTT:
		m.STTDuration.Record(ctx, elapsed, attrs)
	case KindTTS, KindTranslate:
		m.TTSDuration.Record(ctx, elapsed, attrs)
	case KindLLM, KindEmbedding:
		m.LLMDuration.Record(ctx, elapsed, attrs)
	}

	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, provider, kind)
	}
	m.RecordProviderRequest(ctx, provider, kind, status)
}

// RecordAttempt counts one scored attempt.
func (m *Metrics) RecordAttempt(ctx context.Context, complete bool) {
	if m == nil {
		return
	}
	outcome := "incomplete"
	if complete {
		outcome = "complete"
	}
	m.LessonAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordCompletion counts one Continue and the milestone it reached, if any.
func (m *Metrics) RecordCompletion(ctx context.Context, milestone string) {
	if m == nil {
		return
	}
	m.LessonCompletions.Add(ctx, 1)
	if milestone != "" {
		m.Milestones.Add(ctx, 1, metric.WithAttributes(attribute.String("milestone", milestone)))
	}
}

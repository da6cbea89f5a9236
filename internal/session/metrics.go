package session

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type sessionMetrics struct {
	stops      metric.Int64Counter
	outcomes   metric.Int64Counter
	recorded   metric.Float64Histogram
	transcribe metric.Float64Histogram
}

func newSessionMetrics(meter metric.Meter) (*sessionMetrics, error) {
	stops, err := meter.Int64Counter("loqa_record_stop_requests_total",
		metric.WithDescription("Stop requests that won the stop latch, by source"))
	if err != nil {
		return nil, err
	}
	outcomes, err := meter.Int64Counter("loqa_record_sessions_total",
		metric.WithDescription("Finished sessions by outcome and failing stage"))
	if err != nil {
		return nil, err
	}
	recorded, err := meter.Float64Histogram("loqa_record_recording_duration_seconds",
		metric.WithDescription("Duration of finalized recordings"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	transcribe, err := meter.Float64Histogram("loqa_record_transcription_seconds",
		metric.WithDescription("Wall time spent in the transcription engine"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &sessionMetrics{stops: stops, outcomes: outcomes, recorded: recorded, transcribe: transcribe}, nil
}

func noopMetrics() *sessionMetrics {
	m, _ := newSessionMetrics(noop.NewMeterProvider().Meter(instrumentationName))
	return m
}

func (m *sessionMetrics) stop(ctx context.Context, source string) {
	m.stops.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func (m *sessionMetrics) outcome(ctx context.Context, success bool, stage string) {
	m.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
		attribute.String("stage", stage),
	))
}

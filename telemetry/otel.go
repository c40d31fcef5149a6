package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type (
	// OTelMetrics records metrics through the global OTEL MeterProvider.
	// Grounded on the teacher's telemetry.ClueMetrics, with the
	// goa.design/clue configuration layer removed: callers configure the
	// global MeterProvider directly (otel.SetMeterProvider) before
	// constructing this type, instead of going through Clue's service
	// bootstrap.
	OTelMetrics struct {
		meter metric.Meter
	}

	// OTelTracer creates spans through the global OTEL TracerProvider.
	OTelTracer struct {
		tracer trace.Tracer
	}

	otelSpan struct {
		span trace.Span
	}
)

// NewOTelMetrics constructs an OTelMetrics using the named meter.
func NewOTelMetrics(instrumentationName string) Metrics {
	return &OTelMetrics{meter: otel.Meter(instrumentationName)}
}

// NewOTelTracer constructs an OTelTracer using the named tracer.
func NewOTelTracer(instrumentationName string) Tracer {
	return &OTelTracer{tracer: otel.Tracer(instrumentationName)}
}

func (m *OTelMetrics) IncCounter(name string, value float64, tags ...string) {
	counter, err := m.meter.Float64Counter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

func (m *OTelMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	hist, err := m.meter.Float64Histogram(name)
	if err != nil {
		return
	}
	hist.Record(context.Background(), duration.Seconds(), metric.WithAttributes(tagsToAttrs(tags)...))
}

func (m *OTelMetrics) RecordGauge(name string, value float64, tags ...string) {
	hist, err := m.meter.Float64Histogram(name + "_gauge")
	if err != nil {
		return
	}
	hist.Record(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

func (t *OTelTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	newCtx, span := t.tracer.Start(ctx, name, opts...)
	return newCtx, &otelSpan{span: span}
}

func (t *OTelTracer) Span(ctx context.Context) Span {
	return &otelSpan{span: trace.SpanFromContext(ctx)}
}

func (s *otelSpan) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }

func (s *otelSpan) AddEvent(name string, attrs ...any) {
	s.span.AddEvent(name, trace.WithAttributes(kvToAttrs(attrs)...))
}

func (s *otelSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

func (s *otelSpan) RecordError(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
}

func tagsToAttrs(tags []string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i < len(tags); i += 2 {
		k := tags[i]
		v := ""
		if i+1 < len(tags) {
			v = tags[i+1]
		}
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

func kvToAttrs(keyvals []any) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, _ := keyvals[i].(string)
		switch val := keyvals[i+1].(type) {
		case string:
			attrs = append(attrs, attribute.String(key, val))
		case int:
			attrs = append(attrs, attribute.Int(key, val))
		case int64:
			attrs = append(attrs, attribute.Int64(key, val))
		case float64:
			attrs = append(attrs, attribute.Float64(key, val))
		case bool:
			attrs = append(attrs, attribute.Bool(key, val))
		default:
			attrs = append(attrs, attribute.String(key, ""))
		}
	}
	return attrs
}

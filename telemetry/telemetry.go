// Package telemetry defines the ambient logging/metrics/tracing interfaces
// used across the engine. Grounded on the teacher's runtime/agent/telemetry
// package (goa.design/goa-ai): the Logger/Metrics/Tracer/Span shapes are
// copied nearly verbatim, but the concrete backings differ, since this core
// has no Goa service/request context to anchor goa.design/clue/log to. The
// zerolog-backed Logger instead writes directly to stderr, matching spec
// §6's "status messages ... go to stderr" contract, and every duration field
// carries an explicit unit suffix per §4.2.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger emits structured, leveled log messages. Keyvals are
	// alternating key/value pairs, following the teacher's convention.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters, timers, and gauges.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer creates and retrieves spans.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
		Span(ctx context.Context) Span
	}

	// Span is a single unit of tracing work.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, attrs ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}
)

package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// CallMeta describes one cached call for telemetry purposes.
type CallMeta struct {
	ID          string // grouping label of the call
	Fingerprint string // cache slot key
	Remark      string // operator annotation (optional)
}

// SpanName returns the span name for a cache operation, e.g. "cache.compute".
func SpanName(op string) string {
	return "cache." + op
}

func (m CallMeta) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("cache.id", m.ID),
	}
	if m.Fingerprint != "" {
		attrs = append(attrs, attribute.String("cache.fingerprint", m.Fingerprint))
	}
	return attrs
}

// Fields returns the log fields describing the call.
func (m CallMeta) Fields() []Field {
	fields := []Field{F("cache.id", m.ID), F("cache.fingerprint", m.Fingerprint)}
	if m.Remark != "" {
		fields = append(fields, F("cache.remark", m.Remark))
	}
	return fields
}

// Tracer wraps OpenTelemetry tracing with cache-specific span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a span for a cache operation on the given call.
	StartSpan(ctx context.Context, op string, meta CallMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer wraps an OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartSpan(ctx context.Context, op string, meta CallMeta) (context.Context, trace.Span) {
	attrs := append(meta.attributes(), attribute.Bool("cache.error", false))
	return t.tracer.Start(ctx, SpanName(op),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("cache.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// NopTracer returns a tracer whose spans are discarded.
func NopTracer() Tracer {
	return &tracerImpl{tracer: tracenoop.NewTracerProvider().Tracer("noop")}
}

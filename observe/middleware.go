package observe

import (
	"context"
	"time"
)

// ComputeFunc produces the value for a cache slot.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Middleware wraps compute functions with tracing, metrics and logging.
//
// Contract:
//   - Concurrency: Wrap returns a ComputeFunc safe for concurrent use.
//   - Errors: errors from the wrapped function are recorded and returned unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a Middleware. Nil components are replaced by no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NopTracer()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{tracer: tracer, metrics: metrics, logger: logger}
}

// MiddlewareFromObserver builds a Middleware from an Observer's providers.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}
	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}

// Metrics returns the metrics recorder used by the middleware.
func (m *Middleware) Metrics() Metrics {
	return m.metrics
}

// Logger returns the logger used by the middleware.
func (m *Middleware) Logger() Logger {
	return m.logger
}

// Wrap wraps fn so each invocation is traced, timed and logged under op
// (e.g. "compute" or "refresh").
func (m *Middleware) Wrap(op string, meta CallMeta, fn ComputeFunc) ComputeFunc {
	return func(ctx context.Context) ([]byte, error) {
		ctx, span := m.tracer.StartSpan(ctx, op, meta)
		start := time.Now()

		value, err := fn(ctx)

		duration := time.Since(start)
		m.tracer.EndSpan(span, err)
		m.metrics.RecordCompute(ctx, meta, duration, err)

		fields := append(meta.Fields(), F("op", op), F("duration_ms", millis(duration)))
		if err != nil {
			m.logger.Error(ctx, "cache compute failed", append(fields, F("error", err))...)
		} else {
			m.logger.Debug(ctx, "cache compute completed", fields...)
		}
		return value, err
	}
}

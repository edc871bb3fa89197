package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcome classifies a cache lookup.
type Outcome string

const (
	OutcomeHit   Outcome = "hit"
	OutcomeMiss  Outcome = "miss"
	OutcomeError Outcome = "error"
)

// Metrics records cache activity.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordLookup records a GetOrCompute outcome and its latency.
	RecordLookup(ctx context.Context, meta CallMeta, outcome Outcome, latency time.Duration)

	// RecordCompute records one invocation of a compute function.
	RecordCompute(ctx context.Context, meta CallMeta, duration time.Duration, err error)

	// RecordRefresh records a refresh-ahead attempt.
	RecordRefresh(ctx context.Context, meta CallMeta, err error)

	// RecordSweep records one sweeper cycle.
	RecordSweep(ctx context.Context, removed int, duration time.Duration)
}

type metricsImpl struct {
	lookups      metric.Int64Counter
	lookupHist   metric.Float64Histogram
	computeHist  metric.Float64Histogram
	computeErrs  metric.Int64Counter
	refreshes    metric.Int64Counter
	sweepRemoved metric.Int64Counter
	sweepHist    metric.Float64Histogram
}

// NewMetrics creates the cache instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	m := &metricsImpl{}
	var err error

	if m.lookups, err = meter.Int64Counter("cache.lookup.total",
		metric.WithDescription("Cache lookups by outcome"),
		metric.WithUnit("{lookup}"),
	); err != nil {
		return nil, err
	}
	if m.lookupHist, err = meter.Float64Histogram("cache.lookup.duration_ms",
		metric.WithDescription("Cache lookup latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.computeHist, err = meter.Float64Histogram("cache.compute.duration_ms",
		metric.WithDescription("Compute function duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.computeErrs, err = meter.Int64Counter("cache.compute.errors",
		metric.WithDescription("Compute function failures"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}
	if m.refreshes, err = meter.Int64Counter("cache.refresh.total",
		metric.WithDescription("Refresh-ahead recomputations"),
		metric.WithUnit("{refresh}"),
	); err != nil {
		return nil, err
	}
	if m.sweepRemoved, err = meter.Int64Counter("cache.sweep.removed",
		metric.WithDescription("Entries removed by the sweeper"),
		metric.WithUnit("{entry}"),
	); err != nil {
		return nil, err
	}
	if m.sweepHist, err = meter.Float64Histogram("cache.sweep.duration_ms",
		metric.WithDescription("Sweeper cycle duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *metricsImpl) RecordLookup(ctx context.Context, meta CallMeta, outcome Outcome, latency time.Duration) {
	opt := metric.WithAttributes(
		attribute.String("cache.id", meta.ID),
		attribute.String("cache.outcome", string(outcome)),
	)
	m.lookups.Add(ctx, 1, opt)
	m.lookupHist.Record(ctx, millis(latency), opt)
}

func (m *metricsImpl) RecordCompute(ctx context.Context, meta CallMeta, duration time.Duration, err error) {
	opt := metric.WithAttributes(attribute.String("cache.id", meta.ID))
	m.computeHist.Record(ctx, millis(duration), opt)
	if err != nil {
		m.computeErrs.Add(ctx, 1, opt)
	}
}

func (m *metricsImpl) RecordRefresh(ctx context.Context, meta CallMeta, err error) {
	m.refreshes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache.id", meta.ID),
		attribute.Bool("cache.error", err != nil),
	))
}

func (m *metricsImpl) RecordSweep(ctx context.Context, removed int, duration time.Duration) {
	m.sweepRemoved.Add(ctx, int64(removed))
	m.sweepHist.Record(ctx, millis(duration))
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// NopMetrics returns a Metrics that records nothing.
func NopMetrics() Metrics {
	return nopMetrics{}
}

type nopMetrics struct{}

func (nopMetrics) RecordLookup(context.Context, CallMeta, Outcome, time.Duration) {}
func (nopMetrics) RecordCompute(context.Context, CallMeta, time.Duration, error)  {}
func (nopMetrics) RecordRefresh(context.Context, CallMeta, error)                 {}
func (nopMetrics) RecordSweep(context.Context, int, time.Duration)                {}

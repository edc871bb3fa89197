package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestMetrics(t *testing.T) (Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect failed: %v", err)
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

func TestMetrics_LookupsByOutcome(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	meta := CallMeta{ID: "users"}

	m.RecordLookup(ctx, meta, OutcomeHit, time.Millisecond)
	m.RecordLookup(ctx, meta, OutcomeHit, time.Millisecond)
	m.RecordLookup(ctx, meta, OutcomeMiss, 5*time.Millisecond)

	found := findMetric(collect(t, reader), "cache.lookup.total")
	if found == nil {
		t.Fatal("cache.lookup.total not found")
	}
	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum[int64], got %T", found.Data)
	}

	counts := map[string]int64{}
	for _, dp := range sum.DataPoints {
		outcome, _ := dp.Attributes.Value(attribute.Key("cache.outcome"))
		counts[outcome.AsString()] = dp.Value
	}
	if counts["hit"] != 2 || counts["miss"] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}

func TestMetrics_ComputeErrors(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCompute(ctx, CallMeta{ID: "a"}, time.Millisecond, nil)
	m.RecordCompute(ctx, CallMeta{ID: "a"}, time.Millisecond, errors.New("boom"))

	rm := collect(t, reader)
	errs := findMetric(rm, "cache.compute.errors")
	if errs == nil {
		t.Fatal("cache.compute.errors not found")
	}
	sum := errs.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Errorf("expected one error, got %+v", sum.DataPoints)
	}

	hist := findMetric(rm, "cache.compute.duration_ms")
	if hist == nil {
		t.Fatal("cache.compute.duration_ms not found")
	}
	h := hist.Data.(metricdata.Histogram[float64])
	if h.DataPoints[0].Count != 2 {
		t.Errorf("expected 2 compute observations, got %d", h.DataPoints[0].Count)
	}
}

func TestMetrics_SweepRemoved(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordSweep(context.Background(), 4, time.Millisecond)
	m.RecordSweep(context.Background(), 0, time.Millisecond)

	found := findMetric(collect(t, reader), "cache.sweep.removed")
	if found == nil {
		t.Fatal("cache.sweep.removed not found")
	}
	sum := found.Data.(metricdata.Sum[int64])
	if sum.DataPoints[0].Value != 4 {
		t.Errorf("removed = %d, want 4", sum.DataPoints[0].Value)
	}
}

func TestMiddleware_RecordsSpanAndError(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	m, reader := newTestMetrics(t)

	mw := NewMiddleware(NewTracer(tp.Tracer("test")), m, nil)
	boom := errors.New("upstream down")
	fn := mw.Wrap("compute", CallMeta{ID: "users", Fingerprint: "fp"}, func(context.Context) ([]byte, error) {
		return nil, boom
	})

	if _, err := fn(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error to pass through, got %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "cache.compute" {
		t.Errorf("span name = %q, want cache.compute", spans[0].Name)
	}
	if len(spans[0].Events) == 0 {
		t.Error("expected recorded error event")
	}

	if findMetric(collect(t, reader), "cache.compute.errors") == nil {
		t.Error("expected compute error metric")
	}
}

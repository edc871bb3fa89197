package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusHealthy, "healthy"},
		{StatusDegraded, "degraded"},
		{StatusUnhealthy, "unhealthy"},
		{Status(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.status.String(); got != tt.want {
				t.Errorf("Status.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResultConstructors(t *testing.T) {
	testErr := errors.New("redis down")
	tests := []struct {
		name   string
		result Result
		want   Status
	}{
		{"healthy", Healthy("ok"), StatusHealthy},
		{"degraded", Degraded("stale sweep"), StatusDegraded},
		{"unhealthy", Unhealthy("unreachable", testErr), StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.result.Status != tt.want {
				t.Errorf("Status = %v, want %v", tt.result.Status, tt.want)
			}
			if tt.result.Timestamp.IsZero() {
				t.Error("Timestamp should not be zero")
			}
		})
	}
	if r := Unhealthy("unreachable", testErr); !errors.Is(r.Error, testErr) {
		t.Errorf("Error = %v, want %v", r.Error, testErr)
	}
}

func TestResult_With(t *testing.T) {
	r := Healthy("ok").
		WithDetails(map[string]any{"entries": 3}).
		WithDuration(42 * time.Millisecond)

	if r.Details["entries"] != 3 {
		t.Errorf("Details = %v", r.Details)
	}
	if r.Duration != 42*time.Millisecond {
		t.Errorf("Duration = %v", r.Duration)
	}
}

func TestCheckerFunc(t *testing.T) {
	type key struct{}
	checker := NewCheckerFunc("store", func(ctx context.Context) Result {
		if ctx.Value(key{}) != "v" {
			return Unhealthy("context not passed", nil)
		}
		return Healthy("ok")
	})

	if checker.Name() != "store" {
		t.Errorf("Name() = %v, want store", checker.Name())
	}
	if r := checker.Check(context.WithValue(context.Background(), key{}, "v")); r.Status != StatusHealthy {
		t.Errorf("Check() = %v (%s)", r.Status, r.Message)
	}
}

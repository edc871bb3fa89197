package health

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/jonwraymond/callcache/resilience"
)

// Sweeping is the part of an expiration sweeper a liveness check needs.
type Sweeping interface {
	LastSweep() time.Time
	Interval() time.Duration
}

// SweeperChecker reports degraded when the sweeper has not completed a
// pass within Tolerance intervals. Expired entries are never served, so a
// stalled sweeper only costs memory.
type SweeperChecker struct {
	sweeper   Sweeping
	tolerance int
	started   time.Time
	now       func() time.Time
}

// SweeperCheckerConfig configures a SweeperChecker.
type SweeperCheckerConfig struct {
	// Tolerance is how many intervals may pass without a sweep.
	// Default: 3
	Tolerance int

	// Now overrides the clock.
	Now func() time.Time
}

// NewSweeperChecker creates a liveness check for sweeper.
func NewSweeperChecker(sweeper Sweeping, cfg SweeperCheckerConfig) *SweeperChecker {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &SweeperChecker{
		sweeper:   sweeper,
		tolerance: cfg.Tolerance,
		started:   cfg.Now(),
		now:       cfg.Now,
	}
}

// Name returns "sweeper".
func (c *SweeperChecker) Name() string {
	return "sweeper"
}

// Check compares the last completed pass with the interval.
func (c *SweeperChecker) Check(ctx context.Context) Result {
	last := c.sweeper.LastSweep()
	since := last
	if since.IsZero() {
		since = c.started
	}
	limit := time.Duration(c.tolerance) * c.sweeper.Interval()
	age := c.now().Sub(since)

	details := map[string]any{
		"interval": c.sweeper.Interval().String(),
		"age":      age.String(),
	}
	if !last.IsZero() {
		details["last_sweep"] = last.UTC().Format(time.RFC3339Nano)
	}
	if age > limit {
		return Degraded(fmt.Sprintf("no sweep for %s", age.Truncate(time.Millisecond))).WithDetails(details)
	}
	return Healthy("sweeping").WithDetails(details)
}

// Sized is a store that can count its entries.
type Sized interface {
	Len(ctx context.Context) (int, error)
}

// StoreChecker reports unhealthy when the store cannot be read and
// degraded once it holds more than MaxEntries.
type StoreChecker struct {
	name       string
	store      Sized
	maxEntries int
}

// NewStoreChecker creates a check named name over store. maxEntries of 0
// disables the size warning.
func NewStoreChecker(name string, store Sized, maxEntries int) *StoreChecker {
	return &StoreChecker{name: name, store: store, maxEntries: maxEntries}
}

// Name returns the configured name.
func (c *StoreChecker) Name() string {
	return c.name
}

// Check counts the entries.
func (c *StoreChecker) Check(ctx context.Context) Result {
	n, err := c.store.Len(ctx)
	if err != nil {
		return Unhealthy("store unreadable", fmt.Errorf("%w: %w", ErrCheckFailed, err))
	}
	details := map[string]any{"entries": n}
	if c.maxEntries > 0 && n > c.maxEntries {
		return Degraded(fmt.Sprintf("%d entries exceed %d", n, c.maxEntries)).WithDetails(details)
	}
	return Healthy(fmt.Sprintf("%d entries", n)).WithDetails(details)
}

// PoolChecker watches the background worker pool that runs refreshes and
// asynchronous invalidations. It reports degraded when tasks were rejected
// since the previous check or the pool is saturated.
type PoolChecker struct {
	metrics func() resilience.PoolMetrics

	mu   sync.Mutex
	last int64
}

// NewPoolChecker creates a check over a pool's metrics.
func NewPoolChecker(metrics func() resilience.PoolMetrics) *PoolChecker {
	return &PoolChecker{metrics: metrics, last: -1}
}

// Name returns "workers".
func (c *PoolChecker) Name() string {
	return "workers"
}

// Check inspects the current pool metrics.
func (c *PoolChecker) Check(ctx context.Context) Result {
	m := c.metrics()
	c.mu.Lock()
	prev := c.last
	c.last = m.Rejected
	c.mu.Unlock()

	details := map[string]any{
		"active":         m.Active,
		"max_active":     m.MaxActive,
		"max_concurrent": m.MaxConcurrent,
		"rejected":       m.Rejected,
		"panics":         m.Panics,
	}
	if prev >= 0 && m.Rejected > prev {
		return Degraded(fmt.Sprintf("%d background tasks rejected", m.Rejected-prev)).WithDetails(details)
	}
	if m.MaxConcurrent > 0 && m.Active >= m.MaxConcurrent {
		return Degraded("worker pool saturated").WithDetails(details)
	}
	return Healthy(fmt.Sprintf("%d/%d workers busy", m.Active, m.MaxConcurrent)).WithDetails(details)
}

// HeapChecker reports heap growth of an in-memory cache against a byte
// budget.
type HeapChecker struct {
	budget   uint64
	warning  float64
	critical float64
}

// NewHeapChecker creates a heap check. warning and critical are fractions
// of budget; out-of-range values fall back to 0.8 and 0.95.
func NewHeapChecker(budget uint64, warning, critical float64) *HeapChecker {
	if warning <= 0 || warning >= 1 {
		warning = 0.8
	}
	if critical <= 0 || critical >= 1 || critical < warning {
		critical = 0.95
	}
	return &HeapChecker{budget: budget, warning: warning, critical: critical}
}

// Name returns "heap".
func (c *HeapChecker) Name() string {
	return "heap"
}

// Check reads the runtime heap statistics.
func (c *HeapChecker) Check(ctx context.Context) Result {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	budget := c.budget
	if budget == 0 {
		budget = ms.Sys
	}
	details := map[string]any{
		"heap_alloc":   ms.HeapAlloc,
		"heap_objects": ms.HeapObjects,
		"budget":       budget,
		"num_gc":       ms.NumGC,
	}
	if budget == 0 {
		return Healthy("heap statistics unavailable").WithDetails(details)
	}

	ratio := float64(ms.HeapAlloc) / float64(budget)
	details["usage_percent"] = ratio * 100
	switch {
	case ratio >= c.critical:
		return Unhealthy(fmt.Sprintf("heap usage critical: %.1f%%", ratio*100), ErrCheckFailed).WithDetails(details)
	case ratio >= c.warning:
		return Degraded(fmt.Sprintf("heap usage high: %.1f%%", ratio*100)).WithDetails(details)
	}
	return Healthy(fmt.Sprintf("heap usage normal: %.1f%%", ratio*100)).WithDetails(details)
}

package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonwraymond/callcache/observe"
)

// SweepState is the phase of the sweeper loop.
type SweepState int32

const (
	SweepIdle SweepState = iota
	SweepScanning
	SweepRemoving
)

// String returns the state name.
func (s SweepState) String() string {
	switch s {
	case SweepScanning:
		return "scanning"
	case SweepRemoving:
		return "removing"
	default:
		return "idle"
	}
}

// SweeperConfig configures a Sweeper.
type SweeperConfig struct {
	// Interval between sweeps.
	// Default: 500ms
	Interval time.Duration

	// Logger receives per-fingerprint failures.
	Logger observe.Logger

	// Metrics receives one observation per sweep.
	Metrics observe.Metrics

	// Now is the clock expiry is judged against. Default: time.Now.
	Now func() time.Time
}

// Sweeper removes expired entries from a Store on a fixed interval.
//
// Contract:
//   - Ordering: due fingerprints are processed earliest expiry first.
//   - Liveness: an entry replaced by a fresh one is never removed.
//   - Errors: a failure on one fingerprint is logged and skipped; a failed
//     or panicking sweep does not stop the loop.
type Sweeper struct {
	store    Store
	interval time.Duration
	logger   observe.Logger
	metrics  observe.Metrics
	now      func() time.Time

	state     atomic.Int32
	lastSweep atomic.Int64 // unix nanos
}

// NewSweeper creates a sweeper for store.
func NewSweeper(store Store, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.NopMetrics()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Sweeper{
		store:    store,
		interval: cfg.Interval,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		now:      cfg.Now,
	}
}

// State returns the current phase.
func (s *Sweeper) State() SweepState {
	return SweepState(s.state.Load())
}

// LastSweep returns when the last sweep finished, or the zero time.
func (s *Sweeper) LastSweep() time.Time {
	ns := s.lastSweep.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Interval returns the sweep interval.
func (s *Sweeper) Interval() time.Duration {
	return s.interval
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.state.Store(int32(SweepIdle))
			s.logger.Error(ctx, "cache sweep panicked", observe.F("panic", fmt.Sprint(r)))
		}
	}()
	if _, err := s.SweepOnce(ctx); err != nil {
		s.logger.Warn(ctx, "cache sweep failed", observe.F("error", err))
	}
}

// SweepOnce removes every entry due at the current time and returns how
// many were removed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	start := time.Now()
	now := s.now()
	defer s.state.Store(int32(SweepIdle))

	s.state.Store(int32(SweepScanning))
	due, err := s.store.Due(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("cache: scan expiration index: %w", err)
	}

	s.state.Store(int32(SweepRemoving))
	removed := 0
	for _, fp := range due {
		if ctx.Err() != nil {
			break
		}
		ok, err := s.store.RemoveIfExpired(ctx, fp, now)
		if err != nil {
			s.logger.Warn(ctx, "cache sweep skipped entry", observe.F("cache.fingerprint", fp), observe.F("error", err))
			continue
		}
		if ok {
			removed++
		}
	}

	s.lastSweep.Store(time.Now().UnixNano())
	s.metrics.RecordSweep(ctx, removed, time.Since(start))
	if removed > 0 {
		s.logger.Debug(ctx, "cache sweep removed entries", observe.F("removed", removed), observe.F("due", len(due)))
	}
	return removed, nil
}

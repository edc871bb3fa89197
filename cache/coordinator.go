package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonwraymond/callcache/observe"
	"github.com/jonwraymond/callcache/resilience"
	"github.com/jonwraymond/callcache/stats"
)

// ComputeFunc produces the value of a cache slot. A nil or zero-length
// value means "no data".
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Call describes one GetOrCompute invocation.
type Call struct {
	// Fingerprint identifies the cache slot. Required.
	Fingerprint string

	// ID groups fingerprints for invalidation and statistics.
	// Defaults to Fingerprint.
	ID string

	// Remark is a free-text annotation shown in reports.
	Remark string

	// Args is a printable form of the call arguments, kept for reports.
	Args string

	// TTL controls expiry of a computed value.
	TTL TTL

	// Refresh serves a live entry and recomputes it in the background.
	Refresh bool

	// CacheEmpty stores an empty marker when compute returns no data.
	CacheEmpty bool

	// Isolation namespaces the slot by the isolation scope of ctx.
	Isolation Isolation
}

// Config configures a Cache. Zero fields take defaults.
type Config struct {
	// Store holds the entries. Default: NewMemoryStore().
	Store Store

	// Locker serializes population. Default: NewLocalLocker(1).
	Locker Locker

	// Policy resolves TTLs. Default: DefaultPolicy().
	Policy *Policy

	// Stats receives hit, miss and error observations. Default: a new recorder.
	Stats *stats.Recorder

	// Workers runs refresh-ahead and asynchronous invalidation.
	// Default: a pool of 16 that logs recovered panics.
	Workers *resilience.Pool

	// Telemetry wraps compute functions. Default: no-op.
	Telemetry *observe.Middleware

	// Logger defaults to Telemetry's logger.
	Logger observe.Logger

	// Now is the clock used for expiry decisions. Default: time.Now.
	Now func() time.Time
}

// Cache coordinates lookups, population and refresh of cache slots.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Population: at most one synchronous compute per fingerprint at a time;
//     concurrent callers of a cold slot observe the single computed value.
//   - Errors: only synchronous compute failures are returned to callers.
type Cache struct {
	store     Store
	locker    Locker
	policy    Policy
	stats     *stats.Recorder
	workers   *resilience.Pool
	telemetry *observe.Middleware
	metrics   observe.Metrics
	logger    observe.Logger
	now       func() time.Time

	refreshing sync.Map // slot key -> struct{}
}

// New creates a Cache from cfg.
func New(cfg Config) *Cache {
	c := &Cache{
		store:     cfg.Store,
		locker:    cfg.Locker,
		stats:     cfg.Stats,
		workers:   cfg.Workers,
		telemetry: cfg.Telemetry,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
	if c.store == nil {
		c.store = NewMemoryStore()
	}
	if c.locker == nil {
		c.locker = NewLocalLocker(1)
	}
	if cfg.Policy != nil {
		c.policy = *cfg.Policy
	} else {
		c.policy = DefaultPolicy()
	}
	if c.stats == nil {
		c.stats = stats.NewRecorder()
	}
	if c.telemetry == nil {
		c.telemetry = observe.NewMiddleware(nil, nil, c.logger)
	}
	if c.logger == nil {
		c.logger = c.telemetry.Logger()
	}
	c.metrics = c.telemetry.Metrics()
	if c.now == nil {
		c.now = time.Now
	}
	if c.workers == nil {
		logger := c.logger
		c.workers = resilience.NewPool(resilience.PoolConfig{
			MaxConcurrent: 16,
			OnPanic: func(r any) {
				logger.Error(context.Background(), "cache background task panicked", observe.F("panic", fmt.Sprint(r)))
			},
		})
	}
	return c
}

// WorkerMetrics reports the pool running refreshes and asynchronous
// invalidations.
func (c *Cache) WorkerMetrics() resilience.PoolMetrics {
	return c.workers.Metrics()
}

// Store returns the underlying store.
func (c *Cache) Store() Store {
	return c.store
}

// Stats returns the statistics recorder.
func (c *Cache) Stats() *stats.Recorder {
	return c.stats
}

// GetOrCompute returns the live value of call's slot, computing and storing
// it on a miss. With call.Refresh a live value is returned immediately and
// recomputed in the background.
func (c *Cache) GetOrCompute(ctx context.Context, call Call, compute ComputeFunc) ([]byte, error) {
	if c == nil {
		return nil, ErrNilCache
	}
	if err := ValidateKey(call.Fingerprint); err != nil {
		return nil, err
	}
	if call.ID == "" {
		call.ID = call.Fingerprint
	}

	start := time.Now()
	key := call.Fingerprint
	if call.Isolation == IsolationScoped {
		var exit func()
		ctx, exit = EnterIsolation(ctx)
		defer exit()
		token, _ := ScopeFrom(ctx)
		key = ScopedKey(token, call.Fingerprint)
	}
	meta := observe.CallMeta{ID: call.ID, Fingerprint: key, Remark: call.Remark}

	if e, ok := c.store.Get(ctx, key); ok && !e.Expired(c.now()) {
		if call.Refresh {
			c.refreshAhead(ctx, call, key, meta, compute)
		}
		c.recordHit(ctx, call, meta, start)
		return e.Result(), nil
	}

	lctx, unlock, err := c.locker.Lock(ctx, key)
	if err != nil {
		c.metrics.RecordLookup(ctx, meta, observe.OutcomeError, time.Since(start))
		return nil, fmt.Errorf("cache: lock %s: %w", key, err)
	}
	defer unlock()

	if e, ok := c.store.Get(WithConsistentRead(lctx), key); ok && !e.Expired(c.now()) {
		c.recordHit(ctx, call, meta, start)
		return e.Result(), nil
	}

	value, err := c.populate(lctx, call, key, meta, "compute", compute)
	if err != nil {
		c.stats.RecordError(call.ID, call.Fingerprint, call.Args, err)
		c.metrics.RecordLookup(ctx, meta, observe.OutcomeError, time.Since(start))
		return nil, err
	}

	latency := time.Since(start)
	c.stats.RecordMiss(call.ID, call.Fingerprint, latency)
	c.metrics.RecordLookup(ctx, meta, observe.OutcomeMiss, latency)
	return value, nil
}

func (c *Cache) recordHit(ctx context.Context, call Call, meta observe.CallMeta, start time.Time) {
	latency := time.Since(start)
	c.stats.RecordHit(call.ID, call.Fingerprint, latency)
	c.metrics.RecordLookup(ctx, meta, observe.OutcomeHit, latency)
}

// populate runs compute and stores its result. An empty result is stored
// as a marker only when the call allows it. A TTL that resolves to "not
// cached" stores nothing.
func (c *Cache) populate(ctx context.Context, call Call, key string, meta observe.CallMeta, op string, compute ComputeFunc) ([]byte, error) {
	value, err := c.telemetry.Wrap(op, meta, observe.ComputeFunc(compute))(ctx)
	if err != nil {
		return nil, err
	}
	empty := len(value) == 0
	if empty && !call.CacheEmpty {
		return nil, nil
	}

	now := c.now()
	expires, ok := c.policy.ExpiresAt(call.TTL, now)
	if !ok {
		return value, nil
	}

	entry := &Entry{
		Fingerprint: key,
		Value:       value,
		Empty:       empty,
		CreatedAt:   now,
		ExpiresAt:   expires,
		ID:          call.ID,
		Remark:      call.Remark,
		Args:        call.Args,
	}
	if empty {
		entry.Value = nil
	}
	if err := c.store.Put(ctx, entry); err != nil {
		c.logger.Warn(ctx, "cache store failed", append(meta.Fields(), observe.F("error", err))...)
	}
	return entry.Result(), nil
}

// refreshAhead schedules one background recomputation of key. Triggers for
// a key that is already refreshing are dropped.
func (c *Cache) refreshAhead(ctx context.Context, call Call, key string, meta observe.CallMeta, compute ComputeFunc) {
	if _, busy := c.refreshing.LoadOrStore(key, struct{}{}); busy {
		return
	}

	rctx := DetachLocks(context.WithoutCancel(ctx))
	err := c.workers.Go(func() {
		defer c.refreshing.Delete(key)
		err := c.runRefresh(rctx, call, key, meta, compute)
		c.metrics.RecordRefresh(rctx, meta, err)
		if err != nil {
			c.stats.RecordError(call.ID, call.Fingerprint, call.Args, err)
		}
	})
	if err != nil {
		c.refreshing.Delete(key)
		c.logger.Warn(ctx, "cache refresh skipped", append(meta.Fields(), observe.F("error", err))...)
	}
}

func (c *Cache) runRefresh(ctx context.Context, call Call, key string, meta observe.CallMeta, compute ComputeFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cache: refresh panicked: %v", r)
		}
	}()
	_, err = c.populate(ctx, call, key, meta, "refresh", compute)
	return err
}

// Invalidate removes every entry whose ID or fingerprint equals match and
// returns the removed entries.
func (c *Cache) Invalidate(ctx context.Context, match string) ([]*Entry, error) {
	if c == nil {
		return nil, ErrNilCache
	}
	removed, err := c.store.Invalidate(ctx, match)
	if err != nil {
		return nil, fmt.Errorf("cache: invalidate %s: %w", match, err)
	}
	c.logger.Debug(ctx, "cache invalidated", observe.F("match", match), observe.F("removed", len(removed)))
	return removed, nil
}

// InvalidateAsync schedules Invalidate on the worker pool. Failures are
// logged, never returned.
func (c *Cache) InvalidateAsync(ctx context.Context, match string) {
	if c == nil {
		return
	}
	bg := DetachLocks(context.WithoutCancel(ctx))
	err := c.workers.Go(func() {
		if _, err := c.Invalidate(bg, match); err != nil {
			c.logger.Error(bg, "cache async invalidation failed", observe.F("match", match), observe.F("error", err))
		}
	})
	if err != nil {
		c.logger.Warn(ctx, "cache async invalidation dropped", observe.F("match", match), observe.F("error", err))
	}
}

// Wait blocks until scheduled background work has finished.
func (c *Cache) Wait() {
	c.workers.Wait()
}

// Close stops accepting background work and waits for running tasks.
func (c *Cache) Close(ctx context.Context) error {
	return c.workers.Close(ctx)
}

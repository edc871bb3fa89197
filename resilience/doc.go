// Package resilience provides the failure-handling primitives used by the
// cache core and its Redis backend.
//
//   - Pool: a bounded, non-blocking worker pool for background refreshes and
//     invalidations. Task panics are recovered so one bad task never takes
//     the pool down.
//
//   - Retry: retry with constant or exponential backoff. With MaxAttempts
//     unset it retries until the context is done, which is how the
//     distributed lock waits for a lease.
//
//   - Circuit Breaker: stops calling a failing dependency (Redis) after a
//     threshold, then probes it again after a reset timeout.
//
// Usage:
//
//	pool := resilience.NewPool(resilience.PoolConfig{MaxConcurrent: 8})
//	if err := pool.Go(func() { refresh(ctx) }); err != nil {
//	    // pool full; the refresh is skipped
//	}
//
//	retry := resilience.NewRetry(resilience.RetryConfig{
//	    InitialDelay: 5 * time.Millisecond,
//	    MaxDelay:     200 * time.Millisecond,
//	    Jitter:       true,
//	})
//	err := retry.Execute(ctx, tryAcquire)
package resilience

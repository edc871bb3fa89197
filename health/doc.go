// Package health reports whether the cache and its supporting pieces are
// serving.
//
// A Checker returns a Result with one of three statuses. Degraded means the
// cache still answers but something needs attention: a stalled sweeper, a
// saturated refresh pool, an open circuit breaker in front of Redis.
// Unhealthy means a backend cannot be reached.
//
//	agg := health.NewAggregator()
//	agg.Register(health.NewSweeperChecker(sweeper, health.SweeperCheckerConfig{}))
//	agg.Register(health.NewStoreChecker("store", store, 100_000))
//	agg.Register(health.NewPoolChecker(c.WorkerMetrics))
//
//	mux := http.NewServeMux()
//	health.RegisterHandlers(mux, agg)
//
// RegisterHandlers mounts /healthz (liveness), /readyz (ready unless
// unhealthy), /health (JSON report) and /health/{name}.
package health

// Command callcached runs the expiration sweeper and the admin API over the
// Redis store that application processes share, configured from
// CALLCACHE_* environment variables. CALLCACHE_STORE must be "redis": a
// memory store would be private to the daemon and always empty.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/jonwraymond/callcache/admin"
	"github.com/jonwraymond/callcache/cache"
	"github.com/jonwraymond/callcache/cache/redisstore"
	"github.com/jonwraymond/callcache/config"
	"github.com/jonwraymond/callcache/health"
	"github.com/jonwraymond/callcache/observe"
	"github.com/jonwraymond/callcache/resilience"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "callcached:", err)
		os.Exit(1)
	}
}

// errProcessLocalStore is returned when the daemon is configured with the
// in-process memory store.
var errProcessLocalStore = errors.New("callcached: the memory store is process-local; set CALLCACHE_STORE=redis")

// checkStore rejects stores no application process can share with the
// daemon.
func checkStore(cfg config.Config) error {
	if cfg.Store != config.StoreRedis {
		return fmt.Errorf("%w (got %q)", errProcessLocalStore, cfg.Store)
	}
	return nil
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if err := checkStore(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs, err := observe.NewObserver(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("observer: %w", err)
	}
	telemetry, err := observe.MiddlewareFromObserver(obs)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	logger := obs.Logger()

	agg := health.NewAggregator(health.AggregatorConfig{Timeout: 5 * time.Second})
	backend, err := openBackend(cfg, logger, agg)
	if err != nil {
		return err
	}

	workers := resilience.NewPool(resilience.PoolConfig{
		MaxConcurrent: cfg.Cache.Workers,
		OnPanic: func(r any) {
			logger.Error(context.Background(), "background task panicked", observe.F("panic", fmt.Sprint(r)))
		},
	})
	policy := cache.Policy{DefaultTTL: cfg.Cache.DefaultTTL, MaxTTL: cfg.Cache.MaxTTL}
	c := cache.New(cache.Config{
		Store:     backend.store,
		Locker:    backend.locker,
		Policy:    &policy,
		Workers:   workers,
		Telemetry: telemetry,
		Logger:    logger,
	})

	sweeper := cache.NewSweeper(backend.store, cache.SweeperConfig{
		Interval: cfg.Cache.SweepInterval,
		Logger:   logger,
		Metrics:  telemetry.Metrics(),
	})
	agg.Register(health.NewSweeperChecker(sweeper, health.SweeperCheckerConfig{}))
	agg.Register(health.NewStoreChecker("store", backend.store, cfg.Cache.MaxEntries))
	agg.Register(health.NewPoolChecker(c.WorkerMetrics))
	agg.Register(health.NewHeapChecker(0, 0, 0))

	var auth *admin.Authenticator
	if cfg.Auth.JWTSecret != "" || len(cfg.Auth.APIKeys) > 0 {
		auth = admin.NewAuthenticator(admin.AuthConfig{
			JWTSecret: []byte(cfg.Auth.JWTSecret),
			Issuer:    cfg.Auth.Issuer,
			Audience:  cfg.Auth.Audience,
			APIKeys:   cfg.Auth.APIKeys,
		})
	} else {
		logger.Warn(ctx, "admin API authentication disabled")
	}
	api, err := admin.NewHandler(admin.Config{Cache: c, Health: agg, Auth: auth, Logger: logger})
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/", api)
	if cfg.Observe.Metrics.Enabled && cfg.Observe.Metrics.Exporter == "prometheus" {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweeper.Run(sweepCtx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info(ctx, "callcached listening",
			observe.F("addr", cfg.ListenAddr),
			observe.F("store", cfg.Store))
		serveErr <- srv.ListenAndServe()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info(context.Background(), "callcached shutting down")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	stopSweep()
	<-sweepDone
	return errors.Join(
		runErr,
		srv.Shutdown(shutdownCtx),
		c.Close(shutdownCtx),
		backend.close(),
		obs.Shutdown(shutdownCtx),
	)
}

type backend struct {
	store  cache.Store
	locker cache.Locker
	close  func() error
}

func openBackend(cfg config.Config, logger observe.Logger, agg *health.Aggregator) (backend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	var breaker *resilience.CircuitBreaker
	if cfg.Redis.BreakerFailures > 0 {
		breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			MaxFailures: cfg.Redis.BreakerFailures,
			OnStateChange: func(from, to resilience.State) {
				logger.Warn(context.Background(), "redis circuit breaker",
					observe.F("from", from.String()),
					observe.F("to", to.String()))
			},
		})
	}

	store, err := redisstore.New(client, redisstore.Config{
		Namespace: cfg.Redis.Namespace,
		Breaker:   breaker,
		Logger:    logger,
	})
	if err != nil {
		_ = client.Close()
		return backend{}, err
	}
	locker, err := redisstore.NewLocker(client, redisstore.LockerConfig{
		Namespace: cfg.Redis.Namespace,
		Lease:     cfg.Redis.LockLease,
		Shards:    cfg.Cache.LockShards,
		Logger:    logger,
	})
	if err != nil {
		_ = client.Close()
		return backend{}, err
	}
	agg.Register(store)

	return backend{store: store, locker: locker, close: client.Close}, nil
}

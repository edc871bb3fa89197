package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jonwraymond/callcache/observe"
)

// Sentinel errors for configuration.
var (
	ErrMissingEnv      = errors.New("config: missing required environment variables")
	ErrInvalidValue    = errors.New("config: invalid value")
	ErrUnknownStore    = errors.New("config: unknown store")
	ErrMissingRedis    = errors.New("config: redis store requires an address")
	ErrInvalidTTLRange = errors.New("config: default TTL exceeds max TTL")
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config is the daemon configuration.
type Config struct {
	// ListenAddr is where the admin API listens.
	ListenAddr string

	// Store selects the backend: "memory" or "redis".
	Store string

	Redis RedisConfig
	Cache CacheConfig
	Auth  AuthConfig

	// Observe configures logging, tracing and metrics.
	Observe observe.Config

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
}

// RedisConfig configures the Redis store and locker.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	Namespace string

	// LockLease bounds how long a crashed holder blocks others.
	LockLease time.Duration

	// BreakerFailures is how many consecutive failures open the breaker.
	// 0 disables the breaker.
	BreakerFailures int
}

// CacheConfig configures the coordinator and sweeper.
type CacheConfig struct {
	DefaultTTL    time.Duration
	MaxTTL        time.Duration
	LockShards    int
	Workers       int
	SweepInterval time.Duration

	// MaxEntries degrades the store health check beyond this size.
	// 0 disables it.
	MaxEntries int
}

// AuthConfig configures admin API credentials. Leaving both empty
// disables authentication.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
	APIKeys   []string
}

// Default returns the configuration used for unset variables.
func Default() Config {
	return Config{
		ListenAddr: ":8080",
		Store:      StoreMemory,
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			Namespace: "callcache",
			LockLease: 30 * time.Second,
		},
		Cache: CacheConfig{
			DefaultTTL:    5 * time.Minute,
			MaxTTL:        24 * time.Hour,
			LockShards:    1,
			Workers:       16,
			SweepInterval: 500 * time.Millisecond,
		},
		Observe: observe.Config{
			ServiceName: "callcached",
			Tracing:     observe.TracingConfig{Exporter: "none", SamplePct: 1},
			Metrics:     observe.MetricsConfig{Exporter: "none"},
			Logging:     observe.LoggingConfig{Enabled: true, Level: "info"},
		},
		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store {
	case StoreMemory:
	case StoreRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, ErrMissingRedis)
		}
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownStore, c.Store))
	}
	if c.Cache.MaxTTL > 0 && c.Cache.DefaultTTL > c.Cache.MaxTTL {
		errs = append(errs, fmt.Errorf("%w: %s > %s", ErrInvalidTTLRange, c.Cache.DefaultTTL, c.Cache.MaxTTL))
	}
	if c.Cache.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("%w: sweep interval must be positive", ErrInvalidValue))
	}
	if c.Cache.LockShards < 1 {
		errs = append(errs, fmt.Errorf("%w: lock shards must be at least 1", ErrInvalidValue))
	}
	if err := c.Observe.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// FromEnv reads the configuration from CALLCACHE_* variables. Every value
// passes through ExpandEnvStrict, so a variable may reference another,
// e.g. CALLCACHE_REDIS_PASSWORD='${REDIS_PASSWORD}'.
func FromEnv() (Config, error) {
	return fromEnv(os.LookupEnv)
}

func fromEnv(lookup func(string) (string, bool)) (Config, error) {
	c := Default()
	r := reader{lookup: lookup}

	r.str("CALLCACHE_ADDR", &c.ListenAddr)
	r.str("CALLCACHE_STORE", &c.Store)

	r.str("CALLCACHE_REDIS_ADDR", &c.Redis.Addr)
	r.str("CALLCACHE_REDIS_PASSWORD", &c.Redis.Password)
	r.integer("CALLCACHE_REDIS_DB", &c.Redis.DB)
	r.str("CALLCACHE_REDIS_NAMESPACE", &c.Redis.Namespace)
	r.duration("CALLCACHE_REDIS_LOCK_LEASE", &c.Redis.LockLease)
	r.integer("CALLCACHE_REDIS_BREAKER_FAILURES", &c.Redis.BreakerFailures)

	r.duration("CALLCACHE_DEFAULT_TTL", &c.Cache.DefaultTTL)
	r.duration("CALLCACHE_MAX_TTL", &c.Cache.MaxTTL)
	r.integer("CALLCACHE_LOCK_SHARDS", &c.Cache.LockShards)
	r.integer("CALLCACHE_WORKERS", &c.Cache.Workers)
	r.duration("CALLCACHE_SWEEP_INTERVAL", &c.Cache.SweepInterval)
	r.integer("CALLCACHE_MAX_ENTRIES", &c.Cache.MaxEntries)

	r.str("CALLCACHE_JWT_SECRET", &c.Auth.JWTSecret)
	r.str("CALLCACHE_JWT_ISSUER", &c.Auth.Issuer)
	r.str("CALLCACHE_JWT_AUDIENCE", &c.Auth.Audience)
	r.list("CALLCACHE_API_KEYS", &c.Auth.APIKeys)

	r.str("CALLCACHE_SERVICE_NAME", &c.Observe.ServiceName)
	r.str("CALLCACHE_LOG_LEVEL", &c.Observe.Logging.Level)
	r.str("CALLCACHE_TRACING_EXPORTER", &c.Observe.Tracing.Exporter)
	r.decimal("CALLCACHE_TRACING_SAMPLE", &c.Observe.Tracing.SamplePct)
	r.str("CALLCACHE_METRICS_EXPORTER", &c.Observe.Metrics.Exporter)
	c.Observe.Tracing.Enabled = enabled(c.Observe.Tracing.Exporter)
	c.Observe.Metrics.Enabled = enabled(c.Observe.Metrics.Exporter)

	r.duration("CALLCACHE_SHUTDOWN_TIMEOUT", &c.ShutdownTimeout)

	if err := errors.Join(r.errs...); err != nil {
		return c, err
	}
	return c, c.Validate()
}

func enabled(exporter string) bool {
	return exporter != "" && exporter != "none"
}

type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) get(key string) (string, bool) {
	raw, ok := r.lookup(key)
	if !ok {
		return "", false
	}
	v, err := expandEnvStrict(raw, r.lookup)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (r *reader) str(key string, dst *string) {
	if v, ok := r.get(key); ok {
		*dst = v
	}
}

func (r *reader) list(key string, dst *[]string) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

func (r *reader) integer(key string, dst *int) {
	v, ok := r.get(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, v))
		return
	}
	*dst = n
}

func (r *reader) decimal(key string, dst *float64) {
	v, ok := r.get(key)
	if !ok || v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, v))
		return
	}
	*dst = f
}

func (r *reader) duration(key string, dst *time.Duration) {
	v, ok := r.get(key)
	if !ok || v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, v))
		return
	}
	*dst = d
}

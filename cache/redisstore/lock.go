package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jonwraymond/callcache/cache"
	"github.com/jonwraymond/callcache/observe"
	"github.com/jonwraymond/callcache/resilience"
)

// Sentinel errors for the Redis locker.
var (
	// ErrLockBusy is returned by a single acquisition attempt while another
	// holder owns the lease.
	ErrLockBusy = errors.New("redisstore: lock held by another holder")

	// ErrLockOrder is returned when a nested Lock needs a lower shard than
	// one its call path holds and the shard stayed busy for OrderWait.
	ErrLockOrder = errors.New("redisstore: lower lock shard stayed busy")
)

// LockerConfig configures a Locker.
type LockerConfig struct {
	// Namespace prefixes the lock keys. Default: DefaultNamespace.
	Namespace string

	// Lease bounds how long a crashed holder blocks others.
	// Default: 30s
	Lease time.Duration

	// Shards buckets fingerprints over this many lock keys.
	// Default: 1 (one lock for the namespace)
	Shards int

	// Retry paces acquisition attempts. Attempts never run out; only ctx
	// stops them. Default: 5ms doubling to 200ms with jitter.
	Retry resilience.RetryConfig

	// OrderWait bounds how long a call path holding a shard waits for a
	// lower one. Shards are otherwise taken in ascending order, so two
	// paths nesting in opposite directions cannot wait on each other
	// forever. Default: 2s
	OrderWait time.Duration

	// ReleaseTimeout bounds the release call. Default: 5s
	ReleaseTimeout time.Duration

	// Logger receives release failures.
	Logger observe.Logger
}

// Locker is a cache.Locker backed by reentrant leases in Redis.
// A lock key is a hash holding the holder tag and a reentry count.
type Locker struct {
	client         redis.UniversalClient
	prefix         string
	lease          time.Duration
	shards         int
	retry          *resilience.Retry
	orderWait      time.Duration
	releaseTimeout time.Duration
	logger         observe.Logger
}

// NewLocker creates a Locker on client.
func NewLocker(client redis.UniversalClient, cfg LockerConfig) (*Locker, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 30 * time.Second
	}
	if cfg.Shards <= 0 {
		cfg.Shards = 1
	}
	if cfg.Retry.InitialDelay <= 0 {
		cfg.Retry.InitialDelay = 5 * time.Millisecond
	}
	if cfg.Retry.MaxDelay <= 0 {
		cfg.Retry.MaxDelay = 200 * time.Millisecond
		cfg.Retry.Jitter = true
	}
	cfg.Retry.MaxAttempts = 0
	if cfg.OrderWait <= 0 {
		cfg.OrderWait = 2 * time.Second
	}
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}
	return &Locker{
		client:         client,
		prefix:         "{" + cfg.Namespace + "}:lock",
		lease:          cfg.Lease,
		shards:         cfg.Shards,
		retry:          resilience.NewRetry(cfg.Retry),
		orderWait:      cfg.OrderWait,
		releaseTimeout: cfg.ReleaseTimeout,
		logger:         cfg.Logger,
	}, nil
}

var acquireScript = redis.NewScript(`
local holder = redis.call('HGET', KEYS[1], 'holder')
if not holder then
	redis.call('HSET', KEYS[1], 'holder', ARGV[1], 'count', 1)
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	return 1
end
if holder == ARGV[1] then
	redis.call('HINCRBY', KEYS[1], 'count', 1)
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'holder') ~= ARGV[1] then
	return 0
end
if redis.call('HINCRBY', KEYS[1], 'count', -1) <= 0 then
	redis.call('DEL', KEYS[1])
end
return 1
`)

// leases is the chain of shards one holder has acquired along a call path.
type leases struct {
	locker *Locker
	holder string
	shard  int
	parent *leases
}

type leasesKey struct{}

// Key returns the lock key guarding fingerprint.
func (l *Locker) Key(fingerprint string) string {
	return l.key(l.shard(fingerprint))
}

func (l *Locker) shard(fingerprint string) int {
	if l.shards == 1 {
		return 0
	}
	return int(xxhash.Sum64String(fingerprint) % uint64(l.shards))
}

func (l *Locker) key(shard int) string {
	if l.shards == 1 {
		return l.prefix
	}
	return l.prefix + ":" + strconv.Itoa(shard)
}

// Lock acquires the lease guarding fingerprint, retrying until it is free
// or ctx is done. The holder tag travels in the returned context, so a
// nested Lock on the same call path re-enters instead of waiting.
// A nested Lock on a lower shard than the path already holds gives up
// with ErrLockOrder after OrderWait.
// The unlock func releases with a fresh context so a cancelled caller
// still gives the lease back.
func (l *Locker) Lock(ctx context.Context, fingerprint string) (context.Context, func(), error) {
	shard := l.shard(fingerprint)
	highest := -1
	holder, ok := cache.LockHolder(ctx)
	if ok {
		chain, _ := ctx.Value(leasesKey{}).(*leases)
		for c := chain; c != nil; c = c.parent {
			if c.locker == l && c.holder == holder && c.shard > highest {
				highest = c.shard
			}
		}
	} else {
		holder = uuid.NewString()
		ctx = cache.WithLockHolder(ctx, holder)
	}
	key := l.key(shard)

	actx := ctx
	if shard < highest {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, l.orderWait)
		defer cancel()
	}
	err := l.retry.Execute(actx, func(ctx context.Context) error {
		return l.tryAcquire(ctx, key, holder)
	})
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			err = ErrLockOrder
		}
		return ctx, func() {}, fmt.Errorf("redisstore: acquire %s: %w", key, err)
	}

	parent, _ := ctx.Value(leasesKey{}).(*leases)
	ctx = context.WithValue(ctx, leasesKey{}, &leases{locker: l, holder: holder, shard: shard, parent: parent})
	unlock := func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.releaseTimeout)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{key}, holder).Err(); err != nil {
			l.logger.Error(rctx, "redis lock release failed", observe.F("lock", key), observe.F("error", err))
		}
	}
	return ctx, unlock, nil
}

func (l *Locker) tryAcquire(ctx context.Context, key, holder string) error {
	n, err := acquireScript.Run(ctx, l.client, []string{key}, holder, l.lease.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrLockBusy
	}
	return nil
}

// Ensure Locker implements cache.Locker
var _ cache.Locker = (*Locker)(nil)

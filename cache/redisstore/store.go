package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/callcache/cache"
	"github.com/jonwraymond/callcache/health"
	"github.com/jonwraymond/callcache/observe"
	"github.com/jonwraymond/callcache/resilience"
)

// DefaultNamespace prefixes every key when Config.Namespace is empty.
const DefaultNamespace = "callcache"

// Sentinel errors for the Redis store.
var (
	ErrNilClient = errors.New("redisstore: client is nil")
	ErrEncode    = errors.New("redisstore: encode entry")
	ErrDecode    = errors.New("redisstore: decode entry")
)

// Config configures a Store.
type Config struct {
	// Namespace prefixes the keys. Default: DefaultNamespace.
	Namespace string

	// Codec serializes entries. Default: JSONCodec.
	Codec Codec

	// Breaker, when set, guards every Redis call. While it is open Get
	// misses and Put drops the entry.
	Breaker *resilience.CircuitBreaker

	// Logger receives absorbed failures.
	Logger observe.Logger
}

// Store is a cache.Store kept in Redis.
//
// Layout:
//   - {ns}:entries  hash, field = fingerprint, value = encoded entry
//   - {ns}:expiry   sorted set, member = fingerprint, score = expiry in unix millis
//
// The braces keep both keys in one cluster slot so scripts may touch both.
type Store struct {
	client     redis.UniversalClient
	entriesKey string
	expiryKey  string
	codec      Codec
	breaker    *resilience.CircuitBreaker
	logger     observe.Logger
	group      singleflight.Group
}

// New creates a Store on client.
func New(client redis.UniversalClient, cfg Config) (*Store, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.Codec == nil {
		cfg.Codec = JSONCodec{}
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}
	prefix := "{" + cfg.Namespace + "}"
	return &Store{
		client:     client,
		entriesKey: prefix + ":entries",
		expiryKey:  prefix + ":expiry",
		codec:      cfg.Codec,
		breaker:    cfg.Breaker,
		logger:     cfg.Logger,
	}, nil
}

// Keys returns the entries hash and expiry sorted-set keys.
func (s *Store) Keys() (entries, expiry string) {
	return s.entriesKey, s.expiryKey
}

func (s *Store) do(ctx context.Context, op func(context.Context) error) error {
	if s.breaker == nil {
		return op(ctx)
	}
	return s.breaker.Execute(ctx, op)
}

// Get reads fingerprint. Concurrent reads of one fingerprint share a
// single round trip, except reads made with a cache.ConsistentRead
// context: those always go to Redis, since a shared read may have started
// before the latest Put. Backend and decode failures are misses.
func (s *Store) Get(ctx context.Context, fingerprint string) (*cache.Entry, bool) {
	var blob []byte
	var err error
	if cache.ConsistentRead(ctx) {
		blob, err = s.read(ctx, fingerprint)
	} else {
		var v any
		v, err, _ = s.group.Do(fingerprint, func() (any, error) {
			return s.read(ctx, fingerprint)
		})
		blob, _ = v.([]byte)
	}
	if err != nil {
		s.logger.Warn(ctx, "redis cache read failed", observe.F("cache.fingerprint", fingerprint), observe.F("error", err))
		return nil, false
	}
	if blob == nil {
		return nil, false
	}
	e, err := s.codec.Decode(blob)
	if err != nil {
		s.logger.Warn(ctx, "redis cache entry undecodable", observe.F("cache.fingerprint", fingerprint), observe.F("error", err))
		return nil, false
	}
	return e, true
}

func (s *Store) read(ctx context.Context, fingerprint string) ([]byte, error) {
	var blob []byte
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		blob, err = s.client.HGet(ctx, s.entriesKey, fingerprint).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	})
	return blob, err
}

// Put writes the entry and its index membership in one transaction.
// While the breaker is open the entry is dropped.
func (s *Store) Put(ctx context.Context, entry *cache.Entry) error {
	if entry == nil {
		return cache.ErrNilEntry
	}
	if err := cache.ValidateKey(entry.Fingerprint); err != nil {
		return err
	}
	blob, err := s.codec.Encode(entry)
	if err != nil {
		return err
	}

	err = s.do(ctx, func(ctx context.Context) error {
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.entriesKey, entry.Fingerprint, blob)
			if entry.Never() {
				pipe.ZRem(ctx, s.expiryKey, entry.Fingerprint)
			} else {
				pipe.ZAdd(ctx, s.expiryKey, redis.Z{Score: float64(expiryScore(entry.ExpiresAt)), Member: entry.Fingerprint})
			}
			return nil
		})
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		s.logger.Warn(ctx, "redis cache write dropped", observe.F("cache.fingerprint", entry.Fingerprint), observe.F("error", err))
		return nil
	}
	if err != nil {
		return fmt.Errorf("redisstore: put %s: %w", entry.Fingerprint, err)
	}
	return nil
}

// removeIfSame deletes a field only while it still holds the blob the
// caller read, so a concurrent replacement is never reported as removed.
var removeIfSame = redis.NewScript(`
if redis.call('HGET', KEYS[1], ARGV[1]) == ARGV[2] then
	redis.call('HDEL', KEYS[1], ARGV[1])
	redis.call('ZREM', KEYS[2], ARGV[1])
	return 1
end
return 0
`)

// removeIfExpired deletes a field whose index score is at or before ARGV[2].
// An index member without an entry is pruned and reported as not removed.
var removeIfExpired = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[2], ARGV[1])
if not score or tonumber(score) > tonumber(ARGV[2]) then
	return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
return redis.call('HDEL', KEYS[1], ARGV[1])
`)

// Invalidate removes entries whose ID or fingerprint equals match.
// Entries that cannot be decoded are skipped.
func (s *Store) Invalidate(ctx context.Context, match string) ([]*cache.Entry, error) {
	var all map[string]string
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		all, err = s.client.HGetAll(ctx, s.entriesKey).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("redisstore: invalidate %s: %w", match, err)
	}

	var removed []*cache.Entry
	keys := []string{s.entriesKey, s.expiryKey}
	for fp, blob := range all {
		e, err := s.codec.Decode([]byte(blob))
		if err != nil {
			if fp != match {
				continue
			}
			e = &cache.Entry{Fingerprint: fp}
		}
		if fp != match && e.ID != match {
			continue
		}
		var n int64
		err = s.do(ctx, func(ctx context.Context) error {
			var err error
			n, err = removeIfSame.Run(ctx, s.client, keys, fp, blob).Int64()
			return err
		})
		if err != nil {
			return removed, fmt.Errorf("redisstore: invalidate %s: %w", fp, err)
		}
		if n == 1 {
			removed = append(removed, e)
		}
	}
	return removed, nil
}

// Entries returns every decodable entry.
func (s *Store) Entries(ctx context.Context) ([]*cache.Entry, error) {
	var all map[string]string
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		all, err = s.client.HGetAll(ctx, s.entriesKey).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("redisstore: entries: %w", err)
	}
	out := make([]*cache.Entry, 0, len(all))
	for fp, blob := range all {
		e, err := s.codec.Decode([]byte(blob))
		if err != nil {
			s.logger.Debug(ctx, "redis cache entry undecodable", observe.F("cache.fingerprint", fp), observe.F("error", err))
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Due returns fingerprints scored at or before now, earliest first.
func (s *Store) Due(ctx context.Context, now time.Time) ([]string, error) {
	var due []string
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		due, err = s.client.ZRangeByScore(ctx, s.expiryKey, &redis.ZRangeBy{
			Min: "-inf",
			Max: strconv.FormatInt(now.UnixMilli(), 10),
		}).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("redisstore: due: %w", err)
	}
	return due, nil
}

// RemoveIfExpired removes fingerprint if its indexed expiry is at or before now.
func (s *Store) RemoveIfExpired(ctx context.Context, fingerprint string, now time.Time) (bool, error) {
	var n int64
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		n, err = removeIfExpired.Run(ctx, s.client, []string{s.entriesKey, s.expiryKey},
			fingerprint, now.UnixMilli()).Int64()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("redisstore: remove %s: %w", fingerprint, err)
	}
	return n == 1, nil
}

// Len returns the number of stored entries.
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int64
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.client.HLen(ctx, s.entriesKey).Result()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("redisstore: len: %w", err)
	}
	return int(n), nil
}

// Name implements health.Checker.
func (s *Store) Name() string {
	return "redis"
}

// Check implements health.Checker by pinging the server.
func (s *Store) Check(ctx context.Context) health.Result {
	if s.breaker != nil && s.breaker.State() == resilience.StateOpen {
		return health.Degraded("circuit breaker open")
	}
	start := time.Now()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return health.Unhealthy("redis unreachable", err)
	}
	n, _ := s.client.HLen(ctx, s.entriesKey).Result()
	return health.Healthy("redis reachable").
		WithDuration(time.Since(start)).
		WithDetails(map[string]any{"entries": n})
}

// expiryScore rounds up to whole milliseconds so a score at or before now
// always means the entry has expired.
func expiryScore(t time.Time) int64 {
	ms := t.UnixMilli()
	if t.After(time.UnixMilli(ms)) {
		ms++
	}
	return ms
}

// Ensure Store implements cache.Store and health.Checker
var (
	_ cache.Store    = (*Store)(nil)
	_ health.Checker = (*Store)(nil)
)

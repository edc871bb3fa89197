package cache

import (
	"math/rand/v2"
	"time"
)

// Capital is the calendar unit an expiry is rounded up to.
type Capital int

const (
	CapitalNone Capital = iota
	CapitalSecond
	CapitalMinute
	CapitalHour
	CapitalDay
	CapitalMonth
	CapitalYear
)

// String returns the unit name.
func (c Capital) String() string {
	switch c {
	case CapitalSecond:
		return "second"
	case CapitalMinute:
		return "minute"
	case CapitalHour:
		return "hour"
	case CapitalDay:
		return "day"
	case CapitalMonth:
		return "month"
	case CapitalYear:
		return "year"
	default:
		return "none"
	}
}

// next returns the start of the unit following the one containing t.
func (c Capital) next(t time.Time) time.Time {
	y, mo, d := t.Date()
	h, mi, s := t.Clock()
	loc := t.Location()
	switch c {
	case CapitalSecond:
		return time.Date(y, mo, d, h, mi, s+1, 0, loc)
	case CapitalMinute:
		return time.Date(y, mo, d, h, mi+1, 0, 0, loc)
	case CapitalHour:
		return time.Date(y, mo, d, h+1, 0, 0, 0, loc)
	case CapitalDay:
		return time.Date(y, mo, d+1, 0, 0, 0, 0, loc)
	case CapitalMonth:
		return time.Date(y, mo+1, 1, 0, 0, 0, 0, loc)
	case CapitalYear:
		return time.Date(y+1, 1, 1, 0, 0, 0, 0, loc)
	default:
		return t
	}
}

// TTL describes how long a computed value stays cached.
type TTL struct {
	// Base is added to the start instant. Zero without a Capital falls back
	// to Policy.DefaultTTL.
	Base time.Duration

	// Never stores the value without expiry. Other fields are ignored.
	Never bool

	// Capital moves the start instant to the beginning of the next unit.
	Capital Capital

	// Grace adds a random jitter in [0, Grace) so entries created together
	// do not expire together.
	Grace time.Duration
}

// Policy configures caching behavior.
type Policy struct {
	// DefaultTTL is the TTL to use when none is specified.
	// If zero, such calls are computed but not cached.
	DefaultTTL time.Duration

	// MaxTTL is the maximum allowed base TTL. Larger values are clamped.
	// If zero, no maximum is enforced.
	MaxTTL time.Duration

	// AllowUnsafe permits caching methods with unsafe tags (write, danger, etc.)
	AllowUnsafe bool
}

// DefaultPolicy returns the default caching policy.
// DefaultTTL: 5 minutes, MaxTTL: 24 hours, AllowUnsafe: false
func DefaultPolicy() Policy {
	return Policy{
		DefaultTTL:  5 * time.Minute,
		MaxTTL:      24 * time.Hour,
		AllowUnsafe: false,
	}
}

// NoCachePolicy returns a policy that caches nothing without an explicit TTL.
func NoCachePolicy() Policy {
	return Policy{}
}

// EffectiveTTL returns the base duration to use, applying defaults and clamping.
func (p Policy) EffectiveTTL(override time.Duration) time.Duration {
	ttl := override
	if ttl <= 0 {
		ttl = p.DefaultTTL
	}
	if p.MaxTTL > 0 && ttl > p.MaxTTL {
		ttl = p.MaxTTL
	}
	return ttl
}

// ExpiresAt resolves ttl against now. It returns the zero time for a
// never-expiring value, and false when the value must not be cached.
// A finite expiry is always strictly after now.
func (p Policy) ExpiresAt(ttl TTL, now time.Time) (time.Time, bool) {
	if ttl.Never {
		return time.Time{}, true
	}

	base := ttl.Base
	if ttl.Capital == CapitalNone {
		base = p.EffectiveTTL(base)
		if base <= 0 {
			return time.Time{}, false
		}
	} else if base < 0 {
		base = 0
	} else if p.MaxTTL > 0 && base > p.MaxTTL {
		base = p.MaxTTL
	}

	start := ttl.Capital.next(now)
	expires := start.Add(base + jitter(ttl.Grace))
	if !expires.After(now) {
		expires = now.Add(time.Millisecond)
	}
	return expires, true
}

func jitter(grace time.Duration) time.Duration {
	if grace <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(grace)))
}

package cache

import (
	"context"
	"strings"

	"github.com/jonwraymond/callcache/observe"
)

// Method identifies an intercepted call.
type Method struct {
	Type string   // declaring type, used for isolation policy lookup
	Name string   // method name
	Args any      // call arguments, canonicalized into the fingerprint
	Tags []string // optional tags checked by the skip rule
}

// Signature returns "Type.Name".
func (m Method) Signature() string {
	if m.Type == "" {
		return m.Name
	}
	return m.Type + "." + m.Name
}

// Annotation is the caching declaration attached to a method.
type Annotation struct {
	TTL        TTL
	Refresh    bool
	ID         string // defaults to DefaultID(signature)
	Remark     string
	CacheEmpty bool

	// Clear runs the method uncached and, on success, invalidates ID
	// in the background.
	Clear bool
}

// InvokeFunc performs the intercepted call.
type InvokeFunc func(ctx context.Context) ([]byte, error)

// SkipRule determines whether to bypass caching for a method.
// Returns true if caching should be skipped.
type SkipRule func(m Method) bool

// UnsafeTags are tags that indicate a method has side effects and should not be cached.
var UnsafeTags = []string{"write", "danger", "unsafe", "mutation", "delete"}

// DefaultSkipRule skips caching for methods with unsafe tags.
// Tag matching is case-insensitive.
func DefaultSkipRule(m Method) bool {
	for _, tag := range m.Tags {
		tagLower := strings.ToLower(tag)
		for _, unsafe := range UnsafeTags {
			if tagLower == unsafe {
				return true
			}
		}
	}
	return false
}

// Interceptor turns annotated method calls into cache operations.
type Interceptor struct {
	cache    *Cache
	keyer    Keyer
	policies *IsolationPolicies
	skipRule SkipRule
	allow    bool
	logger   observe.Logger
}

// NewInterceptor creates an interceptor over c.
// If keyer is nil, DefaultKeyer is used. If skipRule is nil, DefaultSkipRule is used.
func NewInterceptor(c *Cache, keyer Keyer, policies *IsolationPolicies, skipRule SkipRule) *Interceptor {
	if keyer == nil {
		keyer = NewDefaultKeyer()
	}
	if skipRule == nil {
		skipRule = DefaultSkipRule
	}
	return &Interceptor{
		cache:    c,
		keyer:    keyer,
		policies: policies,
		skipRule: skipRule,
		allow:    c.policy.AllowUnsafe,
		logger:   c.logger,
	}
}

// Execute runs invoke through the cache according to a.
// Errors from invoke are returned and never cached.
func (i *Interceptor) Execute(ctx context.Context, m Method, a Annotation, invoke InvokeFunc) ([]byte, error) {
	sig := m.Signature()
	id := a.ID
	if id == "" {
		id = DefaultID(sig)
	}

	if a.Clear {
		result, err := invoke(ctx)
		if err == nil {
			i.cache.InvalidateAsync(ctx, id)
		}
		return result, err
	}

	if !i.allow && i.skipRule(m) {
		return invoke(ctx)
	}

	key, err := i.keyer.Key(sig, m.Args)
	if err != nil {
		// Key generation failed - execute without caching
		i.logger.Warn(ctx, "cache key generation failed", observe.F("method", sig), observe.F("error", err))
		return invoke(ctx)
	}

	call := Call{
		Fingerprint: key,
		ID:          id,
		Remark:      a.Remark,
		Args:        argsRepr(m.Args),
		TTL:         a.TTL,
		Refresh:     a.Refresh,
		CacheEmpty:  a.CacheEmpty,
		Isolation:   i.policies.Lookup(m.Type),
	}
	return i.cache.GetOrCompute(ctx, call, ComputeFunc(invoke))
}

func argsRepr(args any) string {
	b, err := canonicalArgs(args)
	if err != nil {
		return ""
	}
	return string(b)
}

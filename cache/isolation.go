package cache

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Isolation selects whether a call's key is namespaced by the active scope.
type Isolation int

const (
	// IsolationNone shares the global namespace.
	IsolationNone Isolation = iota
	// IsolationScoped namespaces keys by the isolation scope of the call path.
	IsolationScoped
)

// String returns the policy name.
func (i Isolation) String() string {
	if i == IsolationScoped {
		return "scoped"
	}
	return "none"
}

type scopeKey struct{}

type scope struct {
	token  string
	closed atomic.Bool
}

// EnterIsolation opens an isolation scope on ctx unless one is already
// active. Only the call that opened the scope closes it: nested callers get
// a no-op exit.
//
// The scope lives in ctx. Work that hops to another goroutine stays in the
// scope only if it is handed the derived context.
func EnterIsolation(ctx context.Context) (context.Context, func()) {
	if _, ok := ScopeFrom(ctx); ok {
		return ctx, func() {}
	}
	s := &scope{token: uuid.NewString()}
	return context.WithValue(ctx, scopeKey{}, s), func() { s.closed.Store(true) }
}

// ScopeFrom returns the token of the open isolation scope carried by ctx.
func ScopeFrom(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(scopeKey{}).(*scope)
	if !ok || s.closed.Load() {
		return "", false
	}
	return s.token, true
}

// ScopedKey returns fingerprint namespaced by token.
func ScopedKey(token, fingerprint string) string {
	return "iso:" + token + ":" + fingerprint
}

// IsolationPolicies maps a declaring type to its isolation policy.
// Types without an entry use IsolationNone.
type IsolationPolicies struct {
	mu       sync.RWMutex
	policies map[string]Isolation
}

// NewIsolationPolicies creates an empty registry.
func NewIsolationPolicies() *IsolationPolicies {
	return &IsolationPolicies{policies: make(map[string]Isolation)}
}

// Set records the policy of typ. A type's policy is decided once;
// setting a different one later returns ErrPolicyConflict.
func (p *IsolationPolicies) Set(typ string, iso Isolation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.policies[typ]; ok && cur != iso {
		return ErrPolicyConflict
	}
	p.policies[typ] = iso
	return nil
}

// Lookup returns the policy of typ. Safe on a nil registry.
func (p *IsolationPolicies) Lookup(typ string) Isolation {
	if p == nil {
		return IsolationNone
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.policies[typ]
}

package cache

import (
	"context"
	"errors"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// ErrLockCycle is returned when waiting for a shard would leave two call
// paths each waiting on a shard the other holds.
var ErrLockCycle = errors.New("cache: lock wait would deadlock")

// Locker is the coordination lock serializing population of a fingerprint.
//
// Contract:
//   - Reentrancy: a context returned by Lock carries the held lock; locking
//     the same lock again with it (or a context derived from it) does not block.
//   - Exclusion: two call paths never hold the lock of one fingerprint at
//     the same time, nested or not.
//   - Release: the returned unlock func must be called exactly once.
//   - Context: Lock returns ctx.Err() if ctx is done before acquisition.
type Locker interface {
	Lock(ctx context.Context, fingerprint string) (context.Context, func(), error)
}

type heldKey struct{}

type holderKey struct{}

type consistentKey struct{}

// held is an immutable chain of shards held along one call path.
type held struct {
	locker *LocalLocker
	path   *lockPath
	shard  int
	parent *held
}

// lockPath identifies one call path to a LocalLocker. waiting is the shard
// the path is blocked on, or -1. Guarded by the locker's mutex.
type lockPath struct {
	waiting int
}

// WithLockHolder tags ctx with the holder identity used by distributed
// lockers for reentrancy.
func WithLockHolder(ctx context.Context, holder string) context.Context {
	return context.WithValue(ctx, holderKey{}, holder)
}

// LockHolder returns the holder identity carried by ctx, if any.
func LockHolder(ctx context.Context) (string, bool) {
	h, ok := ctx.Value(holderKey{}).(string)
	return h, ok && h != ""
}

// DetachLocks returns a context that carries none of ctx's held locks.
// Work handed to another goroutine must not inherit them.
func DetachLocks(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, heldKey{}, (*held)(nil))
	return context.WithValue(ctx, holderKey{}, "")
}

// WithConsistentRead marks ctx for a Store.Get that must not share its
// result with reads started earlier.
func WithConsistentRead(ctx context.Context) context.Context {
	return context.WithValue(ctx, consistentKey{}, true)
}

// ConsistentRead reports whether ctx was marked by WithConsistentRead.
func ConsistentRead(ctx context.Context) bool {
	v, _ := ctx.Value(consistentKey{}).(bool)
	return v
}

// LocalLocker is an in-process Locker. With one shard every population is
// serialized by a single global lock; more shards bucket fingerprints by hash.
//
// A nested Lock on a shard the call path already holds re-enters. A nested
// Lock on another shard acquires it too, so the fingerprint stays excluded
// from every other path. When that wait would close a cycle between paths
// Lock returns ErrLockCycle instead of blocking.
type LocalLocker struct {
	mu       sync.Mutex
	owner    []*lockPath
	released []chan struct{}
}

// NewLocalLocker creates a locker with n shards. n <= 0 means one shard.
func NewLocalLocker(n int) *LocalLocker {
	if n <= 0 {
		n = 1
	}
	l := &LocalLocker{
		owner:    make([]*lockPath, n),
		released: make([]chan struct{}, n),
	}
	for i := range l.released {
		l.released[i] = make(chan struct{})
	}
	return l
}

// Shards returns the number of lock shards.
func (l *LocalLocker) Shards() int {
	return len(l.owner)
}

func (l *LocalLocker) shard(fingerprint string) int {
	if len(l.owner) == 1 {
		return 0
	}
	return int(xxhash.Sum64String(fingerprint) % uint64(len(l.owner)))
}

// Lock acquires the shard of fingerprint.
func (l *LocalLocker) Lock(ctx context.Context, fingerprint string) (context.Context, func(), error) {
	i := l.shard(fingerprint)
	chain, _ := ctx.Value(heldKey{}).(*held)
	var path *lockPath
	for h := chain; h != nil; h = h.parent {
		if h.locker != l {
			continue
		}
		if h.shard == i {
			return ctx, func() {}, nil
		}
		path = h.path
	}
	if path == nil {
		path = &lockPath{waiting: -1}
	}

	for {
		l.mu.Lock()
		path.waiting = -1
		if l.owner[i] == nil {
			l.owner[i] = path
			l.mu.Unlock()
			break
		}
		if l.closesCycle(path, i) {
			l.mu.Unlock()
			return ctx, func() {}, ErrLockCycle
		}
		path.waiting = i
		released := l.released[i]
		l.mu.Unlock()

		select {
		case <-released:
		case <-ctx.Done():
			l.mu.Lock()
			path.waiting = -1
			l.mu.Unlock()
			return ctx, func() {}, ctx.Err()
		}
	}

	ctx = context.WithValue(ctx, heldKey{}, &held{locker: l, path: path, shard: i, parent: chain})
	return ctx, func() { l.release(i) }, nil
}

// closesCycle follows the wait chain starting at the owner of shard and
// reports whether it leads back to path. Called with l.mu held.
func (l *LocalLocker) closesCycle(path *lockPath, shard int) bool {
	q := l.owner[shard]
	if q == path {
		// A sibling goroutine of this path holds it; it will let go.
		return false
	}
	for range len(l.owner) {
		if q == nil || q.waiting < 0 {
			return false
		}
		q = l.owner[q.waiting]
		if q == path {
			return true
		}
	}
	return false
}

func (l *LocalLocker) release(shard int) {
	l.mu.Lock()
	l.owner[shard] = nil
	close(l.released[shard])
	l.released[shard] = make(chan struct{})
	l.mu.Unlock()
}

// Ensure LocalLocker implements Locker
var _ Locker = (*LocalLocker)(nil)

package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// distinctShards returns two fingerprints that l buckets into different
// shards, the first on the lower one.
func distinctShards(t *testing.T, l *LocalLocker) (string, string) {
	t.Helper()
	a := "outer"
	for i := 0; i < 1000; i++ {
		b := fmt.Sprintf("inner-%d", i)
		if l.shard(b) > l.shard(a) {
			return a, b
		}
		if l.shard(b) < l.shard(a) {
			return b, a
		}
	}
	t.Fatal("no fingerprint on another shard")
	return "", ""
}

func waitingOn(ctx context.Context, l *LocalLocker) int {
	h, _ := ctx.Value(heldKey{}).(*held)
	l.mu.Lock()
	defer l.mu.Unlock()
	return h.path.waiting
}

func TestLocalLocker_NestedLockOnOtherShardExcludes(t *testing.T) {
	l := NewLocalLocker(8)
	a, b := distinctShards(t, l)

	ctx1, unlock1, err := l.Lock(context.Background(), a)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	ctx2, unlock2, err := l.Lock(ctx1, b)
	if err != nil {
		t.Fatalf("nested Lock failed: %v", err)
	}

	busy, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, _, err := l.Lock(busy, b); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("another path took a shard held by a nested lock: %v", err)
	}

	_, unlock3, err := l.Lock(ctx2, b)
	if err != nil {
		t.Fatalf("re-entering the nested shard failed: %v", err)
	}
	unlock3()
	unlock2()
	unlock1()

	for _, fp := range []string{a, b} {
		_, unlock, err := l.Lock(context.Background(), fp)
		if err != nil {
			t.Fatalf("Lock(%s) after release failed: %v", fp, err)
		}
		unlock()
	}
}

func TestLocalLocker_OppositeNestingReportsCycle(t *testing.T) {
	l := NewLocalLocker(8)
	a, b := distinctShards(t, l)

	ctxA, unlockA, err := l.Lock(context.Background(), a)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	defer unlockA()
	ctxB, unlockB, err := l.Lock(context.Background(), b)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	errA := make(chan error, 1)
	go func() {
		_, unlock, err := l.Lock(ctxA, b)
		if err == nil {
			unlock()
		}
		errA <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for waitingOn(ctxA, l) != l.shard(b) {
		if time.Now().After(deadline) {
			t.Fatal("first path never waited on the second shard")
		}
		time.Sleep(time.Millisecond)
	}

	if _, _, err := l.Lock(ctxB, a); !errors.Is(err, ErrLockCycle) {
		t.Fatalf("expected ErrLockCycle, got %v", err)
	}
	unlockB()

	select {
	case err := <-errA:
		if err != nil {
			t.Fatalf("first path should get the shard once released: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first path still blocked after release")
	}
}

func TestLocalLocker_SiblingsOfOnePathWait(t *testing.T) {
	l := NewLocalLocker(8)
	a, b := distinctShards(t, l)

	ctx, unlock, err := l.Lock(context.Background(), a)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	defer unlock()
	_, unlockFirst, err := l.Lock(ctx, b)
	if err != nil {
		t.Fatalf("nested Lock failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, unlockSecond, err := l.Lock(ctx, b)
		if err == nil {
			unlockSecond()
		}
		done <- err
	}()
	select {
	case err := <-done:
		t.Fatalf("sibling acquired a held shard: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	unlockFirst()
	if err := <-done; err != nil {
		t.Fatalf("sibling Lock failed: %v", err)
	}
}

func TestConsistentRead(t *testing.T) {
	ctx := context.Background()
	if ConsistentRead(ctx) {
		t.Fatal("plain context marked consistent")
	}
	if !ConsistentRead(WithConsistentRead(ctx)) {
		t.Fatal("WithConsistentRead not visible")
	}
}

package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// mockInvoker tracks calls and returns configured results
type mockInvoker struct {
	calls  atomic.Int32
	result []byte
	err    error
}

func (m *mockInvoker) invoke(context.Context) ([]byte, error) {
	m.calls.Add(1)
	return m.result, m.err
}

func findUser(name string) Method {
	return Method{Type: "UserService", Name: "Find", Args: []any{name}}
}

func TestInterceptor_CacheHit(t *testing.T) {
	c := New(Config{})
	ic := NewInterceptor(c, nil, nil, nil)
	inv := &mockInvoker{result: []byte(`{"name":"alice"}`)}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := ic.Execute(ctx, findUser("alice"), Annotation{}, inv.invoke)
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if string(got) != `{"name":"alice"}` {
			t.Fatalf("unexpected result: %s", got)
		}
	}
	if inv.calls.Load() != 1 {
		t.Errorf("expected 1 invocation, got %d", inv.calls.Load())
	}
}

func TestInterceptor_DifferentArgsMiss(t *testing.T) {
	c := New(Config{})
	ic := NewInterceptor(c, nil, nil, nil)
	inv := &mockInvoker{result: []byte("x")}
	ctx := context.Background()

	_, _ = ic.Execute(ctx, findUser("alice"), Annotation{}, inv.invoke)
	_, _ = ic.Execute(ctx, findUser("bob"), Annotation{}, inv.invoke)
	if inv.calls.Load() != 2 {
		t.Errorf("expected 2 invocations, got %d", inv.calls.Load())
	}
}

func TestInterceptor_DefaultIDAndReportFields(t *testing.T) {
	c := New(Config{})
	ic := NewInterceptor(c, nil, nil, nil)
	inv := &mockInvoker{result: []byte("x")}
	ctx := context.Background()

	_, _ = ic.Execute(ctx, findUser("alice"), Annotation{Remark: "users by name"}, inv.invoke)

	groups, _ := c.Entries(ctx, "")
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	g := groups[0]
	if g.ID != DefaultID("UserService.Find") || g.Remark != "users by name" {
		t.Errorf("unexpected group: %+v", g)
	}
	if g.Items[0].Args != `["alice"]` {
		t.Errorf("Args = %q", g.Items[0].Args)
	}
}

func TestInterceptor_ErrorsNotCached(t *testing.T) {
	c := New(Config{})
	ic := NewInterceptor(c, nil, nil, nil)
	inv := &mockInvoker{err: errors.New("backend down")}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := ic.Execute(ctx, findUser("alice"), Annotation{}, inv.invoke); err == nil {
			t.Fatal("expected error")
		}
	}
	if inv.calls.Load() != 2 {
		t.Errorf("errors should not be cached, got %d invocations", inv.calls.Load())
	}
}

func TestInterceptor_SkipUnsafeTags(t *testing.T) {
	c := New(Config{})
	ic := NewInterceptor(c, nil, nil, nil)
	inv := &mockInvoker{result: []byte("ok")}
	ctx := context.Background()
	m := Method{Type: "UserService", Name: "Delete", Args: []any{"alice"}, Tags: []string{"WRITE"}}

	_, _ = ic.Execute(ctx, m, Annotation{}, inv.invoke)
	_, _ = ic.Execute(ctx, m, Annotation{}, inv.invoke)
	if inv.calls.Load() != 2 {
		t.Errorf("unsafe methods should bypass the cache, got %d invocations", inv.calls.Load())
	}

	p := DefaultPolicy()
	p.AllowUnsafe = true
	allow := NewInterceptor(New(Config{Policy: &p}), nil, nil, nil)
	inv2 := &mockInvoker{result: []byte("ok")}
	_, _ = allow.Execute(ctx, m, Annotation{}, inv2.invoke)
	_, _ = allow.Execute(ctx, m, Annotation{}, inv2.invoke)
	if inv2.calls.Load() != 1 {
		t.Errorf("AllowUnsafe should cache, got %d invocations", inv2.calls.Load())
	}
}

type failingKeyer struct{}

func (failingKeyer) Key(string, any) (string, error) {
	return "", errors.New("unhashable")
}

func TestInterceptor_KeyFailureExecutesUncached(t *testing.T) {
	c := New(Config{})
	ic := NewInterceptor(c, failingKeyer{}, nil, nil)
	inv := &mockInvoker{result: []byte("ok")}

	_, _ = ic.Execute(context.Background(), findUser("alice"), Annotation{}, inv.invoke)
	_, _ = ic.Execute(context.Background(), findUser("alice"), Annotation{}, inv.invoke)
	if inv.calls.Load() != 2 {
		t.Errorf("expected 2 invocations, got %d", inv.calls.Load())
	}
}

func TestInterceptor_ClearInvalidatesGroup(t *testing.T) {
	c := New(Config{})
	ic := NewInterceptor(c, nil, nil, nil)
	ctx := context.Background()
	reads := &mockInvoker{result: []byte("alice")}
	ann := Annotation{ID: "users"}

	_, _ = ic.Execute(ctx, findUser("alice"), ann, reads.invoke)

	failing := &mockInvoker{err: errors.New("write rejected")}
	_, err := ic.Execute(ctx, Method{Type: "UserService", Name: "Rename"}, Annotation{ID: "users", Clear: true}, failing.invoke)
	if err == nil {
		t.Fatal("expected write error")
	}
	c.Wait()
	if n, _ := c.Store().Len(ctx); n != 1 {
		t.Fatalf("a failed clearing call must not invalidate, store has %d entries", n)
	}

	writes := &mockInvoker{result: []byte("renamed")}
	got, err := ic.Execute(ctx, Method{Type: "UserService", Name: "Rename"}, Annotation{ID: "users", Clear: true}, writes.invoke)
	if err != nil || string(got) != "renamed" {
		t.Fatalf("Execute = %q, %v", got, err)
	}
	c.Wait()
	if n, _ := c.Store().Len(ctx); n != 0 {
		t.Fatalf("clearing call should invalidate the group, store has %d entries", n)
	}

	_, _ = ic.Execute(ctx, findUser("alice"), ann, reads.invoke)
	if reads.calls.Load() != 2 {
		t.Errorf("expected recomputation after clear, got %d invocations", reads.calls.Load())
	}
}

func TestInterceptor_IsolationPolicyByType(t *testing.T) {
	c := New(Config{})
	policies := NewIsolationPolicies()
	_ = policies.Set("ReportService", IsolationScoped)
	ic := NewInterceptor(c, nil, policies, nil)
	ctx := context.Background()

	scoped := &mockInvoker{result: []byte("r")}
	m := Method{Type: "ReportService", Name: "Build", Args: []any{1}}
	_, _ = ic.Execute(ctx, m, Annotation{}, scoped.invoke)
	_, _ = ic.Execute(ctx, m, Annotation{}, scoped.invoke)
	if scoped.calls.Load() != 2 {
		t.Errorf("top-level scoped calls should not share, got %d invocations", scoped.calls.Load())
	}

	shared := &mockInvoker{result: []byte("u")}
	_, _ = ic.Execute(ctx, findUser("alice"), Annotation{}, shared.invoke)
	_, _ = ic.Execute(ctx, findUser("alice"), Annotation{}, shared.invoke)
	if shared.calls.Load() != 1 {
		t.Errorf("non-isolated calls should share, got %d invocations", shared.calls.Load())
	}
}

func TestInterceptor_RefreshAnnotation(t *testing.T) {
	c := New(Config{})
	ic := NewInterceptor(c, nil, nil, nil)
	ctx := context.Background()
	ann := Annotation{TTL: TTL{Base: time.Minute}, Refresh: true}

	var n atomic.Int32
	invoke := func(context.Context) ([]byte, error) {
		if n.Add(1) == 1 {
			return []byte("first"), nil
		}
		return []byte("second"), nil
	}

	v1, _ := ic.Execute(ctx, findUser("alice"), ann, invoke)
	v2, _ := ic.Execute(ctx, findUser("alice"), ann, invoke)
	c.Wait()
	v3, _ := ic.Execute(ctx, findUser("alice"), Annotation{TTL: ann.TTL}, invoke)

	if string(v1) != "first" || string(v2) != "first" || string(v3) != "second" {
		t.Errorf("got %q, %q, %q; want first, first, second", v1, v2, v3)
	}
}

func TestDefaultSkipRule(t *testing.T) {
	tests := []struct {
		tags []string
		want bool
	}{
		{nil, false},
		{[]string{"read"}, false},
		{[]string{"read", "Delete"}, true},
		{[]string{"mutation"}, true},
	}
	for _, tt := range tests {
		if got := DefaultSkipRule(Method{Tags: tt.tags}); got != tt.want {
			t.Errorf("DefaultSkipRule(%v) = %v, want %v", tt.tags, got, tt.want)
		}
	}
}

func TestMethod_Signature(t *testing.T) {
	if got := (Method{Type: "A", Name: "B"}).Signature(); got != "A.B" {
		t.Errorf("Signature = %q", got)
	}
	if got := (Method{Name: "B"}).Signature(); got != "B" {
		t.Errorf("Signature = %q", got)
	}
}

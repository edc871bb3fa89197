package cache

import (
	"math"
	"strings"
	"testing"
)

func TestKeyer_DeterministicForMaps(t *testing.T) {
	keyer := NewDefaultKeyer()

	// Same content, different insertion order
	args := []map[string]any{
		{"b": 2, "a": 1, "c": 3},
		{"a": 1, "c": 3, "b": 2},
		{"c": 3, "b": 2, "a": 1},
	}

	var first string
	for i, a := range args {
		key, err := keyer.Key("UserService.Find", a)
		if err != nil {
			t.Fatalf("Key() error = %v", err)
		}
		if i == 0 {
			first = key
			continue
		}
		if key != first {
			t.Errorf("keys should be equal for same content:\n  %s\n  %s", first, key)
		}
	}
}

func TestKeyer_ArrayOrderPreserved(t *testing.T) {
	keyer := NewDefaultKeyer()

	key1, err := keyer.Key("UserService.Find", []any{1, 2, 3})
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}
	key2, err := keyer.Key("UserService.Find", []any{3, 2, 1})
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}

	if key1 == key2 {
		t.Errorf("keys should differ for different argument order: %s", key1)
	}
}

func TestKeyer_NestedMaps(t *testing.T) {
	keyer := NewDefaultKeyer()

	a := map[string]any{"filter": map[string]any{"z": 1, "a": []any{"x", map[string]any{"k": 2, "j": 1}}}}
	b := map[string]any{"filter": map[string]any{"a": []any{"x", map[string]any{"j": 1, "k": 2}}, "z": 1}}

	ka, _ := keyer.Key("Search.Run", a)
	kb, _ := keyer.Key("Search.Run", b)
	if ka != kb {
		t.Errorf("nested maps should canonicalize equally:\n  %s\n  %s", ka, kb)
	}
}

func TestKeyer_TypedArgsMatchGenericForm(t *testing.T) {
	keyer := NewDefaultKeyer()

	type filter struct {
		Zone  string `json:"zone"`
		Limit int    `json:"limit"`
	}
	tests := []struct {
		name    string
		typed   any
		generic any
	}{
		{"string slice", []string{"alice", "bob"}, []any{"alice", "bob"}},
		{"int slice", []int{1, 2, 3}, []any{1, 2, 3}},
		{"typed map", map[string]int{"b": 2, "a": 1}, map[string]any{"a": 1, "b": 2}},
		{"struct", filter{Zone: "eu", Limit: 10}, map[string]any{"limit": 10, "zone": "eu"}},
		{"nested", []any{filter{Zone: "us"}, []string{"x"}}, []any{map[string]any{"zone": "us", "limit": 0}, []any{"x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kt, err := keyer.Key("Search.Run", tt.typed)
			if err != nil {
				t.Fatalf("Key(typed) error = %v", err)
			}
			kg, err := keyer.Key("Search.Run", tt.generic)
			if err != nil {
				t.Fatalf("Key(generic) error = %v", err)
			}
			if kt != kg {
				t.Errorf("typed and generic args should share a key:\n  %s\n  %s", kt, kg)
			}
		})
	}
}

func TestKeyer_StructFieldOrderIrrelevant(t *testing.T) {
	keyer := NewDefaultKeyer()

	type ab struct {
		A int `json:"a"`
		B int `json:"b"`
	}
	type ba struct {
		B int `json:"b"`
		A int `json:"a"`
	}
	k1, _ := keyer.Key("Pair.Sum", ab{A: 1, B: 2})
	k2, _ := keyer.Key("Pair.Sum", ba{B: 2, A: 1})
	if k1 != k2 {
		t.Errorf("field order should not matter:\n  %s\n  %s", k1, k2)
	}
}

func TestKeyer_UnencodableArgs(t *testing.T) {
	keyer := NewDefaultKeyer()

	if _, err := keyer.Key("Math.Sqrt", []any{math.NaN()}); err == nil {
		t.Error("NaN argument should fail to canonicalize")
	}
	if _, err := keyer.Key("Chan.Recv", make(chan int)); err == nil {
		t.Error("channel argument should fail to canonicalize")
	}
}

func TestKeyer_DifferentSignaturesDifferentKeys(t *testing.T) {
	keyer := NewDefaultKeyer()
	args := []any{"alice"}

	k1, _ := keyer.Key("UserService.Find", args)
	k2, _ := keyer.Key("UserService.Delete", args)
	if k1 == k2 {
		t.Errorf("different signatures should produce different keys")
	}
}

func TestKeyer_KeyFormat(t *testing.T) {
	keyer := NewDefaultKeyer()

	key, err := keyer.Key("UserService.Find", []any{"alice"})
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}
	prefix := "UserService.Find:"
	if !strings.HasPrefix(key, prefix) {
		t.Fatalf("key %q should start with %q", key, prefix)
	}
	if hash := strings.TrimPrefix(key, prefix); len(hash) != 32 {
		t.Errorf("hash part should be 32 hex chars, got %d (%s)", len(hash), hash)
	}
	if err := ValidateKey(key); err != nil {
		t.Errorf("generated key should be valid: %v", err)
	}
}

func TestKeyer_NilAndEmptyArgs(t *testing.T) {
	keyer := NewDefaultKeyer()

	kNil, err := keyer.Key("Clock.Now", nil)
	if err != nil {
		t.Fatalf("Key(nil) error = %v", err)
	}
	kEmpty, err := keyer.Key("Clock.Now", []any{})
	if err != nil {
		t.Fatalf("Key(empty) error = %v", err)
	}
	if kNil == kEmpty {
		t.Errorf("nil and empty args should differ")
	}
}

func TestDefaultID(t *testing.T) {
	id := DefaultID("UserService.Find")
	if len(id) != 16 {
		t.Errorf("DefaultID length = %d, want 16", len(id))
	}
	if id != DefaultID("UserService.Find") {
		t.Error("DefaultID should be deterministic")
	}
	if id == DefaultID("UserService.Delete") {
		t.Error("DefaultID should differ per signature")
	}
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want error
	}{
		{"valid", "UserService.Find:abc", nil},
		{"empty", "", ErrInvalidKey},
		{"blank", "   ", ErrInvalidKey},
		{"newline", "a\nb", ErrInvalidKey},
		{"too long", strings.Repeat("k", MaxKeyLength+1), ErrKeyTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateKey(tt.key); got != tt.want {
				t.Errorf("ValidateKey() = %v, want %v", got, tt.want)
			}
		})
	}
}

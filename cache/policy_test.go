package cache

import (
	"testing"
	"time"
)

func TestPolicy_EffectiveTTL(t *testing.T) {
	p := Policy{DefaultTTL: 5 * time.Minute, MaxTTL: time.Hour}

	tests := []struct {
		name     string
		override time.Duration
		want     time.Duration
	}{
		{"default on zero", 0, 5 * time.Minute},
		{"default on negative", -time.Second, 5 * time.Minute},
		{"override", 10 * time.Second, 10 * time.Second},
		{"clamped", 2 * time.Hour, time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.EffectiveTTL(tt.override); got != tt.want {
				t.Errorf("EffectiveTTL(%v) = %v, want %v", tt.override, got, tt.want)
			}
		})
	}
}

func TestPolicy_ExpiresAt(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 26, 53, 500_000_000, time.UTC)
	p := Policy{DefaultTTL: time.Minute, MaxTTL: time.Hour}

	tests := []struct {
		name string
		ttl  TTL
		want time.Time
	}{
		{"base", TTL{Base: 30 * time.Second}, now.Add(30 * time.Second)},
		{"default", TTL{}, now.Add(time.Minute)},
		{"clamped", TTL{Base: 48 * time.Hour}, now.Add(time.Hour)},
		{"never", TTL{Never: true, Base: time.Second}, time.Time{}},
		{"next second", TTL{Capital: CapitalSecond}, time.Date(2026, 3, 14, 9, 26, 54, 0, time.UTC)},
		{"next minute", TTL{Capital: CapitalMinute}, time.Date(2026, 3, 14, 9, 27, 0, 0, time.UTC)},
		{"next hour plus base", TTL{Capital: CapitalHour, Base: 5 * time.Minute}, time.Date(2026, 3, 14, 10, 5, 0, 0, time.UTC)},
		{"next day", TTL{Capital: CapitalDay}, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"next month", TTL{Capital: CapitalMonth}, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
		{"next year", TTL{Capital: CapitalYear}, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := p.ExpiresAt(tt.ttl, now)
			if !ok {
				t.Fatal("expected value to be cacheable")
			}
			if !got.Equal(tt.want) {
				t.Errorf("ExpiresAt = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPolicy_ExpiresAtOnBoundary(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got, ok := DefaultPolicy().ExpiresAt(TTL{Capital: CapitalDay}, now)
	if !ok || !got.Equal(now.Add(24*time.Hour)) {
		t.Errorf("ExpiresAt on a boundary = %v, want the next day", got)
	}
}

func TestPolicy_ExpiresAtNotCached(t *testing.T) {
	if _, ok := NoCachePolicy().ExpiresAt(TTL{}, time.Now()); ok {
		t.Error("no TTL and no default should not be cached")
	}
	if _, ok := NoCachePolicy().ExpiresAt(TTL{Capital: CapitalMinute}, time.Now()); !ok {
		t.Error("a capital unit alone should be cacheable")
	}
}

func TestPolicy_GraceJitter(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	p := DefaultPolicy()
	ttl := TTL{Base: time.Minute, Grace: 10 * time.Second}

	for i := 0; i < 200; i++ {
		got, _ := p.ExpiresAt(ttl, now)
		lo, hi := now.Add(time.Minute), now.Add(time.Minute+10*time.Second)
		if got.Before(lo) || !got.Before(hi) {
			t.Fatalf("ExpiresAt = %v, want in [%v, %v)", got, lo, hi)
		}
	}
}

func TestPolicy_ExpiryAlwaysAfterNow(t *testing.T) {
	now := time.Now()
	ttls := []TTL{
		{Base: time.Nanosecond},
		{Capital: CapitalSecond, Base: -time.Hour},
		{Base: time.Millisecond, Grace: time.Millisecond},
	}
	for _, ttl := range ttls {
		got, ok := DefaultPolicy().ExpiresAt(ttl, now)
		if ok && !got.After(now) {
			t.Errorf("ExpiresAt(%+v) = %v, not after now", ttl, got)
		}
	}
}

func TestCapital_String(t *testing.T) {
	if CapitalMonth.String() != "month" || CapitalNone.String() != "none" {
		t.Errorf("unexpected names: %s %s", CapitalMonth, CapitalNone)
	}
}

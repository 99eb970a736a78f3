package gateway

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCache_Expiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache(10)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_ = c.Set(ctx, "k", []byte("v"), time.Hour)

	now = now.Add(59 * time.Minute)
	if v, ok, _ := c.Get(ctx, "k"); !ok || string(v) != "v" {
		t.Errorf("Get() before expiry = %q, %v", v, ok)
	}

	now = now.Add(time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("Get() should miss after the TTL")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, expired entry should be dropped", c.Len())
	}
}

func TestMemoryCache_Eviction(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache(2)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_ = c.Set(ctx, "a", []byte("1"), time.Minute)
	_ = c.Set(ctx, "b", []byte("2"), time.Hour)
	_ = c.Set(ctx, "c", []byte("3"), time.Hour)

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
	if _, ok, _ := c.Get(ctx, "a"); ok {
		t.Error("entry closest to expiry should be evicted")
	}
	if _, ok, _ := c.Get(ctx, "c"); !ok {
		t.Error("new entry should be stored")
	}
}

func TestMemoryCache_CopiesValue(t *testing.T) {
	c := NewMemoryCache(0)
	ctx := context.Background()
	buf := []byte("abc")
	_ = c.Set(ctx, "k", buf, time.Hour)
	buf[0] = 'x'

	if v, _, _ := c.Get(ctx, "k"); string(v) != "abc" {
		t.Errorf("cached value = %q, want abc", v)
	}
}

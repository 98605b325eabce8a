package cache

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"appforge/internal/metrics"
)

func TestMemoryGetSet(t *testing.T) {
	c := New(nil)
	defer c.Close()
	ctx := context.Background()

	if _, ok := c.Get(ctx, "missing"); ok {
		t.Error("expected miss for unknown key")
	}

	c.Set(ctx, "k", []byte("v"), time.Minute)
	got, ok := c.Get(ctx, "k")
	if !ok || string(got) != "v" {
		t.Errorf("Get = %q, %v; want v, true", got, ok)
	}
}

func TestExpiry(t *testing.T) {
	c := New(nil)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "short", []byte("x"), 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get(ctx, "short"); ok {
		t.Error("expected expired entry to miss")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	c := New(nil)
	defer c.Close()
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	c.SetJSON(ctx, "p", payload{Name: "todo-app", Count: 3}, time.Minute)

	var out payload
	if !c.GetJSON(ctx, "p", &out) {
		t.Fatal("expected JSON hit")
	}
	if out.Name != "todo-app" || out.Count != 3 {
		t.Errorf("got %+v", out)
	}
}

func TestInvalidatePrefix(t *testing.T) {
	c := New(nil)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "conversations:user:1:list", []byte("a"), time.Minute)
	c.Set(ctx, "conversations:user:1:count", []byte("b"), time.Minute)
	c.Set(ctx, "conversations:user:2:list", []byte("c"), time.Minute)

	c.InvalidatePrefix(ctx, "conversations:user:1:")

	if _, ok := c.Get(ctx, "conversations:user:1:list"); ok {
		t.Error("prefix key should be gone")
	}
	if _, ok := c.Get(ctx, "conversations:user:2:list"); !ok {
		t.Error("other user's key should survive")
	}
}

func TestStats(t *testing.T) {
	c := New(nil)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), time.Minute)
	c.Get(ctx, "k")
	c.Get(ctx, "nope")

	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 {
		t.Errorf("stats = %+v, want 1 hit 1 miss", s)
	}
	if s.HitRate != 0.5 {
		t.Errorf("hit rate = %v, want 0.5", s.HitRate)
	}
	if s.RedisUp {
		t.Error("RedisUp should be false without a client")
	}
}

func TestCounterExport(t *testing.T) {
	c := New(nil)
	defer c.Close()
	ctx := context.Background()

	m := metrics.Get()
	hitsBefore := testutil.ToFloat64(m.CacheHitsTotal)
	missesBefore := testutil.ToFloat64(m.CacheMissesTotal)

	c.Set(ctx, "exported", []byte("v"), time.Minute)
	c.Get(ctx, "exported")
	c.Get(ctx, "absent")

	if got := testutil.ToFloat64(m.CacheHitsTotal) - hitsBefore; got != 1 {
		t.Errorf("hit counter delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CacheMissesTotal) - missesBefore; got != 1 {
		t.Errorf("miss counter delta = %v, want 1", got)
	}
}

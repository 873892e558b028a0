package serializer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/runar-labs/serializer/internal/clock"
)

func newTestCache(maxSize int, ttl time.Duration) (*ResolverCache, *clock.FakeClock) {
	fake := clock.Fake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewResolverCache(maxSize, ttl, WithClock(fake)), fake
}

func keys(names ...string) [][]byte {
	out := make([][]byte, len(names))
	for i, n := range names {
		out[i] = []byte(n)
	}
	return out
}

func TestResolverCache_Hit(t *testing.T) {
	cache, _ := newTestCache(10, time.Minute)
	ctx := context.Background()
	cfg := testResolverConfig()

	r1 := cache.GetOrCreate(ctx, cfg, keys("alice", "bob"))
	r2 := cache.GetOrCreate(ctx, cfg, keys("alice", "bob"))
	if r1 != r2 {
		t.Error("GetOrCreate() should return the same resolver for the same keys")
	}

	r3 := cache.GetOrCreate(ctx, cfg, keys("bob", "alice"))
	if r1 != r3 {
		t.Error("GetOrCreate() should ignore key order")
	}

	r4 := cache.GetOrCreate(ctx, cfg, keys("carol"))
	if r1 == r4 {
		t.Error("GetOrCreate() should return a new resolver for different keys")
	}

	stats := cache.Stats()
	if stats.Hits != 2 || stats.Misses != 2 || stats.Size != 2 {
		t.Errorf("Stats() = %+v, want 2 hits, 2 misses, size 2", stats)
	}
}

func TestResolverCache_TTL(t *testing.T) {
	cache, fake := newTestCache(10, time.Minute)
	ctx := context.Background()
	cfg := testResolverConfig()

	r1 := cache.GetOrCreate(ctx, cfg, keys("alice"))

	fake.Advance(59 * time.Second)
	if r := cache.GetOrCreate(ctx, cfg, keys("alice")); r != r1 {
		t.Error("entry should still be live before the TTL")
	}

	// Access does not extend the TTL; age is measured from creation.
	fake.Advance(time.Second)
	if r := cache.GetOrCreate(ctx, cfg, keys("alice")); r == r1 {
		t.Error("entry should expire once the TTL has elapsed")
	}
}

func TestResolverCache_BatchEviction(t *testing.T) {
	cache, fake := newTestCache(8, time.Hour)
	ctx := context.Background()
	cfg := testResolverConfig()

	for i := 0; i < 8; i++ {
		cache.GetOrCreate(ctx, cfg, keys(fmt.Sprintf("k%d", i)))
		fake.Advance(time.Second)
	}
	// Touch k0 and k1 so k2..k3 are the least recently accessed.
	r0 := cache.GetOrCreate(ctx, cfg, keys("k0"))
	cache.GetOrCreate(ctx, cfg, keys("k1"))
	fake.Advance(time.Second)

	cache.GetOrCreate(ctx, cfg, keys("new"))

	if got := cache.Len(); got != 7 {
		t.Errorf("Len() = %d, want 7 after evicting a batch of 2", got)
	}
	if r := cache.GetOrCreate(ctx, cfg, keys("k0")); r != r0 {
		t.Error("recently accessed entry should survive eviction")
	}
	if got := cache.Stats().Evictions; got != 2 {
		t.Errorf("Evictions = %d, want 2", got)
	}
}

func TestResolverCache_Bounded(t *testing.T) {
	cache, _ := newTestCache(10, time.Hour)
	ctx := context.Background()
	cfg := testResolverConfig()

	for i := 0; i < 15; i++ {
		cache.GetOrCreate(ctx, cfg, keys(fmt.Sprintf("k%d", i)))
		if got := cache.Len(); got > 10 {
			t.Fatalf("Len() = %d after %d inserts, exceeds max size", got, i+1)
		}
	}
}

func TestResolverCache_SizeOne(t *testing.T) {
	cache, _ := newTestCache(1, time.Hour)
	ctx := context.Background()
	cfg := testResolverConfig()

	cache.GetOrCreate(ctx, cfg, keys("a"))
	cache.GetOrCreate(ctx, cfg, keys("b"))
	if got := cache.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
}

func TestResolverCache_CleanupExpired(t *testing.T) {
	cache, fake := newTestCache(10, time.Minute)
	ctx := context.Background()
	cfg := testResolverConfig()

	cache.GetOrCreate(ctx, cfg, keys("old1"))
	cache.GetOrCreate(ctx, cfg, keys("old2"))
	fake.Advance(45 * time.Second)
	cache.GetOrCreate(ctx, cfg, keys("fresh"))
	fake.Advance(20 * time.Second)

	if removed := cache.CleanupExpired(); removed != 2 {
		t.Errorf("CleanupExpired() = %d, want 2", removed)
	}
	if got := cache.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
}

func TestResolverCache_Clear(t *testing.T) {
	cache, _ := newTestCache(10, time.Minute)
	ctx := context.Background()

	r1 := cache.GetOrCreate(ctx, testResolverConfig(), keys("alice"))
	cache.Clear()
	if cache.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", cache.Len())
	}
	if r := cache.GetOrCreate(ctx, testResolverConfig(), keys("alice")); r == r1 {
		t.Error("Clear() should drop cached resolvers")
	}
}

func TestResolverCache_Defaults(t *testing.T) {
	stats := DefaultResolverCache().Stats()
	if stats.MaxSize != 1000 || stats.TTL != 300*time.Second {
		t.Errorf("defaults = %d/%v, want 1000/5m", stats.MaxSize, stats.TTL)
	}

	stats = NewResolverCache(0, 0).Stats()
	if stats.MaxSize != DefaultCacheMaxSize || stats.TTL != DefaultCacheTTL {
		t.Errorf("non-positive arguments should fall back to defaults, got %+v", stats)
	}
}

func TestResolverCache_Concurrent(t *testing.T) {
	cache, _ := newTestCache(16, time.Minute)
	ctx := context.Background()
	cfg := testResolverConfig()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r := cache.GetOrCreate(ctx, cfg, keys(fmt.Sprintf("k%d", (g+i)%24)))
				if r == nil {
					t.Error("GetOrCreate() returned nil")
					return
				}
			}
		}(g)
	}
	wg.Wait()

	if got := cache.Len(); got > 16 {
		t.Errorf("Len() = %d, exceeds max size", got)
	}
}

func TestProfileKeysDigest(t *testing.T) {
	a := ProfileKeysDigest(keys("alice", "bob"))
	b := ProfileKeysDigest(keys("bob", "alice"))
	if a != b {
		t.Error("digest should not depend on key order")
	}
	if len(a) != 64 {
		t.Errorf("digest length = %d, want 64 hex chars", len(a))
	}

	// Length prefixes keep different splits of the same bytes apart.
	if ProfileKeysDigest(keys("ab", "c")) == ProfileKeysDigest(keys("a", "bc")) {
		t.Error("different key splits should not collide")
	}
	if ProfileKeysDigest(nil) == ProfileKeysDigest(keys("")) {
		t.Error("empty set and set of one empty key should differ")
	}
	if ProfileKeysDigest(nil) != ProfileKeysDigest([][]byte{}) {
		t.Error("nil and empty key sets should match")
	}
}

func TestCompareProfileKeys(t *testing.T) {
	if compareProfileKeys([]byte("zz"), []byte("aaa")) >= 0 {
		t.Error("shorter keys should sort first")
	}
	if compareProfileKeys([]byte("ab"), []byte("ac")) >= 0 {
		t.Error("equal-length keys should sort bytewise")
	}
	if compareProfileKeys([]byte("ab"), []byte("ab")) != 0 {
		t.Error("equal keys should compare equal")
	}
}

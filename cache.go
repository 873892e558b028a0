package serializer

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/runar-labs/serializer/internal/clock"
)

// Resolver cache defaults.
const (
	DefaultCacheMaxSize = 1000
	DefaultCacheTTL     = 300 * time.Second
)

// cacheEntry holds one memoized resolver.
type cacheEntry struct {
	resolver     *LabelResolver
	createdAt    time.Time
	lastAccessed time.Time
}

// CacheStats is a snapshot of resolver cache counters.
type CacheStats struct {
	Size      int
	MaxSize   int
	TTL       time.Duration
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// CacheOption configures a ResolverCache.
type CacheOption func(*ResolverCache)

// WithClock sets the time source used for TTL and recency.
func WithClock(c clock.Clock) CacheOption {
	return func(rc *ResolverCache) {
		rc.clock = c
	}
}

// ResolverCache memoizes LabelResolver construction keyed by the caller's
// profile-key set. Entries expire after the TTL; when the cache is full the
// least recently accessed quarter is evicted in one batch.
//
// The label configuration is not part of the key: a resolver built for one
// config is returned for another config with the same profile keys until it
// expires or Clear is called. Call Clear after changing label configuration.
//
// Safe for concurrent use.
type ResolverCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	maxSize int
	ttl     time.Duration
	clock   clock.Clock

	hits      uint64
	misses    uint64
	evictions uint64
}

// NewResolverCache returns a cache bounded to maxSize entries with the given TTL.
// Non-positive values fall back to the defaults.
func NewResolverCache(maxSize int, ttl time.Duration, opts ...CacheOption) *ResolverCache {
	if maxSize <= 0 {
		maxSize = DefaultCacheMaxSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	rc := &ResolverCache{
		entries: make(map[string]*cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
		clock:   clock.Real(),
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// DefaultResolverCache returns a cache with 1000 entries and a 5 minute TTL.
func DefaultResolverCache(opts ...CacheOption) *ResolverCache {
	return NewResolverCache(DefaultCacheMaxSize, DefaultCacheTTL, opts...)
}

// GetOrCreate returns the cached resolver for profileKeys, building one from
// config on a miss or after expiry. Key order does not matter.
func (rc *ResolverCache) GetOrCreate(ctx context.Context, config *LabelResolverConfig, profileKeys [][]byte) *LabelResolver {
	key := ProfileKeysDigest(profileKeys)
	now := rc.clock.Now()

	rc.mu.Lock()
	defer rc.mu.Unlock()

	if entry, ok := rc.entries[key]; ok {
		if now.Sub(entry.createdAt) < rc.ttl {
			entry.lastAccessed = now
			rc.hits++
			emitResolverLookup(ctx, true, len(rc.entries))
			return entry.resolver
		}
		delete(rc.entries, key)
	}

	rc.misses++
	resolver := NewContextLabelResolver(config, profileKeys)

	if len(rc.entries) >= rc.maxSize {
		rc.evictLocked(ctx)
	}
	rc.entries[key] = &cacheEntry{
		resolver:     resolver,
		createdAt:    now,
		lastAccessed: now,
	}
	emitResolverLookup(ctx, false, len(rc.entries))
	return resolver
}

// evictLocked removes the max(1, maxSize/4) least recently accessed entries.
func (rc *ResolverCache) evictLocked(ctx context.Context) {
	batch := max(1, rc.maxSize/4)

	type keyed struct {
		key          string
		lastAccessed time.Time
	}
	ordered := make([]keyed, 0, len(rc.entries))
	for key, entry := range rc.entries {
		ordered = append(ordered, keyed{key: key, lastAccessed: entry.lastAccessed})
	}
	slices.SortFunc(ordered, func(a, b keyed) int {
		return a.lastAccessed.Compare(b.lastAccessed)
	})

	evicted := 0
	for _, k := range ordered {
		if evicted >= batch {
			break
		}
		delete(rc.entries, k.key)
		evicted++
	}
	rc.evictions += uint64(evicted)

	Logger().Debug("resolver cache eviction",
		zap.Int("evicted", evicted),
		zap.Int("size", len(rc.entries)))
	emitResolverEvicted(ctx, evicted, len(rc.entries))
}

// CleanupExpired removes every entry older than the TTL and returns how
// many were removed. Intended to run outside the lookup path.
func (rc *ResolverCache) CleanupExpired() int {
	now := rc.clock.Now()

	rc.mu.Lock()
	defer rc.mu.Unlock()

	removed := 0
	for key, entry := range rc.entries {
		if now.Sub(entry.createdAt) >= rc.ttl {
			delete(rc.entries, key)
			removed++
		}
	}
	return removed
}

// Clear drops every entry.
func (rc *ResolverCache) Clear() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.entries = make(map[string]*cacheEntry)
}

// Len returns the number of cached resolvers.
func (rc *ResolverCache) Len() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.entries)
}

// Stats returns a snapshot of the cache counters.
func (rc *ResolverCache) Stats() CacheStats {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return CacheStats{
		Size:      len(rc.entries),
		MaxSize:   rc.maxSize,
		TTL:       rc.ttl,
		Hits:      rc.hits,
		Misses:    rc.misses,
		Evictions: rc.evictions,
	}
}

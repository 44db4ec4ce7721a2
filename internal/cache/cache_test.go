package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Border-Link/immigration-ai-sub001/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, "key1", []byte("value1"), time.Minute)
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "key2", []byte("value2"), time.Minute)

		err := cache.Delete(ctx, "key2")
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, "expiring", []byte("temp"), 10*time.Millisecond)

		// Should be available immediately
		val, _ := cache.Get(ctx, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		// Wait for expiration
		time.Sleep(20 * time.Millisecond)

		val, _ = cache.Get(ctx, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3)

		_ = smallCache.Set(ctx, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, "c", []byte("3"), time.Minute)

		// Access 'a' to make it recently used
		_, _ = smallCache.Get(ctx, "a")

		// Add 'd' - should evict 'b' (oldest accessed)
		_ = smallCache.Set(ctx, "d", []byte("4"), time.Minute)

		// 'b' should be evicted
		val, _ := smallCache.Get(ctx, "b")
		if val != nil {
			t.Error("expected 'b' to be evicted")
		}

		// 'a' should still be there
		val, _ = smallCache.Get(ctx, "a")
		if val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, "k2", []byte("v2"), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 {
			t.Errorf("expected size 2, got %d", size)
		}
		if capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}
	})

	t.Run("HitRate", func(t *testing.T) {
		rateCache := NewLRUCache(10)
		_ = rateCache.Set(ctx, "hot", []byte("v"), time.Minute)

		_, _ = rateCache.Get(ctx, "hot")
		_, _ = rateCache.Get(ctx, "hot")
		_, _ = rateCache.Get(ctx, "cold")

		hits, misses := rateCache.HitRate()
		if hits != 2 || misses != 1 {
			t.Errorf("expected 2 hits / 1 miss, got %d/%d", hits, misses)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, "k", []byte("v"), time.Minute)

		err := testCache.Close()
		if err != nil {
			t.Errorf("Close failed: %v", err)
		}

		// Cache should be empty after close
		val, _ := testCache.Get(ctx, "k")
		if val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type:         "memory",
			LocalMaxSize: 100,
		}

		cache, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		_, ok := cache.(*LRUCache)
		if !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type: "memcached",
		}

		_, err := New(cfg)
		if err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

// versionRepo stubs the repository with a fixed set of published versions
// and counts how often it is consulted.
type versionRepo struct {
	domain.Repository
	published []*domain.RuleVersion
	calls     int
	err       error
}

func (r *versionRepo) PublishedVersions(ctx context.Context, ruleSetID string) ([]*domain.RuleVersion, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.published, nil
}

func publishedVersion(id string, from, to time.Time) *domain.RuleVersion {
	return &domain.RuleVersion{
		ID:            id,
		RuleSetID:     "rs-001",
		EffectiveFrom: from,
		EffectiveTo:   &to,
		Published:     true,
		CreatedAt:     from,
		UpdatedAt:     from,
	}
}

func TestVersionCache(t *testing.T) {
	ctx := context.Background()
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	asOf := time.Date(2026, 6, 15, 10, 30, 0, 0, time.UTC)

	t.Run("ReadThrough", func(t *testing.T) {
		repo := &versionRepo{published: []*domain.RuleVersion{publishedVersion("rv-1", from, to)}}
		vc := NewVersionCache(repo, NewLRUCache(10), time.Minute)

		v, warnings, err := vc.Resolve(ctx, "rs-001", asOf)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if v.ID != "rv-1" {
			t.Errorf("expected rv-1, got %s", v.ID)
		}
		if len(warnings) != 0 {
			t.Errorf("unexpected warnings: %v", warnings)
		}
		if repo.calls != 1 {
			t.Errorf("expected 1 repository call, got %d", repo.calls)
		}

		// Second resolve on the same day serves from cache.
		v, _, err = vc.Resolve(ctx, "rs-001", asOf.Add(3*time.Hour))
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if v.ID != "rv-1" {
			t.Errorf("expected rv-1 from cache, got %s", v.ID)
		}
		if repo.calls != 1 {
			t.Errorf("expected cache hit, repository called %d times", repo.calls)
		}

		// A different day is a different bucket.
		_, _, err = vc.Resolve(ctx, "rs-001", asOf.AddDate(0, 1, 0))
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if repo.calls != 2 {
			t.Errorf("expected 2 repository calls, got %d", repo.calls)
		}
	})

	t.Run("Invalidate", func(t *testing.T) {
		repo := &versionRepo{published: []*domain.RuleVersion{publishedVersion("rv-1", from, to)}}
		vc := NewVersionCache(repo, NewLRUCache(10), time.Minute)

		if _, _, err := vc.Resolve(ctx, "rs-001", asOf); err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if repo.calls != 1 {
			t.Fatalf("expected 1 repository call, got %d", repo.calls)
		}

		vc.Invalidate(ctx, "rs-001")

		if _, _, err := vc.Resolve(ctx, "rs-001", asOf); err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if repo.calls != 2 {
			t.Errorf("expected repository re-read after invalidation, got %d calls", repo.calls)
		}
	})

	t.Run("NoActiveVersionNotCached", func(t *testing.T) {
		repo := &versionRepo{}
		vc := NewVersionCache(repo, NewLRUCache(10), time.Minute)

		_, _, err := vc.Resolve(ctx, "rs-001", asOf)
		if !errors.Is(err, domain.ErrNoActiveRuleVersion) {
			t.Fatalf("expected ErrNoActiveRuleVersion, got: %v", err)
		}

		// Publish a version and resolve again; the failure must not stick.
		repo.published = []*domain.RuleVersion{publishedVersion("rv-1", from, to)}
		v, _, err := vc.Resolve(ctx, "rs-001", asOf)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if v.ID != "rv-1" {
			t.Errorf("expected rv-1, got %s", v.ID)
		}
	})

	t.Run("RepositoryError", func(t *testing.T) {
		repo := &versionRepo{err: errors.New("connection reset")}
		vc := NewVersionCache(repo, NewLRUCache(10), time.Minute)

		_, _, err := vc.Resolve(ctx, "rs-001", asOf)
		if err == nil {
			t.Error("expected error when repository fails")
		}
	})
}

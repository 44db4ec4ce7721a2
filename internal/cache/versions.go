package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Border-Link/immigration-ai-sub001/internal/domain"
	"github.com/Border-Link/immigration-ai-sub001/internal/engine"
)

// dayLayout buckets as-of timestamps to calendar days. Temporal resolution
// operates at day granularity, so two timestamps on the same day always
// resolve to the same version.
const dayLayout = "2006-01-02"

// VersionCache is a read-through cache for resolved rule versions. It sits
// between the engine and the repository so hot rule sets skip the published
// versions query on every evaluation.
//
// Entries are invalidated by publish events (see Invalidate) and bounded by
// the configured TTL, which caps staleness if an event is missed.
type VersionCache struct {
	repo  domain.Repository
	cache domain.Cache
	ttl   time.Duration

	// buckets tracks cached day keys per rule set so Invalidate can delete
	// them without scanning the backing store.
	mu      sync.Mutex
	buckets map[string]map[string]struct{}
}

// versionEntry is the cached payload for one (rule set, day) pair.
type versionEntry struct {
	Version  *domain.RuleVersion `json:"version"`
	Warnings []string            `json:"warnings,omitempty"`
}

// NewVersionCache creates a read-through version cache. A zero TTL defaults
// to one minute.
func NewVersionCache(repo domain.Repository, cache domain.Cache, ttl time.Duration) *VersionCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &VersionCache{
		repo:    repo,
		cache:   cache,
		ttl:     ttl,
		buckets: make(map[string]map[string]struct{}),
	}
}

// Resolve returns the published version of the rule set active on asOf,
// consulting the cache first. Resolution failures are never cached; only a
// successful resolution is worth remembering.
func (c *VersionCache) Resolve(ctx context.Context, ruleSetID string, asOf time.Time) (*domain.RuleVersion, []string, error) {
	key := c.key(ruleSetID, asOf)

	if data, err := c.cache.Get(ctx, key); err == nil && data != nil {
		var entry versionEntry
		if err := json.Unmarshal(data, &entry); err == nil && entry.Version != nil {
			return entry.Version, entry.Warnings, nil
		}
		// Unreadable entry: drop it and fall through to the repository.
		_ = c.cache.Delete(ctx, key)
	} else if err != nil {
		slog.Warn("version cache read failed", "ruleSetId", ruleSetID, "error", err)
	}

	published, err := c.repo.PublishedVersions(ctx, ruleSetID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load published versions: %w", err)
	}

	version, warnings, err := engine.ResolveVersion(published, asOf)
	if err != nil {
		return nil, nil, err
	}

	if data, err := json.Marshal(versionEntry{Version: version, Warnings: warnings}); err == nil {
		if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
			slog.Warn("version cache write failed", "ruleSetId", ruleSetID, "error", err)
		} else {
			c.track(ruleSetID, key)
		}
	}

	return version, warnings, nil
}

// Invalidate drops every cached resolution for the rule set. Called when a
// version of the set is published.
func (c *VersionCache) Invalidate(ctx context.Context, ruleSetID string) {
	c.mu.Lock()
	keys := c.buckets[ruleSetID]
	delete(c.buckets, ruleSetID)
	c.mu.Unlock()

	for key := range keys {
		if err := c.cache.Delete(ctx, key); err != nil {
			slog.Warn("version cache invalidation failed", "ruleSetId", ruleSetID, "key", key, "error", err)
		}
	}
}

func (c *VersionCache) key(ruleSetID string, asOf time.Time) string {
	return "version:" + ruleSetID + ":" + asOf.UTC().Format(dayLayout)
}

func (c *VersionCache) track(ruleSetID, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buckets[ruleSetID] == nil {
		c.buckets[ruleSetID] = make(map[string]struct{})
	}
	c.buckets[ruleSetID][key] = struct{}{}
}

package auth

import (
	"sync"
	"sync/atomic"
	"time"
)

// Cache is a TTL-based in-memory auth cache with stale-while-revalidate.
// Uses sync.Map for lock-free reads on the hot path.
type Cache struct {
	store sync.Map // map[string]*cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	project    *ProjectContext
	expiresAt  time.Time
	refreshing atomic.Bool
}

// CacheGetResult holds the result of a cache lookup.
type CacheGetResult struct {
	Project      *ProjectContext
	Hit          bool
	NeedsRefresh bool
}

// NewCache creates a cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl}
}

// Get performs a non-blocking cache lookup. An expired entry is still
// returned as a hit; exactly one caller wins the refresh flag and is told to
// revalidate in the background.
func (c *Cache) Get(apiKey string) CacheGetResult {
	val, ok := c.store.Load(apiKey)
	if !ok {
		return CacheGetResult{Hit: false}
	}

	entry := val.(*cacheEntry)
	now := time.Now()

	if now.Before(entry.expiresAt) {
		return CacheGetResult{
			Project: entry.project,
			Hit:     true,
		}
	}

	needsRefresh := entry.refreshing.CompareAndSwap(false, true)
	return CacheGetResult{
		Project:      entry.project,
		Hit:          true,
		NeedsRefresh: needsRefresh,
	}
}

// Set stores a project context with a fresh TTL.
func (c *Cache) Set(apiKey string, project *ProjectContext) {
	c.store.Store(apiKey, &cacheEntry{
		project:   project,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// Delete removes an entry from the cache.
func (c *Cache) Delete(apiKey string) {
	c.store.Delete(apiKey)
}

package policy

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/kafka-control-plane/models"
)

// cacheEntry represents a single cache entry with TTL
type cacheEntry struct {
	workspaceID uuid.UUID
	policies    []*models.Policy
	insertedAt  time.Time
	element     *list.Element // For LRU tracking
}

func (e *cacheEntry) isExpired(ttl time.Duration) bool {
	return time.Since(e.insertedAt) > ttl
}

// PolicyCache is an in-memory LRU cache with TTL holding the applicable
// policy set of each workspace. Thread-safe.
type PolicyCache struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*cacheEntry
	lruList *list.List
	maxSize int
	ttl     time.Duration
	hits    uint64
	misses  uint64
}

// NewPolicyCache creates a new PolicyCache with specified max size and TTL
func NewPolicyCache(maxSize int, ttl time.Duration) *PolicyCache {
	if maxSize < 1 {
		maxSize = 1
	}
	return &PolicyCache{
		entries: make(map[uuid.UUID]*cacheEntry),
		lruList: list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// GetPolicies returns the cached policy set for a workspace.
// The second result is false if not found or expired.
func (c *PolicyCache) GetPolicies(workspaceID uuid.UUID) ([]*models.Policy, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[workspaceID]
	if !exists || entry.isExpired(c.ttl) {
		c.misses++
		if exists {
			c.removeEntry(workspaceID)
		}
		return nil, false
	}

	c.lruList.MoveToFront(entry.element)
	c.hits++

	return entry.policies, true
}

// SetPolicies stores the policy set of a workspace. An empty set is cached
// too so that policy-free workspaces do not hit the store on every request.
func (c *PolicyCache) SetPolicies(workspaceID uuid.UUID, policies []*models.Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[workspaceID]; exists {
		entry.policies = policies
		entry.insertedAt = time.Now()
		c.lruList.MoveToFront(entry.element)
		return
	}

	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &cacheEntry{
		workspaceID: workspaceID,
		policies:    policies,
		insertedAt:  time.Now(),
	}
	entry.element = c.lruList.PushFront(workspaceID)
	c.entries[workspaceID] = entry
}

// InvalidateWorkspace removes the cached policy set of one workspace
func (c *PolicyCache) InvalidateWorkspace(workspaceID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeEntry(workspaceID)
}

// Clear removes all entries from the cache. Platform-wide policy writes
// affect every workspace and must clear everything.
func (c *PolicyCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[uuid.UUID]*cacheEntry)
	c.lruList.Init()
}

// Stats returns cache statistics
func (c *PolicyCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		Size:    c.lruList.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: c.calculateHitRate(),
	}
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

func (c *PolicyCache) calculateHitRate() float64 {
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

// removeEntry must be called with lock held
func (c *PolicyCache) removeEntry(workspaceID uuid.UUID) {
	if entry, exists := c.entries[workspaceID]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, workspaceID)
	}
}

// evictLRU must be called with lock held
func (c *PolicyCache) evictLRU() {
	back := c.lruList.Back()
	if back == nil {
		return
	}
	workspaceID := back.Value.(uuid.UUID)
	c.lruList.Remove(back)
	delete(c.entries, workspaceID)
}

// CleanupExpired removes all expired entries and returns how many were dropped
func (c *PolicyCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	expired := make([]uuid.UUID, 0)
	for workspaceID, entry := range c.entries {
		if entry.isExpired(c.ttl) {
			expired = append(expired, workspaceID)
		}
	}
	for _, workspaceID := range expired {
		c.removeEntry(workspaceID)
	}

	return len(expired)
}

// StartCleanupWorker periodically drops expired entries until stopCh closes
func (c *PolicyCache) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CleanupExpired()
		case <-stopCh:
			return
		}
	}
}

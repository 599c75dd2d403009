package rules

import (
	"sync"
	"time"
)

// InMemoryRuleSetCache is a simple in-memory implementation of RuleSetCache.
// Thread-safe for concurrent access.
type InMemoryRuleSetCache struct {
	list     []*RuleSet
	cachedAt time.Time
	config   CacheConfig
	valid    bool
	gen      uint64
	mu       sync.RWMutex
}

func NewInMemoryRuleSetCache(config CacheConfig) *InMemoryRuleSetCache {
	return &InMemoryRuleSetCache{config: config}
}

// Get returns a copy of the cached listing, or nil if invalid or expired
func (c *InMemoryRuleSetCache) Get() []*RuleSet {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.fresh() {
		return nil
	}

	out := make([]*RuleSet, len(c.list))
	copy(out, c.list)
	return out
}

func (c *InMemoryRuleSetCache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.gen
}

func (c *InMemoryRuleSetCache) Set(list []*RuleSet, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return false
	}
	c.list = make([]*RuleSet, len(list))
	copy(c.list, list)
	c.cachedAt = time.Now()
	c.valid = true
	return true
}

func (c *InMemoryRuleSetCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.valid = false
	c.list = nil
}

func (c *InMemoryRuleSetCache) IsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.fresh()
}

// fresh must be called with c.mu held
func (c *InMemoryRuleSetCache) fresh() bool {
	if !c.valid {
		return false
	}
	if c.config.TTL > 0 {
		return time.Since(c.cachedAt) <= c.config.TTL
	}
	return true
}

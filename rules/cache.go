package rules

import (
	"context"
	"time"
)

// RuleSetCache caches the rule set listing.
// This allows swapping between in-memory, Redis, or other caching implementations.
type RuleSetCache interface {
	// Get returns the cached listing, or nil on a miss
	Get() []*RuleSet

	// Generation changes on every Invalidate
	Generation() uint64

	// Set stores list if no Invalidate happened since gen was read.
	// It reports whether the listing was stored.
	Set(list []*RuleSet, gen uint64) bool

	// Invalidate clears the cache, forcing a refresh on next Get
	Invalidate()

	IsValid() bool
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries.
	// Set to 0 for no expiration (manual invalidation only).
	TTL time.Duration
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 0}
}

// CachedRuleSetStore serves List and Latest from a cache that every
// mutation invalidates
type CachedRuleSetStore struct {
	RuleSetStore
	cache RuleSetCache
}

func NewCachedRuleSetStore(store RuleSetStore, cache RuleSetCache) *CachedRuleSetStore {
	return &CachedRuleSetStore{RuleSetStore: store, cache: cache}
}

func (s *CachedRuleSetStore) Add(ctx context.Context, rs *RuleSet) error {
	defer s.cache.Invalidate()
	return s.RuleSetStore.Add(ctx, rs)
}

func (s *CachedRuleSetStore) Delete(ctx context.Context, id string) error {
	defer s.cache.Invalidate()
	return s.RuleSetStore.Delete(ctx, id)
}

func (s *CachedRuleSetStore) List(ctx context.Context) ([]*RuleSet, error) {
	if list := s.cache.Get(); list != nil {
		return list, nil
	}

	gen := s.cache.Generation()
	list, err := s.RuleSetStore.List(ctx)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*RuleSet{}
	}
	// a mutation that raced the read leaves the cache empty
	s.cache.Set(list, gen)
	return list, nil
}

func (s *CachedRuleSetStore) Latest(ctx context.Context) (*RuleSet, error) {
	if list := s.cache.Get(); list != nil {
		if len(list) == 0 {
			return s.RuleSetStore.Latest(ctx)
		}
		return list[0], nil
	}
	return s.RuleSetStore.Latest(ctx)
}

package rules

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrRuleSetNotFound = errors.New("rule set not found")
	ErrRuleSetExists   = errors.New("rule set already exists")
)

// RuleSetStore persists analyst rule sets
type RuleSetStore interface {
	// Add stores a new rule set, setting CreatedAt when it is zero
	Add(ctx context.Context, rs *RuleSet) error

	// Get returns the rule set with the given id or ErrRuleSetNotFound
	Get(ctx context.Context, id string) (*RuleSet, error)

	// List returns every rule set, newest first
	List(ctx context.Context) ([]*RuleSet, error)

	// Latest returns the most recently created rule set or ErrRuleSetNotFound
	Latest(ctx context.Context) (*RuleSet, error)

	// Delete removes a rule set and its runs
	Delete(ctx context.Context, id string) error
}

// RunStore keeps the history of labeling passes
type RunStore interface {
	Record(ctx context.Context, run *Run) error
	ListByRuleSet(ctx context.Context, ruleSetID string) ([]*Run, error)
}

// InMemoryRuleSetStore implements RuleSetStore and RunStore with maps.
// Safe for concurrent use.
type InMemoryRuleSetStore struct {
	ruleSets map[string]*RuleSet
	order    []string // insertion order, used to break CreatedAt ties
	runs     map[string][]*Run
	mu       sync.RWMutex
}

func NewInMemoryRuleSetStore() *InMemoryRuleSetStore {
	return &InMemoryRuleSetStore{
		ruleSets: make(map[string]*RuleSet),
		runs:     make(map[string][]*Run),
	}
}

func (s *InMemoryRuleSetStore) Add(_ context.Context, rs *RuleSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ruleSets[rs.ID]; exists {
		return fmt.Errorf("%w: %s", ErrRuleSetExists, rs.ID)
	}
	if rs.CreatedAt.IsZero() {
		rs.CreatedAt = time.Now().UTC()
	}

	s.ruleSets[rs.ID] = rs
	s.order = append(s.order, rs.ID)
	return nil
}

func (s *InMemoryRuleSetStore) Get(_ context.Context, id string) (*RuleSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rs, exists := s.ruleSets[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRuleSetNotFound, id)
	}
	return rs, nil
}

func (s *InMemoryRuleSetStore) List(_ context.Context) ([]*RuleSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.newestFirst(), nil
}

func (s *InMemoryRuleSetStore) Latest(_ context.Context) (*RuleSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.newestFirst()
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: store is empty", ErrRuleSetNotFound)
	}
	return list[0], nil
}

func (s *InMemoryRuleSetStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ruleSets[id]; !exists {
		return fmt.Errorf("%w: %s", ErrRuleSetNotFound, id)
	}

	delete(s.ruleSets, id)
	delete(s.runs, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// newestFirst must be called with s.mu held
func (s *InMemoryRuleSetStore) newestFirst() []*RuleSet {
	list := make([]*RuleSet, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		list = append(list, s.ruleSets[s.order[i]])
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list
}

func (s *InMemoryRuleSetStore) Record(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ruleSets[run.RuleSetID]; !exists {
		return fmt.Errorf("%w: %s", ErrRuleSetNotFound, run.RuleSetID)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	s.runs[run.RuleSetID] = append(s.runs[run.RuleSetID], run)
	return nil
}

// ListByRuleSet returns the runs of a rule set, newest first
func (s *InMemoryRuleSetStore) ListByRuleSet(_ context.Context, ruleSetID string) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.ruleSets[ruleSetID]; !exists {
		return nil, fmt.Errorf("%w: %s", ErrRuleSetNotFound, ruleSetID)
	}

	runs := s.runs[ruleSetID]
	out := make([]*Run, 0, len(runs))
	for i := len(runs) - 1; i >= 0; i-- {
		out = append(out, runs[i])
	}
	return out, nil
}

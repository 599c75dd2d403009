// Package rulesets keeps compiled rule sets in memory and runs labeling
// passes against them.
package rulesets

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/liamcoop/perfrules/internal/logger"
	"github.com/liamcoop/perfrules/internal/metrics"
	"github.com/liamcoop/perfrules/rules"
)

// Compiled pairs a stored rule set with its engine
type Compiled struct {
	RuleSet *rules.RuleSet
	Engine  *rules.Engine
}

// Manager manages engines for all rule sets
type Manager struct {
	store   rules.RuleSetStore
	runs    rules.RunStore
	engines map[string]*Compiled
	mu      sync.RWMutex
}

func NewManager(store rules.RuleSetStore, runs rules.RunStore) *Manager {
	return &Manager{
		store:   store,
		runs:    runs,
		engines: make(map[string]*Compiled),
	}
}

// Compile parses the rule document and compiles the derived fields of rs
func Compile(rs *rules.RuleSet) (*Compiled, error) {
	schema, err := rules.ParseSchema(rs.Document)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rule document: %w", err)
	}

	engine, err := rules.NewEngine(schema, rs.Derived)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	return &Compiled{RuleSet: rs, Engine: engine}, nil
}

// LoadAll compiles every stored rule set. A rule set that no longer
// compiles is logged and left out; it can still be listed and deleted.
func (m *Manager) LoadAll(ctx context.Context) (int, error) {
	list, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch rule sets: %w", err)
	}

	loaded := make(map[string]*Compiled, len(list))
	for _, rs := range list {
		c, err := Compile(rs)
		if err != nil {
			logger.Error("rule set failed to compile", "ruleSetId", rs.ID, "error", err)
			continue
		}
		loaded[rs.ID] = c
	}

	m.mu.Lock()
	m.engines = loaded
	m.mu.Unlock()

	metrics.SetRuleSetsLoaded(len(loaded))
	return len(loaded), nil
}

// Create validates, compiles and stores a new rule set
func (m *Manager) Create(ctx context.Context, name string, doc json.RawMessage, derived []rules.DerivedField) (*Compiled, error) {
	if err := ValidateRuleSet(doc, derived); err != nil {
		return nil, err
	}

	rs := &rules.RuleSet{
		ID:        uuid.NewString(),
		Name:      name,
		Document:  doc,
		Derived:   derived,
		CreatedAt: time.Now().UTC(),
	}
	if rs.Name == "" {
		rs.Name = "rules " + rs.CreatedAt.Format(time.RFC3339)
	}

	c, err := Compile(rs)
	if err != nil {
		return nil, &DocumentError{Errors: []FieldError{{Field: "derived", Message: err.Error()}}}
	}

	if err := m.store.Add(ctx, rs); err != nil {
		return nil, fmt.Errorf("failed to save rule set: %w", err)
	}

	m.cache(c)
	logger.Info("rule set created", "ruleSetId", rs.ID, "attributes", c.Engine.Schema().Len(), "derived", len(derived))
	return c, nil
}

// Get returns the compiled rule set, compiling it from the store on a miss
func (m *Manager) Get(ctx context.Context, id string) (*Compiled, error) {
	m.mu.RLock()
	c, ok := m.engines[id]
	m.mu.RUnlock()
	if ok {
		return c, nil
	}

	rs, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c, err = Compile(rs)
	if err != nil {
		return nil, err
	}
	m.cache(c)
	return c, nil
}

// Latest returns the most recently created rule set
func (m *Manager) Latest(ctx context.Context) (*Compiled, error) {
	rs, err := m.store.Latest(ctx)
	if err != nil {
		return nil, err
	}
	return m.Get(ctx, rs.ID)
}

// List returns every stored rule set, newest first
func (m *Manager) List(ctx context.Context) ([]*rules.RuleSet, error) {
	return m.store.List(ctx)
}

// Delete removes a rule set from the store and the engine cache
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.engines, id)
	n := len(m.engines)
	m.mu.Unlock()

	metrics.SetRuleSetsLoaded(n)
	return nil
}

// Runs returns the labeling history of a rule set, newest first
func (m *Manager) Runs(ctx context.Context, id string) ([]*rules.Run, error) {
	return m.runs.ListByRuleSet(ctx, id)
}

// Loaded returns the number of compiled rule sets in memory
func (m *Manager) Loaded() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.engines)
}

func (m *Manager) cache(c *Compiled) {
	m.mu.Lock()
	m.engines[c.RuleSet.ID] = c
	n := len(m.engines)
	m.mu.Unlock()

	metrics.SetRuleSetsLoaded(n)
}

// Generate builds a synthetic dataset with the rule set and records the run
func (m *Manager) Generate(ctx context.Context, id string, opts rules.GenerateOptions) (*rules.Dataset, *rules.Run, error) {
	c, err := m.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	ds, err := rules.Generate(c.Engine, opts)
	if err != nil {
		return nil, nil, err
	}
	metrics.ObserveRun(rules.RunGenerate, ds.Distribution, ds.Resampled, ds.Fallbacks, time.Since(start).Seconds())

	run := m.record(ctx, id, rules.RunGenerate, len(ds.Records), opts.Noise, ds.Distribution)
	return ds, run, nil
}

// LabeledRecord is the classification of one submitted record
type LabeledRecord struct {
	Label    rules.Label `json:"label"`
	Name     string      `json:"labelName"`
	Missing  []string    `json:"missingAttributes,omitempty"`
	Fallback bool        `json:"fallback,omitempty"`
}

// ClassifyResult is the outcome of labeling submitted records
type ClassifyResult struct {
	RuleSetID    string             `json:"ruleSetId"`
	Records      []LabeledRecord    `json:"records"`
	Distribution rules.Distribution `json:"distribution"`
	Run          *rules.Run         `json:"run,omitempty"`
}

// Classify labels real records with the rule set. Schema attributes a record
// cannot be scored on are reported rather than filled with defaults.
func (m *Manager) Classify(ctx context.Context, id string, records []map[string]any, noise float64, rng *rand.Rand) (*ClassifyResult, error) {
	if err := rules.ValidateNoise(noise); err != nil {
		return nil, err
	}
	c, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	start := time.Now()
	result := &ClassifyResult{
		RuleSetID: id,
		Records:   make([]LabeledRecord, 0, len(records)),
	}
	var resampled, fallbacks int
	for _, rec := range records {
		cl, missing := c.Engine.LabelRecord(rng, rec, noise)
		result.Distribution.Add(cl.Label)
		if cl.Resampled {
			resampled++
		}
		if cl.Fallback {
			fallbacks++
		}
		result.Records = append(result.Records, LabeledRecord{
			Label:    cl.Label,
			Name:     cl.Label.String(),
			Missing:  missing,
			Fallback: cl.Fallback,
		})
	}
	metrics.ObserveRun(rules.RunClassify, result.Distribution, resampled, fallbacks, time.Since(start).Seconds())

	result.Run = m.record(ctx, id, rules.RunClassify, len(records), noise, result.Distribution)
	return result, nil
}

// record stores the run; a failure is logged and does not fail the request
func (m *Manager) record(ctx context.Context, id string, kind rules.RunKind, rows int, noise float64, dist rules.Distribution) *rules.Run {
	run := &rules.Run{
		ID:           uuid.NewString(),
		RuleSetID:    id,
		Kind:         kind,
		Rows:         rows,
		Noise:        noise,
		Distribution: dist,
		CreatedAt:    time.Now().UTC(),
	}
	if err := m.runs.Record(ctx, run); err != nil {
		logger.Error("failed to record run", "ruleSetId", id, "kind", kind, "error", err)
		return nil
	}
	return run
}

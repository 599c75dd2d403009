package rules

import (
	"encoding/json"
	"fmt"
	"time"
)

// Label is the future-performance class assigned to a record
type Label int

const (
	LabelLow    Label = 0
	LabelMedium Label = 1
	LabelHigh   Label = 2
)

// String returns the display name consumed by downstream reports
func (l Label) String() string {
	switch l {
	case LabelLow:
		return "bajo"
	case LabelMedium:
		return "medio"
	case LabelHigh:
		return "alto"
	default:
		return fmt.Sprintf("Label(%d)", int(l))
	}
}

// Valid reports whether l is one of the three known classes
func (l Label) Valid() bool {
	return l >= LabelLow && l <= LabelHigh
}

// RuleSet is an analyst-authored scoring document together with its metadata.
// Document is kept verbatim so class ordering survives storage round trips.
type RuleSet struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Document  json.RawMessage `json:"rules"`
	Derived   []DerivedField  `json:"derived,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// DerivedField is a numeric attribute computed from the record before scoring
type DerivedField struct {
	Name       string `json:"name"`
	Expression string `json:"expression"` // CEL expression over the record columns
}

// RunKind distinguishes synthetic generation from labeling of real records
type RunKind string

const (
	RunGenerate RunKind = "generate"
	RunClassify RunKind = "classify"
)

// Run records one labeling pass made with a rule set
type Run struct {
	ID           string       `json:"id"`
	RuleSetID    string       `json:"ruleSetId"`
	Kind         RunKind      `json:"kind"`
	Rows         int          `json:"rows"`
	Noise        float64      `json:"noise"`
	Distribution Distribution `json:"distribution"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// Distribution counts labels by class
type Distribution struct {
	Low    int `json:"bajo"`
	Medium int `json:"medio"`
	High   int `json:"alto"`
}

// Add counts one occurrence of l. Unknown labels are ignored.
func (d *Distribution) Add(l Label) {
	switch l {
	case LabelLow:
		d.Low++
	case LabelMedium:
		d.Medium++
	case LabelHigh:
		d.High++
	}
}

// Count returns the number of rows labeled l
func (d Distribution) Count(l Label) int {
	switch l {
	case LabelLow:
		return d.Low
	case LabelMedium:
		return d.Medium
	case LabelHigh:
		return d.High
	}
	return 0
}

func (d Distribution) Total() int {
	return d.Low + d.Medium + d.High
}

// Share returns the fraction of rows labeled l, or 0 for an empty distribution
func (d Distribution) Share(l Label) float64 {
	total := d.Total()
	if total == 0 {
		return 0
	}
	return float64(d.Count(l)) / float64(total)
}

// Shares returns the normalized distribution keyed by label name
func (d Distribution) Shares() map[string]float64 {
	return map[string]float64{
		LabelLow.String():    d.Share(LabelLow),
		LabelMedium.String(): d.Share(LabelMedium),
		LabelHigh.String():   d.Share(LabelHigh),
	}
}

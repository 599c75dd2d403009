package main

import (
	"encoding/json"
	"time"

	"github.com/liamcoop/perfrules/rules"
	"github.com/liamcoop/perfrules/rulesets"
)

// API request and response models

// CreateDatasetRequest saves a rule set and generates a dataset from it
type CreateDatasetRequest struct {
	Name    string               `json:"name" validate:"max=200"`
	Rules   json.RawMessage      `json:"rules" validate:"required"`
	Derived []rules.DerivedField `json:"derived,omitempty" validate:"max=50"`
	Samples *int                 `json:"samples,omitempty" validate:"omitempty,min=1,max=100000"`
	Noise   *float64             `json:"noise,omitempty" validate:"omitempty,min=0,max=1"`
	Seed    *uint64              `json:"seed,omitempty"`
}

// GenerateRequest regenerates a dataset from a stored rule set
type GenerateRequest struct {
	Samples *int     `json:"samples,omitempty" validate:"omitempty,min=1,max=100000"`
	Noise   *float64 `json:"noise,omitempty" validate:"omitempty,min=0,max=1"`
	Seed    *uint64  `json:"seed,omitempty"`
}

// DatasetResponse summarizes a generated dataset
type DatasetResponse struct {
	RuleSetID    string             `json:"ruleSetId"`
	RunID        string             `json:"runId,omitempty"`
	Message      string             `json:"message"`
	Rows         int                `json:"rows"`
	Distribution rules.Distribution `json:"distribution"`
	Shares       map[string]float64 `json:"shares"`
	Resampled    int                `json:"resampled"`
	Fallbacks    int                `json:"fallbacks"`
	Preview      []rules.Record     `json:"preview"`
}

// ClassifyRequest labels real records
type ClassifyRequest struct {
	Records []map[string]any `json:"records" validate:"required,min=1,max=10000"`
	Noise   *float64         `json:"noise,omitempty" validate:"omitempty,min=0,max=1"`
	Seed    *uint64          `json:"seed,omitempty"`
}

// RuleSetSummary is a rule set in list responses
type RuleSetSummary struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Attributes int       `json:"attributes"`
	Derived    int       `json:"derived"`
	CreatedAt  time.Time `json:"createdAt"`
}

// RuleSetsListResponse represents the response for listing rule sets
type RuleSetsListResponse struct {
	RuleSets []RuleSetSummary `json:"ruleSets"`
}

// RuleSetResponse is a single rule set with the entries skipped while parsing
type RuleSetResponse struct {
	*rules.RuleSet
	Attributes []string    `json:"attributes"`
	Issues     []RuleIssue `json:"issues,omitempty"`
}

// RuleIssue is a malformed rule entry that is ignored when labeling
type RuleIssue struct {
	Attribute string `json:"attribute"`
	Class     string `json:"class,omitempty"`
	Reason    string `json:"reason"`
}

// RunsListResponse represents the labeling history of a rule set
type RunsListResponse struct {
	Runs []*rules.Run `json:"runs"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string                `json:"error"`
	Details string                `json:"details,omitempty"`
	Fields  []rulesets.FieldError `json:"fields,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status         string `json:"status"`
	Storage        string `json:"storage"`
	RuleSetsLoaded int    `json:"ruleSetsLoaded"`
	Error          string `json:"error,omitempty"`
}

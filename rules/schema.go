package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/liamcoop/perfrules/internal/logger"
)

// ErrDocumentNotObject is returned when a rule document is not a JSON object
var ErrDocumentNotObject = errors.New("rule document must be a JSON object")

// AttributeRule scores one numeric attribute value.
// ok is false when the rule has no opinion about the value.
type AttributeRule interface {
	Score(value float64) (label Label, ok bool)
}

// ThresholdRule marks an inclusive interval as medium, values below it as low
// and values above it as high. Min > Max is legal and never scores medium.
type ThresholdRule struct {
	Min float64
	Max float64
}

func (r ThresholdRule) Score(value float64) (Label, bool) {
	switch {
	case value >= r.Min && value <= r.Max:
		return LabelMedium, true
	case value < r.Min:
		return LabelLow, true
	default:
		return LabelHigh, true
	}
}

// ClassInterval maps an inclusive interval to a class
type ClassInterval struct {
	Class Label
	Min   float64
	Max   float64
}

func (c ClassInterval) Contains(value float64) bool {
	return value >= c.Min && value <= c.Max
}

// MultiClassRule labels a value with the first interval that contains it,
// scanning Classes in document order
type MultiClassRule struct {
	Classes []ClassInterval
}

func (r MultiClassRule) Score(value float64) (Label, bool) {
	for _, c := range r.Classes {
		if c.Contains(value) {
			return c.Class, true
		}
	}
	return 0, false
}

// Attribute binds a record column to its rule
type Attribute struct {
	Name string
	Rule AttributeRule
}

// RuleIssue describes a malformed part of a rule document that was skipped
type RuleIssue struct {
	Attribute string
	Class     string
	Reason    string
}

func (i RuleIssue) Error() string {
	if i.Class != "" {
		return fmt.Sprintf("attribute %q class %q: %s", i.Attribute, i.Class, i.Reason)
	}
	return fmt.Sprintf("attribute %q: %s", i.Attribute, i.Reason)
}

// Schema is a parsed rule document. It is immutable once parsed.
type Schema struct {
	attributes []Attribute
	issues     []RuleIssue
}

// Attributes returns the usable rules in document order
func (s *Schema) Attributes() []Attribute {
	if s == nil {
		return nil
	}
	out := make([]Attribute, len(s.attributes))
	copy(out, s.attributes)
	return out
}

// Issues returns the malformed rules that were dropped while parsing
func (s *Schema) Issues() []RuleIssue {
	if s == nil {
		return nil
	}
	out := make([]RuleIssue, len(s.issues))
	copy(out, s.issues)
	return out
}

func (s *Schema) Len() int {
	if s == nil {
		return 0
	}
	return len(s.attributes)
}

// Names returns the attribute names in document order
func (s *Schema) Names() []string {
	names := make([]string, 0, s.Len())
	for _, a := range s.Attributes() {
		names = append(names, a.Name)
	}
	return names
}

// ParseSchema reads a rule document of the form
//
//	{"puntaje": {"1": [50, 60]}, "desempenio": {"0": [0, 0], "2": [2, 2]}}
//
// A single "1" key is a threshold rule; any other object holding at least one
// of the keys "0", "1", "2" is a multi-class rule. Malformed attributes and
// class entries are logged and skipped. Only a document that is not a JSON
// object is an error.
func ParseSchema(doc []byte) (*Schema, error) {
	entries, err := orderedObject(doc)
	if err != nil {
		return nil, err
	}

	s := &Schema{}
	for _, e := range entries {
		rule, issues := parseAttributeRule(e.key, e.value)
		for _, issue := range issues {
			logger.WarnMalformedRule(issue.Attribute, issue.Class, issue.Reason)
		}
		s.issues = append(s.issues, issues...)
		if rule != nil {
			s.attributes = append(s.attributes, Attribute{Name: e.key, Rule: rule})
		}
	}
	return s, nil
}

// MustParseSchema is ParseSchema for documents known to be valid
func MustParseSchema(doc string) *Schema {
	s, err := ParseSchema([]byte(doc))
	if err != nil {
		panic(err)
	}
	return s
}

func parseAttributeRule(name string, raw json.RawMessage) (AttributeRule, []RuleIssue) {
	classes, err := orderedObject(raw)
	if err != nil {
		return nil, []RuleIssue{{Attribute: name, Reason: "rule must be an object of class intervals"}}
	}

	if len(classes) == 1 && classes[0].key == "1" {
		lo, hi, err := parseInterval(classes[0].value)
		if err != nil {
			return nil, []RuleIssue{{Attribute: name, Class: "1", Reason: err.Error()}}
		}
		return ThresholdRule{Min: lo, Max: hi}, nil
	}

	if !hasClassKey(classes) {
		return nil, []RuleIssue{{Attribute: name, Reason: `no class keys "0", "1" or "2"`}}
	}

	var issues []RuleIssue
	rule := MultiClassRule{}
	for _, c := range classes {
		class, err := strconv.Atoi(c.key)
		if err != nil {
			issues = append(issues, RuleIssue{Attribute: name, Class: c.key, Reason: "class key is not an integer"})
			continue
		}
		if !Label(class).Valid() {
			issues = append(issues, RuleIssue{Attribute: name, Class: c.key, Reason: "class must be 0, 1 or 2"})
			continue
		}
		lo, hi, err := parseInterval(c.value)
		if err != nil {
			issues = append(issues, RuleIssue{Attribute: name, Class: c.key, Reason: err.Error()})
			continue
		}
		rule.Classes = append(rule.Classes, ClassInterval{Class: Label(class), Min: lo, Max: hi})
	}

	if len(rule.Classes) == 0 {
		issues = append(issues, RuleIssue{Attribute: name, Reason: "no usable class intervals"})
		return nil, issues
	}
	return rule, issues
}

func hasClassKey(entries []objectEntry) bool {
	for _, e := range entries {
		switch e.key {
		case "0", "1", "2":
			return true
		}
	}
	return false
}

func parseInterval(raw json.RawMessage) (float64, float64, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var bounds []any
	if err := dec.Decode(&bounds); err != nil {
		return 0, 0, fmt.Errorf("interval must be a [min, max] list")
	}
	if len(bounds) != 2 {
		return 0, 0, fmt.Errorf("interval must have exactly two bounds, got %d", len(bounds))
	}

	var out [2]float64
	for i, b := range bounds {
		n, ok := b.(json.Number)
		if !ok {
			return 0, 0, fmt.Errorf("interval bound %v is not a number", b)
		}
		f, err := n.Float64()
		if err != nil {
			return 0, 0, fmt.Errorf("interval bound %s: %w", n, err)
		}
		out[i] = f
	}
	return out[0], out[1], nil
}

type objectEntry struct {
	key   string
	value json.RawMessage
}

// orderedObject decodes a JSON object keeping key order. A repeated key keeps
// its first position and its last value.
func orderedObject(raw []byte) ([]objectEntry, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("read rule document: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, ErrDocumentNotObject
	}

	var entries []objectEntry
	index := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read rule document: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, ErrDocumentNotObject
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("read value of %q: %w", key, err)
		}

		if i, seen := index[key]; seen {
			entries[i].value = value
			continue
		}
		index[key] = len(entries)
		entries = append(entries, objectEntry{key: key, value: value})
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("read rule document: %w", err)
	}
	return entries, nil
}

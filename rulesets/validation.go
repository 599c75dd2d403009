package rulesets

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/liamcoop/perfrules/rules"
	"github.com/xeipuuv/gojsonschema"
)

const (
	MaxAttributes    = 100
	MaxDerivedFields = 50
)

// documentSchema only bounds the top-level shape. Entries inside are checked
// by rules.ParseSchema, which skips malformed ones and reports them as issues.
var documentSchema = mustCompile(fmt.Sprintf(`{
	"type": "object",
	"maxProperties": %d
}`, MaxAttributes))

func mustCompile(schema string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		panic(fmt.Sprintf("rule document schema: %v", err))
	}
	return s
}

// FieldError is a single validation failure at a document path
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// DocumentError collects every problem found in a submitted rule set
type DocumentError struct {
	Errors []FieldError
}

func (e *DocumentError) Error() string {
	var sb strings.Builder
	sb.WriteString("invalid rule set:")
	for i, fe := range e.Errors {
		if i > 0 {
			sb.WriteString(";")
		}
		fmt.Fprintf(&sb, " %s: %s", fe.Field, fe.Message)
	}
	return sb.String()
}

func (e *DocumentError) add(field, format string, args ...any) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// ValidateRuleSet checks the rule document shape and the derived fields.
// Returns a *DocumentError listing every failure, or nil. Malformed attribute
// entries are not failures here; they surface through Schema.Issues.
func ValidateRuleSet(doc json.RawMessage, derived []rules.DerivedField) error {
	verr := &DocumentError{}

	validateDocument(doc, verr)
	validateDerived(derived, verr)

	if len(verr.Errors) > 0 {
		return verr
	}
	return nil
}

func validateDocument(doc json.RawMessage, verr *DocumentError) {
	if len(doc) == 0 {
		verr.add("rules", "rule document is required")
		return
	}

	result, err := documentSchema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		verr.add("rules", "rule document is not valid JSON: %v", err)
		return
	}
	if !result.Valid() {
		for _, desc := range result.Errors() {
			field := desc.Field()
			if field == "" || field == "(root)" {
				field = "rules"
			} else {
				field = "rules." + field
			}
			verr.add(field, "%s", desc.Description())
		}
	}
}

func validateDerived(derived []rules.DerivedField, verr *DocumentError) {
	if len(derived) > MaxDerivedFields {
		verr.add("derived", "%d derived fields, maximum allowed is %d", len(derived), MaxDerivedFields)
		return
	}

	seen := make(map[string]bool, len(derived))
	for i, f := range derived {
		field := fmt.Sprintf("derived[%d]", i)
		switch {
		case f.Name == "":
			verr.add(field+".name", "name is required")
		case rules.IsReservedKeyword(f.Name):
			verr.add(field+".name", "cannot use reserved keyword %q", f.Name)
		case !rules.IsIdentifier(f.Name):
			verr.add(field+".name", "%q must match ^[a-zA-Z_][a-zA-Z0-9_]*$", f.Name)
		case isColumn(f.Name):
			verr.add(field+".name", "%q shadows a record column", f.Name)
		case seen[f.Name]:
			verr.add(field+".name", "duplicate derived field %q", f.Name)
		}
		seen[f.Name] = true

		if strings.TrimSpace(f.Expression) == "" {
			verr.add(field+".expression", "expression is required")
		}
	}
}

func isColumn(name string) bool {
	for _, c := range rules.Columns {
		if c == name {
			return true
		}
	}
	return false
}

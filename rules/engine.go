package rules

import (
	"fmt"
	"math/rand/v2"

	"github.com/google/cel-go/cel"
	"github.com/liamcoop/perfrules/internal/logger"
)

// Engine labels rows with a parsed schema, computing derived fields first.
// An Engine is read-only after construction and safe for concurrent use as
// long as each goroutine passes its own *rand.Rand.
type Engine struct {
	schema  *Schema
	env     *cel.Env
	derived []compiledField
}

type compiledField struct {
	name    string
	program cel.Program
}

// NewEngine compiles the derived fields of a rule set against schema
func NewEngine(schema *Schema, derived []DerivedField) (*Engine, error) {
	env, err := CreateCELEnv(schema, derived)
	if err != nil {
		return nil, err
	}

	en := &Engine{
		schema: schema,
		env:    env,
	}

	for _, f := range derived {
		prog, err := en.CompileField(f.Expression)
		if err != nil {
			return nil, fmt.Errorf("derived field %s: %w", f.Name, err)
		}
		en.derived = append(en.derived, compiledField{name: f.Name, program: prog})
	}

	return en, nil
}

// CreateCELEnv declares every record column, schema attribute and derived
// field as a dynamic variable
func CreateCELEnv(schema *Schema, derived []DerivedField) (*cel.Env, error) {
	seen := make(map[string]bool)
	var opts []cel.EnvOption
	declare := func(name string) {
		if seen[name] || !IsIdentifier(name) {
			return
		}
		seen[name] = true
		opts = append(opts, cel.Variable(name, cel.DynType))
	}

	for _, c := range Columns {
		declare(c)
	}
	for _, name := range schema.Names() {
		declare(name)
	}
	for _, f := range derived {
		declare(f.Name)
	}

	opts = append(opts, cel.CrossTypeNumericComparisons(true))

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// CompileField compiles a derived field expression to a CEL program
func (en *Engine) CompileField(expression string) (cel.Program, error) {
	ast, issues := en.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}

	prog, err := en.env.Program(ast, cel.CostLimit(100000))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}
	return prog, nil
}

// Schema returns the rules the engine scores with
func (en *Engine) Schema() *Schema {
	return en.schema
}

// Prepare returns the numeric view of row extended with the derived fields.
// A derived field that fails to evaluate or yields a non-number is left out.
func (en *Engine) Prepare(row map[string]any) map[string]any {
	view := NumericView(row)
	for _, f := range en.derived {
		out, _, err := f.program.Eval(view)
		if err != nil {
			logger.Trace("derived field skipped", "field", f.name, "error", err)
			continue
		}
		value, ok := ToNumber(out.Value())
		if !ok {
			logger.Trace("derived field is not numeric", "field", f.name, "type", out.Type().TypeName())
			continue
		}
		view[f.name] = value
	}
	return view
}

// Label classifies a single row
func (en *Engine) Label(rng *rand.Rand, row map[string]any, noise float64) Classification {
	return ClassifyDetail(rng, en.Prepare(row), en.schema, noise)
}

// LabelRecord classifies row and lists the schema attributes it could not be
// scored on, evaluating derived fields once
func (en *Engine) LabelRecord(rng *rand.Rand, row map[string]any, noise float64) (Classification, []string) {
	view := en.Prepare(row)
	return ClassifyDetail(rng, view, en.schema, noise), en.missing(view)
}

// MissingAttributes lists the schema attributes that row cannot be scored on
func (en *Engine) MissingAttributes(row map[string]any) []string {
	return en.missing(en.Prepare(row))
}

func (en *Engine) missing(view map[string]any) []string {
	var missing []string
	for _, attr := range en.schema.Attributes() {
		if _, ok := ToNumber(view[attr.Name]); !ok {
			missing = append(missing, attr.Name)
		}
	}
	return missing
}

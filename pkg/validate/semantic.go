package validate

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// SemanticTypeValidator evaluates the CEL constraint expression attached
// to a property's semantic type against that property's value. Regex,
// min, max, and enum entries on a SemanticTypeConstraint are convenience
// shorthands compiled into an equivalent expression so callers never have
// to hand-write CEL for the common cases, mirroring the way the kernel's
// CEL evaluator compiles and runs one expression per decision point.
type SemanticTypeValidator struct {
	env *cel.Env

	mu       sync.Mutex
	programs map[string]cel.Program
}

// NewSemanticTypeValidator builds the shared CEL environment. The single
// "value" variable is dynamically typed so the same environment serves
// string, numeric, and boolean semantic types.
func NewSemanticTypeValidator() (*SemanticTypeValidator, error) {
	env, err := cel.NewEnv(cel.Variable("value", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("build semantic-type CEL environment: %w", err)
	}
	return &SemanticTypeValidator{env: env, programs: make(map[string]cel.Program)}, nil
}

func (s *SemanticTypeValidator) Validate(_ context.Context, _ string, content map[string]interface{}, rules *RuleSet) ([]Issue, map[string]interface{}, error) {
	if rules == nil {
		return nil, nil, nil
	}
	rawProps, _ := content["properties"].([]interface{})

	var issues []Issue
	for _, raw := range rawProps {
		prop, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		semanticType, _ := prop["semantic_type_id"].(string)
		if semanticType == "" {
			continue
		}
		constraint, ok := rules.semanticConstraintFor(semanticType)
		if !ok {
			continue
		}
		name, _ := prop["name"].(string)
		value, hasValue := prop["example_value"]
		if !hasValue {
			continue // constraints apply to instance values, not bare definitions
		}

		expr := constraintExpr(constraint)
		if expr == "" {
			continue
		}
		ok, err := s.eval(expr, value)
		if err != nil {
			issues = append(issues, Issue{
				Severity: Error, Code: "SEMANTIC_CONSTRAINT_INVALID", Field: name,
				Message: fmt.Sprintf("semantic type %q constraint failed to evaluate: %v", semanticType, err),
			})
			continue
		}
		if !ok {
			issues = append(issues, Issue{
				Severity: Error, Code: "SEMANTIC_CONSTRAINT_VIOLATION", Field: name,
				Message: fmt.Sprintf("value of %q violates the %q semantic type constraint", name, semanticType),
			})
		}
	}
	return issues, nil, nil
}

// constraintExpr returns the CEL expression for a constraint, preferring
// an explicit Expr and otherwise compiling the regex/min/max/enum
// shorthands into one conjunction.
func constraintExpr(c SemanticTypeConstraint) string {
	if c.Expr != "" {
		return c.Expr
	}
	var clauses []string
	if c.Regex != "" {
		clauses = append(clauses, fmt.Sprintf("value.matches(%q)", c.Regex))
	}
	if c.Min != nil {
		clauses = append(clauses, fmt.Sprintf("double(value) >= %v", *c.Min))
	}
	if c.Max != nil {
		clauses = append(clauses, fmt.Sprintf("double(value) <= %v", *c.Max))
	}
	if len(c.Enum) > 0 {
		clause := "value in ["
		for i, e := range c.Enum {
			if i > 0 {
				clause += ", "
			}
			clause += fmt.Sprintf("%q", e)
		}
		clause += "]"
		clauses = append(clauses, clause)
	}
	if len(clauses) == 0 {
		return ""
	}
	expr := clauses[0]
	for _, c := range clauses[1:] {
		expr += " && " + c
	}
	return expr
}

func (s *SemanticTypeValidator) eval(expr string, value interface{}) (bool, error) {
	prg, err := s.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]interface{}{"value": value})
	if err != nil {
		return false, err
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("constraint expression %q did not evaluate to a bool", expr)
	}
	return result, nil
}

func (s *SemanticTypeValidator) program(expr string) (cel.Program, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prg, ok := s.programs[expr]; ok {
		return prg, nil
	}
	ast, issues := s.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	prg, err := s.env.Program(ast)
	if err != nil {
		return nil, err
	}
	s.programs[expr] = prg
	return prg, nil
}

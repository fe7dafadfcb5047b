// Package validate implements the naming and schema validation pipeline
// (C4): a sequence of pluggable Validators run over a resource's content
// before it is admitted as a new version.
package validate

import (
	"context"
	"fmt"
	"time"

	"github.com/ludia8888/oms-core/pkg/errs"
)

// defaultValidatorTimeout bounds a single Validator call. Naming and
// semantic validators run caller-supplied regexes against resource
// content; without a per-call bound, one catastrophic-backtracking
// pattern can hang the whole pipeline indefinitely.
const defaultValidatorTimeout = 2 * time.Second

// Severity classifies how strongly an Issue should gate a mutation.
type Severity string

const (
	Info  Severity = "INFO"
	Warn  Severity = "WARN"
	Error Severity = "ERROR"
)

// Issue is one finding raised by a Validator.
type Issue struct {
	Severity Severity
	Code     string
	Message  string
	Field    string
}

// Validator checks a resource's content against a rule set and
// optionally returns an auto-fixed copy of the content. autoFixed is nil
// when no fix was applied.
type Validator interface {
	Validate(ctx context.Context, resourceType string, content map[string]interface{}, rules *RuleSet) (issues []Issue, autoFixed map[string]interface{}, err error)
}

// Pipeline runs a fixed sequence of Validators, collecting issues from
// all of them and short-circuiting only on an internal error. The
// pipeline itself does not decide whether ERROR issues block the
// mutation — that decision belongs to the coordinator (C10), which
// inspects the returned issues.
type Pipeline struct {
	validators []Validator
	timeout    time.Duration
}

// NewPipeline builds a Pipeline from the given validators, run in order,
// each bounded by defaultValidatorTimeout. Use WithTimeout to override.
func NewPipeline(validators ...Validator) *Pipeline {
	return &Pipeline{validators: validators, timeout: defaultValidatorTimeout}
}

// WithTimeout overrides the per-validator timeout and returns p for chaining.
func (p *Pipeline) WithTimeout(d time.Duration) *Pipeline {
	p.timeout = d
	return p
}

// Run executes every validator in order against content, accumulating
// issues. If a validator supplies an auto-fixed copy, later validators
// see the fixed content, and the final fixed content (nil if untouched)
// is returned alongside the accumulated issues.
//
// Each validator call is bounded by p.timeout. A validator that doesn't
// return within it surfaces as errs.Timeout, short-circuiting the rest
// of the pipeline rather than letting one pathological rule hang the
// whole mutation.
func (p *Pipeline) Run(ctx context.Context, resourceType string, content map[string]interface{}, rules *RuleSet) ([]Issue, map[string]interface{}, error) {
	var allIssues []Issue
	current := content
	var fixed map[string]interface{}

	for _, v := range p.validators {
		issues, autoFixed, err := p.runOne(ctx, v, resourceType, current, rules)
		if err != nil {
			return nil, nil, err
		}
		allIssues = append(allIssues, issues...)
		if autoFixed != nil {
			current = autoFixed
			fixed = autoFixed
		}
	}
	return allIssues, fixed, nil
}

// runOne runs a single validator under a context.WithTimeout, since a
// Validator implementation may ignore the context it's given (several
// in this package do — they have no blocking work to cancel) and so
// can't be trusted to bound itself.
func (p *Pipeline) runOne(ctx context.Context, v Validator, resourceType string, content map[string]interface{}, rules *RuleSet) ([]Issue, map[string]interface{}, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type result struct {
		issues    []Issue
		autoFixed map[string]interface{}
		err       error
	}
	done := make(chan result, 1)
	go func() {
		issues, autoFixed, err := v.Validate(callCtx, resourceType, content, rules)
		done <- result{issues, autoFixed, err}
	}()

	select {
	case r := <-done:
		return r.issues, r.autoFixed, r.err
	case <-callCtx.Done():
		return nil, nil, errs.Wrap(errs.Timeout, callCtx.Err(), fmt.Sprintf("%T exceeded %s", v, p.timeout))
	}
}

// HasBlockingIssues reports whether any issue in issues is at ERROR
// severity.
func HasBlockingIssues(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == Error {
			return true
		}
	}
	return false
}

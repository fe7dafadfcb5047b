package validate

import (
	"context"
	"testing"
	"time"

	"github.com/ludia8888/oms-core/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeValidator struct {
	issues    []Issue
	autoFixed map[string]interface{}
	err       error
	delay     time.Duration
	ignoreCtx bool
}

func (f fakeValidator) Validate(ctx context.Context, _ string, _ map[string]interface{}, _ *RuleSet) ([]Issue, map[string]interface{}, error) {
	if f.delay > 0 {
		if f.ignoreCtx {
			time.Sleep(f.delay)
		} else {
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
			}
		}
	}
	return f.issues, f.autoFixed, f.err
}

func TestPipelineRunAccumulatesIssuesAndThreadsAutoFix(t *testing.T) {
	v1 := fakeValidator{issues: []Issue{{Severity: Warn, Code: "W1"}}}
	v2 := fakeValidator{issues: []Issue{{Severity: Error, Code: "E1"}}, autoFixed: map[string]interface{}{"name": "fixed"}}
	p := NewPipeline(v1, v2)

	issues, fixed, err := p.Run(context.Background(), "object_type", map[string]interface{}{"name": "orig"}, &RuleSet{})

	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, "W1", issues[0].Code)
	assert.Equal(t, "E1", issues[1].Code)
	assert.Equal(t, map[string]interface{}{"name": "fixed"}, fixed)
}

func TestPipelineRunSurfacesValidatorTimeoutAsErrsTimeout(t *testing.T) {
	slow := fakeValidator{delay: 50 * time.Millisecond, ignoreCtx: true}
	p := NewPipeline(slow).WithTimeout(5 * time.Millisecond)

	_, _, err := p.Run(context.Background(), "object_type", map[string]interface{}{}, &RuleSet{})

	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Timeout))
}

func TestPipelineRunShortCircuitsAfterTimeout(t *testing.T) {
	slow := fakeValidator{delay: 50 * time.Millisecond, ignoreCtx: true}
	neverRun := fakeValidator{issues: []Issue{{Severity: Error, Code: "SHOULD_NOT_RUN"}}}
	p := NewPipeline(slow, neverRun).WithTimeout(5 * time.Millisecond)

	issues, _, err := p.Run(context.Background(), "object_type", map[string]interface{}{}, &RuleSet{})

	require.Error(t, err)
	assert.Empty(t, issues)
}

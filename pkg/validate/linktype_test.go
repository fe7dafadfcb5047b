package validate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkTypeValidatorIgnoresOtherResourceTypes(t *testing.T) {
	v := LinkTypeValidator{}
	issues, _, err := v.Validate(context.Background(), "object_type", map[string]interface{}{}, &RuleSet{})
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestLinkTypeValidatorInvalidCardinality(t *testing.T) {
	v := LinkTypeValidator{}
	content := map[string]interface{}{"cardinality": "M:N", "directionality": "uni"}
	issues, _, err := v.Validate(context.Background(), linkTypeResourceType, content, &RuleSet{})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "LINK_INVALID_CARDINALITY", issues[0].Code)
}

func TestLinkTypeValidatorInvalidDirectionality(t *testing.T) {
	v := LinkTypeValidator{}
	content := map[string]interface{}{"cardinality": "M:N", "directionality": "sideways"}
	issues, _, err := v.Validate(context.Background(), linkTypeResourceType, content, &RuleSet{})
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, "LINK_INVALID_CARDINALITY", issues[0].Code)
	assert.Equal(t, "LINK_INVALID_DIRECTIONALITY", issues[1].Code)
}

func TestLinkTypeValidatorBidirectionalMissingReverseName(t *testing.T) {
	v := LinkTypeValidator{}
	content := map[string]interface{}{
		"cardinality": "1:N", "directionality": "bi", "name": "manages",
	}
	issues, _, err := v.Validate(context.Background(), linkTypeResourceType, content, &RuleSet{})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "LINK_REVERSE_NAME_MISSING", issues[0].Code)
}

func TestLinkTypeValidatorBidirectionalDefaultPrefix(t *testing.T) {
	v := LinkTypeValidator{}
	content := map[string]interface{}{
		"cardinality": "1:N", "directionality": "bi", "name": "manages", "reverse_name": "inverse_manages",
	}
	issues, _, err := v.Validate(context.Background(), linkTypeResourceType, content, &RuleSet{})
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestLinkTypeValidatorBidirectionalCustomPrefix(t *testing.T) {
	v := LinkTypeValidator{}
	rules := &RuleSet{LinkTypes: LinkTypeRules{ReverseNamePrefix: "rev_"}}
	content := map[string]interface{}{
		"cardinality": "1:N", "directionality": "bi", "name": "manages", "reverse_name": "rev_manages",
	}
	issues, _, err := v.Validate(context.Background(), linkTypeResourceType, content, rules)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestLinkTypeValidatorBidirectionalNonstandardReverseNameWarns(t *testing.T) {
	v := LinkTypeValidator{}
	content := map[string]interface{}{
		"cardinality": "1:N", "directionality": "bi", "name": "manages", "reverse_name": "managed_by",
	}
	issues, _, err := v.Validate(context.Background(), linkTypeResourceType, content, &RuleSet{})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "LINK_REVERSE_NAME_NONSTANDARD", issues[0].Code)
	assert.Equal(t, Warn, issues[0].Severity)
}

func TestLinkTypeValidatorUnidirectionalSkipsReverseNameCheck(t *testing.T) {
	v := LinkTypeValidator{}
	content := map[string]interface{}{
		"cardinality": "N:1", "directionality": "uni", "name": "owns",
	}
	issues, _, err := v.Validate(context.Background(), linkTypeResourceType, content, &RuleSet{})
	require.NoError(t, err)
	assert.Empty(t, issues)
}

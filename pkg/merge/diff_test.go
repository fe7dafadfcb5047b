package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThreeWayOnlyInA(t *testing.T) {
	a := map[string]interface{}{"name": "Foo"}
	d := ThreeWay("object_type", "Foo", nil, a, nil)
	assert.Equal(t, OnlyInA, d.Category)
}

func TestThreeWayOnlyInB(t *testing.T) {
	b := map[string]interface{}{"name": "Foo"}
	d := ThreeWay("object_type", "Foo", nil, nil, b)
	assert.Equal(t, OnlyInB, d.Category)
}

func TestThreeWayDeletedInAModifiedInB(t *testing.T) {
	base := map[string]interface{}{"name": "Foo", "status": "active"}
	b := map[string]interface{}{"name": "Foo", "status": "deprecated"}
	d := ThreeWay("object_type", "Foo", base, nil, b)
	assert.Equal(t, DeletedInAModifiedInB, d.Category)
}

func TestThreeWayDeletedInBModifiedInA(t *testing.T) {
	base := map[string]interface{}{"name": "Foo", "status": "active"}
	a := map[string]interface{}{"name": "Foo", "status": "deprecated"}
	d := ThreeWay("object_type", "Foo", base, a, nil)
	assert.Equal(t, DeletedInBModifiedInA, d.Category)
}

func TestThreeWayBothModified(t *testing.T) {
	base := map[string]interface{}{"name": "Foo", "type": "string"}
	a := map[string]interface{}{"name": "Foo", "type": "text"}
	b := map[string]interface{}{"name": "Foo", "type": "long"}
	d := ThreeWay("object_type", "Foo", base, a, b)
	assert.Equal(t, BothModified, d.Category)
}

func TestThreeWayUnchangedWhenIdentical(t *testing.T) {
	base := map[string]interface{}{"name": "Foo"}
	a := map[string]interface{}{"name": "Foo"}
	b := map[string]interface{}{"name": "Foo"}
	d := ThreeWay("object_type", "Foo", base, a, b)
	assert.Equal(t, Unchanged, d.Category)
}

func TestThreeWayUnchangedWhenBothDeletedSameWay(t *testing.T) {
	base := map[string]interface{}{"name": "Foo"}
	d := ThreeWay("object_type", "Foo", base, nil, nil)
	assert.Equal(t, Unchanged, d.Category)
}

func TestClassifyFieldsPropertyTypeChange(t *testing.T) {
	base := map[string]interface{}{"type": "string"}
	a := map[string]interface{}{"type": "text"}
	b := map[string]interface{}{"type": "long"}
	conflicts := ClassifyFields("link_type", "lt1", base, a, b)
	if assert.Len(t, conflicts, 1) {
		assert.Equal(t, PropertyTypeChange, conflicts[0].Type)
		assert.Equal(t, SeverityWarn, conflicts[0].Severity)
		assert.NotEmpty(t, conflicts[0].ID)
	}
}

func TestClassifyFieldsConstraintConflict(t *testing.T) {
	a := map[string]interface{}{"constraints": []interface{}{map[string]interface{}{"type": "min_length", "value": 2.0}}}
	b := map[string]interface{}{"constraints": []interface{}{map[string]interface{}{"type": "min_length", "value": 5.0}}}
	conflicts := ClassifyFields("property", "p1", nil, a, b)
	if assert.Len(t, conflicts, 1) {
		assert.Equal(t, ConstraintConflict, conflicts[0].Type)
	}
}

func TestClassifyFieldsCardinalityChange(t *testing.T) {
	a := map[string]interface{}{"cardinality": "ONE_TO_ONE"}
	b := map[string]interface{}{"cardinality": "ONE_TO_MANY"}
	conflicts := ClassifyFields("link_type", "lt1", nil, a, b)
	if assert.Len(t, conflicts, 1) {
		assert.Equal(t, CardinalityChange, conflicts[0].Type)
		assert.Equal(t, SeverityInfo, conflicts[0].Severity)
	}
}

func TestClassifyFieldsRequiredFieldRemoved(t *testing.T) {
	base := map[string]interface{}{"required": true}
	a := map[string]interface{}{"required": true}
	b := map[string]interface{}{"required": false}
	conflicts := ClassifyFields("property", "p1", base, a, b)
	if assert.Len(t, conflicts, 1) {
		assert.Equal(t, RequiredFieldRemoved, conflicts[0].Type)
		assert.Equal(t, SeverityBlock, conflicts[0].Severity)
	}
}

func TestClassifyFieldsSkipsAgreeingFields(t *testing.T) {
	a := map[string]interface{}{"name": "Foo", "type": "string"}
	b := map[string]interface{}{"name": "Foo", "type": "long"}
	conflicts := ClassifyFields("property", "p1", nil, a, b)
	for _, c := range conflicts {
		assert.NotEqual(t, "name", c.Field)
	}
}

func TestClassifyFieldsUnknownFieldIsIncompatibleTypes(t *testing.T) {
	a := map[string]interface{}{"description": "one"}
	b := map[string]interface{}{"description": "two"}
	conflicts := ClassifyFields("property", "p1", nil, a, b)
	if assert.Len(t, conflicts, 1) {
		assert.Equal(t, IncompatibleTypes, conflicts[0].Type)
		assert.Equal(t, SeverityError, conflicts[0].Severity)
	}
}

func TestConflictIDDeterministic(t *testing.T) {
	c1 := Conflict{Type: PropertyTypeChange, ResourceType: "property", ResourceID: "p1", Field: "type", ValueA: "string", ValueB: "text"}
	c2 := Conflict{Type: PropertyTypeChange, ResourceType: "property", ResourceID: "p1", Field: "type", ValueA: "string", ValueB: "text"}
	assert.Equal(t, conflictID(c1), conflictID(c2))
}

func TestConflictIDDiffersOnValue(t *testing.T) {
	c1 := Conflict{Type: PropertyTypeChange, ResourceType: "property", ResourceID: "p1", Field: "type", ValueA: "string", ValueB: "text"}
	c2 := Conflict{Type: PropertyTypeChange, ResourceType: "property", ResourceID: "p1", Field: "type", ValueA: "string", ValueB: "long"}
	assert.NotEqual(t, conflictID(c1), conflictID(c2))
}

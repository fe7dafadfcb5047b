package merge

import (
	"fmt"
	"reflect"

	"github.com/ludia8888/oms-core/pkg/hashchain"
)

// ThreeWay classifies one resource given its value at base, A's head, and
// B's head. A nil value means the resource doesn't exist at that point.
// The returned ResourceDiff's Conflicts field is populated only for
// BothModified; the caller runs field-level classification separately
// via ClassifyFields (diff categorization and conflict classification are
// split so resolution can retry just the latter against a corrected
// field-mapping without recomputing existence state).
func ThreeWay(resourceType, resourceID string, base, a, b map[string]interface{}) ResourceDiff {
	d := ResourceDiff{ResourceType: resourceType, ResourceID: resourceID, BaseValue: base, ValueA: a, ValueB: b}

	existsBase, existsA, existsB := base != nil, a != nil, b != nil

	switch {
	case !existsBase && existsA && !existsB:
		d.Category = OnlyInA
	case !existsBase && !existsA && existsB:
		d.Category = OnlyInB
	case existsBase && !existsA && existsB && !equalValue(base, b):
		d.Category = DeletedInAModifiedInB
	case existsBase && existsA && !existsB && !equalValue(base, a):
		d.Category = DeletedInBModifiedInA
	case existsA && existsB && !equalValue(a, b):
		d.Category = BothModified
	default:
		d.Category = Unchanged
	}

	return d
}

func equalValue(a, b map[string]interface{}) bool {
	ha, errA := hashchain.ContentHash(a)
	hb, errB := hashchain.ContentHash(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return ha == hb
}

// ClassifyFields walks a BothModified resource's base/A/B values,
// producing one Conflict per disagreeing top-level field. Fields present
// identically on both sides (including fields neither side touched) are
// not conflicts.
func ClassifyFields(resourceType, resourceID string, base, a, b map[string]interface{}) []Conflict {
	var conflicts []Conflict
	fields := unionKeys(base, a, b)

	for _, field := range fields {
		baseVal, hasBase := valueAt(base, field)
		aVal, hasA := valueAt(a, field)
		bVal, hasB := valueAt(b, field)

		if equalScalar(aVal, bVal) {
			continue // both sides agree, nothing to reconcile
		}

		ctype, ok := classifyField(field, baseVal, aVal, bVal, hasBase, hasA, hasB)
		if !ok {
			continue
		}
		severity := defaultSeverity[ctype]
		c := Conflict{
			ResourceType: resourceType,
			ResourceID:   resourceID,
			Field:        field,
			Type:         ctype,
			Severity:     severity,
			ValueA:       aVal,
			ValueB:       bVal,
		}
		c.ID = conflictID(c)
		conflicts = append(conflicts, c)
	}
	return conflicts
}

// classifyField maps a field-level disagreement to a ConflictType using
// the same field-name heuristics the conflict taxonomy names: "type" for
// property_type_change, "constraints" for constraint_conflict,
// "properties" for name_collision, "cardinality" for cardinality_change,
// and "required" removal for required_field_removed. Anything else that
// disagrees without a recognized shape is incompatible_types.
func classifyField(field string, base, a, b interface{}, hasBase, hasA, hasB bool) (ConflictType, bool) {
	switch field {
	case "type":
		return PropertyTypeChange, true
	case "constraints":
		return ConstraintConflict, true
	case "properties":
		return NameCollision, true
	case "cardinality":
		return CardinalityChange, true
	case "required":
		if hasBase && toBool(base) && (!hasA || !toBool(a) || !hasB || !toBool(b)) {
			return RequiredFieldRemoved, true
		}
		return IncompatibleTypes, true
	default:
		return IncompatibleTypes, true
	}
}

func toBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

func valueAt(m map[string]interface{}, key string) (interface{}, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

func equalScalar(a, b interface{}) bool {
	if a == nil && b == nil {
		return true
	}
	ha, errA := hashchain.ContentHash(map[string]interface{}{"v": a})
	hb, errB := hashchain.ContentHash(map[string]interface{}{"v": b})
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return ha == hb
}

func unionKeys(maps ...map[string]interface{}) []string {
	seen := map[string]bool{}
	var keys []string
	for _, m := range maps {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return keys
}

// conflictID derives a deterministic, content-based identifier so
// repeated merges of identical inputs produce identical conflict IDs.
func conflictID(c Conflict) string {
	h, err := hashchain.ContentHash(map[string]interface{}{
		"type":          string(c.Type),
		"resource_type": c.ResourceType,
		"resource_id":   c.ResourceID,
		"field":         c.Field,
		"value_a":       c.ValueA,
		"value_b":       c.ValueB,
	})
	if err != nil {
		return fmt.Sprintf("%s:%s:%s", c.ResourceType, c.ResourceID, c.Field)
	}
	return h
}

package validate

import (
	"context"
	"fmt"
)

// allowed primitive_type values when a RuleSet doesn't override the list.
var defaultPrimitiveTypes = stringSet([]string{
	"string", "integer", "float", "boolean", "date", "datetime", "array", "struct", "enum",
})

// StructuralValidator checks that a type definition's content has its
// required top-level fields, that each declared property conforms to a
// known primitive type (or, for an "enum" property, has a non-empty enum
// member list), and that data_type_id/semantic_type_id/struct_type_id
// references on a property resolve against the rule set's known-ID sets.
type StructuralValidator struct{}

func (StructuralValidator) Validate(_ context.Context, resourceType string, content map[string]interface{}, rules *RuleSet) ([]Issue, map[string]interface{}, error) {
	if rules == nil {
		return nil, nil, nil
	}

	var issues []Issue

	for _, field := range rules.RequiredFields[resourceType] {
		if _, ok := content[field]; !ok {
			issues = append(issues, Issue{
				Severity: Error, Code: "STRUCT_MISSING_REQUIRED_FIELD", Field: field,
				Message: fmt.Sprintf("required field %q is missing", field),
			})
		}
	}

	rawProps, ok := content["properties"]
	if !ok {
		return issues, nil, nil
	}
	propList, ok := rawProps.([]interface{})
	if !ok {
		issues = append(issues, Issue{
			Severity: Error, Code: "STRUCT_INVALID_PROPERTIES", Field: "properties",
			Message: "properties must be a list of property definitions",
		})
		return issues, nil, nil
	}

	allowedPrimitives := defaultPrimitiveTypes
	if len(rules.PrimitiveTypes) > 0 {
		allowedPrimitives = stringSet(rules.PrimitiveTypes)
	}

	for idx, raw := range propList {
		prop, ok := raw.(map[string]interface{})
		if !ok {
			issues = append(issues, Issue{
				Severity: Error, Code: "STRUCT_INVALID_PROPERTY_ENTRY",
				Field:   fmt.Sprintf("properties[%d]", idx),
				Message: "each property entry must be an object",
			})
			continue
		}
		issues = append(issues, validatePropertyEntry(idx, prop, rules, allowedPrimitives)...)
	}

	return issues, nil, nil
}

func validatePropertyEntry(idx int, prop map[string]interface{}, rules *RuleSet, allowedPrimitives map[string]bool) []Issue {
	var issues []Issue
	field := func(suffix string) string { return fmt.Sprintf("properties[%d].%s", idx, suffix) }

	name, _ := prop["name"].(string)
	if name == "" {
		issues = append(issues, Issue{
			Severity: Error, Code: "STRUCT_PROPERTY_MISSING_NAME", Field: field("name"),
			Message: "property is missing a name",
		})
	}

	primitive, hasPrimitive := prop["primitive_type"].(string)
	if !hasPrimitive || primitive == "" {
		issues = append(issues, Issue{
			Severity: Error, Code: "STRUCT_PROPERTY_MISSING_TYPE", Field: field("primitive_type"),
			Message: fmt.Sprintf("property %q is missing primitive_type", name),
		})
	} else if !allowedPrimitives[primitive] {
		issues = append(issues, Issue{
			Severity: Error, Code: "STRUCT_PROPERTY_UNKNOWN_TYPE", Field: field("primitive_type"),
			Message: fmt.Sprintf("property %q declares unknown primitive_type %q", name, primitive),
		})
	}

	if primitive == "enum" {
		enumVals, _ := prop["enum"].([]interface{})
		if len(enumVals) == 0 {
			issues = append(issues, Issue{
				Severity: Error, Code: "STRUCT_PROPERTY_EMPTY_ENUM", Field: field("enum"),
				Message: fmt.Sprintf("property %q declares primitive_type enum but has no enum members", name),
			})
		}
	}

	if dataTypeID, ok := prop["data_type_id"].(string); ok && dataTypeID != "" && rules.KnownDataTypeIDs != nil {
		if !stringSet(rules.KnownDataTypeIDs)[dataTypeID] {
			issues = append(issues, Issue{
				Severity: Error, Code: "STRUCT_UNKNOWN_DATA_TYPE_ID", Field: field("data_type_id"),
				Message: fmt.Sprintf("property %q references unknown data_type_id %q", name, dataTypeID),
			})
		}
	}
	if semanticTypeID, ok := prop["semantic_type_id"].(string); ok && semanticTypeID != "" && rules.KnownSemanticTypeIDs != nil {
		if !stringSet(rules.KnownSemanticTypeIDs)[semanticTypeID] {
			issues = append(issues, Issue{
				Severity: Error, Code: "STRUCT_UNKNOWN_SEMANTIC_TYPE_ID", Field: field("semantic_type_id"),
				Message: fmt.Sprintf("property %q references unknown semantic_type_id %q", name, semanticTypeID),
			})
		}
	}
	if structTypeID, ok := prop["struct_type_id"].(string); ok && structTypeID != "" && rules.KnownStructTypeIDs != nil {
		if !stringSet(rules.KnownStructTypeIDs)[structTypeID] {
			issues = append(issues, Issue{
				Severity: Error, Code: "STRUCT_UNKNOWN_STRUCT_TYPE_ID", Field: field("struct_type_id"),
				Message: fmt.Sprintf("property %q references unknown struct_type_id %q", name, structTypeID),
			})
		}
	}

	return issues
}

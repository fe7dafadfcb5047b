package validate

import (
	"context"
	"fmt"
)

const structTypeResourceType = "struct_type"

// StructValidator enforces the constraints specific to a struct type's
// field list: no nesting (a struct field cannot itself be primitive_type
// "struct"), no duplicate field names, and that every field the rule set
// requires for struct types is present.
type StructValidator struct{}

func (StructValidator) Validate(_ context.Context, resourceType string, content map[string]interface{}, rules *RuleSet) ([]Issue, map[string]interface{}, error) {
	if resourceType != structTypeResourceType {
		return nil, nil, nil
	}

	rawFields, _ := content["fields"].([]interface{})
	var issues []Issue
	seen := make(map[string]bool, len(rawFields))

	for idx, raw := range rawFields {
		field, ok := raw.(map[string]interface{})
		if !ok {
			issues = append(issues, Issue{
				Severity: Error, Code: "STRUCT_FIELD_INVALID_ENTRY",
				Field:   fmt.Sprintf("fields[%d]", idx),
				Message: "each struct field entry must be an object",
			})
			continue
		}
		name, _ := field["name"].(string)
		if name != "" {
			if seen[name] {
				issues = append(issues, Issue{
					Severity: Error, Code: "STRUCT_DUPLICATE_FIELD", Field: name,
					Message: fmt.Sprintf("field %q is declared more than once", name),
				})
			}
			seen[name] = true
		}

		primitive, _ := field["primitive_type"].(string)
		if primitive == "struct" {
			issues = append(issues, Issue{
				Severity: Error, Code: "STRUCT_NESTED_STRUCT_FORBIDDEN", Field: name,
				Message: fmt.Sprintf("field %q cannot itself be primitive_type struct; nested structs are not allowed", name),
			})
		}
	}

	if rules != nil {
		for _, required := range rules.RequiredFields[structTypeResourceType] {
			if !seen[required] {
				issues = append(issues, Issue{
					Severity: Error, Code: "STRUCT_MISSING_REQUIRED_FIELD", Field: required,
					Message: fmt.Sprintf("struct type is missing required field %q", required),
				})
			}
		}
	}

	return issues, nil, nil
}

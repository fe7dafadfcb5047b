package validate

import (
	"context"
	"fmt"
)

const linkTypeResourceType = "link_type"

var validCardinalities = stringSet([]string{"1:1", "1:N", "N:1", "N:N"})
var validDirectionalities = stringSet([]string{"uni", "bi"})

// LinkTypeValidator enforces cardinality and directionality constraints
// on a link type definition, and that a bidirectional link's reverse
// reference name follows the rule set's deterministic naming rule
// (reverse_name_prefix + forward name, "inverse_" by default) unless the
// definition sets an explicit override.
type LinkTypeValidator struct{}

func (LinkTypeValidator) Validate(_ context.Context, resourceType string, content map[string]interface{}, rules *RuleSet) ([]Issue, map[string]interface{}, error) {
	if resourceType != linkTypeResourceType {
		return nil, nil, nil
	}
	if rules == nil {
		rules = &RuleSet{}
	}

	var issues []Issue

	cardinality, _ := content["cardinality"].(string)
	if cardinality == "" || !validCardinalities[cardinality] {
		issues = append(issues, Issue{
			Severity: Error, Code: "LINK_INVALID_CARDINALITY", Field: "cardinality",
			Message: fmt.Sprintf("cardinality %q is not one of 1:1, 1:N, N:1, N:N", cardinality),
		})
	}

	directionality, _ := content["directionality"].(string)
	if directionality == "" || !validDirectionalities[directionality] {
		issues = append(issues, Issue{
			Severity: Error, Code: "LINK_INVALID_DIRECTIONALITY", Field: "directionality",
			Message: fmt.Sprintf("directionality %q is not one of uni, bi", directionality),
		})
		return issues, nil, nil
	}

	if directionality != "bi" {
		return issues, nil, nil
	}

	forwardName, _ := content["name"].(string)
	reverseName, hasReverse := content["reverse_name"].(string)
	if forwardName == "" {
		return issues, nil, nil
	}

	expected := rules.reverseNamePrefix() + forwardName
	if !hasReverse || reverseName == "" {
		issues = append(issues, Issue{
			Severity: Error, Code: "LINK_REVERSE_NAME_MISSING", Field: "reverse_name",
			Message: fmt.Sprintf("bidirectional link %q must declare reverse_name (expected %q)", forwardName, expected),
		})
	} else if reverseName != expected {
		issues = append(issues, Issue{
			Severity: Warn, Code: "LINK_REVERSE_NAME_NONSTANDARD", Field: "reverse_name",
			Message: fmt.Sprintf("reverse_name %q does not follow the deterministic naming rule (expected %q)", reverseName, expected),
		})
	}

	return issues, nil, nil
}

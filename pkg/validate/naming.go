package validate

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var (
	pascalCaseRE     = regexp.MustCompile(`^[A-Z][a-zA-Z0-9]*$`)
	camelCaseRE      = regexp.MustCompile(`^[a-z][a-zA-Z0-9]*$`)
	snakeCaseRE      = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	screamingSnakeRE = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)
)

// NamingValidator enforces per-entity-type identifier conventions:
// casing, length bounds, forbidden prefixes/suffixes/words, and the
// reserved-word set. When the matched NamingRule has AutoFix set and the
// identifier fails the case check, it returns a copy with the name
// rewritten to the required case; issues from the other checks are still
// reported alongside it.
type NamingValidator struct{}

const nameField = "name"

func (NamingValidator) Validate(_ context.Context, resourceType string, content map[string]interface{}, rules *RuleSet) ([]Issue, map[string]interface{}, error) {
	if rules == nil {
		return nil, nil, nil
	}
	rawName, _ := content[nameField].(string)
	if rawName == "" {
		return nil, nil, nil
	}

	rule, ok := rules.namingRuleFor(resourceType)
	if !ok {
		return nil, nil, nil
	}

	var issues []Issue

	if rules.ReservedWordSet[rawName] {
		issues = append(issues, Issue{
			Severity: Error, Code: "NAME_RESERVED_WORD", Field: nameField,
			Message: fmt.Sprintf("%q is a reserved word", rawName),
		})
	}

	if rule.MinLength > 0 && len(rawName) < rule.MinLength {
		issues = append(issues, Issue{
			Severity: Error, Code: "NAME_TOO_SHORT", Field: nameField,
			Message: fmt.Sprintf("%q is shorter than the minimum length %d", rawName, rule.MinLength),
		})
	}
	if rule.MaxLength > 0 && len(rawName) > rule.MaxLength {
		issues = append(issues, Issue{
			Severity: Error, Code: "NAME_TOO_LONG", Field: nameField,
			Message: fmt.Sprintf("%q exceeds the maximum length %d", rawName, rule.MaxLength),
		})
	}
	for _, p := range rule.ForbiddenPrefixes {
		if strings.HasPrefix(rawName, p) {
			issues = append(issues, Issue{
				Severity: Error, Code: "NAME_FORBIDDEN_PREFIX", Field: nameField,
				Message: fmt.Sprintf("%q has forbidden prefix %q", rawName, p),
			})
		}
	}
	for _, s := range rule.ForbiddenSuffixes {
		if strings.HasSuffix(rawName, s) {
			issues = append(issues, Issue{
				Severity: Error, Code: "NAME_FORBIDDEN_SUFFIX", Field: nameField,
				Message: fmt.Sprintf("%q has forbidden suffix %q", rawName, s),
			})
		}
	}
	for _, w := range rule.ForbiddenWords {
		if strings.Contains(strings.ToLower(rawName), strings.ToLower(w)) {
			issues = append(issues, Issue{
				Severity: Warn, Code: "NAME_FORBIDDEN_WORD", Field: nameField,
				Message: fmt.Sprintf("%q contains forbidden word %q", rawName, w),
			})
		}
	}

	caseOK, fixed := checkCase(rawName, rule)
	if !caseOK {
		if rule.AutoFix && fixed != "" && fixed != rawName {
			issues = append(issues, Issue{
				Severity: Info, Code: "NAME_CASE_AUTO_FIXED", Field: nameField,
				Message: fmt.Sprintf("%q was reformatted to %q to satisfy %s", rawName, fixed, rule.Case),
			})
			autoFixed := cloneContent(content)
			autoFixed[nameField] = fixed
			return issues, autoFixed, nil
		}
		issues = append(issues, Issue{
			Severity: Error, Code: "NAME_CASE_VIOLATION", Field: nameField,
			Message: fmt.Sprintf("%q does not satisfy required case %s", rawName, rule.Case),
		})
	}

	return issues, nil, nil
}

// checkCase reports whether name already satisfies rule.Case, and if
// not, a best-effort reformatted candidate (used only when AutoFix is
// requested by the caller).
func checkCase(name string, rule NamingRule) (ok bool, fixed string) {
	switch rule.Case {
	case PascalCase:
		return pascalCaseRE.MatchString(name), toPascalCase(name)
	case CamelCase:
		return camelCaseRE.MatchString(name), toCamelCase(name)
	case SnakeCase:
		return snakeCaseRE.MatchString(name), toSnakeCase(name)
	case ScreamingSnake:
		return screamingSnakeRE.MatchString(name), strings.ToUpper(toSnakeCase(name))
	case CustomRegexCase:
		if rule.CustomRegex == "" {
			return true, ""
		}
		re, err := regexp.Compile(rule.CustomRegex)
		if err != nil {
			return true, "" // a broken custom rule fails open, not closed
		}
		return re.MatchString(name), ""
	default:
		return true, ""
	}
}

var wordSeparatorRE = regexp.MustCompile(`[_\-\s]+`)

func splitWords(name string) []string {
	// Insert boundaries before upper-case runs that follow a lower-case
	// or digit, then split on any non-alphanumeric separator.
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := runes[i-1]
			if (prev >= 'a' && prev <= 'z') || (prev >= '0' && prev <= '9') {
				b.WriteRune('_')
			}
		}
		b.WriteRune(r)
	}
	parts := wordSeparatorRE.Split(b.String(), -1)
	words := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			words = append(words, p)
		}
	}
	return words
}

func toPascalCase(name string) string {
	var b strings.Builder
	for _, w := range splitWords(name) {
		b.WriteString(strings.ToUpper(w[:1]))
		b.WriteString(strings.ToLower(w[1:]))
	}
	return b.String()
}

func toCamelCase(name string) string {
	pascal := toPascalCase(name)
	if pascal == "" {
		return pascal
	}
	return strings.ToLower(pascal[:1]) + pascal[1:]
}

func toSnakeCase(name string) string {
	return strings.ToLower(strings.Join(splitWords(name), "_"))
}

func cloneContent(content map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(content))
	for k, v := range content {
		out[k] = v
	}
	return out
}

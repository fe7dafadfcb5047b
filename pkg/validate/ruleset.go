package validate

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// NamingCase identifies a required identifier casing convention.
type NamingCase string

const (
	PascalCase       NamingCase = "pascal_case"
	CamelCase        NamingCase = "camel_case"
	SnakeCase        NamingCase = "snake_case"
	ScreamingSnake   NamingCase = "screaming_snake_case"
	CustomRegexCase  NamingCase = "custom_regex"
	NoCaseConstraint NamingCase = ""
)

// NamingRule is the naming constraint applied to one entity type's
// identifier (e.g. object_type names, property names).
type NamingRule struct {
	EntityType        string     `yaml:"entity_type"`
	Case              NamingCase `yaml:"case"`
	CustomRegex       string     `yaml:"custom_regex,omitempty"`
	MinLength         int        `yaml:"min_length,omitempty"`
	MaxLength         int        `yaml:"max_length,omitempty"`
	ForbiddenPrefixes []string   `yaml:"forbidden_prefixes,omitempty"`
	ForbiddenSuffixes []string   `yaml:"forbidden_suffixes,omitempty"`
	ForbiddenWords    []string   `yaml:"forbidden_words,omitempty"`
	AutoFix           bool       `yaml:"auto_fix,omitempty"`
}

// SemanticTypeConstraint is a value rule attached to a semantic type.
// Regex/Min/Max/Enum are convenience shorthands compiled into an
// equivalent CEL expression when Expr is empty.
type SemanticTypeConstraint struct {
	SemanticType string   `yaml:"semantic_type"`
	Expr         string   `yaml:"expr,omitempty"`
	Regex        string   `yaml:"regex,omitempty"`
	Min          *float64 `yaml:"min,omitempty"`
	Max          *float64 `yaml:"max,omitempty"`
	Enum         []string `yaml:"enum,omitempty"`
}

// LinkTypeRules configures the deterministic reverse-reference naming
// rule for bidirectional links.
type LinkTypeRules struct {
	ReverseNamePrefix string `yaml:"reverse_name_prefix"` // default "inverse_"
}

// RuleSet is the full set of validation rules for one branch/tenant,
// loaded from a directory of YAML files via LoadRuleSets.
type RuleSet struct {
	ReservedWords   []string                 `yaml:"reserved_words,omitempty"`
	NamingRules     []NamingRule             `yaml:"naming_rules,omitempty"`
	SemanticTypes   []SemanticTypeConstraint `yaml:"semantic_type_constraints,omitempty"`
	LinkTypes       LinkTypeRules            `yaml:"link_type_rules,omitempty"`
	ReservedWordSet map[string]bool          `yaml:"-"`

	// RequiredFields maps a resource type (e.g. "object_type") to the
	// top-level content field names that must be present.
	RequiredFields map[string][]string `yaml:"required_fields,omitempty"`
	// PrimitiveTypes is the set of primitive_type values a property is
	// allowed to declare. Empty means no constraint.
	PrimitiveTypes []string `yaml:"primitive_types,omitempty"`
	// KnownDataTypeIDs/KnownSemanticTypeIDs/KnownStructTypeIDs back the
	// referential-validity checks for data_type_id, semantic_type_id,
	// and struct_type_id references on a property definition. A nil set
	// disables the corresponding check (used when the registry isn't
	// available to the caller, e.g. in isolated unit tests).
	KnownDataTypeIDs     []string `yaml:"known_data_type_ids,omitempty"`
	KnownSemanticTypeIDs []string `yaml:"known_semantic_type_ids,omitempty"`
	KnownStructTypeIDs   []string `yaml:"known_struct_type_ids,omitempty"`
}

func stringSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func (r *RuleSet) namingRuleFor(entityType string) (NamingRule, bool) {
	for _, nr := range r.NamingRules {
		if nr.EntityType == entityType {
			return nr, true
		}
	}
	return NamingRule{}, false
}

func (r *RuleSet) semanticConstraintFor(semanticType string) (SemanticTypeConstraint, bool) {
	for _, c := range r.SemanticTypes {
		if c.SemanticType == semanticType {
			return c, true
		}
	}
	return SemanticTypeConstraint{}, false
}

func (r *RuleSet) reverseNamePrefix() string {
	if r.LinkTypes.ReverseNamePrefix != "" {
		return r.LinkTypes.ReverseNamePrefix
	}
	return "inverse_"
}

// LoadRuleSets globs every *.yaml file directly under dir and merges
// them into a single RuleSet, mirroring the teacher's profile_*.yaml
// glob-and-unmarshal loader (one file per concern rather than one file
// per region, but the same loading idiom).
func LoadRuleSets(dir string) (*RuleSet, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("glob rule-set directory %s: %w", dir, err)
	}

	merged := &RuleSet{}
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read rule-set file %s: %w", path, err)
		}
		var rs RuleSet
		if err := yaml.Unmarshal(data, &rs); err != nil {
			return nil, fmt.Errorf("parse rule-set file %s: %w", path, err)
		}
		merged.ReservedWords = append(merged.ReservedWords, rs.ReservedWords...)
		merged.NamingRules = append(merged.NamingRules, rs.NamingRules...)
		merged.SemanticTypes = append(merged.SemanticTypes, rs.SemanticTypes...)
		if rs.LinkTypes.ReverseNamePrefix != "" {
			merged.LinkTypes.ReverseNamePrefix = rs.LinkTypes.ReverseNamePrefix
		}
		for rt, fields := range rs.RequiredFields {
			if merged.RequiredFields == nil {
				merged.RequiredFields = map[string][]string{}
			}
			merged.RequiredFields[rt] = append(merged.RequiredFields[rt], fields...)
		}
		merged.PrimitiveTypes = append(merged.PrimitiveTypes, rs.PrimitiveTypes...)
		merged.KnownDataTypeIDs = append(merged.KnownDataTypeIDs, rs.KnownDataTypeIDs...)
		merged.KnownSemanticTypeIDs = append(merged.KnownSemanticTypeIDs, rs.KnownSemanticTypeIDs...)
		merged.KnownStructTypeIDs = append(merged.KnownStructTypeIDs, rs.KnownStructTypeIDs...)
	}

	merged.ReservedWordSet = make(map[string]bool, len(merged.ReservedWords))
	for _, w := range merged.ReservedWords {
		merged.ReservedWordSet[w] = true
	}
	return merged, nil
}

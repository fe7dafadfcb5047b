package merge

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Strategy is a named, registered conflict resolution strategy, mirroring
// the reference implementation's ResolutionStrategy dataclass.
type Strategy struct {
	Name            string
	Description     string
	ApplicableTypes []ConflictType
	MaxSeverity     Severity
	Resolve         func(c Conflict) (*Resolution, error)
}

func (s Strategy) applicable(c Conflict) bool {
	if !c.Severity.allows(s.MaxSeverity) {
		return false
	}
	for _, t := range s.ApplicableTypes {
		if t == c.Type {
			return true
		}
	}
	return false
}

type historyEntry struct {
	ConflictID string
	Strategy   string
	At         time.Time
	Success    bool
	Err        string
}

// Resolver runs the registered strategies against conflicts, caching
// results by conflict ID and retaining a resolution history for
// GetResolutionStats, mirroring ConflictResolver's resolution_cache and
// resolution_history.
type Resolver struct {
	strategies []Strategy

	mu      sync.Mutex
	cache   map[string]*Resolution
	history []historyEntry
}

// NewResolver builds a Resolver with the five built-in strategies from
// SPEC_FULL.md's conflict taxonomy table.
func NewResolver() *Resolver {
	r := &Resolver{cache: make(map[string]*Resolution)}
	r.strategies = []Strategy{
		{
			Name: "type_widening", Description: "Widen type to accommodate both values",
			ApplicableTypes: []ConflictType{PropertyTypeChange}, MaxSeverity: SeverityWarn,
			Resolve: resolveTypeWidening,
		},
		{
			Name: "union_constraints", Description: "Union of constraint sets, keeping the more permissive bound",
			ApplicableTypes: []ConflictType{ConstraintConflict}, MaxSeverity: SeverityWarn,
			Resolve: resolveUnionConstraints,
		},
		{
			Name: "prefer_modification", Description: "Prefer modification over deletion unless deprecated",
			ApplicableTypes: []ConflictType{DeleteAfterModify}, MaxSeverity: SeverityWarn,
			Resolve: resolvePreferModification,
		},
		{
			Name: "merge_properties", Description: "Merge disjoint property sets from both branches",
			ApplicableTypes: []ConflictType{NameCollision}, MaxSeverity: SeverityWarn,
			Resolve: resolveMergeProperties,
		},
		{
			Name: "expand_cardinality", Description: "Expand to more permissive cardinality when safe",
			ApplicableTypes: []ConflictType{CardinalityChange}, MaxSeverity: SeverityInfo,
			Resolve: resolveCardinalityExpansion,
		},
	}
	return r
}

// Resolve attempts to resolve one conflict, returning nil if no
// applicable strategy exists or the strategy itself declines (returns a
// nil Resolution with no error).
func (r *Resolver) Resolve(c Conflict) (*Resolution, error) {
	r.mu.Lock()
	if cached, ok := r.cache[c.ID]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	strategy, ok := r.findApplicable(c)
	if !ok {
		return nil, nil
	}

	res, err := strategy.Resolve(c)
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := historyEntry{ConflictID: c.ID, Strategy: strategy.Name, At: time.Now().UTC(), Success: err == nil && res != nil}
	if err != nil {
		entry.Err = err.Error()
	}
	r.history = append(r.history, entry)
	if err != nil {
		return nil, fmt.Errorf("strategy %s failed: %w", strategy.Name, err)
	}
	if res != nil {
		r.cache[c.ID] = res
	}
	return res, nil
}

func (r *Resolver) findApplicable(c Conflict) (Strategy, bool) {
	for _, s := range r.strategies {
		if s.applicable(c) {
			return s, true
		}
	}
	return Strategy{}, false
}

// Stats mirrors get_resolution_stats: totals, success rate, and a
// per-strategy breakdown.
type Stats struct {
	TotalAttempts int
	Successful    int
	SuccessRate   float64
	ByStrategy    map[string]StrategyStats
	CacheSize     int
}

type StrategyStats struct {
	Total   int
	Success int
}

func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{ByStrategy: map[string]StrategyStats{}, CacheSize: len(r.cache)}
	for _, h := range r.history {
		stats.TotalAttempts++
		s := stats.ByStrategy[h.Strategy]
		s.Total++
		if h.Success {
			stats.Successful++
			s.Success++
		}
		stats.ByStrategy[h.Strategy] = s
	}
	if stats.TotalAttempts > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.TotalAttempts)
	}
	return stats
}

func (r *Resolver) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]*Resolution)
}

var typeWideningRules = map[[2]string]string{
	{"string", "text"}: "text", {"text", "string"}: "text",
	{"integer", "long"}: "long", {"long", "integer"}: "long",
	{"float", "double"}: "double", {"double", "float"}: "double",
	{"string", "json"}: "json", {"json", "string"}: "json",
}

func resolveTypeWidening(c Conflict) (*Resolution, error) {
	a, _ := c.ValueA.(string)
	b, _ := c.ValueB.(string)
	widened, ok := typeWideningRules[[2]string{a, b}]
	if !ok {
		return nil, nil
	}
	return &Resolution{ConflictID: c.ID, Action: "widen_type", ResolvedValue: widened}, nil
}

func resolveUnionConstraints(c Conflict) (*Resolution, error) {
	listA := toInterfaceSlice(c.ValueA)
	listB := toInterfaceSlice(c.ValueB)
	merged := mergeConstraints(listA, listB)
	return &Resolution{ConflictID: c.ID, Action: "union_constraints", ResolvedValue: merged}, nil
}

func mergeConstraints(a, b []interface{}) []interface{} {
	byType := map[string]map[string]interface{}{}
	var order []string
	for _, raw := range append(append([]interface{}{}, a...), b...) {
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		ctype, _ := m["type"].(string)
		if existing, ok := byType[ctype]; ok {
			byType[ctype] = morePermissiveConstraint(existing, m)
		} else {
			byType[ctype] = m
			order = append(order, ctype)
		}
	}
	out := make([]interface{}, 0, len(order))
	for _, t := range order {
		out = append(out, byType[t])
	}
	return out
}

func morePermissiveConstraint(c1, c2 map[string]interface{}) map[string]interface{} {
	switch c1["type"] {
	case "min_length":
		if toFloat(c1["value"]) <= toFloat(c2["value"]) {
			return c1
		}
		return c2
	case "max_length":
		if toFloat(c1["value"]) >= toFloat(c2["value"]) {
			return c1
		}
		return c2
	case "enum":
		set := map[string]bool{}
		for _, v := range toInterfaceSlice(c1["values"]) {
			if s, ok := v.(string); ok {
				set[s] = true
			}
		}
		for _, v := range toInterfaceSlice(c2["values"]) {
			if s, ok := v.(string); ok {
				set[s] = true
			}
		}
		values := make([]string, 0, len(set))
		for v := range set {
			values = append(values, v)
		}
		sort.Strings(values)
		merged := map[string]interface{}{"type": "enum"}
		vals := make([]interface{}, len(values))
		for i, v := range values {
			vals[i] = v
		}
		merged["values"] = vals
		return merged
	default:
		return c1
	}
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func toInterfaceSlice(v interface{}) []interface{} {
	s, _ := v.([]interface{})
	return s
}

func resolvePreferModification(c Conflict) (*Resolution, error) {
	aMap, _ := c.ValueA.(map[string]interface{})
	if aMap != nil {
		if deprecated, _ := aMap["deprecated"].(bool); deprecated {
			return &Resolution{ConflictID: c.ID, Action: "accept_deletion", ResolvedValue: nil}, nil
		}
	}
	return &Resolution{ConflictID: c.ID, Action: "keep_modification", ResolvedValue: c.ValueA}, nil
}

func resolveMergeProperties(c Conflict) (*Resolution, error) {
	propsA := toStringSet(c.ValueA)
	propsB := toStringSet(c.ValueB)
	merged := map[string]bool{}
	for p := range propsA {
		merged[p] = true
	}
	for p := range propsB {
		merged[p] = true
	}
	out := make([]string, 0, len(merged))
	for p := range merged {
		out = append(out, p)
	}
	sort.Strings(out)
	return &Resolution{ConflictID: c.ID, Action: "merge_properties", ResolvedValue: out}, nil
}

func toStringSet(v interface{}) map[string]bool {
	set := map[string]bool{}
	for _, raw := range toInterfaceSlice(v) {
		if s, ok := raw.(string); ok {
			set[s] = true
		}
	}
	return set
}

var cardinalityExpansionRules = map[[2]string]string{
	{"ONE_TO_ONE", "ONE_TO_MANY"}: "ONE_TO_MANY",
	{"ONE_TO_ONE", "MANY_TO_MANY"}: "MANY_TO_MANY",
	{"ONE_TO_MANY", "MANY_TO_MANY"}: "MANY_TO_MANY",
}

func resolveCardinalityExpansion(c Conflict) (*Resolution, error) {
	a, _ := c.ValueA.(string)
	b, _ := c.ValueB.(string)
	expanded, ok := cardinalityExpansionRules[[2]string{a, b}]
	if !ok {
		expanded, ok = cardinalityExpansionRules[[2]string{b, a}]
	}
	if !ok {
		return nil, nil
	}
	notes := cardinalityMigrationNotes(a, expanded)
	return &Resolution{ConflictID: c.ID, Action: "expand_cardinality", ResolvedValue: expanded, MigrationNotes: notes}, nil
}

func cardinalityMigrationNotes(from, to string) map[string]interface{} {
	notes := map[string]interface{}{"from": from, "to": to, "data_migration_required": false, "schema_changes": []string{}}
	switch {
	case from == "ONE_TO_ONE" && to == "ONE_TO_MANY":
		notes["schema_changes"] = []string{"No schema change needed, the foreign key remains valid"}
	case from == "ONE_TO_ONE" && to == "MANY_TO_MANY":
		notes["data_migration_required"] = true
		notes["schema_changes"] = []string{"Create junction table", "Migrate existing foreign keys to junction table"}
	case from == "ONE_TO_MANY" && to == "MANY_TO_MANY":
		notes["data_migration_required"] = true
		notes["schema_changes"] = []string{"Create junction table", "Migrate existing one-to-many relationships"}
	}
	return notes
}

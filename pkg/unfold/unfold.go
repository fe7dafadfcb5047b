// Package unfold implements selective loading of large nested resource
// content. Fold walks a resource's content document and collapses any
// field, string, or array past a size threshold into a placeholder
// that carries a summary plus the original value; Unfold expands those
// placeholders back according to a Context's level. A document that
// has been folded is self-contained — everything needed to restore it
// travels with it — so fold(unfold(doc)) reproduces doc exactly.
package unfold

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Level controls how deeply Unfold expands a folded document's
// placeholders.
type Level int

const (
	Collapsed Level = iota // leave every placeholder folded
	Shallow                // expand placeholders at depth <= 1
	Deep                    // expand every placeholder, recursively
	Custom                  // expand only placeholders whose path is in Context.Paths
)

// Context configures both the thresholds Fold uses to decide what
// counts as large and the level Unfold uses to decide what to expand.
type Context struct {
	Level           Level
	Paths           map[string]bool
	MaxDepth        int
	SizeThreshold   int // bytes; triggers folding of nested objects
	StringThreshold int // bytes; triggers folding of long strings
	ArrayThreshold  int // items; triggers folding of long arrays
}

// DefaultContext sets a 10KB object threshold, a 1KB string threshold,
// a 100-item array threshold, and a 10-level depth cap.
func DefaultContext() Context {
	return Context{
		Level:           Collapsed,
		MaxDepth:        10,
		SizeThreshold:   10240,
		StringThreshold: 1000,
		ArrayThreshold:  100,
	}
}

const (
	keyUnfoldable = "@unfoldable"
	keyPath       = "path"
	keyDisplay    = "display_name"
	keySummary    = "summary"
	keySizeBytes  = "size_bytes"
	keyItemCount  = "item_count"
	keyIsLarge    = "is_large"
	keyContent    = "@content"
)

// Fold collapses content's large descendants into placeholders. It
// never replaces the top-level map itself, only its fields; recursion
// stops at each placeholder so nothing is folded twice.
func Fold(content map[string]interface{}, ctx Context) map[string]interface{} {
	out := make(map[string]interface{}, len(content))
	for k, v := range content {
		out[k] = foldValue(k, v, 1, ctx)
	}
	return out
}

func foldValue(path string, v interface{}, depth int, ctx Context) interface{} {
	if depth > ctx.MaxDepth {
		return map[string]interface{}{"@truncated": true, "reason": "max_depth_exceeded"}
	}
	switch t := v.(type) {
	case map[string]interface{}:
		if size := jsonSize(t); size > ctx.SizeThreshold {
			return placeholder(path, fmt.Sprintf("Object with %d fields", len(t)), size, 0, t)
		}
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = foldValue(joinPath(path, k), val, depth+1, ctx)
		}
		return out
	case []interface{}:
		if len(t) > ctx.ArrayThreshold {
			return placeholder(path, fmt.Sprintf("Array with %d items", len(t)), 0, len(t), t)
		}
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = foldValue(indexPath(path, i), val, depth+1, ctx)
		}
		return out
	case string:
		if len(t) > ctx.StringThreshold {
			return placeholder(path, summarize(t), len(t), 0, t)
		}
		return t
	default:
		return v
	}
}

func placeholder(path, summary string, sizeBytes, itemCount int, content interface{}) map[string]interface{} {
	p := map[string]interface{}{
		keyUnfoldable: true,
		keyPath:       path,
		keyDisplay:    lastSegment(path),
		keySummary:    summary,
		keyIsLarge:    true,
		keyContent:    content,
	}
	if sizeBytes > 0 {
		p[keySizeBytes] = sizeBytes
	}
	if itemCount > 0 {
		p[keyItemCount] = itemCount
	}
	return p
}

// Unfold expands content's placeholders according to ctx.Level (and
// ctx.Paths under Custom). A placeholder left folded is returned
// stripped of its embedded content, the display view of the
// placeholder rather than the data it hides.
func Unfold(content map[string]interface{}, ctx Context) map[string]interface{} {
	out := make(map[string]interface{}, len(content))
	for k, v := range content {
		out[k] = unfoldValue(k, v, 1, ctx)
	}
	return out
}

func unfoldValue(path string, v interface{}, depth int, ctx Context) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		if isPlaceholder(t) {
			if shouldExpand(path, depth, ctx) {
				return unfoldValue(path, t[keyContent], depth, ctx)
			}
			return view(t)
		}
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = unfoldValue(joinPath(path, k), val, depth+1, ctx)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = unfoldValue(indexPath(path, i), val, depth+1, ctx)
		}
		return out
	default:
		return v
	}
}

func shouldExpand(path string, depth int, ctx Context) bool {
	switch ctx.Level {
	case Deep:
		return true
	case Shallow:
		return depth <= 1
	case Custom:
		return ctx.Paths[path]
	default:
		return false
	}
}

func isPlaceholder(m map[string]interface{}) bool {
	v, ok := m[keyUnfoldable]
	b, isBool := v.(bool)
	return ok && isBool && b
}

func view(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, val := range m {
		if k == keyContent {
			continue
		}
		out[k] = val
	}
	return out
}

// Placeholder describes one folded field without its content.
type Placeholder struct {
	Path        string
	DisplayName string
	Summary     string
	SizeBytes   int
	ItemCount   int
	IsLarge     bool
}

// Placeholders lists every placeholder currently folded in content, for
// callers that want to show what's hidden without expanding any of it.
func Placeholders(content map[string]interface{}) []Placeholder {
	var out []Placeholder
	var walk func(v interface{})
	walk = func(v interface{}) {
		switch t := v.(type) {
		case map[string]interface{}:
			if isPlaceholder(t) {
				out = append(out, Placeholder{
					Path:        stringField(t, keyPath),
					DisplayName: stringField(t, keyDisplay),
					Summary:     stringField(t, keySummary),
					SizeBytes:   intField(t, keySizeBytes),
					ItemCount:   intField(t, keyItemCount),
					IsLarge:     true,
				})
				return
			}
			for _, val := range t {
				walk(val)
			}
		case []interface{}:
			for _, val := range t {
				walk(val)
			}
		}
	}
	for _, v := range content {
		walk(v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func jsonSize(v interface{}) int {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(b)
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}

func indexPath(base string, i int) string {
	return fmt.Sprintf("%s[%d]", base, i)
}

func lastSegment(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[i+1:]
		}
	}
	return path
}

func summarize(s string) string {
	if len(s) > 100 {
		return s[:100] + "..."
	}
	return s
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

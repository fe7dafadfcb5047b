package unfold

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func bigString(n int) string {
	return strings.Repeat("x", n)
}

func TestFoldCollapsesLargeStringIntoPlaceholder(t *testing.T) {
	ctx := DefaultContext()
	doc := map[string]interface{}{
		"name": "widget",
		"body": bigString(2000),
	}

	folded := Fold(doc, ctx)

	require.Equal(t, "widget", folded["name"])
	placeholder, ok := folded["body"].(map[string]interface{})
	require.True(t, ok, "body should have folded into a placeholder")
	require.Equal(t, true, placeholder[keyUnfoldable])
	require.Equal(t, "body", placeholder[keyPath])
	require.Equal(t, bigString(2000), placeholder[keyContent])
}

func TestFoldLeavesSmallContentUntouched(t *testing.T) {
	ctx := DefaultContext()
	doc := map[string]interface{}{"name": "widget", "count": 3.0}

	folded := Fold(doc, ctx)

	require.Equal(t, doc, folded)
}

func TestFoldUnfoldRoundTrip(t *testing.T) {
	ctx := DefaultContext()
	doc := map[string]interface{}{
		"name": "widget",
		"spec": map[string]interface{}{
			"description": bigString(20000),
			"tags":        []interface{}{"a", "b"},
		},
		"history": func() []interface{} {
			items := make([]interface{}, 0, 150)
			for i := 0; i < 150; i++ {
				items = append(items, float64(i))
			}
			return items
		}(),
	}

	folded := Fold(doc, ctx)
	expanded := Unfold(folded, Context{Level: Deep})
	require.Equal(t, doc, expanded)

	refolded := Fold(expanded, ctx)
	require.Equal(t, folded, refolded)
}

func TestUnfoldCollapsedLeavesPlaceholdersFoldedAndStripsContent(t *testing.T) {
	ctx := DefaultContext()
	doc := map[string]interface{}{"body": bigString(2000)}
	folded := Fold(doc, ctx)

	view := Unfold(folded, Context{Level: Collapsed})

	placeholder, ok := view["body"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, true, placeholder[keyUnfoldable])
	_, hasContent := placeholder[keyContent]
	require.False(t, hasContent, "collapsed view must not leak the hidden content")
}

func TestUnfoldCustomExpandsOnlyListedPaths(t *testing.T) {
	ctx := DefaultContext()
	doc := map[string]interface{}{
		"a": bigString(2000),
		"b": bigString(2000),
	}
	folded := Fold(doc, ctx)

	view := Unfold(folded, Context{Level: Custom, Paths: map[string]bool{"a": true}})

	require.Equal(t, bigString(2000), view["a"])
	placeholder, ok := view["b"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, true, placeholder[keyUnfoldable])
}

func TestPlaceholdersListsFoldedPathsSorted(t *testing.T) {
	ctx := DefaultContext()
	doc := map[string]interface{}{
		"zebra": bigString(2000),
		"alpha": bigString(2000),
	}
	folded := Fold(doc, ctx)

	paths := Placeholders(folded)

	require.Len(t, paths, 2)
	require.Equal(t, "alpha", paths[0].Path)
	require.Equal(t, "zebra", paths[1].Path)
}

package merge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ludia8888/oms-core/pkg/errs"
	"github.com/ludia8888/oms-core/pkg/version"
)

// fakeVersionStore is an in-memory version.Store keyed by Ref, enough to
// exercise Engine.Plan/Apply without a database.
type fakeVersionStore struct {
	records map[version.Ref]version.Record
	content map[version.Ref]map[string]interface{}
}

func newFakeVersionStore() *fakeVersionStore {
	return &fakeVersionStore{records: map[version.Ref]version.Record{}, content: map[version.Ref]map[string]interface{}{}}
}

func (f *fakeVersionStore) put(branchName, resourceType, resourceID, commitHash string, content map[string]interface{}) {
	ref := version.Ref{ResourceType: resourceType, ResourceID: resourceID, Branch: branchName}
	f.records[ref] = version.Record{CommitHash: commitHash}
	f.content[ref] = content
}

func (f *fakeVersionStore) Head(_ context.Context, ref version.Ref) (version.Record, map[string]interface{}, error) {
	rec, ok := f.records[ref]
	if !ok {
		return version.Record{}, nil, errs.New(errs.NotFound, "no head")
	}
	return rec, f.content[ref], nil
}

func (f *fakeVersionStore) Append(_ context.Context, ref version.Ref, rec version.Record, content map[string]interface{}) error {
	f.records[ref] = rec
	f.content[ref] = content
	return nil
}

func (f *fakeVersionStore) Heads(_ context.Context, branchName, resourceType string) (map[string]version.Record, error) {
	out := map[string]version.Record{}
	for ref, rec := range f.records {
		if ref.Branch == branchName && ref.ResourceType == resourceType {
			out[ref.ResourceID] = rec
		}
	}
	return out, nil
}

func TestEnginePlanOnlyInAProducesCreate(t *testing.T) {
	store := newFakeVersionStore()
	store.put("feature-x", "object_type", "Foo", "c1", map[string]interface{}{"name": "Foo"})

	e := NewEngine(store, nil, NewResolver(), []string{"object_type"})
	result, err := e.Plan(context.Background(), "main", "feature-x", "main")
	require.NoError(t, err)
	require.Len(t, result.Diffs, 1)
	assert.Equal(t, OnlyInA, result.Diffs[0].Category)
	assert.Empty(t, result.Unresolved)
}

func TestEnginePlanUnchangedSkipsResource(t *testing.T) {
	store := newFakeVersionStore()
	content := map[string]interface{}{"name": "Foo"}
	store.put("main", "object_type", "Foo", "c1", content)
	store.put("feature-x", "object_type", "Foo", "c1", content)
	store.put("feature-y", "object_type", "Foo", "c1", content)

	e := NewEngine(store, nil, NewResolver(), []string{"object_type"})
	result, err := e.Plan(context.Background(), "main", "feature-x", "feature-y")
	require.NoError(t, err)
	assert.Empty(t, result.Diffs)
}

func TestEnginePlanBothModifiedAutoResolvesTypeWidening(t *testing.T) {
	store := newFakeVersionStore()
	store.put("main", "property", "p1", "base", map[string]interface{}{"type": "string"})
	store.put("feature-x", "property", "p1", "c1", map[string]interface{}{"type": "integer"})
	store.put("feature-y", "property", "p1", "c2", map[string]interface{}{"type": "long"})

	e := NewEngine(store, nil, NewResolver(), []string{"property"})
	result, err := e.Plan(context.Background(), "main", "feature-x", "feature-y")
	require.NoError(t, err)
	require.Len(t, result.Diffs, 1)
	diff := result.Diffs[0]
	assert.Equal(t, BothModified, diff.Category)
	require.Len(t, diff.Conflicts, 1)
	assert.True(t, diff.Conflicts[0].AutoResolvable)
	assert.Empty(t, result.Unresolved)
	assert.True(t, result.Resolvable())
}

func TestEnginePlanBothModifiedLeavesIncompatibleUnresolved(t *testing.T) {
	store := newFakeVersionStore()
	store.put("main", "property", "p1", "base", map[string]interface{}{"description": "orig"})
	store.put("feature-x", "property", "p1", "c1", map[string]interface{}{"description": "one"})
	store.put("feature-y", "property", "p1", "c2", map[string]interface{}{"description": "two"})

	e := NewEngine(store, nil, NewResolver(), []string{"property"})
	result, err := e.Plan(context.Background(), "main", "feature-x", "feature-y")
	require.NoError(t, err)
	require.Len(t, result.Unresolved, 1)
	assert.Equal(t, IncompatibleTypes, result.Unresolved[0].Type)
	assert.False(t, result.Resolvable())
}

func TestEngineApplyWritesOneVersionPerDiffAndGeneratesMergeCommit(t *testing.T) {
	store := newFakeVersionStore()
	store.put("feature-x", "object_type", "Foo", "c1", map[string]interface{}{"name": "Foo"})

	e := NewEngine(store, nil, NewResolver(), []string{"object_type"})

	var applied []string
	appendFn := func(_ context.Context, resourceType, resourceID string, content map[string]interface{}, changeType version.ChangeType) (string, error) {
		applied = append(applied, resourceType+":"+resourceID)
		assert.Equal(t, version.Create, changeType)
		return "new-version", nil
	}

	result, err := e.Apply(context.Background(), "main", "feature-x", "main", appendFn)
	require.NoError(t, err)
	assert.Len(t, applied, 1)
	assert.NotEmpty(t, result.MergeCommit)
}

func TestEngineApplyRejectsWhenUnresolvedBlocksRemain(t *testing.T) {
	store := newFakeVersionStore()
	store.put("main", "property", "p1", "base", map[string]interface{}{"required": true})
	store.put("feature-x", "property", "p1", "c1", map[string]interface{}{"required": true})
	store.put("feature-y", "property", "p1", "c2", map[string]interface{}{"required": false})

	e := NewEngine(store, nil, NewResolver(), []string{"property"})
	appendFn := func(_ context.Context, _, _ string, _ map[string]interface{}, _ version.ChangeType) (string, error) {
		t.Fatal("appendFn should not be called when merge is unresolved")
		return "", nil
	}

	_, err := e.Apply(context.Background(), "main", "feature-x", "feature-y", appendFn)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.MergeUnresolved))
}

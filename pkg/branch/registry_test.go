package branch

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/ludia8888/oms-core/pkg/errs"
	"github.com/ludia8888/oms-core/pkg/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	branches map[string]Branch
}

func newMemStore() *memStore {
	return &memStore{branches: map[string]Branch{}}
}

func (m *memStore) Create(_ context.Context, b Branch) error {
	if _, ok := m.branches[b.Name]; ok {
		return assert.AnError
	}
	m.branches[b.Name] = b
	return nil
}

func (m *memStore) Get(_ context.Context, name string) (Branch, error) {
	b, ok := m.branches[name]
	if !ok {
		return Branch{}, sql.ErrNoRows
	}
	return b, nil
}

func (m *memStore) List(_ context.Context) ([]Branch, error) {
	var out []Branch
	for _, b := range m.branches {
		out = append(out, b)
	}
	return out, nil
}

func (m *memStore) UpdateState(_ context.Context, name string, state State) error {
	b, ok := m.branches[name]
	if !ok {
		return sql.ErrNoRows
	}
	b.State = state
	m.branches[name] = b
	return nil
}

func (m *memStore) UpdateHeadCommits(_ context.Context, name string, heads map[string]string) error {
	b, ok := m.branches[name]
	if !ok {
		return sql.ErrNoRows
	}
	b.HeadCommits = heads
	m.branches[name] = b
	return nil
}

// fakeVersionStore implements version.Store, serving only Heads() from a
// fixed fixture; every other method is unused by branch registry tests.
type fakeVersionStore struct {
	heads map[string]map[string]version.Record // branch -> resourceID -> Record
}

func (f *fakeVersionStore) Head(context.Context, version.Ref) (version.Record, map[string]interface{}, error) {
	return version.Record{}, nil, sql.ErrNoRows
}
func (f *fakeVersionStore) At(context.Context, version.Ref, int64) (version.Record, map[string]interface{}, error) {
	return version.Record{}, nil, sql.ErrNoRows
}
func (f *fakeVersionStore) AtTime(context.Context, version.Ref, time.Time) (version.Record, map[string]interface{}, error) {
	return version.Record{}, nil, sql.ErrNoRows
}
func (f *fakeVersionStore) AtCommit(context.Context, version.Ref, string) (version.Record, map[string]interface{}, error) {
	return version.Record{}, nil, sql.ErrNoRows
}
func (f *fakeVersionStore) Append(context.Context, version.Ref, version.Record, map[string]interface{}) error {
	return nil
}
func (f *fakeVersionStore) List(context.Context, version.Ref, int, int) ([]version.Record, error) {
	return nil, nil
}
func (f *fakeVersionStore) Heads(_ context.Context, branchName string, _ string) (map[string]version.Record, error) {
	return f.heads[branchName], nil
}

func newRegistryWithBootstrap(t *testing.T) (*Registry, Store) {
	t.Helper()
	store := newMemStore()
	vstore := &fakeVersionStore{heads: map[string]map[string]version.Record{}}
	reg := NewRegistry(store, vstore, []string{"object_type"})
	_, err := reg.Create(context.Background(), Main, "", "system")
	require.NoError(t, err)
	return reg, store
}

func TestRegistryCreateSnapshotsParentHeads(t *testing.T) {
	reg, store := newRegistryWithBootstrap(t)
	mainBranch, err := store.Get(context.Background(), Main)
	require.NoError(t, err)
	mainBranch.HeadCommits = map[string]string{"object_type:obj1": "c1"}
	require.NoError(t, store.UpdateHeadCommits(context.Background(), Main, mainBranch.HeadCommits))

	b, err := reg.Create(context.Background(), "feature-x", Main, "alice")
	require.NoError(t, err)
	assert.Equal(t, "c1", b.HeadCommits["object_type:obj1"])
	assert.Equal(t, Active, b.State)
}

func TestRegistryCreateDuplicateNameFails(t *testing.T) {
	reg, _ := newRegistryWithBootstrap(t)
	_, err := reg.Create(context.Background(), Main, "", "system")
	require.Error(t, err)
	assert.Equal(t, errs.AlreadyExists, errs.Of(err))
}

func TestRegistryLockForMergeAndUnlock(t *testing.T) {
	reg, _ := newRegistryWithBootstrap(t)
	_, err := reg.Create(context.Background(), "feature-x", Main, "alice")
	require.NoError(t, err)

	require.NoError(t, reg.LockForMerge(context.Background(), "feature-x"))
	b, err := reg.Get(context.Background(), "feature-x")
	require.NoError(t, err)
	assert.Equal(t, LockedForMerge, b.State)

	err = reg.RequireWritable(context.Background(), "feature-x")
	require.Error(t, err)
	assert.Equal(t, errs.BranchNotWritable, errs.Of(err))

	require.NoError(t, reg.Unlock(context.Background(), "feature-x"))
	b, err = reg.Get(context.Background(), "feature-x")
	require.NoError(t, err)
	assert.Equal(t, Active, b.State)
}

func TestRegistryFreezeAndUnfreeze(t *testing.T) {
	reg, _ := newRegistryWithBootstrap(t)
	_, err := reg.Create(context.Background(), "feature-x", Main, "alice")
	require.NoError(t, err)

	require.NoError(t, reg.Freeze(context.Background(), "feature-x"))
	require.NoError(t, reg.RequireWritable(context.Background(), Main)) // unrelated branch unaffected

	err = reg.RequireWritable(context.Background(), "feature-x")
	require.Error(t, err)

	require.NoError(t, reg.Unfreeze(context.Background(), "feature-x"))
	require.NoError(t, reg.RequireWritable(context.Background(), "feature-x"))
}

func TestRegistryArchiveTerminal(t *testing.T) {
	reg, _ := newRegistryWithBootstrap(t)
	_, err := reg.Create(context.Background(), "feature-x", Main, "alice")
	require.NoError(t, err)
	require.NoError(t, reg.Archive(context.Background(), "feature-x"))

	err = reg.Unfreeze(context.Background(), "feature-x")
	require.Error(t, err)
	assert.Equal(t, errs.BranchNotWritable, errs.Of(err))
}

func TestRegistryMainCannotBeArchived(t *testing.T) {
	reg, _ := newRegistryWithBootstrap(t)
	err := reg.Archive(context.Background(), Main)
	require.Error(t, err)
	assert.Equal(t, errs.BranchNotWritable, errs.Of(err))
}

func TestRegistryLockForMergeRejectsNonActiveBranch(t *testing.T) {
	reg, _ := newRegistryWithBootstrap(t)
	_, err := reg.Create(context.Background(), "feature-x", Main, "alice")
	require.NoError(t, err)
	require.NoError(t, reg.Freeze(context.Background(), "feature-x"))

	err = reg.LockForMerge(context.Background(), "feature-x")
	require.Error(t, err)
	assert.Equal(t, errs.BranchNotWritable, errs.Of(err))
}

func TestRegistryRecordCommitMergesIntoExistingHeads(t *testing.T) {
	reg, store := newRegistryWithBootstrap(t)
	require.NoError(t, reg.RecordCommit(context.Background(), Main, "object_type", "obj1", "c1"))
	require.NoError(t, reg.RecordCommit(context.Background(), Main, "object_type", "obj2", "c2"))

	b, err := store.Get(context.Background(), Main)
	require.NoError(t, err)
	assert.Equal(t, "c1", b.HeadCommits["object_type:obj1"])
	assert.Equal(t, "c2", b.HeadCommits["object_type:obj2"])
}

func TestRegistryBranchDiffClassifiesChanges(t *testing.T) {
	store := newMemStore()
	vstore := &fakeVersionStore{heads: map[string]map[string]version.Record{
		"main": {
			"obj1": {CommitHash: "c1"},
			"obj2": {CommitHash: "c2"},
		},
		"feature-x": {
			"obj1": {CommitHash: "c1"}, // identical
			"obj2": {CommitHash: "c2x"}, // modified
			"obj3": {CommitHash: "c3"}, // only in feature-x
		},
	}}
	reg := NewRegistry(store, vstore, []string{"object_type"})

	cs, err := reg.BranchDiff(context.Background(), "main", "feature-x")
	require.NoError(t, err)

	byID := map[string]ResourceChange{}
	for _, c := range cs.Changes {
		byID[c.ResourceID] = c
	}
	assert.Equal(t, Identical, byID["obj1"].Kind)
	assert.Equal(t, Modified, byID["obj2"].Kind)
	assert.Equal(t, OnlyInB, byID["obj3"].Kind)
}

package branch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ludia8888/oms-core/pkg/errs"
	"github.com/ludia8888/oms-core/pkg/version"
)

// Registry implements the branch state machine and the resource-head
// bookkeeping (Create, Get, List, LockForMerge, Unlock, Freeze, Archive,
// BranchDiff).
type Registry struct {
	store        Store
	versions     version.Store
	resourceTypes []string // the set of resource types BranchDiff compares across
}

// NewRegistry builds a Registry. resourceTypes enumerates every resource
// type BranchDiff walks when comparing two branches' heads (object_type,
// link_type, action_type, struct_type, semantic_type, ... per the
// resource-type catalog); it is fixed at construction since the catalog
// of types is itself schema, not runtime state.
func NewRegistry(store Store, versions version.Store, resourceTypes []string) *Registry {
	return &Registry{store: store, versions: versions, resourceTypes: resourceTypes}
}

func newBranchID() string {
	return uuid.NewString()
}

// Create snapshots the parent's current head commits and registers a new
// ACTIVE branch. parent is "" only for main's own bootstrap; creating a
// name that already exists, main included, fails with AlreadyExists.
func (r *Registry) Create(ctx context.Context, name, parent, createdBy string) (Branch, error) {
	if name == "" {
		return Branch{}, errs.New(errs.ValidationFailed, "branch name is required")
	}
	if _, err := r.store.Get(ctx, name); err == nil {
		return Branch{}, errs.New(errs.AlreadyExists, fmt.Sprintf("branch %q already exists", name))
	}

	heads := map[string]string{}
	if parent != "" {
		parentBranch, err := r.store.Get(ctx, parent)
		if err != nil {
			return Branch{}, errs.Wrap(errs.NotFound, err, fmt.Sprintf("parent branch %q not found", parent))
		}
		for k, v := range parentBranch.HeadCommits {
			heads[k] = v
		}
	}

	b := Branch{
		ID:          newBranchID(),
		Name:        name,
		Parent:      parent,
		CreatedAt:   time.Now().UTC(),
		CreatedBy:   createdBy,
		State:       Active,
		HeadCommits: heads,
	}
	if err := r.store.Create(ctx, b); err != nil {
		return Branch{}, errs.Wrap(errs.Internal, err, "create branch")
	}
	return b, nil
}

func (r *Registry) Get(ctx context.Context, name string) (Branch, error) {
	b, err := r.store.Get(ctx, name)
	if err != nil {
		return Branch{}, errs.Wrap(errs.NotFound, err, fmt.Sprintf("branch %q not found", name))
	}
	return b, nil
}

func (r *Registry) List(ctx context.Context) ([]Branch, error) {
	bs, err := r.store.List(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "list branches")
	}
	return bs, nil
}

// LockForMerge transitions a branch from ACTIVE to LOCKED_FOR_MERGE, the
// state a merge holds the target branch in for the duration of planning
// and applying a merge.
func (r *Registry) LockForMerge(ctx context.Context, name string) error {
	return r.transition(ctx, name, []State{Active}, LockedForMerge)
}

// Unlock returns a branch from LOCKED_FOR_MERGE to ACTIVE once a merge
// finishes (whether applied or aborted).
func (r *Registry) Unlock(ctx context.Context, name string) error {
	return r.transition(ctx, name, []State{LockedForMerge}, Active)
}

// Freeze transitions ACTIVE to FROZEN (administrative read-only hold).
func (r *Registry) Freeze(ctx context.Context, name string) error {
	return r.transition(ctx, name, []State{Active}, Frozen)
}

// Unfreeze returns FROZEN to ACTIVE.
func (r *Registry) Unfreeze(ctx context.Context, name string) error {
	return r.transition(ctx, name, []State{Frozen}, Active)
}

// Archive transitions ACTIVE or FROZEN to the terminal ARCHIVED state.
// main can never be archived.
func (r *Registry) Archive(ctx context.Context, name string) error {
	if name == Main {
		return errs.New(errs.BranchNotWritable, "the main branch cannot be archived")
	}
	return r.transition(ctx, name, []State{Active, Frozen}, Archived)
}

func (r *Registry) transition(ctx context.Context, name string, from []State, to State) error {
	b, err := r.store.Get(ctx, name)
	if err != nil {
		return errs.Wrap(errs.NotFound, err, fmt.Sprintf("branch %q not found", name))
	}
	allowed := false
	for _, s := range from {
		if b.State == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return errs.New(errs.BranchNotWritable, fmt.Sprintf("branch %q is %s, cannot transition to %s", name, b.State, to))
	}
	if err := r.store.UpdateState(ctx, name, to); err != nil {
		return errs.Wrap(errs.Internal, err, "update branch state")
	}
	return nil
}

// RequireWritable returns BranchNotWritable if name is not in ACTIVE
// state; the coordinator calls this before admitting any mutation.
func (r *Registry) RequireWritable(ctx context.Context, name string) error {
	b, err := r.Get(ctx, name)
	if err != nil {
		return err
	}
	if !b.Writable() {
		return errs.New(errs.BranchNotWritable, fmt.Sprintf("branch %q is %s", name, b.State))
	}
	return nil
}

// RecordCommit updates a branch's head-commit snapshot for one resource
// after the coordinator appends a new version. It is the only path that
// mutates head_commits, per the invariant that the map is coordinator-
// owned.
func (r *Registry) RecordCommit(ctx context.Context, name, resourceType, resourceID, commitHash string) error {
	b, err := r.store.Get(ctx, name)
	if err != nil {
		return errs.Wrap(errs.NotFound, err, fmt.Sprintf("branch %q not found", name))
	}
	heads := make(map[string]string, len(b.HeadCommits)+1)
	for k, v := range b.HeadCommits {
		heads[k] = v
	}
	heads[headKey(resourceType, resourceID)] = commitHash
	return r.store.UpdateHeadCommits(ctx, name, heads)
}

func headKey(resourceType, resourceID string) string {
	return resourceType + ":" + resourceID
}

// BranchDiff compares every resource of every configured resource type
// between branch a and branch b, classifying each as only_in_a,
// only_in_b, modified (different head commit hash), or identical.
func (r *Registry) BranchDiff(ctx context.Context, a, b string) (*ChangeSet, error) {
	cs := &ChangeSet{BranchA: a, BranchB: b}
	for _, rt := range r.resourceTypes {
		headsA, err := r.versions.Heads(ctx, a, rt)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, err, fmt.Sprintf("load heads for %s on %s", rt, a))
		}
		headsB, err := r.versions.Heads(ctx, b, rt)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, err, fmt.Sprintf("load heads for %s on %s", rt, b))
		}

		for id, recA := range headsA {
			recB, inB := headsB[id]
			switch {
			case !inB:
				cs.Changes = append(cs.Changes, ResourceChange{ResourceType: rt, ResourceID: id, Kind: OnlyInA, CommitA: recA.CommitHash})
			case recA.CommitHash != recB.CommitHash:
				cs.Changes = append(cs.Changes, ResourceChange{ResourceType: rt, ResourceID: id, Kind: Modified, CommitA: recA.CommitHash, CommitB: recB.CommitHash})
			default:
				cs.Changes = append(cs.Changes, ResourceChange{ResourceType: rt, ResourceID: id, Kind: Identical, CommitA: recA.CommitHash, CommitB: recB.CommitHash})
			}
		}
		for id, recB := range headsB {
			if _, inA := headsA[id]; !inA {
				cs.Changes = append(cs.Changes, ResourceChange{ResourceType: rt, ResourceID: id, Kind: OnlyInB, CommitB: recB.CommitHash})
			}
		}
	}
	return cs, nil
}

package merge

import (
	"context"
	"fmt"
	"time"

	"github.com/ludia8888/oms-core/pkg/branch"
	"github.com/ludia8888/oms-core/pkg/errs"
	"github.com/ludia8888/oms-core/pkg/hashchain"
	"github.com/ludia8888/oms-core/pkg/version"
)

// Engine runs three-way merges between two branches against a common
// base, using Resolver to auto-resolve conflicts where possible.
type Engine struct {
	versions      version.Store
	branches      *branch.Registry
	resolver      *Resolver
	resourceTypes []string
}

func NewEngine(versions version.Store, branches *branch.Registry, resolver *Resolver, resourceTypes []string) *Engine {
	return &Engine{versions: versions, branches: branches, resolver: resolver, resourceTypes: resourceTypes}
}

// Plan enumerates every resource touched on branchA or branchB since
// baseBranch, classifies each, and resolves what it can without writing
// anything. Result.Resolvable on the returned plan tells whether Apply
// would proceed; Plan itself never mutates state.
func (e *Engine) Plan(ctx context.Context, baseBranch, branchA, branchB string) (*Result, error) {
	result := &Result{BranchA: branchA, BranchB: branchB}

	for _, rt := range e.resourceTypes {
		headsBase, err := e.versions.Heads(ctx, baseBranch, rt)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, err, fmt.Sprintf("load base heads for %s", rt))
		}
		headsA, err := e.versions.Heads(ctx, branchA, rt)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, err, fmt.Sprintf("load %s heads for %s", branchA, rt))
		}
		headsB, err := e.versions.Heads(ctx, branchB, rt)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, err, fmt.Sprintf("load %s heads for %s", branchB, rt))
		}

		ids := map[string]bool{}
		for id := range headsBase {
			ids[id] = true
		}
		for id := range headsA {
			ids[id] = true
		}
		for id := range headsB {
			ids[id] = true
		}

		for id := range ids {
			recBase, inBase := headsBase[id]
			recA, inA := headsA[id]
			recB, inB := headsB[id]

			// unchanged on both sides relative to base: skip entirely.
			if inBase && inA && inB && recA.CommitHash == recBase.CommitHash && recB.CommitHash == recBase.CommitHash {
				continue
			}

			var baseContent, contentA, contentB map[string]interface{}
			var err error
			if inBase {
				if baseContent, err = e.content(ctx, rt, id, baseBranch); err != nil {
					return nil, err
				}
			}
			if inA {
				if contentA, err = e.content(ctx, rt, id, branchA); err != nil {
					return nil, err
				}
			}
			if inB {
				if contentB, err = e.content(ctx, rt, id, branchB); err != nil {
					return nil, err
				}
			}

			diff := ThreeWay(rt, id, baseContent, contentA, contentB)
			if diff.Category == Unchanged {
				continue
			}
			if diff.Category == BothModified {
				diff.Conflicts = ClassifyFields(rt, id, baseContent, contentA, contentB)
				for i, c := range diff.Conflicts {
					res, rerr := e.resolver.Resolve(c)
					if rerr != nil {
						return nil, errs.Wrap(errs.Internal, rerr, "resolve conflict")
					}
					if res != nil {
						diff.Conflicts[i].AutoResolvable = true
						diff.Conflicts[i].SuggestedAction = res.Action
						diff.Conflicts[i].ResolvedValue = res.ResolvedValue
						diff.Conflicts[i].MigrationNotes = res.MigrationNotes
					} else {
						result.Unresolved = append(result.Unresolved, c)
					}
				}
			}
			result.Diffs = append(result.Diffs, diff)
		}
	}

	return result, nil
}

func (e *Engine) content(ctx context.Context, resourceType, resourceID, branchName string) (map[string]interface{}, error) {
	ref := version.Ref{ResourceType: resourceType, ResourceID: resourceID, Branch: branchName}
	_, content, err := e.versions.Head(ctx, ref)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, fmt.Sprintf("load head content for %s", ref))
	}
	return content, nil
}

// Apply re-runs Plan and, if every remaining conflict is at WARN or
// below, writes one new version per affected resource onto branchB (the
// target branch) via appendFn, then sets Result.MergeCommit to a content
// hash of the three branch names and the diff count. No record of the two
// parent heads is written. appendFn is supplied by the coordinator (C10) so the
// merge engine never depends on the coordinator's write path directly.
func (e *Engine) Apply(ctx context.Context, baseBranch, branchA, branchB string, appendFn func(ctx context.Context, resourceType, resourceID string, content map[string]interface{}, changeType version.ChangeType) (string, error)) (*Result, error) {
	result, err := e.Plan(ctx, baseBranch, branchA, branchB)
	if err != nil {
		return nil, err
	}
	if !result.Resolvable() {
		return result, errs.New(errs.MergeUnresolved, fmt.Sprintf("%d conflict(s) exceed WARN severity", len(blockingConflicts(result.Unresolved))))
	}

	mergeInputs := map[string]interface{}{"base": baseBranch, "a": branchA, "b": branchB, "diffs": len(result.Diffs)}
	mergeCommitSeed, err := hashchain.ContentHash(mergeInputs)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "derive merge commit seed")
	}

	for _, d := range result.Diffs {
		content, changeType, ok := mergedContent(d)
		if !ok {
			continue // identical/no-op after resolution
		}
		if _, err := appendFn(ctx, d.ResourceType, d.ResourceID, content, changeType); err != nil {
			return nil, errs.Wrap(errs.Internal, err, fmt.Sprintf("apply merge for %s:%s", d.ResourceType, d.ResourceID))
		}
	}

	result.MergeCommit = mergeCommitSeed
	result.BaseCommit = baseBranch
	result.AppliedAt = time.Now().UTC()
	return result, nil
}

func blockingConflicts(conflicts []Conflict) []Conflict {
	var out []Conflict
	for _, c := range conflicts {
		if !c.Severity.allows(SeverityWarn) {
			out = append(out, c)
		}
	}
	return out
}

// mergedContent derives the resource content and change type Apply should
// write for one ResourceDiff, applying any auto-resolved field values on
// top of branch A's value (the merge's base-of-truth for non-conflicting
// fields, matching the resolver's "prefer modification" / "keep A plus
// resolved overrides" convention).
func mergedContent(d ResourceDiff) (map[string]interface{}, version.ChangeType, bool) {
	switch d.Category {
	case OnlyInA:
		return d.ValueA, version.Create, true
	case OnlyInB:
		return d.ValueB, version.Create, true
	case DeletedInAModifiedInB:
		return d.ValueB, version.Update, true
	case DeletedInBModifiedInA:
		return d.ValueA, version.Update, true
	case BothModified:
		merged := map[string]interface{}{}
		for k, v := range d.ValueA {
			merged[k] = v
		}
		for _, c := range d.Conflicts {
			if c.AutoResolvable {
				merged[c.Field] = c.ResolvedValue
			}
		}
		return merged, version.Update, true
	default:
		return nil, "", false
	}
}

package temporal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ludia8888/oms-core/pkg/errs"
	"github.com/ludia8888/oms-core/pkg/hashchain"
	"github.com/ludia8888/oms-core/pkg/unfold"
	"github.com/ludia8888/oms-core/pkg/version"
)

// Engine answers AsOf, Between, AllVersions, Compare, and Snapshot
// queries directly against the version store. Its construction mirrors
// branch.Registry: an explicit resourceTypes catalog injected at
// startup, since the set of resource types is schema fixed at deploy
// time, not runtime state Engine should discover itself.
type Engine struct {
	store         version.Store
	resourceTypes []string
	now           func() time.Time
}

// NewEngine builds an Engine. now defaults to time.Now when nil; tests
// inject a fixed clock so ExecutionTimeMS and relative-point resolution
// are deterministic.
func NewEngine(store version.Store, resourceTypes []string, now func() time.Time) *Engine {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{store: store, resourceTypes: resourceTypes, now: now}
}

// AsOf resolves ref's state at point. Deletion never truncates history:
// a point before a resource's delete always resolves to its pre-delete
// version. includeDeleted controls whether a point at or after the
// delete resolves to the tombstone (true) or reports NotFound (false).
func (e *Engine) AsOf(ctx context.Context, ref version.Ref, point Point, includeDeleted bool) (*version.ResourceVersion, error) {
	rec, content, err := e.resolve(ctx, ref, point)
	if err != nil {
		return nil, err
	}
	if rec.ChangeType == version.Delete && !includeDeleted {
		return nil, errs.New(errs.NotFound, fmt.Sprintf("%s is deleted as of the requested point", ref))
	}
	return &version.ResourceVersion{Ref: ref, Current: rec, Content: content}, nil
}

func (e *Engine) resolve(ctx context.Context, ref version.Ref, point Point) (version.Record, map[string]interface{}, error) {
	var rec version.Record
	var content map[string]interface{}
	var err error
	switch {
	case point.CommitHash != "":
		rec, content, err = e.store.AtCommit(ctx, ref, point.CommitHash)
	case point.Version > 0:
		rec, content, err = e.store.At(ctx, ref, point.Version)
	case !point.Time.IsZero():
		rec, content, err = e.store.AtTime(ctx, ref, point.Time)
	default:
		return version.Record{}, nil, errs.New(errs.ValidationFailed, "point requires a time, version, or commit hash")
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return version.Record{}, nil, errs.New(errs.NotFound, fmt.Sprintf("no version of %s exists at the requested point", ref))
		}
		return version.Record{}, nil, errs.Wrap(errs.Internal, err, "resolve point")
	}
	return rec, content, nil
}

// Between returns every version of ref whose LastModified falls within
// [start, end]. A zero end means "through now".
func (e *Engine) Between(ctx context.Context, ref version.Ref, start, end time.Time, page Page) ([]version.Record, Page, error) {
	began := e.now()
	if end.IsZero() {
		end = e.now()
	}
	all, err := e.store.List(ctx, ref, 0, 0)
	if err != nil {
		return nil, page, errs.Wrap(errs.Internal, err, "list versions")
	}

	var out []version.Record
	for _, rec := range all {
		if rec.LastModified.Before(start) || rec.LastModified.After(end) {
			continue
		}
		out = append(out, rec)
	}
	page.VersionsScanned = len(all)
	out = paginateRecords(out, page)
	page.ExecutionTimeMS = e.now().Sub(began).Milliseconds()
	return out, page, nil
}

// AllVersions returns ref's full history, each entry enriched with its
// chain neighbors and how long it was the current version.
func (e *Engine) AllVersions(ctx context.Context, ref version.Ref, page Page) ([]VersionHistoryEntry, Page, error) {
	began := e.now()
	records, err := e.store.List(ctx, ref, 0, 0)
	if err != nil {
		return nil, page, errs.Wrap(errs.Internal, err, "list versions")
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Version < records[j].Version })

	entries := make([]VersionHistoryEntry, len(records))
	for i, rec := range records {
		entry := VersionHistoryEntry{Record: rec}
		if i > 0 {
			entry.PreviousVersion = records[i-1].Version
		}
		if i < len(records)-1 {
			entry.NextVersion = records[i+1].Version
			entry.VersionDuration = records[i+1].LastModified.Sub(rec.LastModified)
		}
		entries[i] = entry
	}
	page.VersionsScanned = len(records)
	entries = paginateHistory(entries, page)
	page.ExecutionTimeMS = e.now().Sub(began).Milliseconds()
	return entries, page, nil
}

// Compare diffs scope at two AS-OF points, classifying every resource
// ever touched in the branch as created, updated, deleted, or unchanged.
// Enumeration walks the current Heads of each resource type as the
// universe of candidate IDs: since deletion never truncates history, a
// resource deleted before either point is still present as a tombstone
// row in Heads and is correctly classified (typically Unchanged, both
// deleted, or Deleted if it was deleted between time1 and time2).
func (e *Engine) Compare(ctx context.Context, scope Scope, time1, time2 Point) (*CompareResult, error) {
	types := scope.ResourceTypes
	if len(types) == 0 {
		types = e.resourceTypes
	}
	result := &CompareResult{Scope: scope, Time1: time1.Time, Time2: time2.Time}

	for _, rt := range types {
		heads, err := e.store.Heads(ctx, scope.Branch, rt)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, err, fmt.Sprintf("load heads for %s", rt))
		}
		ids := make([]string, 0, len(heads))
		for id := range heads {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			ref := version.Ref{ResourceType: rt, ResourceID: id, Branch: scope.Branch}
			cmp, err := e.compareOne(ctx, ref, time1, time2)
			if err != nil {
				return nil, err
			}
			result.Changes = append(result.Changes, cmp)
		}
	}
	return result, nil
}

func (e *Engine) compareOne(ctx context.Context, ref version.Ref, time1, time2 Point) (ResourceComparison, error) {
	cmp := ResourceComparison{ResourceType: ref.ResourceType, ResourceID: ref.ResourceID}

	rec1, content1, err1 := e.resolve(ctx, ref, time1)
	if err1 != nil && !errs.Is(err1, errs.NotFound) {
		return cmp, err1
	}
	found1 := err1 == nil

	rec2, content2, err2 := e.resolve(ctx, ref, time2)
	if err2 != nil && !errs.Is(err2, errs.NotFound) {
		return cmp, err2
	}
	found2 := err2 == nil

	live1 := found1 && rec1.ChangeType != version.Delete
	live2 := found2 && rec2.ChangeType != version.Delete

	switch {
	case !live1 && live2:
		cmp.Kind = Created
	case live1 && !live2:
		cmp.Kind = Deleted
	case live1 && live2 && rec1.ContentHash != rec2.ContentHash:
		cmp.Kind = Updated
		ops, err := hashchain.JSONPatch(content1, content2)
		if err != nil {
			return cmp, errs.Wrap(errs.Internal, err, "diff compared versions")
		}
		cmp.Patch = toPatchOps(ops)
	default:
		cmp.Kind = Unchanged
	}
	return cmp, nil
}

// Snapshot materialises every live resource in branch as of point.
// includeData controls whether resource content is embedded or only
// identifying fields, for lightweight audit listings.
func (e *Engine) Snapshot(ctx context.Context, branch string, point Point, includeData bool) (*Snapshot, error) {
	snap := &Snapshot{Branch: branch, IncludeData: includeData}
	if !point.Time.IsZero() {
		snap.At = point.Time
	} else {
		snap.At = e.now()
	}

	for _, rt := range e.resourceTypes {
		heads, err := e.store.Heads(ctx, branch, rt)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, err, fmt.Sprintf("load heads for %s", rt))
		}
		ids := make([]string, 0, len(heads))
		for id := range heads {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			ref := version.Ref{ResourceType: rt, ResourceID: id, Branch: branch}
			rec, content, err := e.resolve(ctx, ref, point)
			if err != nil {
				if errs.Is(err, errs.NotFound) {
					continue
				}
				return nil, err
			}
			if rec.ChangeType == version.Delete {
				continue
			}
			entry := SnapshotEntry{ResourceType: rt, ResourceID: id, CommitHash: rec.CommitHash, Version: rec.Version}
			if includeData {
				entry.Content = unfold.Fold(content, unfold.DefaultContext())
			}
			snap.Entries = append(snap.Entries, entry)
		}
	}
	return snap, nil
}

func toPatchOps(ops []hashchain.Op) []version.PatchOp {
	out := make([]version.PatchOp, len(ops))
	for i, op := range ops {
		out[i] = version.PatchOp{Op: op.Op, Path: op.Path, Value: op.Value}
	}
	return out
}

func paginateRecords(recs []version.Record, page Page) []version.Record {
	if page.Limit <= 0 {
		return recs
	}
	start := page.Offset
	if start > len(recs) {
		start = len(recs)
	}
	end := start + page.Limit
	if end > len(recs) {
		end = len(recs)
	}
	return recs[start:end]
}

func paginateHistory(entries []VersionHistoryEntry, page Page) []VersionHistoryEntry {
	if page.Limit <= 0 {
		return entries
	}
	start := page.Offset
	if start > len(entries) {
		start = len(entries)
	}
	end := start + page.Limit
	if end > len(entries) {
		end = len(entries)
	}
	return entries[start:end]
}

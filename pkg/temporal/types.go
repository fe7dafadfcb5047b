// Package temporal answers time-travel queries over the version store:
// point-in-time resolution, range scans, full history, two-point
// comparison, and whole-branch snapshots. It never writes; every
// operator reads through pkg/version's Store.
package temporal

import (
	"time"

	"github.com/ludia8888/oms-core/pkg/version"
)

// VersionHistoryEntry enriches a version.Record with its neighbors in
// the chain, for AllVersions.
type VersionHistoryEntry struct {
	version.Record
	PreviousVersion int64         // 0 if this is the first version
	NextVersion     int64         // 0 if this is the current head
	VersionDuration time.Duration // how long this version was current; 0 for the head (still ongoing)
}

// ComparisonKind classifies one resource's state between two AS-OF
// points in a Compare call.
type ComparisonKind string

const (
	Created   ComparisonKind = "created"
	Updated   ComparisonKind = "updated"
	Deleted   ComparisonKind = "deleted"
	Unchanged ComparisonKind = "unchanged"
)

// ResourceComparison is one resource's entry in a CompareResult.
type ResourceComparison struct {
	ResourceType string
	ResourceID   string
	Kind         ComparisonKind
	Patch        []version.PatchOp // field-level diff, populated only for Updated
}

// Scope bounds a Compare or Snapshot call to one branch and, optionally,
// a subset of resource types; an empty ResourceTypes means every type
// the Engine was constructed with.
type Scope struct {
	Branch        string
	ResourceTypes []string
}

// CompareResult is Compare's output: every resource in scope,
// classified by how it changed between time1 and time2.
type CompareResult struct {
	Scope   Scope
	Time1   time.Time
	Time2   time.Time
	Changes []ResourceComparison
}

// SnapshotEntry is one resource's materialised state in a Snapshot.
type SnapshotEntry struct {
	ResourceType string
	ResourceID   string
	CommitHash   string
	Version      int64
	// Content is nil unless the snapshot was taken with includeData. It
	// is folded (see pkg/unfold) so a snapshot spanning many large
	// resources stays a bounded size in memory and on the wire; callers
	// that need a resource's hidden fields call unfold.Unfold on it.
	Content map[string]interface{}
}

// Snapshot is the output of Engine.Snapshot: every live resource in a
// branch as of a point in time.
type Snapshot struct {
	Branch      string
	At          time.Time
	Entries     []SnapshotEntry
	IncludeData bool
}

// Page bounds a query's result set and reports how much work it did.
type Page struct {
	Limit           int
	Offset          int
	VersionsScanned int
	ExecutionTimeMS int64
}

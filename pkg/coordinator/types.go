// Package coordinator wires the branch registry, lock manager, validator
// pipeline, version store, and outbox into a single mutation transaction
// (C10): acquire the right lock, validate the proposed content, and
// write the new version plus its outbox envelope atomically.
package coordinator

import (
	"time"

	"github.com/ludia8888/oms-core/pkg/validate"
	"github.com/ludia8888/oms-core/pkg/version"
)

// MutationRequest describes one resource change a caller wants applied.
type MutationRequest struct {
	Branch       string
	ResourceType string
	ResourceID   string
	Content      map[string]interface{}
	ChangeType   version.ChangeType
	Actor        string

	// IfMatchETag, if non-empty, must match the resource's current head
	// ETag or the mutation fails with PreconditionFailed before
	// validation runs.
	IfMatchETag string

	// LockResourceType, when true, acquires a RESOURCE_TYPE-scope lock
	// over the whole type instead of a RESOURCE-scope lock on just
	// ResourceID, for callers applying a batch of changes across many
	// resources of one type under a single lock.
	LockResourceType bool

	ChangeSummary string
	CorrelationID string
	CausationID   string
}

// MutationResult is Apply's successful output.
type MutationResult struct {
	Version *version.ResourceVersion
	ETag    string
	EventID string
	Issues  []validate.Issue // non-blocking warnings surfaced for visibility
}

// Config tunes the coordinator's lock behavior.
type Config struct {
	LockTTL         time.Duration
	LockWaitTimeout time.Duration
}

func defaultConfig() Config {
	return Config{LockTTL: 30 * time.Second, LockWaitTimeout: 5 * time.Second}
}

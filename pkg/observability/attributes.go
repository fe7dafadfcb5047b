// Package observability provides OMS-specific instrumentation helpers.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OMS-specific semantic convention attributes.
var (
	// Resource attributes
	AttrResourceType = attribute.Key("oms.resource.type")
	AttrResourceID   = attribute.Key("oms.resource.id")
	AttrBranch       = attribute.Key("oms.branch")

	// Version/commit attributes
	AttrVersion        = attribute.Key("oms.version")
	AttrCommitHash     = attribute.Key("oms.commit_hash")
	AttrParentCommit   = attribute.Key("oms.parent_commit_hash")
	AttrChangeType     = attribute.Key("oms.change_type")

	// Lock attributes
	AttrLockKey   = attribute.Key("oms.lock.key")
	AttrLockScope = attribute.Key("oms.lock.scope")
	AttrLockType  = attribute.Key("oms.lock.type")

	// Merge attributes
	AttrMergeTargetBranch = attribute.Key("oms.merge.target_branch")
	AttrMergeSourceBranch = attribute.Key("oms.merge.source_branch")
	AttrConflictType      = attribute.Key("oms.merge.conflict_type")
	AttrConflictSeverity  = attribute.Key("oms.merge.conflict_severity")

	// Outbox attributes
	AttrEventID       = attribute.Key("oms.event.id")
	AttrEventType     = attribute.Key("oms.event.type")
	AttrOutboxStatus  = attribute.Key("oms.outbox.status")
	AttrOutboxAttempt = attribute.Key("oms.outbox.attempt")

	// Consumer attributes
	AttrConsumerID     = attribute.Key("oms.consumer.id")
	AttrWasDuplicate   = attribute.Key("oms.consumer.was_duplicate")
	AttrSequenceNumber = attribute.Key("oms.consumer.sequence_number")
)

// ResourceOperation creates attributes for a version-store operation on a
// single resource.
func ResourceOperation(resourceType, resourceID, branch string, version int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrResourceType.String(resourceType),
		AttrResourceID.String(resourceID),
		AttrBranch.String(branch),
		AttrVersion.Int64(version),
	}
}

// BranchOperation creates attributes for a branch-registry operation.
func BranchOperation(branch, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrBranch.String(branch),
		attribute.String("oms.branch.state", state),
	}
}

// LockOperation creates attributes for a lock-manager operation.
func LockOperation(lockKey, scope, lockType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrLockKey.String(lockKey),
		AttrLockScope.String(scope),
		AttrLockType.String(lockType),
	}
}

// MergeOperation creates attributes for a merge-engine operation.
func MergeOperation(targetBranch, sourceBranch string, conflictCount int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrMergeTargetBranch.String(targetBranch),
		AttrMergeSourceBranch.String(sourceBranch),
		attribute.Int("oms.merge.conflict_count", conflictCount),
	}
}

// OutboxOperation creates attributes for an outbox publish attempt.
func OutboxOperation(eventID, eventType, status string, attempt int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEventID.String(eventID),
		AttrEventType.String(eventType),
		AttrOutboxStatus.String(status),
		AttrOutboxAttempt.Int(attempt),
	}
}

// ConsumerOperation creates attributes for a consumer dispatch.
func ConsumerOperation(consumerID, eventID string, sequenceNumber int64, wasDuplicate bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrConsumerID.String(consumerID),
		AttrEventID.String(eventID),
		AttrSequenceNumber.Int64(sequenceNumber),
		AttrWasDuplicate.Bool(wasDuplicate),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus sets the span status based on error.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

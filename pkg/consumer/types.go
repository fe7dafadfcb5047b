// Package consumer implements the idempotent consumer framework: exactly-
// once handler semantics over an at-least-once event bus, via a dedupe
// table, state-commit-hash chaining, ordered per-partition dispatch,
// checkpointing, and a dead-letter path for handlers that keep failing.
package consumer

import (
	"context"
	"time"
)

// Event is one envelope delivered to a consumer, the subset of an
// outbox envelope a handler needs.
type Event struct {
	ID             string
	Type           string
	SequenceNumber int64
	CommitHash     string
	Payload        map[string]interface{}
}

// ResultSummary is what Handle returns, and what a duplicate delivery
// replays, with WasDuplicate set, instead of re-running the handler.
type ResultSummary struct {
	WasDuplicate    bool
	StateCommitHash string
	ProcessedAt     time.Time
}

// SideEffect is an opaque side effect a handler reports having caused
// (e.g. a projection write), returned to the caller for observability;
// the framework does not interpret its contents.
type SideEffect struct {
	Kind    string
	Summary string
}

// Handler processes one event against the consumer's current state,
// returning the new state and any side effects. Handlers must be
// deterministic given (event, state): the framework may call them again
// for the same event during replay-from-checkpoint.
type Handler func(ctx context.Context, event Event, state interface{}) (newState interface{}, effects []SideEffect, err error)

// State is one consumer's durable checkpoint.
type State struct {
	ConsumerID           string
	ConsumerVersion      string
	LastProcessedEventID string
	LastSequenceNumber   int64
	EventsProcessed      int64
	StateCommitHash      string
	LastCheckpointAt     time.Time
	// Snapshot is the handler's opaque state. It is handed to
	// CheckpointStore.Save, but PostgresCheckpointStore does not store it:
	// a State loaded from consumer_state has a nil Snapshot.
	Snapshot             interface{}
}

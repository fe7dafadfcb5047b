package consumer

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CheckpointStore is the durable per-consumer checkpoint boundary,
// backed by the consumer_state table.
type CheckpointStore interface {
	// Load returns the consumer's last checkpoint, or a zero-valued
	// State with ok=false if the consumer has never checkpointed.
	Load(ctx context.Context, consumerID string) (State, bool, error)
	// Save persists st, overwriting any prior checkpoint.
	Save(ctx context.Context, st State) error
}

// PostgresCheckpointStore implements CheckpointStore against
// consumer_state.
type PostgresCheckpointStore struct {
	db *sql.DB
}

func NewPostgresCheckpointStore(db *sql.DB) *PostgresCheckpointStore {
	return &PostgresCheckpointStore{db: db}
}

func (s *PostgresCheckpointStore) Load(ctx context.Context, consumerID string) (State, bool, error) {
	const q = `
		SELECT consumer_id, consumer_version, last_processed_event_id,
		       last_sequence_number, events_processed, state_commit_hash, last_checkpoint_at
		FROM consumer_state
		WHERE consumer_id = $1
	`
	var st State
	var lastEventID sql.NullString
	err := s.db.QueryRowContext(ctx, q, consumerID).Scan(
		&st.ConsumerID, &st.ConsumerVersion, &lastEventID,
		&st.LastSequenceNumber, &st.EventsProcessed, &st.StateCommitHash, &st.LastCheckpointAt,
	)
	if err == sql.ErrNoRows {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("load consumer checkpoint: %w", err)
	}
	st.LastProcessedEventID = lastEventID.String
	return st, true, nil
}

func (s *PostgresCheckpointStore) Save(ctx context.Context, st State) error {
	const q = `
		INSERT INTO consumer_state (
			consumer_id, consumer_version, last_processed_event_id,
			last_sequence_number, events_processed, state_commit_hash, last_checkpoint_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (consumer_id) DO UPDATE SET
			consumer_version = EXCLUDED.consumer_version,
			last_processed_event_id = EXCLUDED.last_processed_event_id,
			last_sequence_number = EXCLUDED.last_sequence_number,
			events_processed = EXCLUDED.events_processed,
			state_commit_hash = EXCLUDED.state_commit_hash,
			last_checkpoint_at = EXCLUDED.last_checkpoint_at
	`
	_, err := s.db.ExecContext(ctx, q,
		st.ConsumerID, st.ConsumerVersion, nullableString(st.LastProcessedEventID),
		st.LastSequenceNumber, st.EventsProcessed, st.StateCommitHash, st.LastCheckpointAt,
	)
	if err != nil {
		return fmt.Errorf("save consumer checkpoint: %w", err)
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// DeadLetter is one event a consumer gave up on after exhausting its
// retry budget.
type DeadLetter struct {
	ConsumerID string
	Event      Event
	LastError  string
	FailedAt   time.Time
}

// DeadLetterStore records events a consumer could not process.
type DeadLetterStore interface {
	Add(ctx context.Context, dl DeadLetter) error
}

// InMemoryDeadLetterStore is a simple DeadLetterStore for tests and
// single-process deployments; production deployments typically wire a
// durable implementation through the same Store boundary as the outbox.
type InMemoryDeadLetterStore struct {
	entries []DeadLetter
}

func NewInMemoryDeadLetterStore() *InMemoryDeadLetterStore {
	return &InMemoryDeadLetterStore{}
}

func (s *InMemoryDeadLetterStore) Add(_ context.Context, dl DeadLetter) error {
	s.entries = append(s.entries, dl)
	return nil
}

func (s *InMemoryDeadLetterStore) Entries() []DeadLetter {
	return s.entries
}

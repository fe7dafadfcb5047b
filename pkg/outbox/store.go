package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store is the outbox's persistence boundary. PostgresStore is the
// production implementation, backed by the event_outbox table created by
// pkg/migrate.
type Store interface {
	// Append inserts env, failing silently (no error, no row) if
	// env.EventID already exists — the coordinator may retry the same
	// mutation after a partial failure and must not double-publish.
	Append(ctx context.Context, env *Envelope) error
	// Pending returns envelopes in (sequence_number, created_at) order
	// whose status is PENDING and whose next_attempt_at has passed,
	// capped at limit.
	Pending(ctx context.Context, limit int) ([]*Envelope, error)
	// MarkPublished transitions an envelope to PUBLISHED.
	MarkPublished(ctx context.Context, eventID string) error
	// MarkRetry increments attempts, records lastErr, and schedules
	// nextAttempt; if attempts has now reached maxAttempts the envelope
	// is moved to DLQ instead.
	MarkRetry(ctx context.Context, eventID string, lastErr string, nextAttempt time.Time, maxAttempts int) error
	// NextSequence returns the next monotonic sequence number, scoped to
	// the whole table (single partition; the spec's "per partition"
	// language anticipates future sharding this repo does not need yet).
	NextSequence(ctx context.Context) (int64, error)
	// Requeue moves a DLQ'd envelope back to PENDING with a fresh
	// attempts counter, used by the operator CLI's `outbox requeue`.
	Requeue(ctx context.Context, eventID string) error
}

// dbtx is the subset of *sql.DB / *sql.Tx PostgresStore needs, so the
// coordinator can bind a PostgresStore to an in-flight transaction for
// the atomic version-append-plus-outbox-write pairing C10 requires,
// without PostgresStore caring which one it got.
type dbtx interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// PostgresStore implements Store against the event_outbox table.
type PostgresStore struct {
	db dbtx
}

// NewPostgresStore builds a PostgresStore. db is typically a *sql.DB;
// callers needing transactional atomicity with another store (the
// coordinator, pairing an outbox write with a version append) pass a
// *sql.Tx instead.
func NewPostgresStore(db dbtx) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, env *Envelope) error {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	const q = `
		INSERT INTO event_outbox (
			event_id, event_type, source_commit_hash, payload, payload_hash,
			correlation_id, causation_id, sequence_number, created_at, status,
			attempts, next_attempt_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $9)
		ON CONFLICT (event_id) DO NOTHING
	`
	_, err = s.db.ExecContext(ctx, q,
		env.EventID, env.EventType, env.SourceCommitHash, string(payload), env.PayloadHash,
		nullable(env.CorrelationID), nullable(env.CausationID), env.SequenceNumber, env.CreatedAt, string(Pending),
	)
	if err != nil {
		return fmt.Errorf("append outbox envelope: %w", err)
	}
	return nil
}

func (s *PostgresStore) Pending(ctx context.Context, limit int) ([]*Envelope, error) {
	const q = `
		SELECT event_id, event_type, source_commit_hash, payload, payload_hash,
		       correlation_id, causation_id, sequence_number, created_at,
		       status, attempts, last_error, next_attempt_at
		FROM event_outbox
		WHERE status = $1 AND next_attempt_at <= $2
		ORDER BY sequence_number ASC, created_at ASC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, q, string(Pending), time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query pending outbox envelopes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Envelope
	for rows.Next() {
		env, payloadJSON, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payloadJSON), &env.Payload); err != nil {
			return nil, fmt.Errorf("corrupt outbox payload for %s: %w", env.EventID, err)
		}
		out = append(out, env)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkPublished(ctx context.Context, eventID string) error {
	const q = `UPDATE event_outbox SET status = $1 WHERE event_id = $2`
	_, err := s.db.ExecContext(ctx, q, string(Published), eventID)
	if err != nil {
		return fmt.Errorf("mark outbox envelope published: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkRetry(ctx context.Context, eventID string, lastErr string, nextAttempt time.Time, maxAttempts int) error {
	const q = `
		UPDATE event_outbox
		SET attempts = attempts + 1,
		    last_error = $1,
		    next_attempt_at = $2,
		    status = CASE WHEN attempts + 1 >= $3 THEN $4 ELSE status END
		WHERE event_id = $5
	`
	_, err := s.db.ExecContext(ctx, q, lastErr, nextAttempt, maxAttempts, string(DLQ), eventID)
	if err != nil {
		return fmt.Errorf("mark outbox envelope retry: %w", err)
	}
	return nil
}

func (s *PostgresStore) NextSequence(ctx context.Context) (int64, error) {
	const q = `SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM event_outbox`
	var next int64
	if err := s.db.QueryRowContext(ctx, q).Scan(&next); err != nil {
		return 0, fmt.Errorf("compute next outbox sequence: %w", err)
	}
	return next, nil
}

func (s *PostgresStore) Requeue(ctx context.Context, eventID string) error {
	const q = `
		UPDATE event_outbox
		SET status = $1, attempts = 0, last_error = NULL, next_attempt_at = $2
		WHERE event_id = $3 AND status = $4
	`
	res, err := s.db.ExecContext(ctx, q, string(Pending), time.Now().UTC(), eventID, string(DLQ))
	if err != nil {
		return fmt.Errorf("requeue outbox envelope: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("requeue outbox envelope: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("outbox envelope %s is not in DLQ", eventID)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEnvelope(row scanner) (*Envelope, string, error) {
	var env Envelope
	var status string
	var payload string
	var correlationID, causationID, lastError sql.NullString

	err := row.Scan(
		&env.EventID, &env.EventType, &env.SourceCommitHash, &payload, &env.PayloadHash,
		&correlationID, &causationID, &env.SequenceNumber, &env.CreatedAt,
		&status, &env.Attempts, &lastError, &env.NextAttemptAt,
	)
	if err != nil {
		return nil, "", fmt.Errorf("scan outbox envelope: %w", err)
	}
	env.Status = Status(status)
	env.CorrelationID = correlationID.String
	env.CausationID = causationID.String
	env.LastError = lastError.String
	return &env, payload, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

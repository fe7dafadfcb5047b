package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStoreAppendInsertsEnvelope(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	env := &Envelope{
		EventID: "evt-1", EventType: "com.oms.object_type.updated", SourceCommitHash: "commit1",
		Payload: map[string]interface{}{"name": "Foo"}, PayloadHash: "hash1",
		SequenceNumber: 1, CreatedAt: time.Now().UTC(),
	}

	mock.ExpectExec(`INSERT INTO event_outbox`).
		WithArgs(env.EventID, env.EventType, env.SourceCommitHash, `{"name":"Foo"}`, env.PayloadHash,
			nil, nil, env.SequenceNumber, env.CreatedAt, string(Pending)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Append(context.Background(), env))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStorePendingScansEnvelopes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"event_id", "event_type", "source_commit_hash", "payload", "payload_hash",
		"correlation_id", "causation_id", "sequence_number", "created_at",
		"status", "attempts", "last_error", "next_attempt_at",
	}).AddRow("evt-1", "com.oms.object_type.updated", "commit1", `{"name":"Foo"}`, "hash1",
		nil, nil, int64(1), now, string(Pending), 0, nil, now)

	mock.ExpectQuery(`SELECT event_id, event_type, source_commit_hash`).
		WillReturnRows(rows)

	out, err := store.Pending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "evt-1", out[0].EventID)
	assert.Equal(t, "Foo", out[0].Payload["name"])
}

func TestPostgresStoreMarkPublished(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	mock.ExpectExec(`UPDATE event_outbox SET status`).
		WithArgs(string(Published), "evt-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.MarkPublished(context.Background(), "evt-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreMarkRetryDeadLettersAtMaxAttempts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	next := time.Now().UTC()
	mock.ExpectExec(`UPDATE event_outbox\s+SET attempts`).
		WithArgs("boom", next, 3, string(DLQ), "evt-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.MarkRetry(context.Background(), "evt-1", "boom", next, 3))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreNextSequence(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(sequence_number\), 0\) \+ 1`).
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(int64(42)))

	next, err := store.NextSequence(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), next)
}

func TestPostgresStoreRequeueRejectsNonDLQEnvelope(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	mock.ExpectExec(`UPDATE event_outbox`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.Requeue(context.Background(), "evt-1")
	assert.Error(t, err)
}

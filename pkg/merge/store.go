package merge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresCompactionStore persists compacted chains to the
// compacted_chains table created by pkg/migrate, and supplies the
// StoreCompaction closure IncrementalCompactor's tick calls; the closure
// is not bound to one resource and looks each chain's resource up from
// its first commit.
type PostgresCompactionStore struct {
	db *sql.DB
}

// NewPostgresCompactionStore builds a PostgresCompactionStore.
func NewPostgresCompactionStore(db *sql.DB) *PostgresCompactionStore {
	return &PostgresCompactionStore{db: db}
}

// Record persists one compacted chain's summary.
func (s *PostgresCompactionStore) Record(
	ctx context.Context,
	resourceType, resourceID, branch string,
	firstCommit, lastCommit string,
	compactedIDs []string,
	transitions []SchemaTransition,
) error {
	idsJSON, err := json.Marshal(compactedIDs)
	if err != nil {
		return fmt.Errorf("marshal compacted ids: %w", err)
	}
	transitionsJSON, err := json.Marshal(transitions)
	if err != nil {
		return fmt.Errorf("marshal schema transitions: %w", err)
	}

	const q = `
		INSERT INTO compacted_chains (
			resource_type, resource_id, branch, first_commit, last_commit,
			compacted_ids, transitions, compacted_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`
	_, err = s.db.ExecContext(ctx, q,
		resourceType, resourceID, branch, firstCommit, lastCommit,
		string(idsJSON), string(transitionsJSON), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record compacted chain: %w", err)
	}
	return nil
}

// StoreCompactionFunc adapts Record into the StoreCompaction signature
// IncrementalCompactor's tick calls: since one IncrementalCompactor can
// watch several (branch, resourceType) targets, the resource identity
// the chain belongs to isn't in scope at call time, so it is recovered
// by looking up the chain's first commit in resource_versions (commit
// hashes are unique per resource chain).
func (s *PostgresCompactionStore) StoreCompactionFunc() StoreCompaction {
	return func(ctx context.Context, firstCommit, lastCommit string, compactedIDs []string, transitions []SchemaTransition) error {
		const q = `SELECT resource_type, resource_id, branch FROM resource_versions WHERE commit_hash = $1 LIMIT 1`
		var resourceType, resourceID, branch string
		if err := s.db.QueryRowContext(ctx, q, firstCommit).Scan(&resourceType, &resourceID, &branch); err != nil {
			return fmt.Errorf("resolve resource for compacted chain %s: %w", firstCommit, err)
		}
		return s.Record(ctx, resourceType, resourceID, branch, firstCommit, lastCommit, compactedIDs, transitions)
	}
}

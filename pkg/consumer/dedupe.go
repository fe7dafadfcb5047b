package consumer

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DedupeStore is the durable (consumer_id, event_id) dedupe boundary.
// PostgresDedupeStore is the production implementation.
type DedupeStore interface {
	// Seen returns the previously recorded result for (consumerID,
	// eventID), and ok=false if it has never been processed.
	Seen(ctx context.Context, consumerID, eventID string) (ResultSummary, bool, error)
	// Record persists that (consumerID, eventID) has been processed with
	// the given result. Safe to call more than once for the same key
	// (ON CONFLICT DO NOTHING): the first writer wins.
	Record(ctx context.Context, consumerID, eventID string, result ResultSummary) error
}

// PostgresDedupeStore implements DedupeStore against the consumer_dedupe
// table.
type PostgresDedupeStore struct {
	db *sql.DB
}

func NewPostgresDedupeStore(db *sql.DB) *PostgresDedupeStore {
	return &PostgresDedupeStore{db: db}
}

func (s *PostgresDedupeStore) Seen(ctx context.Context, consumerID, eventID string) (ResultSummary, bool, error) {
	const q = `
		SELECT state_commit_hash, was_duplicate, processed_at
		FROM consumer_dedupe
		WHERE consumer_id = $1 AND event_id = $2
	`
	var res ResultSummary
	var wasDuplicate bool
	err := s.db.QueryRowContext(ctx, q, consumerID, eventID).Scan(&res.StateCommitHash, &wasDuplicate, &res.ProcessedAt)
	if err == sql.ErrNoRows {
		return ResultSummary{}, false, nil
	}
	if err != nil {
		return ResultSummary{}, false, fmt.Errorf("query dedupe record: %w", err)
	}
	res.WasDuplicate = true // any row found means this call is observing a prior success
	return res, true, nil
}

func (s *PostgresDedupeStore) Record(ctx context.Context, consumerID, eventID string, result ResultSummary) error {
	const q = `
		INSERT INTO consumer_dedupe (consumer_id, event_id, processed_at, state_commit_hash, was_duplicate)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (consumer_id, event_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, q, consumerID, eventID, result.ProcessedAt, result.StateCommitHash, result.WasDuplicate)
	if err != nil {
		return fmt.Errorf("record dedupe entry: %w", err)
	}
	return nil
}

// Dedupe fronts a DedupeStore with an in-memory go-cache TTL layer for
// the hot path, matching C2's cacheTTL-fronted ETag lookups.
type Dedupe struct {
	store DedupeStore
	cache *gocache.Cache
}

// NewDedupe builds a Dedupe. ttl <= 0 disables the in-memory layer
// (every lookup goes straight to store).
func NewDedupe(store DedupeStore, ttl time.Duration) *Dedupe {
	d := &Dedupe{store: store}
	if ttl > 0 {
		d.cache = gocache.New(ttl, 2*ttl)
	}
	return d
}

func dedupeKey(consumerID, eventID string) string {
	return consumerID + ":" + eventID
}

// Seen checks the hot cache first, falling back to the durable store and
// populating the cache on a hit.
func (d *Dedupe) Seen(ctx context.Context, consumerID, eventID string) (ResultSummary, bool, error) {
	key := dedupeKey(consumerID, eventID)
	if d.cache != nil {
		if cached, ok := d.cache.Get(key); ok {
			return cached.(ResultSummary), true, nil
		}
	}
	res, ok, err := d.store.Seen(ctx, consumerID, eventID)
	if err != nil || !ok {
		return res, ok, err
	}
	if d.cache != nil {
		d.cache.SetDefault(key, res)
	}
	return res, true, nil
}

// Record persists result durably and populates the hot cache.
func (d *Dedupe) Record(ctx context.Context, consumerID, eventID string, result ResultSummary) error {
	if err := d.store.Record(ctx, consumerID, eventID, result); err != nil {
		return err
	}
	if d.cache != nil {
		d.cache.SetDefault(dedupeKey(consumerID, eventID), result)
	}
	return nil
}

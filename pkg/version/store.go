package version

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store is the persistence boundary TrackChange and its siblings depend
// on. PostgresStore is the production implementation; tests may swap in
// any other implementation (this package's tests drive PostgresStore
// through go-sqlmock and use an in-memory Store for the Service tests).
type Store interface {
	// Head returns the current (highest-version) record for ref, and its
	// content. Returns sql.ErrNoRows if no version exists yet.
	Head(ctx context.Context, ref Ref) (Record, map[string]interface{}, error)
	// At returns the record in effect at or before version v.
	At(ctx context.Context, ref Ref, v int64) (Record, map[string]interface{}, error)
	// AtTime returns the record in effect at or before t.
	AtTime(ctx context.Context, ref Ref, t time.Time) (Record, map[string]interface{}, error)
	// AtCommit returns the record whose CommitHash equals hash.
	AtCommit(ctx context.Context, ref Ref, hash string) (Record, map[string]interface{}, error)
	// Append inserts a new version record atomically, failing if the
	// (ref, version) pair already exists so concurrent writers cannot
	// silently overwrite each other.
	Append(ctx context.Context, ref Ref, rec Record, content map[string]interface{}) error
	// List returns records for ref in ascending version order; a limit
	// of 0 or less returns every record from offset on.
	List(ctx context.Context, ref Ref, limit, offset int) ([]Record, error)
	// Heads returns the head record for every resource_id under
	// (resourceType, branch), used by ValidateCache and branch summaries.
	Heads(ctx context.Context, branch string, resourceType string) (map[string]Record, error)
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

// PostgresStore implements Store against the resource_versions table
// created by pkg/migrate.
type PostgresStore struct {
	db dbtx
}

// NewPostgresStore builds a PostgresStore. db is typically a *sql.DB;
// callers needing transactional atomicity with another store (the
// coordinator, pairing a version append with an outbox write) pass a
// *sql.Tx instead.
func NewPostgresStore(db dbtx) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Head(ctx context.Context, ref Ref) (Record, map[string]interface{}, error) {
	const q = `
		SELECT version, parent_version, commit_hash, parent_commit_hash,
		       content_hash, content, content_size, etag, last_modified,
		       modified_by, change_type, fields_changed, change_summary
		FROM resource_versions
		WHERE resource_type = $1 AND resource_id = $2 AND branch = $3
		ORDER BY version DESC
		LIMIT 1
	`
	row := s.db.QueryRowContext(ctx, q, ref.ResourceType, ref.ResourceID, ref.Branch)
	return scanRecord(row)
}

func (s *PostgresStore) At(ctx context.Context, ref Ref, v int64) (Record, map[string]interface{}, error) {
	const q = `
		SELECT version, parent_version, commit_hash, parent_commit_hash,
		       content_hash, content, content_size, etag, last_modified,
		       modified_by, change_type, fields_changed, change_summary
		FROM resource_versions
		WHERE resource_type = $1 AND resource_id = $2 AND branch = $3 AND version <= $4
		ORDER BY version DESC
		LIMIT 1
	`
	row := s.db.QueryRowContext(ctx, q, ref.ResourceType, ref.ResourceID, ref.Branch, v)
	return scanRecord(row)
}

func (s *PostgresStore) AtTime(ctx context.Context, ref Ref, t time.Time) (Record, map[string]interface{}, error) {
	const q = `
		SELECT version, parent_version, commit_hash, parent_commit_hash,
		       content_hash, content, content_size, etag, last_modified,
		       modified_by, change_type, fields_changed, change_summary
		FROM resource_versions
		WHERE resource_type = $1 AND resource_id = $2 AND branch = $3 AND last_modified <= $4
		ORDER BY version DESC
		LIMIT 1
	`
	row := s.db.QueryRowContext(ctx, q, ref.ResourceType, ref.ResourceID, ref.Branch, t.UTC())
	return scanRecord(row)
}

func (s *PostgresStore) AtCommit(ctx context.Context, ref Ref, hash string) (Record, map[string]interface{}, error) {
	const q = `
		SELECT version, parent_version, commit_hash, parent_commit_hash,
		       content_hash, content, content_size, etag, last_modified,
		       modified_by, change_type, fields_changed, change_summary
		FROM resource_versions
		WHERE resource_type = $1 AND resource_id = $2 AND branch = $3 AND commit_hash = $4
	`
	row := s.db.QueryRowContext(ctx, q, ref.ResourceType, ref.ResourceID, ref.Branch, hash)
	return scanRecord(row)
}

func (s *PostgresStore) Append(ctx context.Context, ref Ref, rec Record, content map[string]interface{}) error {
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}
	fieldsJSON, err := json.Marshal(rec.FieldsChanged)
	if err != nil {
		return fmt.Errorf("marshal fields_changed: %w", err)
	}

	const q = `
		INSERT INTO resource_versions (
			resource_type, resource_id, branch, version, parent_version,
			commit_hash, parent_commit_hash, content_hash, content,
			content_size, etag, last_modified, modified_by, change_type,
			fields_changed, change_summary
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (resource_type, resource_id, branch, version) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, q,
		ref.ResourceType, ref.ResourceID, ref.Branch, rec.Version, nullableVersion(rec.ParentVersion),
		rec.CommitHash, nullableString(rec.ParentCommitHash), rec.ContentHash, string(contentJSON),
		rec.ContentSize, rec.ETag, rec.LastModified.UTC(), rec.ModifiedBy, string(rec.ChangeType),
		string(fieldsJSON), nullableString(rec.ChangeSummary),
	)
	if err != nil {
		return fmt.Errorf("append version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check append result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("version %d of %s already exists", rec.Version, ref)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, ref Ref, limit, offset int) ([]Record, error) {
	const q = `
		SELECT version, parent_version, commit_hash, parent_commit_hash,
		       content_hash, content, content_size, etag, last_modified,
		       modified_by, change_type, fields_changed, change_summary
		FROM resource_versions
		WHERE resource_type = $1 AND resource_id = $2 AND branch = $3
		ORDER BY version ASC
		LIMIT $4 OFFSET $5
	`
	var lim interface{} // nil binds LIMIT NULL, i.e. no limit
	if limit > 0 {
		lim = limit
	}
	rows, err := s.db.QueryContext(ctx, q, ref.ResourceType, ref.ResourceID, ref.Branch, lim, offset)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		rec, _, err := scanRecordRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Heads(ctx context.Context, branch string, resourceType string) (map[string]Record, error) {
	// A portable "latest row per resource_id" query (no DISTINCT ON), so
	// the SQL does not depend on Postgres-only syntax.
	const q = `
		SELECT rv.resource_id, rv.version, rv.parent_version, rv.commit_hash, rv.parent_commit_hash,
		       rv.content_hash, rv.content, rv.content_size, rv.etag, rv.last_modified,
		       rv.modified_by, rv.change_type, rv.fields_changed, rv.change_summary
		FROM resource_versions rv
		WHERE rv.branch = $1 AND rv.resource_type = $2
		  AND rv.version = (
		      SELECT MAX(rv2.version) FROM resource_versions rv2
		      WHERE rv2.resource_type = rv.resource_type
		        AND rv2.resource_id = rv.resource_id
		        AND rv2.branch = rv.branch
		  )
	`
	rows, err := s.db.QueryContext(ctx, q, branch, resourceType)
	if err != nil {
		return nil, fmt.Errorf("list heads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := map[string]Record{}
	for rows.Next() {
		var resourceID string
		var rec Record
		var contentJSON, fieldsJSON string
		var parentVersion sql.NullInt64
		var parentCommit, changeSummary sql.NullString
		if err := rows.Scan(&resourceID, &rec.Version, &parentVersion, &rec.CommitHash, &parentCommit,
			&rec.ContentHash, &contentJSON, &rec.ContentSize, &rec.ETag, &rec.LastModified,
			&rec.ModifiedBy, &rec.ChangeType, &fieldsJSON, &changeSummary); err != nil {
			return nil, fmt.Errorf("scan head row: %w", err)
		}
		rec.ParentVersion = parentVersion.Int64
		rec.ParentCommitHash = parentCommit.String
		rec.ChangeSummary = changeSummary.String
		_ = json.Unmarshal([]byte(fieldsJSON), &rec.FieldsChanged)
		out[resourceID] = rec
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row *sql.Row) (Record, map[string]interface{}, error) {
	return scanRecordGeneric(row)
}

func scanRecordRows(rows *sql.Rows) (Record, map[string]interface{}, error) {
	return scanRecordGeneric(rows)
}

func scanRecordGeneric(s scanner) (Record, map[string]interface{}, error) {
	var rec Record
	var contentJSON, fieldsJSON string
	var parentVersion sql.NullInt64
	var parentCommit, changeSummary sql.NullString

	err := s.Scan(&rec.Version, &parentVersion, &rec.CommitHash, &parentCommit,
		&rec.ContentHash, &contentJSON, &rec.ContentSize, &rec.ETag, &rec.LastModified,
		&rec.ModifiedBy, &rec.ChangeType, &fieldsJSON, &changeSummary)
	if err != nil {
		return Record{}, nil, err
	}
	rec.ParentVersion = parentVersion.Int64
	rec.ParentCommitHash = parentCommit.String
	rec.ChangeSummary = changeSummary.String
	if err := json.Unmarshal([]byte(fieldsJSON), &rec.FieldsChanged); err != nil {
		return Record{}, nil, fmt.Errorf("unmarshal fields_changed: %w", err)
	}

	var content map[string]interface{}
	if err := json.Unmarshal([]byte(contentJSON), &content); err != nil {
		return Record{}, nil, fmt.Errorf("unmarshal content: %w", err)
	}
	return rec, content, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableVersion(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

package branch

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Store is the persistence boundary for the branch registry.
type Store interface {
	// Create inserts a new branch row. Returns an error if the name
	// already exists.
	Create(ctx context.Context, b Branch) error
	// Get returns the branch named name. Returns sql.ErrNoRows if absent.
	Get(ctx context.Context, name string) (Branch, error)
	// List returns every branch, ordered by name.
	List(ctx context.Context) ([]Branch, error)
	// UpdateState sets state unconditionally; state-machine legality is
	// enforced by the caller (Registry), not the store.
	UpdateState(ctx context.Context, name string, state State) error
	// UpdateHeadCommits replaces the head-commit snapshot for name.
	UpdateHeadCommits(ctx context.Context, name string, heads map[string]string) error
}

// PostgresStore implements Store against the branches table created by
// pkg/migrate.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, b Branch) error {
	headsJSON, err := json.Marshal(b.HeadCommits)
	if err != nil {
		return fmt.Errorf("marshal head_commits: %w", err)
	}
	const q = `
		INSERT INTO branches (id, name, parent_branch, created_at, created_by, state, head_commits)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (name) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, q, b.ID, b.Name, nullableString(b.Parent), b.CreatedAt.UTC(), b.CreatedBy, string(b.State), string(headsJSON))
	if err != nil {
		return fmt.Errorf("create branch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check create result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("branch %q already exists", b.Name)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, name string) (Branch, error) {
	const q = `
		SELECT id, name, parent_branch, created_at, created_by, state, head_commits
		FROM branches WHERE name = $1
	`
	row := s.db.QueryRowContext(ctx, q, name)
	return scanBranch(row)
}

func (s *PostgresStore) List(ctx context.Context) ([]Branch, error) {
	const q = `
		SELECT id, name, parent_branch, created_at, created_by, state, head_commits
		FROM branches ORDER BY name ASC
	`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Branch
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateState(ctx context.Context, name string, state State) error {
	const q = `UPDATE branches SET state = $1 WHERE name = $2`
	res, err := s.db.ExecContext(ctx, q, string(state), name)
	if err != nil {
		return fmt.Errorf("update branch state: %w", err)
	}
	return requireOneRow(res, name)
}

func (s *PostgresStore) UpdateHeadCommits(ctx context.Context, name string, heads map[string]string) error {
	headsJSON, err := json.Marshal(heads)
	if err != nil {
		return fmt.Errorf("marshal head_commits: %w", err)
	}
	const q = `UPDATE branches SET head_commits = $1 WHERE name = $2`
	res, err := s.db.ExecContext(ctx, q, string(headsJSON), name)
	if err != nil {
		return fmt.Errorf("update branch head_commits: %w", err)
	}
	return requireOneRow(res, name)
}

func requireOneRow(res sql.Result, name string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check update result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("branch %q not found", name)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBranch(s scanner) (Branch, error) {
	var b Branch
	var parent sql.NullString
	var stateStr, headsJSON string
	if err := s.Scan(&b.ID, &b.Name, &parent, &b.CreatedAt, &b.CreatedBy, &stateStr, &headsJSON); err != nil {
		return Branch{}, err
	}
	b.Parent = parent.String
	b.State = State(stateStr)
	if err := json.Unmarshal([]byte(headsJSON), &b.HeadCommits); err != nil {
		return Branch{}, fmt.Errorf("unmarshal head_commits: %w", err)
	}
	return b, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

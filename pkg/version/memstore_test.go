package version

import (
	"context"
	"database/sql"
	"time"
)

// memStore is an in-memory Store used only by this package's tests; it
// is not part of the public API.
type memStore struct {
	versions map[string][]entry
}

type entry struct {
	rec     Record
	content map[string]interface{}
}

func newMemStore() *memStore {
	return &memStore{versions: map[string][]entry{}}
}

func (m *memStore) key(ref Ref) string { return ref.String() }

func (m *memStore) Head(ctx context.Context, ref Ref) (Record, map[string]interface{}, error) {
	entries := m.versions[m.key(ref)]
	if len(entries) == 0 {
		return Record{}, nil, sql.ErrNoRows
	}
	last := entries[len(entries)-1]
	return last.rec, last.content, nil
}

func (m *memStore) At(ctx context.Context, ref Ref, v int64) (Record, map[string]interface{}, error) {
	entries := m.versions[m.key(ref)]
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].rec.Version <= v {
			return entries[i].rec, entries[i].content, nil
		}
	}
	return Record{}, nil, sql.ErrNoRows
}

func (m *memStore) AtTime(ctx context.Context, ref Ref, t time.Time) (Record, map[string]interface{}, error) {
	entries := m.versions[m.key(ref)]
	for i := len(entries) - 1; i >= 0; i-- {
		if !entries[i].rec.LastModified.After(t) {
			return entries[i].rec, entries[i].content, nil
		}
	}
	return Record{}, nil, sql.ErrNoRows
}

func (m *memStore) AtCommit(ctx context.Context, ref Ref, hash string) (Record, map[string]interface{}, error) {
	for _, e := range m.versions[m.key(ref)] {
		if e.rec.CommitHash == hash {
			return e.rec, e.content, nil
		}
	}
	return Record{}, nil, sql.ErrNoRows
}

func (m *memStore) Append(ctx context.Context, ref Ref, rec Record, content map[string]interface{}) error {
	k := m.key(ref)
	for _, e := range m.versions[k] {
		if e.rec.Version == rec.Version {
			return sql.ErrTxDone // any non-nil sentinel: duplicate version
		}
	}
	m.versions[k] = append(m.versions[k], entry{rec: rec, content: content})
	return nil
}

func (m *memStore) List(ctx context.Context, ref Ref, limit, offset int) ([]Record, error) {
	entries := m.versions[m.key(ref)]
	var out []Record
	for i, e := range entries {
		if i < offset {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, e.rec)
	}
	return out, nil
}

func (m *memStore) Heads(ctx context.Context, branch string, resourceType string) (map[string]Record, error) {
	out := map[string]Record{}
	for k, entries := range m.versions {
		if len(entries) == 0 {
			continue
		}
		last := entries[len(entries)-1]
		// k is "type:id@branch"
		var ref Ref
		for i := 0; i < len(k); i++ {
			if k[i] == ':' {
				ref.ResourceType = k[:i]
				rest := k[i+1:]
				for j := 0; j < len(rest); j++ {
					if rest[j] == '@' {
						ref.ResourceID = rest[:j]
						ref.Branch = rest[j+1:]
						break
					}
				}
				break
			}
		}
		if ref.Branch == branch && ref.ResourceType == resourceType {
			out[ref.ResourceID] = last.rec
		}
	}
	return out, nil
}

var _ Store = (*memStore)(nil)

// Package hashchain implements the hash & delta primitives: content
// hashing, commit-hash chaining, and a minimal JSON patch. It is the
// leaf-most package in the module — every other component depends on it,
// it depends on nothing but pkg/canonicalize and the standard library.
package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ludia8888/oms-core/pkg/canonicalize"
)

// ContentHash returns the canonical SHA-256 hex digest of value. Map keys
// are sorted recursively and numbers are normalized, so equal content
// hashes equal regardless of key order (RFC 8785 JCS underneath).
func ContentHash(value interface{}) (string, error) {
	h, err := canonicalize.CanonicalHash(value)
	if err != nil {
		return "", fmt.Errorf("hashchain: content hash: %w", err)
	}
	return h, nil
}

// CommitHash chains parent, contentHash, author and timestamp into a
// single SHA-256 hex digest. The first commit on a resource passes an
// empty parent.
func CommitHash(parent, contentHash, author string, at time.Time) string {
	s := parent + "|" + contentHash + "|" + author + "|" + at.UTC().Format(time.RFC3339Nano)
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ShortHash returns the first n hex characters of a hash, used to build
// ETags (see ETag).
func ShortHash(hash string, n int) string {
	if len(hash) <= n {
		return hash
	}
	return hash[:n]
}

// ETag derives the weak ETag for a version: W/"<first 12 hex of
// commit_hash>-<version>".
func ETag(commitHash string, version int64) string {
	return fmt.Sprintf(`W/"%s-%d"`, ShortHash(commitHash, 12), version)
}

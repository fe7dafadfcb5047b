package version

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/ludia8888/oms-core/pkg/errs"
	"github.com/ludia8888/oms-core/pkg/hashchain"
)

// deltaPatchThreshold bounds the number of intermediate patches GetDelta
// will assemble before falling back to returning full content; beyond
// this the patch list is larger than just re-sending the document.
const deltaPatchThreshold = 25

// Service implements the version-tracking operations (C2): content-hash
// dedup, commit-hash chaining, ETag validation, and delta computation.
type Service struct {
	store Store
	cache *gocache.Cache
}

// NewService builds a Service. cacheTTL controls how long a head looked
// up by GetResourceVersion (and so ValidateETag and GetDelta) is trusted
// before the store is read again; pass 0 to disable the fast path and
// always hit the store. ValidateCache always reads the store.
func NewService(store Store, cacheTTL time.Duration) *Service {
	var c *gocache.Cache
	if cacheTTL > 0 {
		c = gocache.New(cacheTTL, 2*cacheTTL)
	}
	return &Service{store: store, cache: c}
}

func (s *Service) cacheKey(ref Ref) string {
	return ref.String()
}

func (s *Service) invalidate(ref Ref) {
	if s.cache != nil {
		s.cache.Delete(s.cacheKey(ref))
	}
}

// TrackChange records a content change for ref. Identical content to the
// current head is idempotent: the existing head is returned unchanged
// and no new version is written.
func (s *Service) TrackChange(
	ctx context.Context,
	ref Ref,
	content map[string]interface{},
	changeType ChangeType,
	actor string,
	fieldsChanged []string,
	summary string,
) (*ResourceVersion, error) {
	contentHash, err := hashchain.ContentHash(content)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "compute content hash")
	}

	head, headContent, err := s.store.Head(ctx, ref)
	hasHead := true
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, errs.Wrap(errs.Internal, err, "load head version")
		}
		hasHead = false
	}

	if changeType == Delete && !hasHead {
		return nil, errs.New(errs.NotFound, fmt.Sprintf("no version history for %s", ref))
	}

	if hasHead && head.ContentHash == contentHash {
		return &ResourceVersion{Ref: ref, Current: head, Content: headContent}, nil
	}

	now := time.Now().UTC()
	var parentCommit string
	var nextVersion int64 = 1
	var parentVersion int64
	if hasHead {
		parentCommit = head.CommitHash
		nextVersion = head.Version + 1
		parentVersion = head.Version
	}

	commitHash := hashchain.CommitHash(parentCommit, contentHash, actor, now)
	rec := Record{
		Version:          nextVersion,
		ParentVersion:    parentVersion,
		CommitHash:       commitHash,
		ParentCommitHash: parentCommit,
		ContentHash:      contentHash,
		ContentSize:      int64(contentByteSize(content)),
		ETag:             hashchain.ETag(commitHash, nextVersion),
		LastModified:     now,
		ModifiedBy:       actor,
		ChangeType:       changeType,
		FieldsChanged:    fieldsChanged,
		ChangeSummary:    summary,
	}

	if err := s.store.Append(ctx, ref, rec, content); err != nil {
		return nil, errs.Wrap(errs.Internal, err, "append version")
	}
	s.invalidate(ref)

	return &ResourceVersion{Ref: ref, Current: rec, Content: content}, nil
}

// GetResourceVersion returns the current head version of ref. A
// recently-validated head is served from the in-memory cache rather
// than round-tripping to the store; TrackChange invalidates this entry
// the moment it writes a new version.
func (s *Service) GetResourceVersion(ctx context.Context, ref Ref) (*ResourceVersion, error) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(s.cacheKey(ref)); ok {
			rv := cached.(ResourceVersion)
			return &rv, nil
		}
	}

	rec, content, err := s.store.Head(ctx, ref)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.New(errs.NotFound, fmt.Sprintf("no version history for %s", ref))
		}
		return nil, errs.Wrap(errs.Internal, err, "load head version")
	}
	rv := &ResourceVersion{Ref: ref, Current: rec, Content: content}
	if s.cache != nil {
		s.cache.SetDefault(s.cacheKey(ref), *rv)
	}
	return rv, nil
}

// GetVersionAt resolves ref's state at a version number, timestamp, or
// commit hash; pass exactly one of version/at/commitHash.
func (s *Service) GetVersionAt(ctx context.Context, ref Ref, version int64, at *time.Time, commitHash string) (*ResourceVersion, error) {
	var rec Record
	var content map[string]interface{}
	var err error

	switch {
	case commitHash != "":
		rec, content, err = s.store.AtCommit(ctx, ref, commitHash)
	case at != nil:
		rec, content, err = s.store.AtTime(ctx, ref, *at)
	case version > 0:
		rec, content, err = s.store.At(ctx, ref, version)
	default:
		return nil, errs.New(errs.ValidationFailed, "GetVersionAt requires a version, timestamp, or commit hash")
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.New(errs.NotFound, fmt.Sprintf("no matching version for %s", ref))
		}
		return nil, errs.Wrap(errs.Internal, err, "load version")
	}
	return &ResourceVersion{Ref: ref, Current: rec, Content: content}, nil
}

// ValidateETag checks etag against ref's current head. The bool result
// is false (not an error) on mismatch; callers translate that into a
// 412 Precondition Failed at the HTTP boundary.
func (s *Service) ValidateETag(ctx context.Context, ref Ref, etag string) (bool, *ResourceVersion, error) {
	head, err := s.GetResourceVersion(ctx, ref)
	if err != nil {
		return false, nil, err
	}
	return head.Current.ETag == etag, head, nil
}

// GetDelta computes what the caller must apply to move from its claimed
// state (by ETag or version) to ref's current head.
func (s *Service) GetDelta(ctx context.Context, ref Ref, req DeltaRequest) (*DeltaResponse, error) {
	head, err := s.GetResourceVersion(ctx, ref)
	if err != nil {
		return nil, err
	}

	if req.ClientETag != "" && req.ClientETag == head.Current.ETag {
		return &DeltaResponse{Type: NoChange, CurrentETag: head.Current.ETag}, nil
	}
	if req.ClientVersion > 0 && req.ClientVersion == head.Current.Version {
		return &DeltaResponse{Type: NoChange, CurrentETag: head.Current.ETag}, nil
	}

	clientVersion := req.ClientVersion
	if clientVersion <= 0 {
		// no version hint and ETag didn't match head: treat as "unknown
		// baseline", caller needs the full document.
		return &DeltaResponse{
			Type:        Full,
			FullContent: head.Content,
			CurrentETag: head.Current.ETag,
		}, nil
	}

	records, err := s.store.List(ctx, ref, 0, 0)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "list versions for delta")
	}

	var changes []Change
	var prevContent map[string]interface{}
	for _, rec := range records {
		if rec.Version <= clientVersion {
			if rec.Version == clientVersion {
				_, content, err := s.store.At(ctx, ref, rec.Version)
				if err == nil {
					prevContent = content
				}
			}
			continue
		}
		_, content, err := s.store.At(ctx, ref, rec.Version)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, err, "load intermediate version")
		}
		var patch []PatchOp
		if prevContent != nil {
			ops, err := hashchain.JSONPatch(prevContent, content)
			if err != nil {
				return nil, errs.Wrap(errs.Internal, err, "compute json patch")
			}
			patch = toPatchOps(ops)
		}
		changes = append(changes, Change{
			FromVersion: rec.ParentVersion,
			ToVersion:   rec.Version,
			Operation:   rec.ChangeType,
			Patch:       patch,
		})
		prevContent = content
	}

	if req.IncludeFull || len(changes) > deltaPatchThreshold {
		return &DeltaResponse{
			Type:         Full,
			TotalChanges: len(changes),
			FullContent:  head.Content,
			CurrentETag:  head.Current.ETag,
		}, nil
	}

	return &DeltaResponse{
		Type:         Delta,
		TotalChanges: len(changes),
		Changes:      changes,
		CurrentETag:  head.Current.ETag,
	}, nil
}

// ListVersions returns ref's version chain in chronological order.
func (s *Service) ListVersions(ctx context.Context, ref Ref, limit, offset int) ([]Record, error) {
	recs, err := s.store.List(ctx, ref, limit, offset)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "list versions")
	}
	return recs, nil
}

// ValidateCache partitions a client-submitted etagMap (key -> ETag) into
// resources that are still valid, stale (changed), or deleted (no
// longer present). Keys are "resourceType:resourceID".
func (s *Service) ValidateCache(ctx context.Context, branch string, etagMap map[string]string) (*CacheValidation, error) {
	result := &CacheValidation{}

	byType := map[string][]string{}
	for key := range etagMap {
		resType, resID, ok := splitTypeKey(key)
		if !ok {
			continue
		}
		byType[resType] = append(byType[resType], resID)
	}

	seen := map[string]bool{}
	for resType := range byType {
		heads, err := s.store.Heads(ctx, branch, resType)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, err, "load heads for cache validation")
		}
		for resID, rec := range heads {
			key := resType + ":" + resID
			seen[key] = true
			clientEtag, submitted := etagMap[key]
			if !submitted {
				continue
			}
			if clientEtag == rec.ETag {
				result.ValidResources = append(result.ValidResources, key)
			} else {
				result.StaleResources = append(result.StaleResources, key)
			}
		}
	}

	for key := range etagMap {
		if !seen[key] {
			result.DeletedResources = append(result.DeletedResources, key)
		}
	}

	return result, nil
}

func splitTypeKey(key string) (resType, resID string, ok bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i], key[i+1:], true
		}
	}
	return "", "", false
}

func toPatchOps(ops []hashchain.Op) []PatchOp {
	out := make([]PatchOp, 0, len(ops))
	for _, op := range ops {
		out = append(out, PatchOp{Op: op.Op, Path: op.Path, Value: op.Value})
	}
	return out
}

func contentByteSize(content map[string]interface{}) int {
	b, err := json.Marshal(content)
	if err != nil {
		return 0
	}
	return len(b)
}

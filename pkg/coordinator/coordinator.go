package coordinator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ludia8888/oms-core/pkg/branch"
	"github.com/ludia8888/oms-core/pkg/errs"
	"github.com/ludia8888/oms-core/pkg/hashchain"
	"github.com/ludia8888/oms-core/pkg/lock"
	"github.com/ludia8888/oms-core/pkg/outbox"
	"github.com/ludia8888/oms-core/pkg/validate"
	"github.com/ludia8888/oms-core/pkg/version"
)

// Coordinator is the only component allowed to pair a version append
// with an outbox write atomically (step 5 of the mutation contract).
// Every other package treats those as independent writes.
type Coordinator struct {
	db *sql.DB

	branches *branch.Registry
	locks    *lock.Manager
	versions *version.Service
	pipeline *validate.Pipeline
	rules    *validate.RuleSet

	source     outbox.Source
	maskFields []string

	cfg Config
}

// New builds a Coordinator. versions is the read-side version service
// (cache-backed reads, ETag validation) used before a transaction opens;
// the write itself binds a fresh PostgresStore to the transaction, not
// this one.
func New(
	db *sql.DB,
	branches *branch.Registry,
	locks *lock.Manager,
	versions *version.Service,
	pipeline *validate.Pipeline,
	rules *validate.RuleSet,
	source outbox.Source,
	maskFields []string,
	cfg Config,
) *Coordinator {
	if cfg == (Config{}) {
		cfg = defaultConfig()
	}
	return &Coordinator{
		db: db, branches: branches, locks: locks, versions: versions,
		pipeline: pipeline, rules: rules, source: source, maskFields: maskFields, cfg: cfg,
	}
}

func lockKey(req MutationRequest) (key string, scope lock.Scope) {
	if req.LockResourceType {
		return fmt.Sprintf("%s/%s", req.Branch, req.ResourceType), lock.ResourceType
	}
	return fmt.Sprintf("%s/%s/%s", req.Branch, req.ResourceType, req.ResourceID), lock.Resource
}

// Apply runs the full mutation contract: reject on a non-writable
// branch, acquire the appropriate lock, validate an If-Match
// precondition cheaply before running the validator pipeline, and on
// pass write the new version and its outbox envelope atomically before
// updating the branch's head-commit snapshot and releasing the lock.
//
// On any failure between lock acquisition and commit, the lock is
// released and no state persists.
func (c *Coordinator) Apply(ctx context.Context, req MutationRequest) (*MutationResult, error) {
	if err := c.branches.RequireWritable(ctx, req.Branch); err != nil {
		return nil, err
	}

	key, scope := lockKey(req)
	lockedCtx, handle, err := c.locks.Acquire(ctx, key, lock.Exclusive, scope, c.cfg.LockTTL, c.cfg.LockWaitTimeout)
	if err != nil {
		return nil, err
	}
	defer func() { _ = handle.Release(context.Background()) }()
	ctx = lockedCtx

	ref := version.Ref{ResourceType: req.ResourceType, ResourceID: req.ResourceID, Branch: req.Branch}

	var headContent map[string]interface{}
	head, err := c.versions.GetResourceVersion(ctx, ref)
	switch {
	case err == nil:
		headContent = head.Content
		if req.IfMatchETag != "" && head.Current.ETag != req.IfMatchETag {
			return nil, errs.New(errs.PreconditionFailed, fmt.Sprintf("%s: ETag mismatch", ref))
		}
	case errs.Is(err, errs.NotFound):
		if req.IfMatchETag != "" {
			return nil, errs.New(errs.PreconditionFailed, fmt.Sprintf("%s: no existing version to match", ref))
		}
	default:
		return nil, err
	}

	issues, transformed, err := c.pipeline.Run(ctx, req.ResourceType, req.Content, c.rules)
	if err != nil {
		var typed *errs.Error
		if errors.As(err, &typed) {
			return nil, typed
		}
		return nil, errs.Wrap(errs.Internal, err, "run validator pipeline")
	}
	if validate.HasBlockingIssues(issues) {
		details := make([]errs.Detail, 0, len(issues))
		for _, iss := range issues {
			details = append(details, errs.Detail{Field: iss.Field, Message: iss.Message, Code: iss.Code})
		}
		return nil, errs.New(errs.ValidationFailed, fmt.Sprintf("%s failed validation", ref), details...)
	}

	rv, envID, err := c.writeAtomically(ctx, ref, req, headContent, transformed)
	if err != nil {
		return nil, err
	}

	if err := c.branches.RecordCommit(ctx, req.Branch, req.ResourceType, req.ResourceID, rv.Current.CommitHash); err != nil {
		return nil, errs.Wrap(errs.Internal, err, "record branch head commit")
	}

	return &MutationResult{Version: rv, ETag: rv.Current.ETag, EventID: envID, Issues: issues}, nil
}

// writeAtomically pairs the version append with its outbox envelope in
// one transaction: either both land or neither does.
func (c *Coordinator) writeAtomically(
	ctx context.Context,
	ref version.Ref,
	req MutationRequest,
	oldContent, newContent map[string]interface{},
) (*version.ResourceVersion, string, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", errs.Wrap(errs.BackendUnavailable, err, "begin mutation transaction")
	}
	defer func() { _ = tx.Rollback() }()

	txVersions := version.NewService(version.NewPostgresStore(tx), 0)
	txOutbox := outbox.NewPostgresStore(tx)

	fieldsChanged := changedFields(oldContent, newContent)
	rv, err := txVersions.TrackChange(ctx, ref, newContent, req.ChangeType, req.Actor, fieldsChanged, req.ChangeSummary)
	if err != nil {
		return nil, "", err
	}

	builder := outbox.NewBuilder(c.source, c.maskFields, func() int64 {
		seq, seqErr := txOutbox.NextSequence(ctx)
		if seqErr != nil {
			// Build has no error return path for the sequence source; a
			// failed sequence advance here still leaves the transaction
			// rollback-able since Append below will also fail against a
			// broken connection.
			return 0
		}
		return seq
	})
	env, err := builder.Build(req.ResourceType, outboxAction(req.ChangeType), rv.Current.CommitHash, newContent, req.CorrelationID, req.CausationID, rv.Current.LastModified)
	if err != nil {
		return nil, "", errs.Wrap(errs.Internal, err, "build outbox envelope")
	}
	if err := txOutbox.Append(ctx, env); err != nil {
		return nil, "", errs.Wrap(errs.Internal, err, "append outbox envelope")
	}

	if err := tx.Commit(); err != nil {
		return nil, "", errs.Wrap(errs.BackendUnavailable, err, "commit mutation transaction")
	}
	return rv, env.EventID, nil
}

func outboxAction(ct version.ChangeType) string {
	switch ct {
	case version.Create:
		return "created"
	case version.Delete:
		return "deleted"
	default:
		return "updated"
	}
}

// changedFields derives the top-level field names a mutation touched,
// by running the same JSON-patch machinery GetDelta uses and keeping
// only each patch op's first path segment.
func changedFields(oldContent, newContent map[string]interface{}) []string {
	if oldContent == nil {
		oldContent = map[string]interface{}{}
	}
	ops, err := hashchain.JSONPatch(oldContent, newContent)
	if err != nil {
		return nil
	}
	seen := map[string]bool{}
	var fields []string
	for _, op := range ops {
		field := strings.SplitN(strings.TrimPrefix(op.Path, "/"), "/", 2)[0]
		if field == "" || seen[field] {
			continue
		}
		seen[field] = true
		fields = append(fields, field)
	}
	return fields
}

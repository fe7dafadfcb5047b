package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/ludia8888/oms-core/pkg/errs"
	"github.com/ludia8888/oms-core/pkg/kernel"
)

const (
	defaultRetryDelay = 100 * time.Millisecond
	defaultMaxRetries = 50
)

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Manager is a Redis-backed distributed lock manager enforcing the
// hierarchy rule documented on Scope: an owner may only acquire locks at
// an equal or narrower scope than any it already holds, which is what
// keeps concurrent acquisitions from deadlocking against each other.
//
// All Redis round-trips go through a circuit breaker: once Redis starts
// failing consistently, Acquire/Release/Extend return errs.BackendUnavailable
// immediately rather than retrying into a dead backend.
type Manager struct {
	rdb           *redis.Client
	breaker       *gobreaker.CircuitBreaker
	namespace     string
	ownerID       string
	defaultTTL    time.Duration
	retryDelay    time.Duration
	maxRetries    int
	limiter       kernel.LimiterStore
	limiterPolicy kernel.BackpressurePolicy
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithNamespace overrides the default "oms:locks" Redis key prefix.
func WithNamespace(ns string) Option {
	return func(m *Manager) { m.namespace = ns }
}

// WithDefaultTTL overrides the TTL used when Acquire is called with ttl <= 0.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.defaultTTL = ttl }
}

// WithRetryPolicy overrides the exclusive/shared acquisition poll interval
// and retry cap.
func WithRetryPolicy(delay time.Duration, maxRetries int) Option {
	return func(m *Manager) {
		m.retryDelay = delay
		m.maxRetries = maxRetries
	}
}

// WithRetryLimiter throttles repeated lock-acquire polling against a
// contested resourceKey, so a crowd of waiters piling up on one hot
// resource can't turn Acquire's wait loop into a Redis-hammering busy
// poll. Unset by default, meaning retries are unlimited.
func WithRetryLimiter(store kernel.LimiterStore, policy kernel.BackpressurePolicy) Option {
	return func(m *Manager) {
		m.limiter = store
		m.limiterPolicy = policy
	}
}

// NewManager builds a Manager around an existing Redis client. A fresh
// gobreaker.CircuitBreaker is created per Manager; repeated consecutive
// failures trip it open for the breaker's default cooldown.
func NewManager(rdb *redis.Client, opts ...Option) *Manager {
	m := &Manager{
		rdb:        rdb,
		namespace:  "oms:locks",
		ownerID:    newOwnerID(),
		defaultTTL: 5 * time.Minute,
		retryDelay: defaultRetryDelay,
		maxRetries: defaultMaxRetries,
	}
	m.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "oms-lock-manager",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func newOwnerID() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func (m *Manager) lockKey(resourceKey string) string {
	return fmt.Sprintf("%s:%s", m.namespace, resourceKey)
}

// throttleRetry rate-limits a waiter's retry attempts on resourceKey. A
// no-op when no limiter was configured via WithRetryLimiter.
func (m *Manager) throttleRetry(ctx context.Context, resourceKey string) error {
	if m.limiter == nil {
		return nil
	}
	if err := kernel.EvaluateBackpressure(ctx, m.limiter, resourceKey, m.limiterPolicy); err != nil {
		return errs.Wrap(errs.LockConflict, err, "lock-acquire retry rate limited")
	}
	return nil
}

func sharedKey(lockKey string) string {
	return lockKey + ":shared"
}

// Acquire validates the lock hierarchy against ctx's currently held
// locks, then acquires an exclusive or shared lock on resourceKey. The
// returned context carries the updated lock set and must be used for any
// nested Acquire call within the same logical call chain so hierarchy
// validation sees it.
//
// waitTimeout bounds how long Acquire polls before giving up with
// errs.LockConflict; a waitTimeout <= 0 means "try once, don't wait."
func (m *Manager) Acquire(
	ctx context.Context,
	resourceKey string,
	lockType Type,
	scope Scope,
	ttl time.Duration,
	waitTimeout time.Duration,
) (context.Context, *Handle, error) {
	if held, ok := narrowestHeld(ctx); ok && held.Level() > scope.Level() {
		return ctx, nil, errs.New(errs.HierarchyViolation,
			fmt.Sprintf("cannot acquire %s lock while holding %s lock", scope, held),
			errs.Detail{Field: "scope", Message: fmt.Sprintf("requested=%s held=%s", scope, held)})
	}

	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	lockID := fmt.Sprintf("%s:%s", m.ownerID, newOwnerID())
	key := m.lockKey(resourceKey)

	var acquired bool
	var err error
	if lockType == Exclusive {
		acquired, err = m.acquireExclusive(ctx, key, lockID, ttl, waitTimeout)
	} else {
		acquired, err = m.acquireShared(ctx, key, lockID, ttl, waitTimeout)
	}
	if err != nil {
		return ctx, nil, err
	}
	if !acquired {
		return ctx, nil, errs.New(errs.LockConflict,
			fmt.Sprintf("failed to acquire %s lock on %s within timeout", lockType, resourceKey))
	}

	newCtx, t := withTracker(ctx)
	t.held = append(t.held, heldLock{ResourceKey: resourceKey, Scope: scope, LockID: lockID})

	h := &Handle{
		mgr:         m,
		lockID:      lockID,
		resourceKey: resourceKey,
		scope:       scope,
		lockType:    lockType,
		ownerID:     m.ownerID,
		ttl:         ttl,
	}
	return newCtx, h, nil
}

func (m *Manager) acquireExclusive(ctx context.Context, key, lockID string, ttl time.Duration, waitTimeout time.Duration) (bool, error) {
	deadline, hasDeadline := deadlineFrom(waitTimeout)
	for attempt := 0; attempt < m.maxRetries; attempt++ {
		ok, err := m.doBreaker(func() (interface{}, error) {
			return m.rdb.SetNX(ctx, key, lockID, ttl).Result()
		})
		if err != nil {
			return false, err
		}
		if ok.(bool) {
			return true, nil
		}
		if !hasDeadline {
			return false, nil
		}
		if !clockBefore(deadline) {
			return false, nil
		}
		if err := m.throttleRetry(ctx, key); err != nil {
			return false, err
		}
		if err := sleepOrDone(ctx, m.retryDelay); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (m *Manager) acquireShared(ctx context.Context, key, lockID string, ttl time.Duration, waitTimeout time.Duration) (bool, error) {
	shared := sharedKey(key)
	deadline, hasDeadline := deadlineFrom(waitTimeout)

	for attempt := 0; attempt < m.maxRetries; attempt++ {
		exists, err := m.doBreaker(func() (interface{}, error) {
			return m.rdb.Exists(ctx, key).Result()
		})
		if err != nil {
			return false, err
		}
		if exists.(int64) > 0 {
			// an exclusive lock is held; wait it out
			if !hasDeadline || !clockBefore(deadline) {
				return false, nil
			}
			if err := m.throttleRetry(ctx, key); err != nil {
				return false, err
			}
			if err := sleepOrDone(ctx, m.retryDelay); err != nil {
				return false, err
			}
			continue
		}

		payload, mErr := json.Marshal(map[string]string{
			"owner":       m.ownerID,
			"acquired_at": nowUTC().Format(time.RFC3339Nano),
		})
		if mErr != nil {
			return false, errs.Wrap(errs.Internal, mErr, "marshal shared lock payload")
		}

		_, err = m.doBreaker(func() (interface{}, error) {
			pipe := m.rdb.TxPipeline()
			pipe.HSet(ctx, shared, lockID, payload)
			pipe.Expire(ctx, shared, ttl)
			_, execErr := pipe.Exec(ctx)
			return nil, execErr
		})
		if err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// release is invoked by Handle.Release. It removes the lock entry from
// the caller's context tracker is the caller's responsibility (the
// Handle only carries resourceKey/lockID, not the ctx tracker it was
// acquired under), so callers should discard the context returned by
// Acquire once every lock it introduced has been released.
func (m *Manager) release(ctx context.Context, h *Handle) error {
	key := m.lockKey(h.resourceKey)

	if h.lockType == Exclusive {
		_, err := m.doBreaker(func() (interface{}, error) {
			return m.rdb.Eval(ctx, releaseScript, []string{key}, h.lockID).Result()
		})
		return err
	}

	shared := sharedKey(key)
	_, err := m.doBreaker(func() (interface{}, error) {
		if err := m.rdb.HDel(ctx, shared, h.lockID).Err(); err != nil {
			return nil, err
		}
		n, err := m.rdb.HLen(ctx, shared).Result()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			if err := m.rdb.Del(ctx, shared).Err(); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// extend renews an exclusive or shared lock's TTL, provided the caller
// still owns it. For exclusive locks this is a compare-and-expire: the
// stored value must still equal the handle's lockID.
func (m *Manager) extend(ctx context.Context, h *Handle, ttl time.Duration) error {
	key := m.lockKey(h.resourceKey)

	if h.lockType == Exclusive {
		res, err := m.doBreaker(func() (interface{}, error) {
			return m.rdb.Eval(ctx, extendScript, []string{key}, h.lockID, int64(ttl/time.Millisecond)).Result()
		})
		if err != nil {
			return err
		}
		if n, ok := res.(int64); !ok || n == 0 {
			return errs.New(errs.LockExpired, fmt.Sprintf("lock %s on %s is no longer owned by this handle", h.lockID, h.resourceKey))
		}
		return nil
	}

	shared := sharedKey(key)
	_, err := m.doBreaker(func() (interface{}, error) {
		return m.rdb.Expire(ctx, shared, ttl).Result()
	})
	return err
}

const extendScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`

// GetLockInfo reports the current lock state of resourceKey, or nil if
// unlocked.
func (m *Manager) GetLockInfo(ctx context.Context, resourceKey string) (*Info, error) {
	key := m.lockKey(resourceKey)

	val, err := m.doBreaker(func() (interface{}, error) {
		v, gerr := m.rdb.Get(ctx, key).Result()
		if errors.Is(gerr, redis.Nil) {
			return nil, nil
		}
		return v, gerr
	})
	if err != nil {
		return nil, err
	}
	if val != nil {
		ttl, ttlErr := m.rdb.PTTL(ctx, key).Result()
		if ttlErr != nil {
			return nil, errs.Wrap(errs.BackendUnavailable, ttlErr, "read lock ttl")
		}
		return &Info{
			LockID:      val.(string),
			ResourceKey: resourceKey,
			Type:        Exclusive,
			TTL:         ttl,
		}, nil
	}

	shared := sharedKey(key)
	entries, err := m.rdb.HGetAll(ctx, shared).Result()
	if err != nil {
		return nil, errs.Wrap(errs.BackendUnavailable, err, "read shared lock")
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &Info{
		ResourceKey: resourceKey,
		Type:        Shared,
	}, nil
}

// ListAllLocks scans the lock namespace for every held exclusive or
// shared lock. It is an operator introspection hook, not used on any
// mutation hot path.
func (m *Manager) ListAllLocks(ctx context.Context) ([]Info, error) {
	pattern := m.namespace + ":*"
	var out []Info

	iter := m.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasSuffix(key, ":shared") {
			continue
		}
		resourceKey := strings.TrimPrefix(key, m.namespace+":")
		info, err := m.GetLockInfo(ctx, resourceKey)
		if err != nil {
			return nil, err
		}
		if info != nil {
			out = append(out, *info)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, errs.Wrap(errs.BackendUnavailable, err, "scan lock namespace")
	}
	return out, nil
}

// ForceUnlock removes both the exclusive and shared lock keys for a
// resource unconditionally. It is an operator recovery hook for orphaned
// locks (e.g. a crashed holder that never released); ordinary callers
// must use Handle.Release.
func (m *Manager) ForceUnlock(ctx context.Context, resourceKey string) error {
	key := m.lockKey(resourceKey)
	shared := sharedKey(key)

	_, err := m.doBreaker(func() (interface{}, error) {
		pipe := m.rdb.TxPipeline()
		pipe.Del(ctx, key)
		pipe.Del(ctx, shared)
		_, execErr := pipe.Exec(ctx)
		return nil, execErr
	})
	return err
}

// doBreaker runs fn through the circuit breaker, translating a tripped
// breaker or a wrapped Redis error into errs.BackendUnavailable.
func (m *Manager) doBreaker(fn func() (interface{}, error)) (interface{}, error) {
	res, err := m.breaker.Execute(fn)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, err
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, errs.Wrap(errs.BackendUnavailable, err, "lock backend circuit open")
		}
		return nil, errs.Wrap(errs.BackendUnavailable, err, "lock backend call failed")
	}
	return res, nil
}

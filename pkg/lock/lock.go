package lock

import (
	"context"
	"time"
)

// Info describes a held lock, returned by operator introspection
// (ListAllLocks) and by GetLockInfo.
type Info struct {
	LockID      string
	ResourceKey string
	Type        Type
	Scope       Scope
	OwnerID     string
	AcquiredAt  time.Time
	TTL         time.Duration
}

// Handle is a scoped lock acquisition. Release must be called on every
// exit path; callers typically `defer handle.Release(ctx)` immediately
// after a successful Acquire.
type Handle struct {
	mgr         *Manager
	ctx         context.Context
	lockID      string
	resourceKey string
	scope       Scope
	lockType    Type
	ownerID     string
	ttl         time.Duration
	released    bool
}

// LockID returns the unique ID generated for this acquisition.
func (h *Handle) LockID() string { return h.lockID }

// Release releases the lock. It is safe to call more than once; only the
// first call has effect.
func (h *Handle) Release(ctx context.Context) error {
	if h.released {
		return nil
	}
	h.released = true
	return h.mgr.release(ctx, h)
}

// Extend extends the TTL of this lock by the given duration, provided the
// caller still owns it (compare-and-expire).
func (h *Handle) Extend(ctx context.Context, ttl time.Duration) error {
	return h.mgr.extend(ctx, h, ttl)
}

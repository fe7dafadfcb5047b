package lock

import "context"

// heldLock is one entry in the per-context lock set used for hierarchy
// validation. It mirrors the reference implementation's contextvars-based
// current_locks_context, translated to Go's idiomatic context propagation:
// the tracker travels with the context value, not a goroutine-local or a
// package global.
type heldLock struct {
	ResourceKey string
	Scope       Scope
	LockID      string
}

type lockSetKey struct{}

// tracker is the mutable set of locks held by the logical caller chain
// rooted at the context that first called WithTracker (or got one lazily
// created by Acquire). It is intentionally unsynchronized: a context's
// lock set is only ever touched by the single logical call chain that
// owns that context, never shared across goroutines concurrently.
type tracker struct {
	held []heldLock
}

// withTracker returns a context carrying a fresh lock tracker if one is
// not already present, and the tracker itself for mutation.
func withTracker(ctx context.Context) (context.Context, *tracker) {
	if t, ok := ctx.Value(lockSetKey{}).(*tracker); ok {
		return ctx, t
	}
	t := &tracker{}
	return context.WithValue(ctx, lockSetKey{}, t), t
}

// narrowestHeld returns the narrowest (highest Level) scope currently
// held by ctx's tracker, and whether any lock is held at all. A new
// acquisition must be at least this narrow — see Manager.Acquire.
func narrowestHeld(ctx context.Context) (Scope, bool) {
	t, ok := ctx.Value(lockSetKey{}).(*tracker)
	if !ok || len(t.held) == 0 {
		return 0, false
	}
	narrowest := t.held[0].Scope
	for _, h := range t.held[1:] {
		if h.Scope.Level() > narrowest.Level() {
			narrowest = h.Scope
		}
	}
	return narrowest, true
}

// CurrentLocks returns the resource keys and scopes held by ctx's tracker,
// mirroring the reference implementation's get_current_locks operator
// introspection hook.
func CurrentLocks(ctx context.Context) []struct {
	ResourceKey string
	Scope       Scope
} {
	t, ok := ctx.Value(lockSetKey{}).(*tracker)
	if !ok {
		return nil
	}
	out := make([]struct {
		ResourceKey string
		Scope       Scope
	}, 0, len(t.held))
	for _, h := range t.held {
		out = append(out, struct {
			ResourceKey string
			Scope       Scope
		}{ResourceKey: h.ResourceKey, Scope: h.Scope})
	}
	return out
}

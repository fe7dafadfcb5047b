package lock

import (
	"context"
	"time"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

// deadlineFrom converts a wait timeout into an absolute deadline. A
// waitTimeout <= 0 means "no deadline" (try once, no polling beyond the
// first attempt already made by the caller).
func deadlineFrom(waitTimeout time.Duration) (time.Time, bool) {
	if waitTimeout <= 0 {
		return time.Time{}, false
	}
	return nowUTC().Add(waitTimeout), true
}

func clockBefore(deadline time.Time) bool {
	return nowUTC().Before(deadline)
}

// sleepOrDone waits d, returning early with ctx's error if ctx is
// cancelled first.
func sleepOrDone(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

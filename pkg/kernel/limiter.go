// Package kernel holds small, dependency-light primitives shared by the
// packages that sit in front of Redis: currently just the backpressure
// limiter pkg/lock uses to throttle lock-acquire retries.
package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// BackpressurePolicy bounds how fast one actor (a lock key, a validator
// name, a principal) may perform an action.
type BackpressurePolicy struct {
	RPM   int
	TPM   int
	Burst int
}

// LimiterStore abstracts the storage for rate limiting buckets.
type LimiterStore interface {
	// Allow checks if the actor is allowed to perform an action costing 'cost'.
	// Returns true if allowed, false if rate limited.
	Allow(ctx context.Context, actorID string, policy BackpressurePolicy, cost int) (bool, error)
}

// TokenBucket wraps golang.org/x/time/rate.Limiter behind the cost-based
// Allow signature LimiterStore expects.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket creates a bucket refilling at ratePerSec tokens/second
// with room for capacity tokens of burst.
func NewTokenBucket(ratePerSec float64, capacity int) *TokenBucket {
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(ratePerSec), capacity)}
}

// Allow reports whether cost tokens are available right now, consuming
// them if so.
func (tb *TokenBucket) Allow(cost int) bool {
	return tb.limiter.AllowN(time.Now(), cost)
}

// EvaluateBackpressure checks if the actor is permitted to proceed using
// the provided store. A nil store fails closed: callers that want
// unlimited throughput simply don't configure a limiter at all.
func EvaluateBackpressure(ctx context.Context, store LimiterStore, actorID string, policy BackpressurePolicy) error {
	if store == nil {
		return fmt.Errorf("backpressure: no limiter store configured")
	}

	allowed, err := store.Allow(ctx, actorID, policy, 1)
	if err != nil {
		return fmt.Errorf("backpressure check failed: %w", err)
	}
	if !allowed {
		return fmt.Errorf("backpressure: rate limit exceeded for %s", actorID)
	}
	return nil
}

// InMemoryLimiterStore is a single-process LimiterStore, one TokenBucket
// per actor, for deployments without Redis or for tests.
type InMemoryLimiterStore struct {
	mu      sync.Mutex
	buckets map[string]*TokenBucket
}

func NewInMemoryLimiterStore() *InMemoryLimiterStore {
	return &InMemoryLimiterStore{
		buckets: make(map[string]*TokenBucket),
	}
}

func (s *InMemoryLimiterStore) Allow(ctx context.Context, actorID string, policy BackpressurePolicy, cost int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tb, exists := s.buckets[actorID]
	if !exists {
		perSec := float64(policy.RPM) / 60.0
		if perSec <= 0 {
			perSec = 1
		}
		tb = NewTokenBucket(perSec, policy.Burst)
		s.buckets[actorID] = tb
	}

	return tb.Allow(cost), nil
}

package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sony/gobreaker"

	"github.com/ludia8888/oms-core/pkg/errs"
	"github.com/ludia8888/oms-core/pkg/kernel/retry"
)

const drainBatchSize = 100

// Publisher drains Pending envelopes to an EventBus on a cron schedule,
// retrying failed publishes with deterministic exponential backoff and
// moving exhausted envelopes to the dead-letter partition. Every bus
// call is wrapped in a gobreaker circuit breaker so a failing event bus
// fails fast instead of exhausting each envelope's retry budget on a
// backend that is already down.
type Publisher struct {
	store       Store
	bus         EventBus
	source      Source
	maxAttempts int
	backoff     retry.BackoffPolicy

	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger

	cron  *cron.Cron
	entry cron.EntryID
}

// NewPublisher builds a Publisher. maxAttempts bounds how many times an
// envelope is retried before it is DLQ'd, matching Config.
// OutboxMaxAttempts.
func NewPublisher(store Store, bus EventBus, source Source, maxAttempts int, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		store:       store,
		bus:         bus,
		source:      source,
		maxAttempts: maxAttempts,
		backoff: retry.BackoffPolicy{
			PolicyID: "outbox-publish", BaseMs: 200, MaxMs: 30_000, MaxJitterMs: 500, MaxAttempts: maxAttempts,
		},
		cron: cron.New(),
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "oms-outbox-publisher",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return p
}

// Start schedules Drain on schedule (a standard five-field cron
// expression) and begins running it in the background.
func (p *Publisher) Start(schedule string) error {
	id, err := p.cron.AddFunc(schedule, func() {
		if _, err := p.Drain(context.Background()); err != nil {
			p.logger.Error("outbox: drain failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule outbox drain: %w", err)
	}
	p.entry = id
	p.cron.Start()
	return nil
}

func (p *Publisher) Stop() {
	p.cron.Stop()
}

// DrainResult summarizes one Drain pass.
type DrainResult struct {
	Published int
	Retried   int
	DeadLettered int
}

// Drain publishes every envelope currently Pending (in sequence order),
// up to one batch. Each publish failure increments the envelope's
// attempts counter and reschedules it with deterministic backoff; once
// attempts reaches maxAttempts the envelope moves to DLQ.
func (p *Publisher) Drain(ctx context.Context) (DrainResult, error) {
	var result DrainResult

	envelopes, err := p.store.Pending(ctx, drainBatchSize)
	if err != nil {
		return result, errs.Wrap(errs.Internal, err, "load pending outbox envelopes")
	}

	for _, env := range envelopes {
		if err := p.publishOne(env); err != nil {
			nextAttempt := time.Now().UTC().Add(p.nextDelay(env))
			if markErr := p.store.MarkRetry(ctx, env.EventID, err.Error(), nextAttempt, p.maxAttempts); markErr != nil {
				return result, errs.Wrap(errs.Internal, markErr, "record outbox publish failure")
			}
			if env.Attempts+1 >= p.maxAttempts {
				result.DeadLettered++
			} else {
				result.Retried++
			}
			continue
		}
		if err := p.store.MarkPublished(ctx, env.EventID); err != nil {
			return result, errs.Wrap(errs.Internal, err, "mark outbox envelope published")
		}
		result.Published++
	}
	return result, nil
}

func (p *Publisher) publishOne(env *Envelope) error {
	subject := Subject(env.EventType)
	headers, data, err := Headers(env, p.source)
	if err != nil {
		return fmt.Errorf("build cloudevent headers: %w", err)
	}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.bus.Publish(subject, headers, data)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return errs.Wrap(errs.BackendUnavailable, err, "event bus circuit open")
		}
		return errs.Wrap(errs.BackendUnavailable, err, "publish to event bus")
	}
	return nil
}

func (p *Publisher) nextDelay(env *Envelope) time.Duration {
	params := retry.BackoffParams{
		PolicyID: p.backoff.PolicyID, EffectID: env.EventID, AttemptIndex: env.Attempts, EnvSnapHash: env.PayloadHash,
	}
	return retry.ComputeBackoff(params, p.backoff)
}

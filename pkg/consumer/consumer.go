package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ludia8888/oms-core/pkg/errs"
	"github.com/ludia8888/oms-core/pkg/hashchain"
)

const (
	defaultMaxRetries         = 5
	defaultCheckpointInterval = 50
)

// Consumer dispatches events of registered types against a chained,
// checkpointed, deduplicated state machine. One Consumer instance
// processes exactly one partition (one consumer_id) sequentially; the
// caller is responsible for not calling Handle concurrently for the same
// Consumer.
type Consumer struct {
	id      string
	version string
	handlers map[string]Handler

	dedupe      *Dedupe
	checkpoints CheckpointStore
	dlq         DeadLetterStore
	logger      *slog.Logger

	checkpointInterval int64
	maxRetries         int
	timeout            time.Duration
	allowGaps          bool

	mu       sync.Mutex
	state    State
	failures map[string]int
	stopped  bool
}

// Option configures a Consumer at construction time.
type Option func(*Consumer)

func WithCheckpointInterval(n int64) Option {
	return func(c *Consumer) { c.checkpointInterval = n }
}

func WithMaxRetries(n int) Option {
	return func(c *Consumer) { c.maxRetries = n }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Consumer) { c.timeout = d }
}

// WithAllowGaps disables the ordering gap check, for consumers that
// intentionally see only a filtered subsequence of events.
func WithAllowGaps() Option {
	return func(c *Consumer) { c.allowGaps = true }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Consumer) { c.logger = logger }
}

// NewConsumer builds a Consumer. handlers maps event type to the
// function that processes it; an event whose type has no registered
// handler leaves state unchanged but still advances the sequence
// counter and records a dedupe entry, so ordering continuity isn't
// broken by events this consumer doesn't care about.
func NewConsumer(id, version string, handlers map[string]Handler, dedupe *Dedupe, checkpoints CheckpointStore, dlq DeadLetterStore, opts ...Option) *Consumer {
	c := &Consumer{
		id: id, version: version, handlers: handlers,
		dedupe: dedupe, checkpoints: checkpoints, dlq: dlq,
		logger:             slog.Default(),
		checkpointInterval: defaultCheckpointInterval,
		maxRetries:         defaultMaxRetries,
		failures:           make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Hydrate loads the consumer's last checkpoint, recovering from a crash.
// Must be called once before the first Handle call.
func (c *Consumer) Hydrate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok, err := c.checkpoints.Load(ctx, c.id)
	if err != nil {
		return fmt.Errorf("hydrate consumer %s: %w", c.id, err)
	}
	if ok {
		c.state = st
	} else {
		c.state = State{ConsumerID: c.id, ConsumerVersion: c.version}
	}
	return nil
}

// Stopped reports whether the consumer has halted after exhausting
// retries on an event, awaiting operator acknowledgment (Acknowledge).
func (c *Consumer) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Acknowledge clears the halted state after an operator has resolved the
// dead-lettered event out of band (skip it or fix and replay it), and
// resets that event's failure counter.
func (c *Consumer) Acknowledge(eventID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.failures, eventID)
	c.stopped = false
}

// Handle processes one event, returning its ResultSummary. A duplicate
// event (already recorded for this consumer) short-circuits to the
// prior result without invoking the handler.
func (c *Consumer) Handle(ctx context.Context, event Event) (ResultSummary, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ResultSummary{}, errs.New(errs.Internal, fmt.Sprintf("consumer %s halted on dead-lettered event, awaiting acknowledgment", c.id))
	}
	c.mu.Unlock()

	if res, ok, err := c.dedupe.Seen(ctx, c.id, event.ID); err != nil {
		return ResultSummary{}, fmt.Errorf("check dedupe: %w", err)
	} else if ok {
		res.WasDuplicate = true
		return res, nil
	}

	c.mu.Lock()
	expected := c.state.LastSequenceNumber + 1
	if !c.allowGaps && c.state.LastSequenceNumber > 0 && event.SequenceNumber != expected {
		c.mu.Unlock()
		return ResultSummary{}, errs.New(errs.ValidationFailed, fmt.Sprintf("consumer %s: sequence gap, expected %d got %d", c.id, expected, event.SequenceNumber))
	}
	priorState := c.state
	c.mu.Unlock()

	newState, _, err := c.dispatch(ctx, event, priorState.Snapshot)
	if err != nil {
		return ResultSummary{}, c.recordFailure(ctx, event, err)
	}

	result, err := c.commit(ctx, event, priorState, newState)
	if err != nil {
		return ResultSummary{}, err
	}

	c.mu.Lock()
	delete(c.failures, event.ID)
	c.mu.Unlock()
	return result, nil
}

func (c *Consumer) dispatch(ctx context.Context, event Event, state interface{}) (interface{}, []SideEffect, error) {
	handler, ok := c.handlers[event.Type]
	if !ok {
		return state, nil, nil
	}
	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	newState, effects, err := handler(callCtx, event, state)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, errs.Wrap(errs.Timeout, err, fmt.Sprintf("handler for %s timed out", event.Type))
		}
		return nil, nil, err
	}
	if callCtx.Err() != nil {
		return nil, nil, errs.Wrap(errs.Timeout, callCtx.Err(), fmt.Sprintf("handler for %s timed out", event.Type))
	}
	return newState, effects, nil
}

func (c *Consumer) commit(ctx context.Context, event Event, priorState State, newState interface{}) (ResultSummary, error) {
	newContentHash, err := hashchain.ContentHash(newState)
	if err != nil {
		return ResultSummary{}, fmt.Errorf("hash new consumer state: %w", err)
	}
	newCommitHash := StateChainHash(priorState.StateCommitHash, event.ID, newContentHash)

	result := ResultSummary{WasDuplicate: false, StateCommitHash: newCommitHash, ProcessedAt: time.Now().UTC()}
	if err := c.dedupe.Record(ctx, c.id, event.ID, result); err != nil {
		return ResultSummary{}, fmt.Errorf("record dedupe entry: %w", err)
	}

	c.mu.Lock()
	c.state.LastProcessedEventID = event.ID
	c.state.LastSequenceNumber = event.SequenceNumber
	c.state.EventsProcessed++
	c.state.StateCommitHash = newCommitHash
	c.state.Snapshot = newState
	shouldCheckpoint := c.checkpointInterval > 0 && c.state.EventsProcessed%c.checkpointInterval == 0
	snapshot := c.state
	c.mu.Unlock()

	if shouldCheckpoint {
		snapshot.LastCheckpointAt = time.Now().UTC()
		if err := c.checkpoints.Save(ctx, snapshot); err != nil {
			return ResultSummary{}, fmt.Errorf("save checkpoint: %w", err)
		}
		c.mu.Lock()
		c.state.LastCheckpointAt = snapshot.LastCheckpointAt
		c.mu.Unlock()
	}
	return result, nil
}

func (c *Consumer) recordFailure(ctx context.Context, event Event, handlerErr error) error {
	c.mu.Lock()
	c.failures[event.ID]++
	count := c.failures[event.ID]
	c.mu.Unlock()

	if count < c.maxRetries {
		return fmt.Errorf("handler failed (attempt %d/%d): %w", count, c.maxRetries, handlerErr)
	}

	dl := DeadLetter{ConsumerID: c.id, Event: event, LastError: handlerErr.Error(), FailedAt: time.Now().UTC()}
	if err := c.dlq.Add(ctx, dl); err != nil {
		return fmt.Errorf("record dead letter after exhausting retries: %w", err)
	}
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.logger.Error("consumer halted: max retries exceeded", "consumer_id", c.id, "event_id", event.ID, "error", handlerErr)
	return errs.Wrap(errs.Internal, handlerErr, fmt.Sprintf("consumer %s halted after %d consecutive failures on event %s", c.id, count, event.ID))
}

// StateChainHash chains a consumer's prior state-commit hash, the
// triggering event ID, and the new state's content hash into the next
// state-commit hash, matching §6.8's "Hash(oldStateCommitHash || eventID
// || newStateContentHash)" formula.
func StateChainHash(oldStateCommitHash, eventID, newStateContentHash string) string {
	return hashchain.CommitHash(oldStateCommitHash, newStateContentHash, eventID, time.Unix(0, 0).UTC())
}

package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBus struct {
	publishes []string
	failNext  int // number of remaining calls to fail
}

func (b *fakeBus) Publish(subject string, _ map[string]string, _ []byte) error {
	if b.failNext > 0 {
		b.failNext--
		return errors.New("bus unavailable")
	}
	b.publishes = append(b.publishes, subject)
	return nil
}

type fakeOutboxStore struct {
	envelopes map[string]*Envelope
	order     []string
}

func newFakeOutboxStore() *fakeOutboxStore {
	return &fakeOutboxStore{envelopes: map[string]*Envelope{}}
}

func (s *fakeOutboxStore) add(env *Envelope) {
	s.envelopes[env.EventID] = env
	s.order = append(s.order, env.EventID)
}

func (s *fakeOutboxStore) Append(_ context.Context, env *Envelope) error {
	s.add(env)
	return nil
}

func (s *fakeOutboxStore) Pending(_ context.Context, limit int) ([]*Envelope, error) {
	var out []*Envelope
	for _, id := range s.order {
		env := s.envelopes[id]
		if env.Status == Pending && !env.NextAttemptAt.After(time.Now().UTC()) {
			out = append(out, env)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *fakeOutboxStore) MarkPublished(_ context.Context, eventID string) error {
	s.envelopes[eventID].Status = Published
	return nil
}

func (s *fakeOutboxStore) MarkRetry(_ context.Context, eventID string, lastErr string, nextAttempt time.Time, maxAttempts int) error {
	env := s.envelopes[eventID]
	env.Attempts++
	env.LastError = lastErr
	env.NextAttemptAt = nextAttempt
	if env.Attempts >= maxAttempts {
		env.Status = DLQ
	}
	return nil
}

func (s *fakeOutboxStore) NextSequence(_ context.Context) (int64, error) {
	return int64(len(s.envelopes) + 1), nil
}

func (s *fakeOutboxStore) Requeue(_ context.Context, eventID string) error {
	env, ok := s.envelopes[eventID]
	if !ok || env.Status != DLQ {
		return errors.New("not in dlq")
	}
	env.Status = Pending
	env.Attempts = 0
	return nil
}

func TestPublisherDrainPublishesPendingEnvelopes(t *testing.T) {
	store := newFakeOutboxStore()
	store.add(&Envelope{EventID: "evt-1", EventType: "com.oms.object_type.updated", Payload: map[string]interface{}{"name": "Foo"}, Status: Pending})
	bus := &fakeBus{}

	p := NewPublisher(store, bus, Source{Service: "oms-core", Branch: "main"}, 3, nil)
	result, err := p.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Published)
	assert.Equal(t, Published, store.envelopes["evt-1"].Status)
	assert.Equal(t, []string{"oms.object_type.updated"}, bus.publishes)
}

func TestPublisherDrainRetriesOnPublishFailure(t *testing.T) {
	store := newFakeOutboxStore()
	store.add(&Envelope{EventID: "evt-1", EventType: "com.oms.object_type.updated", Payload: map[string]interface{}{"name": "Foo"}, Status: Pending, PayloadHash: "h1"})
	bus := &fakeBus{failNext: 1}

	p := NewPublisher(store, bus, Source{Service: "oms-core", Branch: "main"}, 3, nil)
	result, err := p.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Retried)
	assert.Equal(t, Pending, store.envelopes["evt-1"].Status)
	assert.Equal(t, 1, store.envelopes["evt-1"].Attempts)
	assert.NotZero(t, store.envelopes["evt-1"].NextAttemptAt)
}

func TestPublisherDrainDeadLettersAfterMaxAttempts(t *testing.T) {
	store := newFakeOutboxStore()
	store.add(&Envelope{EventID: "evt-1", EventType: "com.oms.object_type.updated", Payload: map[string]interface{}{"name": "Foo"}, Status: Pending, Attempts: 2, PayloadHash: "h1"})
	bus := &fakeBus{failNext: 1}

	p := NewPublisher(store, bus, Source{Service: "oms-core", Branch: "main"}, 3, nil)
	result, err := p.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.DeadLettered)
	assert.Equal(t, DLQ, store.envelopes["evt-1"].Status)
}

func TestPublisherDrainSkipsEnvelopesNotYetDue(t *testing.T) {
	store := newFakeOutboxStore()
	store.add(&Envelope{EventID: "evt-1", EventType: "com.oms.object_type.updated", Payload: map[string]interface{}{}, Status: Pending, NextAttemptAt: time.Now().UTC().Add(time.Hour)})
	bus := &fakeBus{}

	p := NewPublisher(store, bus, Source{Service: "oms-core", Branch: "main"}, 3, nil)
	result, err := p.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Published)
	assert.Empty(t, bus.publishes)
}

func TestFakeOutboxStoreRequeueMovesDLQBackToPending(t *testing.T) {
	store := newFakeOutboxStore()
	store.add(&Envelope{EventID: "evt-1", Status: DLQ, Attempts: 3})
	require.NoError(t, store.Requeue(context.Background(), "evt-1"))
	assert.Equal(t, Pending, store.envelopes["evt-1"].Status)
	assert.Equal(t, 0, store.envelopes["evt-1"].Attempts)
}

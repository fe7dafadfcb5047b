package outbox

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

// EventBus is the publish boundary the Publisher depends on, letting
// tests substitute a fake without a running NATS server. Publish returns
// only after the event stream acknowledges the message (a JetStream
// PubAck), matching the durability contract §6.7 requires before an
// envelope is marked PUBLISHED.
type EventBus interface {
	Publish(subject string, headers map[string]string, data []byte) error
}

// NatsBus publishes through a JetStream context, grounded on the
// nats-io/nats.go client.
type NatsBus struct {
	js nats.JetStreamContext
}

// NewNatsBus connects to url and resolves a JetStream context. Callers
// own the returned *nats.Conn's lifetime via Close.
func NewNatsBus(url string) (*NatsBus, *nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("oms-outbox-publisher"))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to event bus: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("resolve jetstream context: %w", err)
	}
	return &NatsBus{js: js}, nc, nil
}

func (b *NatsBus) Publish(subject string, headers map[string]string, data []byte) error {
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	for k, v := range headers {
		msg.Header.Set(k, v)
	}
	_, err := b.js.PublishMsg(msg)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

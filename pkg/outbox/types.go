// Package outbox implements the transactional outbox: envelopes are
// appended in the same database transaction as the version write they
// describe, then drained to the event bus by a background publisher.
package outbox

import "time"

// Status is an envelope's lifecycle state.
type Status string

const (
	Pending   Status = "PENDING"
	Published Status = "PUBLISHED"
	DLQ       Status = "DLQ"
)

// Envelope is one outbox record: a CloudEvents-shaped payload plus the
// publish bookkeeping the publisher needs.
type Envelope struct {
	EventID          string
	EventType        string // reverse-domain, e.g. "com.oms.object_type.updated"
	SourceCommitHash string
	Payload          map[string]interface{}
	PayloadHash      string
	CorrelationID    string
	CausationID      string
	SequenceNumber   int64
	CreatedAt        time.Time

	Status        Status
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
}

// Source identifies the emitting service+branch for the envelope's
// CloudEvents "source" field.
type Source struct {
	Service string
	Branch  string
}

// URI renders source as the CloudEvents "source" URI.
func (s Source) URI() string {
	return "oms://" + s.Service + "/" + s.Branch
}

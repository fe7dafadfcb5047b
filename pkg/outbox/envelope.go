package outbox

import (
	"fmt"
	"strings"
	"time"

	"github.com/ludia8888/oms-core/pkg/hashchain"
)

const specVersion = "1.0"

// maskedValue replaces a masked field's value in both the hashed and
// published payload, matching what a downstream consumer actually sees.
const maskedValue = "***MASKED***"

// Builder constructs envelopes for one emitting service+branch, applying
// a configured field-masking list before hashing or publishing.
type Builder struct {
	source     Source
	maskFields map[string]bool
	nextSeqFn  func() int64
}

// NewBuilder builds an envelope Builder. maskFields names fields (by key,
// matched at any nesting depth) whose values are replaced with
// "***MASKED***" before hashing and publishing. nextSeqFn supplies the
// next monotonic sequence_number; the coordinator typically backs this
// with a per-partition counter held in the same transaction as the
// version write.
func NewBuilder(source Source, maskFields []string, nextSeqFn func() int64) *Builder {
	set := make(map[string]bool, len(maskFields))
	for _, f := range maskFields {
		set[f] = true
	}
	return &Builder{source: source, maskFields: set, nextSeqFn: nextSeqFn}
}

// Build constructs one envelope for a resource change. resourceType and
// action (e.g. "object_type", "updated") compose the reverse-domain
// event type "com.oms.<resourceType>.<action>" and the NATS subject
// "oms.<resourceType>.<action>".
func (b *Builder) Build(resourceType, action, commitHash string, payload map[string]interface{}, correlationID, causationID string, at time.Time) (*Envelope, error) {
	eventType := fmt.Sprintf("com.oms.%s.%s", resourceType, action)
	masked := maskRecursive(payload, b.maskFields)
	hash, err := hashchain.ContentHash(masked)
	if err != nil {
		return nil, fmt.Errorf("hash outbox payload: %w", err)
	}
	return &Envelope{
		EventID:          eventID(eventType, commitHash),
		EventType:        eventType,
		SourceCommitHash: commitHash,
		Payload:          masked,
		PayloadHash:      hash,
		CorrelationID:    correlationID,
		CausationID:      causationID,
		SequenceNumber:   b.nextSeqFn(),
		CreatedAt:        at,
		Status:           Pending,
	}, nil
}

// Subject derives the NATS subject for an event type following §6.2:
// "oms." followed by the type's path segments (the reverse-domain prefix
// "com.oms." stripped) joined with dots.
func Subject(eventType string) string {
	trimmed := strings.TrimPrefix(eventType, "com.oms.")
	return "oms." + trimmed
}

func eventID(eventType, commitHash string) string {
	return eventType + ":" + commitHash
}

func maskRecursive(v interface{}, fields map[string]bool) map[string]interface{} {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, val := range m {
		if fields[k] {
			out[k] = maskedValue
			continue
		}
		out[k] = maskValue(val, fields)
	}
	return out
}

func maskValue(v interface{}, fields map[string]bool) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return maskRecursive(val, fields)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = maskValue(item, fields)
		}
		return out
	default:
		return val
	}
}

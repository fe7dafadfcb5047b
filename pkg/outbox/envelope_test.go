package outbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderBuildMasksConfiguredFields(t *testing.T) {
	seq := int64(0)
	b := NewBuilder(Source{Service: "oms-core", Branch: "main"}, []string{"email"}, func() int64 {
		seq++
		return seq
	})

	payload := map[string]interface{}{"name": "Foo", "email": "foo@example.com"}
	env, err := b.Build("object_type", "updated", "commit1", payload, "corr1", "", time.Unix(0, 0).UTC())
	require.NoError(t, err)
	assert.Equal(t, "***MASKED***", env.Payload["email"])
	assert.Equal(t, "Foo", env.Payload["name"])
	assert.Equal(t, "com.oms.object_type.updated", env.EventType)
	assert.Equal(t, int64(1), env.SequenceNumber)
	assert.Equal(t, "corr1", env.CorrelationID)
}

func TestBuilderBuildMasksNestedFields(t *testing.T) {
	b := NewBuilder(Source{Service: "oms-core", Branch: "main"}, []string{"ssn"}, func() int64 { return 1 })
	payload := map[string]interface{}{
		"owner": map[string]interface{}{"ssn": "123-45-6789", "name": "Foo"},
		"contacts": []interface{}{
			map[string]interface{}{"ssn": "987-65-4321"},
		},
	}
	env, err := b.Build("object_type", "created", "commit1", payload, "", "", time.Now())
	require.NoError(t, err)
	owner := env.Payload["owner"].(map[string]interface{})
	assert.Equal(t, "***MASKED***", owner["ssn"])
	assert.Equal(t, "Foo", owner["name"])
	contacts := env.Payload["contacts"].([]interface{})
	first := contacts[0].(map[string]interface{})
	assert.Equal(t, "***MASKED***", first["ssn"])
}

func TestBuilderBuildIsDeterministicHash(t *testing.T) {
	b := NewBuilder(Source{Service: "oms-core", Branch: "main"}, nil, func() int64 { return 1 })
	payload := map[string]interface{}{"name": "Foo"}
	env1, err := b.Build("object_type", "updated", "commit1", payload, "", "", time.Unix(0, 0))
	require.NoError(t, err)
	env2, err := b.Build("object_type", "updated", "commit1", payload, "", "", time.Unix(0, 0))
	require.NoError(t, err)
	assert.Equal(t, env1.PayloadHash, env2.PayloadHash)
}

func TestSubjectDerivation(t *testing.T) {
	assert.Equal(t, "oms.object_type.updated", Subject("com.oms.object_type.updated"))
	assert.Equal(t, "oms.link_type.deleted", Subject("com.oms.link_type.deleted"))
}

func TestHeadersIncludesNatsMsgIDForDedup(t *testing.T) {
	env := &Envelope{EventID: "evt-1", EventType: "com.oms.object_type.updated", Payload: map[string]interface{}{"name": "Foo"}}
	headers, data, err := Headers(env, Source{Service: "oms-core", Branch: "main"})
	require.NoError(t, err)
	assert.Equal(t, "evt-1", headers["Nats-Msg-Id"])
	assert.Equal(t, "1.0", headers["ce-specversion"])
	assert.Equal(t, "oms://oms-core/main", headers["ce-source"])
	assert.Contains(t, string(data), "Foo")
}

func TestHeadersOmitsEmptyCorrelationCausation(t *testing.T) {
	env := &Envelope{EventID: "evt-2", EventType: "com.oms.object_type.updated", Payload: map[string]interface{}{}}
	headers, _, err := Headers(env, Source{Service: "oms-core", Branch: "main"})
	require.NoError(t, err)
	_, hasCorr := headers["ce-correlationid"]
	assert.False(t, hasCorr)
}

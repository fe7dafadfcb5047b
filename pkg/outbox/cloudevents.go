package outbox

import "encoding/json"

// Headers renders env as the binary-mode CloudEvents headers NATS
// transport expects, plus the JSON-encoded data payload. specversion is
// fixed, type is reverse-domain, source identifies the emitting
// service+branch, subject carries the event's source commit hash (the
// envelope holds no separate resource reference).
func Headers(env *Envelope, source Source) (map[string]string, []byte, error) {
	data, err := json.Marshal(env.Payload)
	if err != nil {
		return nil, nil, err
	}
	headers := map[string]string{
		"ce-specversion":    specVersion,
		"ce-id":             env.EventID,
		"ce-type":           env.EventType,
		"ce-source":         source.URI(),
		"ce-subject":        env.SourceCommitHash,
		"ce-datacontenttype": "application/json",
		"Nats-Msg-Id":       env.EventID, // dedup header, per §6.2
	}
	if env.CorrelationID != "" {
		headers["ce-correlationid"] = env.CorrelationID
	}
	if env.CausationID != "" {
		headers["ce-causationid"] = env.CausationID
	}
	return headers, data, nil
}

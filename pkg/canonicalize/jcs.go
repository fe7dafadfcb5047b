// Package canonicalize provides an RFC 8785 (JSON Canonicalization
// Scheme) compliant serialization, used to derive deterministic content
// hashes for OMS resource documents regardless of how their fields were
// ordered when they arrived.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// JCS returns v's canonical JSON representation: object keys sorted
// lexicographically by UTF-8 bytes, HTML escaping disabled, and numbers
// rendered exactly as encountered.
//
// v is first marshaled with the standard encoder (so struct tags are
// respected) and decoded back into a generic tree with json.Number
// preserved, then that tree is re-encoded under canonical rules — this
// two-pass approach lets callers pass either structs or plain maps.
func JCS(v interface{}) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal: %w", err)
	}

	var tree interface{}
	decoder := json.NewDecoder(bytes.NewReader(intermediate))
	decoder.UseNumber()
	if err := decoder.Decode(&tree); err != nil {
		return nil, fmt.Errorf("canonicalize: decode intermediate form: %w", err)
	}

	return canonicalMarshal(tree)
}

// JCSString is JCS with the result as a string.
func JCSString(v interface{}) (string, error) {
	data, err := JCS(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// CanonicalHash returns the SHA-256 hex digest of v's canonical JSON
// form — the primitive pkg/hashchain builds ContentHash on.
func CanonicalHash(v interface{}) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the SHA-256 hex digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// canonicalMarshal recursively re-encodes a decoded JSON tree under
// RFC 8785 rules. Object keys are sorted at every level; arrays and
// scalars encode in their natural order.
func canonicalMarshal(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return []byte("null"), nil
	case bool:
		if t {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case json.Number:
		return []byte(t.String()), nil
	case string:
		return encodeScalar(t)
	case []interface{}:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := canonicalMarshal(elem)
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := canonicalMarshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')

			vb, err := canonicalMarshal(t[k])
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		// Only reachable if a caller's custom json.Unmarshaler produced a
		// type other than the ones above.
		return encodeScalar(v)
	}
}

// encodeScalar runs v through the standard encoder with HTML escaping
// disabled (RFC 8785 forbids it) and trims the trailing newline the
// encoder always appends.
func encodeScalar(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

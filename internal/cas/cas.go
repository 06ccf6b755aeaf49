// Package cas provides content-addressing utilities: BLAKE3 hashing,
// canonical JSON serialization, and the semantic digest used for staleness
// comparisons of code nodes.
package cas

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"lukechampine.com/blake3"
)

// NowMs returns the current time in milliseconds since epoch.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// CanonicalJSON converts a value to canonical JSON (stable key ordering).
func CanonicalJSON(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var obj interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return canonicalMarshal(obj)
}

func canonicalMarshal(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		return marshalSortedMap(val)
	case []interface{}:
		return marshalArray(val)
	default:
		return json.Marshal(v)
	}
}

func marshalSortedMap(m map[string]interface{}) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		valBytes, err := canonicalMarshal(m[k])
		if err != nil {
			return nil, err
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalArray(arr []interface{}) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		valBytes, err := canonicalMarshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(valBytes)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// Hash computes a BLAKE3 hash of the input and returns it as bytes.
func Hash(data []byte) []byte {
	hash := blake3.Sum256(data)
	return hash[:]
}

// HashHex computes a BLAKE3 hash and returns it as a hex string.
func HashHex(data []byte) string {
	return hex.EncodeToString(Hash(data))
}

// ContentDigest returns the digest of code exactly as written.
func ContentDigest(code string) string {
	return HashHex([]byte(code))
}

// SemanticDigest returns a structure-only digest of code: comments are
// dropped and runs of whitespace collapse to a single space, so
// formatting-only edits produce the same digest. Line comments starting
// with # or // are recognized; string literals are left untouched only to
// the extent that they contain no comment markers, which is good enough
// for staleness checks (a false "changed" just re-runs a node).
func SemanticDigest(code string) string {
	var b strings.Builder
	for _, line := range strings.Split(code, "\n") {
		line = stripLineComment(line)
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strings.Join(fields, " "))
	}
	return HashHex([]byte(b.String()))
}

func stripLineComment(line string) string {
	if i := strings.Index(line, "#"); i >= 0 {
		line = line[:i]
	}
	if i := strings.Index(line, "//"); i >= 0 {
		line = line[:i]
	}
	return line
}

// NodeID computes the content-addressed id for a kind and payload:
// blake3(kind + "\n" + canonicalJSON(payload)).
func NodeID(kind string, payload interface{}) ([]byte, error) {
	canonicalPayload, err := CanonicalJSON(payload)
	if err != nil {
		return nil, err
	}
	data := append([]byte(kind+"\n"), canonicalPayload...)
	return Hash(data), nil
}

// NodeIDHex computes the content-addressed id and returns it as hex.
func NodeIDHex(kind string, payload interface{}) (string, error) {
	id, err := NodeID(kind, payload)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(id), nil
}

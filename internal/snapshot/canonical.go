package snapshot

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CanonicalJSON produces a deterministic JSON encoding:
// - Top-level keys in document order, every map present (empty maps as {})
// - Map keys sorted lexicographically
// - No HTML escaping, no insignificant whitespace
func CanonicalJSON(s *Snapshot) ([]byte, error) {
	data, err := marshalNoEscape(buildOrderedSnapshot(s))
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// PrettyJSON is CanonicalJSON indented with two spaces.
func PrettyJSON(s *Snapshot) ([]byte, error) {
	data, err := CanonicalJSON(s)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return nil, fmt.Errorf("failed to indent snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// ComputeRev computes the sha256 hash of canonical JSON bytes.
// Returns "sha256:<hex>" format.
func ComputeRev(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// Rev returns the content revision of a snapshot.
func Rev(s *Snapshot) (string, error) {
	data, err := CanonicalJSON(s)
	if err != nil {
		return "", err
	}
	return ComputeRev(data), nil
}

// Clone deep-copies a snapshot through its canonical encoding. The result
// shares no memory with s.
func Clone(s *Snapshot) (*Snapshot, error) {
	data, err := CanonicalJSON(s)
	if err != nil {
		return nil, err
	}
	var out Snapshot
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to copy snapshot: %w", err)
	}
	out.normalize()
	return &out, nil
}

func buildOrderedSnapshot(s *Snapshot) orderedMap {
	return orderedMap{
		{"backup_info", s.BackupInfo},
		{"server_info", s.ServerInfo},
		{"channels", nonNil(s.Channels)},
		{"roles", nonNil(s.Roles)},
		{"members", nonNil(s.Members)},
		{"emojis", nonNil(s.Emojis)},
		{"stickers", nonNil(s.Stickers)},
		{"stats", s.Stats},
	}
}

func nonNil[V any](m map[string]V) map[string]V {
	if m == nil {
		return map[string]V{}
	}
	return m
}

// orderedMap is a slice of key-value pairs that marshals as a JSON object
// with keys in the order they appear in the slice.
type orderedMap []keyValue

type keyValue struct {
	Key   string
	Value interface{}
}

func (om orderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	for i, kv := range om {
		if i > 0 {
			buf.WriteByte(',')
		}

		keyJSON, err := marshalNoEscape(kv.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')

		valJSON, err := marshalNoEscape(kv.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(valJSON)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalNoEscape(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

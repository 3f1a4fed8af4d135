// Copyright 2025 Certen Protocol
//
// Package canonical provides deterministic serialization and hashing of
// trace entries, adapted from the commitment package's sorted-key JSON
// canonicalization to the fixed top-level field order a trace entry
// requires.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/tracechain/tracechain/pkg/trace"
)

// Hash32 is the fixed-size digest type produced by Hash.
type Hash32 = [32]byte

// Canonicalize serializes entry with a fixed top-level field order
// (id, method, args, result, error, timestamp, duration, parentId).
// Optional fields whose value is the zero value are omitted entirely
// rather than emitted as null.
func Canonicalize(entry *trace.Entry) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	fields := 0
	writeField := func(name string, present bool, enc func() ([]byte, error)) error {
		if !present {
			return nil
		}
		b, err := enc()
		if err != nil {
			return fmt.Errorf("canonical: encode %s: %w", name, err)
		}
		if fields > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(name))
		buf.WriteByte(':')
		buf.Write(b)
		fields++
		return nil
	}

	if err := writeField("id", entry.ID != "", func() ([]byte, error) {
		return json.Marshal(entry.ID)
	}); err != nil {
		return nil, err
	}
	if err := writeField("method", entry.Method != "", func() ([]byte, error) {
		return json.Marshal(entry.Method)
	}); err != nil {
		return nil, err
	}
	if err := writeField("args", len(entry.Args) > 0, func() ([]byte, error) {
		return marshalCanonicalValue(entry.Args)
	}); err != nil {
		return nil, err
	}
	if err := writeField("result", entry.Result != nil, func() ([]byte, error) {
		return marshalCanonicalValue(entry.Result)
	}); err != nil {
		return nil, err
	}
	if err := writeField("error", entry.Error != "", func() ([]byte, error) {
		return json.Marshal(entry.Error)
	}); err != nil {
		return nil, err
	}
	if err := writeField("timestamp", !entry.Time.IsZero(), func() ([]byte, error) {
		return json.Marshal(entry.Time.UTC().Format("2006-01-02T15:04:05.000000000Z"))
	}); err != nil {
		return nil, err
	}
	if err := writeField("duration", true, func() ([]byte, error) {
		return json.Marshal(int64(entry.Duration))
	}); err != nil {
		return nil, err
	}
	if err := writeField("parentId", entry.ParentID != "", func() ([]byte, error) {
		return json.Marshal(entry.ParentID)
	}); err != nil {
		return nil, err
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshalCanonicalValue round-trips v through JSON to normalize it into
// plain maps/slices/scalars, then recursively sorts map keys before
// marshaling again so that nested object field order never depends on
// Go's randomized map iteration.
func marshalCanonicalValue(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(canonicalizeValue(generic))
}

// canonicalizeValue recursively sorts map keys; arrays retain order.
// Adapted from the shared commitment package's canonicalization helper.
func canonicalizeValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(map[string]any, len(vv))
		for _, k := range keys {
			ordered[k] = canonicalizeValue(vv[k])
		}
		return orderedMap{keys: keys, values: ordered}
	case []any:
		out := make([]any, len(vv))
		for i, item := range vv {
			out[i] = canonicalizeValue(item)
		}
		return out
	default:
		return vv
	}
}

// orderedMap marshals its keys in a fixed, pre-sorted order. encoding/json
// does not otherwise guarantee map key order is preserved across
// marshal calls for map[string]any, so canonicalizeValue builds this
// adapter instead of relying on it.
type orderedMap struct {
	keys   []string
	values map[string]any
}

func (o orderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(o.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Hash returns the keccak256 digest of the canonical serialization of
// entry.
func Hash(entry *trace.Entry) (Hash32, error) {
	b, err := Canonicalize(entry)
	if err != nil {
		return Hash32{}, err
	}
	return Hash32(crypto.Keccak256Hash(b)), nil
}

// HashHex renders Hash as a 0x-prefixed lowercase hex string.
func HashHex(entry *trace.Entry) (string, error) {
	h, err := Hash(entry)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("0x%x", h), nil
}

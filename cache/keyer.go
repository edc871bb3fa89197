package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// Keyer derives fingerprints from a method signature and its arguments.
//
// Contract:
//   - Determinism: arguments with the same JSON content produce the same
//     key, whatever their Go types or map order.
//   - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	Key(signature string, args any) (string, error)
}

// DefaultKeyer fingerprints a call as
//
//	<signature>:<first 16 bytes of SHA-256(canonical args), hex>
//
// Arguments are first reduced to their JSON content, so a []string and
// the equivalent []any, or a struct and the map with the same fields,
// land on the same slot.
type DefaultKeyer struct{}

// NewDefaultKeyer creates a DefaultKeyer.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{}
}

// Key returns the fingerprint of a call to signature with args.
func (k *DefaultKeyer) Key(signature string, args any) (string, error) {
	canonical, err := canonicalArgs(args)
	if err != nil {
		return "", fmt.Errorf("cache: canonicalize args of %s: %w", signature, err)
	}
	sum := sha256.Sum256(canonical)
	return signature + ":" + hex.EncodeToString(sum[:16]), nil
}

// DefaultID returns the grouping label used when a call declares none:
// a short hash of the method signature.
func DefaultID(signature string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(signature))
}

// canonicalArgs encodes v as JSON with object keys sorted at every depth.
// Numbers keep their encoded literal.
func canonicalArgs(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case json.Number:
		buf.WriteString(val.String())
	default:
		// strings, booleans and null
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}

// Ensure DefaultKeyer implements Keyer
var _ Keyer = (*DefaultKeyer)(nil)

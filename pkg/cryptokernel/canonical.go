package cryptokernel

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// CanonicalMarshal produces RFC 8785 JSON Canonicalization Scheme bytes for
// v: sorted object keys, no insignificant whitespace, no HTML escaping.
// Every manifest, ledger entry body, and rule the three cores hash or sign
// goes through this function first so hashing and signing operate on the
// same deterministic bytes regardless of struct field order.
func CanonicalMarshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("marshal before canonicalization: %w", err)
	}

	canonical, err := jcs.Transform(bytes.TrimRight(buf.Bytes(), "\n"))
	if err != nil {
		return nil, fmt.Errorf("jcs transform: %w", err)
	}
	return canonical, nil
}

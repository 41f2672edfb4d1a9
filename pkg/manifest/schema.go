// Package manifest defines the on-disk shape of a bundle manifest and
// the helpers for computing its canonical hash.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ransomeye/rebuild-sub001/pkg/cryptokernel"
)

// Metadata is the free-form identity block every manifest carries.
type Metadata struct {
	Name    string            `json:"name"`
	Version string            `json:"version"`
	Extra   map[string]string `json:"-"`
}

// Manifest is the parsed form of manifest.json: a mapping from relative
// path to the SHA-256 hex digest of that file's content, plus metadata.
type Manifest struct {
	Metadata Metadata          `json:"metadata"`
	Files    map[string]string `json:"files"`
}

// manifestWire is the JSON wire shape, which flattens Metadata.Extra
// alongside name/version rather than nesting it.
type manifestWire struct {
	Metadata map[string]interface{} `json:"metadata"`
	Files    map[string]string      `json:"files"`
}

// Parse decodes raw manifest.json bytes into a Manifest. Callers MUST
// verify the detached signature over raw against the bundle's public key
// before calling Parse — Parse performs no cryptographic check itself.
func Parse(raw []byte) (*Manifest, error) {
	var wire manifestWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("parse manifest.json: %w", err)
	}

	m := &Manifest{Files: wire.Files, Metadata: Metadata{Extra: map[string]string{}}}
	if m.Files == nil {
		return nil, fmt.Errorf("manifest.json missing required %q field", "files")
	}
	for k, v := range wire.Metadata {
		switch k {
		case "name":
			if s, ok := v.(string); ok {
				m.Metadata.Name = s
			}
		case "version":
			if s, ok := v.(string); ok {
				m.Metadata.Version = s
			}
		default:
			if s, ok := v.(string); ok {
				m.Metadata.Extra[k] = s
			}
		}
	}
	if m.Metadata.Name == "" {
		return nil, fmt.Errorf("manifest.json metadata missing required %q field", "name")
	}
	if m.Metadata.Version == "" {
		return nil, fmt.Errorf("manifest.json metadata missing required %q field", "version")
	}
	return m, nil
}

// MarshalCanonical renders the manifest back into the wire shape and
// returns the RFC 8785 canonical bytes used both for the manifest_hash
// identity and for re-signing a manifest built in-process (e.g. a run
// attestation manifest).
func (m *Manifest) MarshalCanonical() ([]byte, error) {
	metadata := map[string]interface{}{"name": m.Metadata.Name, "version": m.Metadata.Version}
	for k, v := range m.Metadata.Extra {
		metadata[k] = v
	}
	wire := manifestWire{Metadata: metadata, Files: m.Files}
	return cryptokernel.CanonicalMarshal(wire)
}

// Hash returns the SHA-256 hex digest of the manifest's canonical bytes —
// its manifest_hash identity.
func (m *Manifest) Hash() (string, error) {
	canonical, err := m.MarshalCanonical()
	if err != nil {
		return "", err
	}
	return cryptokernel.HashStream(bytes.NewReader(canonical))
}

// SortedPaths returns the manifest's file paths in lexicographic order,
// used wherever a stable iteration order matters (Merkle tree leaves,
// deterministic test fixtures).
func (m *Manifest) SortedPaths() []string {
	paths := make([]string, 0, len(m.Files))
	for p := range m.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

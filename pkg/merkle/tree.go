// Package merkle builds an optional Merkle tree over a bundle manifest's
// per-file hash map, giving the Audit Ledger (pkg/ledger) a single root
// hash to chain instead of the full file list when a manifest has many
// entries. The manifest_hash identity itself stays the SHA-256 of the
// canonical manifest bytes — this is additive evidence used when an
// operator wants per-file inclusion proofs without re-hashing the whole
// manifest.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/ransomeye/rebuild-sub001/pkg/cryptokernel"
)

const (
	leafDomain = "ransomeye:manifest:leaf:v1"
	nodeDomain = "ransomeye:manifest:node:v1"
)

// MerkleLeaf is one (path, canonicalized value) pair from a manifest's
// files map.
type MerkleLeaf struct {
	Path      string
	LeafBytes []byte
	LeafHash  string
}

// MerkleTree holds the leaves and every intermediate level up to the root.
type MerkleTree struct {
	Leaves []MerkleLeaf
	Root   string
	Nodes  [][]string // levels of node hashes, leaves' hashes first
}

// BuildMerkleTree constructs a Merkle tree from a path->value map (typically
// a manifest's files: {relpath: sha256hex} mapping, but any JSON-marshalable
// value works).
func BuildMerkleTree(data map[string]interface{}) (*MerkleTree, error) {
	paths := make([]string, 0, len(data))
	for k := range data {
		paths = append(paths, k)
	}
	sort.Strings(paths)

	leaves := make([]MerkleLeaf, len(paths))
	for i, path := range paths {
		canonical, err := cryptokernel.CanonicalMarshal(data[path])
		if err != nil {
			return nil, err
		}
		leafBytes := buildLeafBytes(path, canonical)
		leaves[i] = MerkleLeaf{
			Path:      path,
			LeafBytes: leafBytes,
			LeafHash:  sha256Hex(leafBytes),
		}
	}

	if len(leaves) == 0 {
		return &MerkleTree{}, nil
	}

	tree := &MerkleTree{Leaves: leaves}
	currentLevel := extractHashes(leaves)

	for len(currentLevel) > 1 {
		tree.Nodes = append(tree.Nodes, currentLevel)
		currentLevel = buildNextLevel(currentLevel)
	}

	tree.Root = currentLevel[0]
	tree.Nodes = append(tree.Nodes, currentLevel)

	return tree, nil
}

func buildLeafBytes(path string, canonical []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(leafDomain)
	buf.WriteByte(0)
	buf.WriteString(path)
	buf.WriteByte(0)
	buf.Write(canonical)
	return buf.Bytes()
}

func extractHashes(leaves []MerkleLeaf) []string {
	hashes := make([]string, len(leaves))
	for i, l := range leaves {
		hashes[i] = l.LeafHash
	}
	return hashes
}

func buildNextLevel(hashes []string) []string {
	count := len(hashes)
	if count%2 != 0 {
		hashes = append(hashes, hashes[count-1])
		count++
	}

	nextLevel := make([]string, count/2)
	for i := 0; i < count; i += 2 {
		nextLevel[i/2] = buildNodeHash(hashes[i], hashes[i+1])
	}
	return nextLevel
}

func buildNodeHash(left, right string) string {
	var buf bytes.Buffer
	buf.WriteString(nodeDomain)
	buf.WriteByte(0)
	buf.Write(hexToBytes(left))
	buf.Write(hexToBytes(right))
	return sha256Hex(buf.Bytes())
}

func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func hexToBytes(s string) []byte {
	b, _ := hex.DecodeString(s)
	return b
}

package merkle

import (
	"testing"
)

func TestBuildMerkleTree_ThreeFileManifest(t *testing.T) {
	data := map[string]interface{}{
		"bin/classifier.so": "deadbeef",
		"model.bin":          "a948904f",
		"weights/layer0.bin": "cafebabe",
	}

	tree, err := BuildMerkleTree(data)
	if err != nil {
		t.Fatalf("BuildMerkleTree failed: %v", err)
	}

	if tree.Root == "" {
		t.Error("Root is empty")
	}
	if len(tree.Leaves) != 3 {
		t.Errorf("expected 3 leaves, got %d", len(tree.Leaves))
	}

	// Leaves are sorted by path: bin/classifier.so, model.bin, weights/layer0.bin.
	// With 3 leaves the last is duplicated to balance the tree:
	//       Root
	//      /    \
	//     N1     N2
	//    /  \   /  \
	//   L1  L2 L3  L3 (dup)
	h1, h2, h3 := tree.Leaves[0].LeafHash, tree.Leaves[1].LeafHash, tree.Leaves[2].LeafHash
	n1 := buildNodeHash(h1, h2)
	n2 := buildNodeHash(h3, h3)
	root := buildNodeHash(n1, n2)

	if tree.Root != root {
		t.Errorf("root mismatch: got %s, want %s", tree.Root, root)
	}
}

func TestBuildInclusionProof_RoundTripsThroughVerify(t *testing.T) {
	data := map[string]interface{}{
		"bin/classifier.so": "deadbeef",
		"model.bin":          "a948904f",
		"weights/layer0.bin": "cafebabe",
	}
	tree, err := BuildMerkleTree(data)
	if err != nil {
		t.Fatalf("BuildMerkleTree failed: %v", err)
	}

	for _, leaf := range tree.Leaves {
		proof, err := BuildInclusionProof(tree, leaf.Path)
		if err != nil {
			t.Fatalf("BuildInclusionProof(%q) failed: %v", leaf.Path, err)
		}
		if !VerifyInclusionProof(*proof, tree.Root) {
			t.Errorf("VerifyInclusionProof failed for leaf %q", leaf.Path)
		}
	}
}

func TestBuildInclusionProof_UnknownPath(t *testing.T) {
	tree, err := BuildMerkleTree(map[string]interface{}{"model.bin": "a948904f"})
	if err != nil {
		t.Fatalf("BuildMerkleTree failed: %v", err)
	}
	if _, err := BuildInclusionProof(tree, "does/not/exist.bin"); err == nil {
		t.Error("expected an error for a path absent from the tree")
	}
}

func TestVerifyInclusionProof_RejectsTamperedLeafHash(t *testing.T) {
	tree, err := BuildMerkleTree(map[string]interface{}{
		"a": "1", "b": "2", "c": "3",
	})
	if err != nil {
		t.Fatalf("BuildMerkleTree failed: %v", err)
	}
	proof, err := BuildInclusionProof(tree, "a")
	if err != nil {
		t.Fatalf("BuildInclusionProof failed: %v", err)
	}

	tampered := *proof
	tampered.LeafHash = tree.Leaves[1].LeafHash // swap in a different leaf's hash
	if VerifyInclusionProof(tampered, tree.Root) {
		t.Error("VerifyInclusionProof accepted a tampered leaf hash")
	}
}

func TestVerifyInclusionProof_RejectsMismatchedExpectedRoot(t *testing.T) {
	tree, err := BuildMerkleTree(map[string]interface{}{"model.bin": "a948904f", "second.bin": "b"})
	if err != nil {
		t.Fatalf("BuildMerkleTree failed: %v", err)
	}
	proof, err := BuildInclusionProof(tree, "model.bin")
	if err != nil {
		t.Fatalf("BuildInclusionProof failed: %v", err)
	}
	if VerifyInclusionProof(*proof, "0000000000000000000000000000000000000000000000000000000000000000") {
		t.Error("VerifyInclusionProof accepted a proof against the wrong expected root")
	}
}

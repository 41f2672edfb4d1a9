package ledger

import (
	"bufio"
	"bytes"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ransomeye/rebuild-sub001/pkg/cryptokernel"
)

// ChainError describes the first entry at which VerifyChain found the
// chain broken.
type ChainError struct {
	Sequence uint64
	Reason   string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("ledger chain broken at sequence %d: %s", e.Sequence, e.Reason)
}

// VerifyChain re-reads the ledger file from the start, recomputing every
// entry_hash and confirming consecutive previous_hash linkage and, when
// publicKey is non-nil, each entry's signature. It never mutates the
// file — this is purely a read-side audit operation.
func VerifyChain(path string, publicKey *rsa.PublicKey) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open ledger for verification: %w", err)
	}
	defer f.Close()

	prevHash := genesisHash
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return fmt.Errorf("unmarshal ledger line: %w", err)
		}

		if e.PreviousHash != prevHash {
			return &ChainError{Sequence: e.Sequence, Reason: "previous_hash does not match prior entry_hash"}
		}

		eb := entryBody{
			Sequence:     e.Sequence,
			Timestamp:    e.Timestamp,
			EventType:    e.EventType,
			Actor:        e.Actor,
			ContentHash:  e.ContentHash,
			Body:         e.Body,
			PreviousHash: e.PreviousHash,
		}
		canonical, err := cryptokernel.CanonicalMarshal(eb)
		if err != nil {
			return fmt.Errorf("canonicalize entry %d: %w", e.Sequence, err)
		}

		chainInput := append([]byte(e.PreviousHash), canonical...)
		recomputed, err := cryptokernel.HashStream(bytes.NewReader(chainInput))
		if err != nil {
			return fmt.Errorf("recompute hash for entry %d: %w", e.Sequence, err)
		}
		if recomputed != e.EntryHash {
			return &ChainError{Sequence: e.Sequence, Reason: "entry_hash does not match recomputed hash"}
		}

		if publicKey != nil {
			sigBytes, err := base64.StdEncoding.DecodeString(e.Signature)
			if err != nil {
				return &ChainError{Sequence: e.Sequence, Reason: "signature is not valid base64"}
			}
			if err := cryptokernel.Verify(publicKey, canonical, sigBytes); err != nil {
				return &ChainError{Sequence: e.Sequence, Reason: "signature does not verify"}
			}
		}

		prevHash = e.EntryHash
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan ledger file: %w", err)
	}
	return nil
}

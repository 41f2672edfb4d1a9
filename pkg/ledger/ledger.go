// Package ledger implements the Audit Ledger: a file-backed,
// append-only, hash-chained log of signed entries.
package ledger

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ransomeye/rebuild-sub001/pkg/cryptokernel"
)

// Entry is one line of the ledger. EntryHash chains to the previous
// entry's EntryHash; Signature covers the canonical bytes of the
// entry's body fields (everything but EntryHash and Signature).
type Entry struct {
	Sequence     uint64          `json:"sequence"`
	Timestamp    time.Time       `json:"timestamp"`
	EventType    string          `json:"event_type"`
	Actor        string          `json:"actor"`
	ContentHash  string          `json:"content_digest"`
	Body         json.RawMessage `json:"body"`
	PreviousHash string          `json:"previous_hash"`
	EntryHash    string          `json:"entry_hash"`
	Signature    string          `json:"signature"`
}

type entryBody struct {
	Sequence     uint64          `json:"sequence"`
	Timestamp    time.Time       `json:"timestamp"`
	EventType    string          `json:"event_type"`
	Actor        string          `json:"actor"`
	ContentHash  string          `json:"content_digest"`
	Body         json.RawMessage `json:"body"`
	PreviousHash string          `json:"previous_hash"`
}

// Signer is the subset of cryptokernel.Kernel the ledger needs —
// verification happens separately via cryptokernel.Verify.
type Signer interface {
	Sign(data []byte) ([]byte, error)
}

const genesisHash = "genesis"

// Ledger is a same-process-locked, fsync'd, append-only NDJSON log.
// It never truncates or rewrites history; Append is the only mutator.
type Ledger struct {
	mu       sync.Mutex
	file     *os.File
	signer   Signer
	sequence uint64
	headHash string
	clock    func() time.Time
}

// Open opens (creating if absent) the ledger file at path, reading the
// last line to seed sequence/headHash. If the file is missing,
// previous_hash is nil (represented here by the sentinel "genesis").
func Open(path string, signer Signer) (*Ledger, error) {
	l := &Ledger{signer: signer, headHash: genesisHash, clock: time.Now}

	if existing, err := os.ReadFile(path); err == nil {
		if err := l.seedFromExisting(existing); err != nil {
			return nil, fmt.Errorf("seed ledger state from %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read ledger file: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open ledger file for append: %w", err)
	}
	l.file = f
	return l, nil
}

func (l *Ledger) seedFromExisting(data []byte) error {
	var last Entry
	found := false
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return fmt.Errorf("corrupt ledger line: %w", err)
		}
		last = e
		found = true
	}
	if found {
		l.sequence = last.Sequence
		l.headHash = last.EntryHash
	}
	return nil
}

// Close releases the underlying file handle.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Append computes entry_hash = SHA-256(previous_hash || canonical(body)),
// signs the canonical body, and writes+fsyncs the line before returning,
// so a crash immediately after Append never loses an entry the caller
// believes is durable.
func (l *Ledger) Append(eventType, actor string, body interface{}) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bodyRaw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal ledger entry body: %w", err)
	}
	contentHash, err := cryptokernel.HashStream(bytes.NewReader(bodyRaw))
	if err != nil {
		return nil, fmt.Errorf("hash ledger entry body: %w", err)
	}

	seq := l.sequence + 1
	eb := entryBody{
		Sequence:     seq,
		Timestamp:    l.clock().UTC(),
		EventType:    eventType,
		Actor:        actor,
		ContentHash:  contentHash,
		Body:         bodyRaw,
		PreviousHash: l.headHash,
	}
	canonical, err := cryptokernel.CanonicalMarshal(eb)
	if err != nil {
		return nil, fmt.Errorf("canonicalize ledger entry: %w", err)
	}

	chainInput := append([]byte(l.headHash), canonical...)
	entryHash, err := cryptokernel.HashStream(bytes.NewReader(chainInput))
	if err != nil {
		return nil, fmt.Errorf("compute entry hash: %w", err)
	}

	sigBytes, err := l.signer.Sign(canonical)
	if err != nil {
		return nil, fmt.Errorf("sign ledger entry: %w", err)
	}

	entry := &Entry{
		Sequence:     seq,
		Timestamp:    eb.Timestamp,
		EventType:    eventType,
		Actor:        actor,
		ContentHash:  contentHash,
		Body:         bodyRaw,
		PreviousHash: l.headHash,
		EntryHash:    entryHash,
		Signature:    base64.StdEncoding.EncodeToString(sigBytes),
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal ledger line: %w", err)
	}
	line = append(line, '\n')

	if _, err := l.file.Write(line); err != nil {
		return nil, fmt.Errorf("write ledger line: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return nil, fmt.Errorf("fsync ledger file: %w", err)
	}

	l.sequence = seq
	l.headHash = entryHash
	return entry, nil
}

// Head returns the hash of the most recently appended entry, or
// "genesis" if the ledger is empty.
func (l *Ledger) Head() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.headHash
}

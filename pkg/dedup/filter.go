// Package dedup implements the Dedup Filter: exact SHA-256 matching
// plus fuzzy 64-bit SimHash matching over a TTL-bounded window of
// recently seen alerts.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Kind distinguishes the two dedup-entry classes.
type Kind string

const (
	KindExact Kind = "exact"
	KindFuzzy Kind = "fuzzy"
)

// Result is the outcome of a Check call.
type Result struct {
	Duplicate bool
	Kind      Kind // "" when Duplicate is false
}

// Backend stores recently seen exact and fuzzy keys with a TTL. Filter
// logs a Backend error and treats that check as no match; falling back
// to the in-memory store on error is done by wrapping a remote backend
// in FallbackBackend.
type Backend interface {
	// SeenExact reports whether key was already recorded, and records
	// it with the given TTL if not.
	SeenExact(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// FuzzyCandidates returns recently recorded SimHash fingerprints
	// (still within TTL) to compare the new alert against.
	FuzzyCandidates(ctx context.Context, ttl time.Duration) ([]uint64, error)
	// RecordFuzzy stores fingerprint with the given TTL.
	RecordFuzzy(ctx context.Context, fingerprint uint64, ttl time.Duration) error
}

// Filter matches alerts against recently seen alerts to suppress
// repeats, using exact hashing first and SimHash fuzzy matching second.
type Filter struct {
	backend             Backend
	similarityThreshold int
	ttl                 time.Duration
	logger              *slog.Logger
}

// New returns a Filter. similarityThreshold is the maximum Hamming
// distance (inclusive) at which two SimHash fingerprints are
// considered fuzzy duplicates; ttl bounds how long an entry is
// remembered.
func New(backend Backend, similarityThreshold int, ttl time.Duration, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{
		backend:             backend,
		similarityThreshold: similarityThreshold,
		ttl:                 ttl,
		logger:              logger,
	}
}

// Check reports whether (source, alertType, target, metadata) duplicates
// an alert seen within the TTL window, recording it if not.
func (f *Filter) Check(ctx context.Context, source, alertType, target string, metadata map[string]string) Result {
	exactKey := exactHash(source, alertType, target)

	seen, err := f.backend.SeenExact(ctx, exactKey, f.ttl)
	if err != nil {
		f.logger.Warn("dedup backend error on exact check, degrading to no-match", "error", err)
	} else if seen {
		return Result{Duplicate: true, Kind: KindExact}
	}

	fingerprint := simHash(fuzzyText(source, alertType, target, metadata))

	candidates, err := f.backend.FuzzyCandidates(ctx, f.ttl)
	if err != nil {
		f.logger.Warn("dedup backend error on fuzzy check, degrading to no-match", "error", err)
		candidates = nil
	}
	for _, candidate := range candidates {
		if hammingDistance(fingerprint, candidate) <= f.similarityThreshold {
			return Result{Duplicate: true, Kind: KindFuzzy}
		}
	}

	if err := f.backend.RecordFuzzy(ctx, fingerprint, f.ttl); err != nil {
		f.logger.Warn("dedup backend error recording fingerprint", "error", err)
	}

	return Result{Duplicate: false}
}

func exactHash(source, alertType, target string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s", source, alertType, target)))
	return hex.EncodeToString(sum[:])
}

func fuzzyText(source, alertType, target string, metadata map[string]string) string {
	parts := []string{source, alertType, target}
	for _, v := range metadata {
		parts = append(parts, v)
	}
	return strings.Join(parts, " ")
}

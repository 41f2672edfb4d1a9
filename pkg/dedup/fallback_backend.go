package dedup

import (
	"context"
	"log/slog"
	"time"
)

// FallbackBackend tries primary (typically RedisBackend) and falls
// back to secondary (typically MemoryBackend) transparently whenever
// primary returns an error, so a Redis outage degrades deduplication
// to single-process scope instead of breaking it.
type FallbackBackend struct {
	primary   Backend
	secondary Backend
	logger    *slog.Logger
}

// NewFallbackBackend returns a Backend that prefers primary and falls
// back to secondary on any primary error.
func NewFallbackBackend(primary, secondary Backend, logger *slog.Logger) *FallbackBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackBackend{primary: primary, secondary: secondary, logger: logger}
}

func (b *FallbackBackend) SeenExact(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	seen, err := b.primary.SeenExact(ctx, key, ttl)
	if err == nil {
		return seen, nil
	}
	b.logger.Warn("dedup primary backend error on SeenExact, falling back to memory", "error", err)
	return b.secondary.SeenExact(ctx, key, ttl)
}

func (b *FallbackBackend) FuzzyCandidates(ctx context.Context, ttl time.Duration) ([]uint64, error) {
	candidates, err := b.primary.FuzzyCandidates(ctx, ttl)
	if err == nil {
		return candidates, nil
	}
	b.logger.Warn("dedup primary backend error on FuzzyCandidates, falling back to memory", "error", err)
	return b.secondary.FuzzyCandidates(ctx, ttl)
}

func (b *FallbackBackend) RecordFuzzy(ctx context.Context, fingerprint uint64, ttl time.Duration) error {
	if err := b.primary.RecordFuzzy(ctx, fingerprint, ttl); err != nil {
		b.logger.Warn("dedup primary backend error on RecordFuzzy, falling back to memory", "error", err)
		return b.secondary.RecordFuzzy(ctx, fingerprint, ttl)
	}
	return nil
}

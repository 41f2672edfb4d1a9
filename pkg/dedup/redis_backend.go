package dedup

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	exactKeyPrefix = "ransomeye:dedup:exact:"
	fuzzySetKey    = "ransomeye:dedup:fuzzy"
)

// RedisBackend stores exact keys as native-TTL Redis keys and fuzzy
// fingerprints in a sorted set scored by expiry, so stale fingerprints
// can be pruned with a single ZREMRANGEBYSCORE, grounded in the
// teacher's redis.NewClient construction idiom
// (pkg/kernel/limiter_redis.go).
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps an existing *redis.Client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) SeenExact(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	fullKey := exactKeyPrefix + key
	set, err := b.client.SetNX(ctx, fullKey, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SETNX: %w", err)
	}
	return !set, nil
}

func (b *RedisBackend) FuzzyCandidates(ctx context.Context, ttl time.Duration) ([]uint64, error) {
	now := time.Now()
	if err := b.client.ZRemRangeByScore(ctx, fuzzySetKey, "-inf", strconv.FormatInt(now.Unix(), 10)).Err(); err != nil {
		return nil, fmt.Errorf("redis ZREMRANGEBYSCORE: %w", err)
	}

	members, err := b.client.ZRange(ctx, fuzzySetKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ZRANGE: %w", err)
	}

	candidates := make([]uint64, 0, len(members))
	for _, m := range members {
		v, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		candidates = append(candidates, v)
	}
	return candidates, nil
}

func (b *RedisBackend) RecordFuzzy(ctx context.Context, fingerprint uint64, ttl time.Duration) error {
	expiresAt := time.Now().Add(ttl).Unix()
	member := strconv.FormatUint(fingerprint, 10)
	if err := b.client.ZAdd(ctx, fuzzySetKey, redis.Z{Score: float64(expiresAt), Member: member}).Err(); err != nil {
		return fmt.Errorf("redis ZADD: %w", err)
	}
	return nil
}

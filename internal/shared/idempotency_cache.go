package shared

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

const idempotencyKeyPrefix = "hourledger:idem:"

// RedisRegistry keeps idempotency results in Redis with a TTL. Keys are hashed so
// arbitrary caller supplied tokens map to fixed size Redis keys.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRegistry constructs a Redis backed registry.
func NewRedisRegistry(client *redis.Client, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{client: client, ttl: ttl}
}

func (r *RedisRegistry) redisKey(key string) string {
	sum := blake2b.Sum256([]byte(key))
	return idempotencyKeyPrefix + hex.EncodeToString(sum[:])
}

// Check implements Registry.
func (r *RedisRegistry) Check(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// Register implements Registry.
func (r *RedisRegistry) Register(ctx context.Context, key string, result []byte) error {
	ok, err := r.client.SetNX(ctx, r.redisKey(key), result, r.ttl).Result()
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	existing, found, err := r.Check(ctx, key)
	if err != nil {
		return err
	}
	if found && !SameResult(existing, result) {
		return ErrIdempotencyConflict
	}
	return nil
}

// CachedRegistry reads through a fast cache in front of a durable registry.
// Cache failures are logged and never fail the call.
type CachedRegistry struct {
	durable Registry
	cache   Registry
	logger  *slog.Logger
}

// NewCachedRegistry wires cache in front of durable.
func NewCachedRegistry(durable, cache Registry, logger *slog.Logger) *CachedRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedRegistry{durable: durable, cache: cache, logger: logger}
}

// Check implements Registry.
func (c *CachedRegistry) Check(ctx context.Context, key string) ([]byte, bool, error) {
	if raw, ok, err := c.cache.Check(ctx, key); err != nil {
		c.logger.Warn("idempotency cache read", slog.Any("error", err))
	} else if ok {
		return raw, true, nil
	}
	raw, ok, err := c.durable.Check(ctx, key)
	if err != nil || !ok {
		return raw, ok, err
	}
	if err := c.cache.Register(ctx, key, raw); err != nil {
		c.logger.Warn("idempotency cache warm", slog.Any("error", err))
	}
	return raw, true, nil
}

// Register implements Registry.
func (c *CachedRegistry) Register(ctx context.Context, key string, result []byte) error {
	if err := c.durable.Register(ctx, key, result); err != nil {
		return err
	}
	if err := c.cache.Register(ctx, key, result); err != nil {
		c.logger.Warn("idempotency cache write", slog.Any("error", err))
	}
	return nil
}

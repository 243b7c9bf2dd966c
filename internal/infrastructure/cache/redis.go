package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tiergate/tiergate/internal/infrastructure/config"
)

const keyPrefix = "tiergate:decision:"

// Redis is the remote KV backend. TTL is expressed in whole seconds:
// floor of the configured milliseconds, clamped to at least one second.
type Redis struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedis connects to REDIS_URL and verifies the server with a ping.
// A connection failure here is returned so the factory can fall back to
// the in-process backend; runtime errors after construction never
// propagate past Get/Set.
func NewRedis(cfg config.CacheConfig, logger *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	ttlSec := cfg.TTLMs / 1000
	if ttlSec < 1 {
		ttlSec = 1
	}

	return &Redis{
		rdb:    rdb,
		ttl:    time.Duration(ttlSec) * time.Second,
		logger: logger.With(zap.String("component", "decision-cache")),
	}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool) {
	val, err := r.rdb.Get(ctx, keyPrefix+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("redis get failed", zap.Error(err))
		}
		return "", false
	}
	return val, true
}

func (r *Redis) Set(ctx context.Context, key, value string) {
	if err := r.rdb.Set(ctx, keyPrefix+key, value, r.ttl).Err(); err != nil {
		r.logger.Warn("redis set failed", zap.Error(err))
	}
}

// Close releases the client connection pool.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

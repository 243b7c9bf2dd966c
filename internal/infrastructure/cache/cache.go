package cache

import (
	"context"

	"go.uber.org/zap"

	"github.com/tiergate/tiergate/internal/infrastructure/config"
)

// Cache stores classifier decisions keyed by request fingerprint.
// The cache is advisory: a miss just triggers reclassification, and
// implementations must swallow their own runtime errors.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
}

// New selects a backend from config: disabled → no-op, REDIS_URL set →
// redis (falling back to memory when the server is unreachable at
// startup), otherwise an in-process LRU with TTL.
func New(cfg config.CacheConfig, logger *zap.Logger) Cache {
	if !cfg.Enabled {
		return Noop{}
	}
	if cfg.RedisURL != "" {
		c, err := NewRedis(cfg, logger)
		if err == nil {
			return c
		}
		logger.Warn("redis cache unavailable, falling back to in-process LRU",
			zap.String("url", cfg.RedisURL),
			zap.Error(err),
		)
	}
	return NewMemory(cfg, logger)
}

// Noop is the disabled cache; both operations are inert.
type Noop struct{}

func (Noop) Get(ctx context.Context, key string) (string, bool) { return "", false }
func (Noop) Set(ctx context.Context, key, value string)         {}

package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/tiergate/tiergate/internal/infrastructure/config"
)

const (
	defaultTTL     = time.Hour
	defaultMaxSize = 50_000
)

// Memory is a fixed-capacity in-process LRU with per-entry TTL.
// The expirable LRU serializes its own operations, so Memory is safe
// for concurrent use without extra locking.
type Memory struct {
	lru *lru.LRU[string, string]
}

// NewMemory builds the in-process backend from CACHE_TTL_MS / CACHE_MAX.
func NewMemory(cfg config.CacheConfig, logger *zap.Logger) *Memory {
	ttl := time.Duration(cfg.TTLMs) * time.Millisecond
	if ttl <= 0 {
		ttl = defaultTTL
	}
	size := cfg.Max
	if size <= 0 {
		size = defaultMaxSize
	}
	logger.Debug("decision cache: in-process LRU",
		zap.Int("max_entries", size),
		zap.Duration("ttl", ttl),
	)
	return &Memory{lru: lru.NewLRU[string, string](size, nil, ttl)}
}

func (m *Memory) Get(ctx context.Context, key string) (string, bool) {
	return m.lru.Get(key)
}

func (m *Memory) Set(ctx context.Context, key, value string) {
	m.lru.Add(key, value)
}

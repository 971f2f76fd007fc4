package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"positioner-tracker/internal/domain"
)

const statsKey = "positioner:stats"

// StatsCache 统计快照缓存（仪表盘读取，避免每次全量扫描存储）
type StatsCache struct {
	kv     KVStore
	ttl    time.Duration
	logger *zap.Logger
}

// NewStatsCache 创建统计快照缓存
func NewStatsCache(kv KVStore, ttl time.Duration, logger *zap.Logger) *StatsCache {
	return &StatsCache{
		kv:     kv,
		ttl:    ttl,
		logger: logger,
	}
}

// Get 读取统计快照；缓存不存在返回 ErrCacheMiss
func (c *StatsCache) Get(ctx context.Context) (domain.Stats, error) {
	raw, err := c.kv.Get(ctx, statsKey)
	if err != nil {
		return domain.Stats{}, err
	}

	var stats domain.Stats
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		// 损坏的缓存按未命中处理
		c.logger.Warn("Discarding unparseable stats cache", zap.Error(err))
		return domain.Stats{}, ErrCacheMiss
	}
	return stats, nil
}

// Set 写入统计快照
func (c *StatsCache) Set(ctx context.Context, stats domain.Stats) error {
	jsonData, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	if err := c.kv.Set(ctx, statsKey, string(jsonData), c.ttl); err != nil {
		return fmt.Errorf("failed to set stats cache: %w", err)
	}

	c.logger.Debug("Updated stats cache", zap.String("key", statsKey))
	return nil
}

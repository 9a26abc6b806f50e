package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/wiperlink/internal/config"
	"github.com/taoyao-code/wiperlink/internal/coordinator"
	redisstorage "github.com/taoyao-code/wiperlink/internal/storage/redis"
)

// NewRedisClient 创建Redis客户端并探活；未启用返回 nil
func NewRedisClient(cfg cfgpkg.RedisConfig, logger *zap.Logger) (*redisstorage.Client, error) {
	if !cfg.Enabled {
		logger.Info("redis is disabled, pending commands kept in memory")
		return nil, nil
	}

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	client, err := redisstorage.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("redis client initialized",
		zap.String("addr", cfg.Addr),
		zap.Int("pool_size", cfg.PoolSize))

	return client, nil
}

// NewPendingQueue 有 Redis 时持久化待处理命令，否则使用内存队列
func NewPendingQueue(cfg cfgpkg.RedisConfig, client *redisstorage.Client) coordinator.PendingQueue {
	if client == nil {
		return coordinator.NewMemoryQueue(cfg.HistoryLimit)
	}
	return redisstorage.NewPendingQueue(client, cfg.KeyPrefix, cfg.TTL, cfg.HistoryLimit)
}

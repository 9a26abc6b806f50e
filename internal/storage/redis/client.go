package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	cfgpkg "github.com/taoyao-code/wiperlink/internal/config"
)

// Client 待处理队列使用的 Redis 连接
type Client struct {
	*redis.Client
}

// Options 由配置生成连接参数
func Options(cfg cfgpkg.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

// Wrap 包装已建立的连接
func Wrap(rdb *redis.Client) *Client {
	return &Client{Client: rdb}
}

// Dial 连接并在 ctx 内完成一次 ping；失败时关闭连接
func Dial(ctx context.Context, cfg cfgpkg.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(Options(cfg))
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.Addr, err)
	}
	return Wrap(rdb), nil
}

// PoolUsage 连接池快照与占用率（非空闲连接 / 总连接）
func (c *Client) PoolUsage() (*redis.PoolStats, float64) {
	st := c.PoolStats()
	if st.TotalConns == 0 {
		return st, 0
	}
	return st, float64(st.TotalConns-st.IdleConns) / float64(st.TotalConns)
}

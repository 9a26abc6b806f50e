package health

import (
	"context"
	"fmt"
	"time"

	redisstorage "github.com/taoyao-code/wiperlink/internal/storage/redis"
)

// RedisChecker 待处理队列所在 Redis 的健康检查
type RedisChecker struct {
	client *redisstorage.Client
}

// NewRedisChecker 创建Redis健康检查器
func NewRedisChecker(client *redisstorage.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

// Name 返回检查器名称
func (c *RedisChecker) Name() string { return "redis" }

// Check ping 失败即不健康；连接池接近上限降级
func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	if err := c.client.Ping(ctx).Err(); err != nil {
		return result(start, StatusUnhealthy, fmt.Sprintf("ping failed: %v", err), nil)
	}

	stats, utilization := c.client.PoolUsage()
	status, message := StatusHealthy, "ok"
	if utilization > 0.9 {
		status, message = StatusDegraded, "connection pool near limit"
	}
	return result(start, status, message, map[string]any{
		"total_conns": stats.TotalConns,
		"idle_conns":  stats.IdleConns,
		"timeouts":    stats.Timeouts,
		"utilization": fmt.Sprintf("%.1f%%", utilization*100),
	})
}

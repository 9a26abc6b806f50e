package health

import (
	"context"
	"time"
)

// Status 健康状态
type Status string

const (
	StatusHealthy   Status = "healthy"   // 健康
	StatusDegraded  Status = "degraded"  // 降级（总线静默、熔断打开、执行器故障等，仍可服务）
	StatusUnhealthy Status = "unhealthy" // 不健康（协调器已失败或依赖不可用）
)

// CheckResult 健康检查结果
type CheckResult struct {
	Status  Status         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Latency time.Duration  `json:"latency"`
}

// Checker 健康检查器接口
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

func result(start time.Time, status Status, msg string, details map[string]any) CheckResult {
	return CheckResult{Status: status, Message: msg, Details: details, Latency: time.Since(start)}
}

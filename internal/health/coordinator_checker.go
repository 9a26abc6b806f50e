package health

import (
	"context"
	"time"

	"github.com/taoyao-code/wiperlink/internal/coordinator"
)

// CoordinatorProbe 协调器状态（*coordinator.Coordinator 实现）
type CoordinatorProbe interface {
	Err() error
	Mode() coordinator.Mode
	ActiveWorkers() int
	Faults() coordinator.Faults
}

// CoordinatorChecker 协调器失败为不健康；执行器堵转或硬件错误为降级
type CoordinatorChecker struct {
	probe CoordinatorProbe
}

// NewCoordinatorChecker 创建检查器
func NewCoordinatorChecker(probe CoordinatorProbe) *CoordinatorChecker {
	return &CoordinatorChecker{probe: probe}
}

// Name 返回检查器名称
func (c *CoordinatorChecker) Name() string { return "coordinator" }

// Check 执行健康检查
func (c *CoordinatorChecker) Check(_ context.Context) CheckResult {
	start := time.Now()
	f := c.probe.Faults()
	details := map[string]any{
		"mode":           c.probe.Mode().String(),
		"active_workers": c.probe.ActiveWorkers(),
		"faults":         f,
	}
	if err := c.probe.Err(); err != nil {
		return result(start, StatusUnhealthy, err.Error(), details)
	}
	if f.Blocked || f.HWError {
		return result(start, StatusDegraded, "actuator fault reported", details)
	}
	return result(start, StatusHealthy, "ok", details)
}

package health

import (
	"context"
	"time"

	"github.com/taoyao-code/wiperlink/internal/bus"
)

// BusProbe 双传输通道的可观测面（*bus.Channel 实现）
type BusProbe interface {
	Transports() []bus.Transport
	LastReceived() time.Time
	Stats() bus.ChannelStats
}

// BusChecker 总线健康检查
// 无可用传输为不健康；熔断打开或超过 Silence 未收到任何帧为降级
type BusChecker struct {
	probe   BusProbe
	silence time.Duration
	now     func() time.Time
}

// NewBusChecker silence<=0 时不检查静默
func NewBusChecker(probe BusProbe, silence time.Duration) *BusChecker {
	return &BusChecker{probe: probe, silence: silence, now: time.Now}
}

// Name 返回检查器名称
func (c *BusChecker) Name() string { return "bus" }

// Check 执行健康检查
func (c *BusChecker) Check(_ context.Context) CheckResult {
	start := time.Now()
	transports := c.probe.Transports()
	names := make([]string, 0, len(transports))
	for _, t := range transports {
		names = append(names, t.String())
	}
	stats := c.probe.Stats()
	details := map[string]any{
		"transports": names,
		"breakers":   stats.Breakers,
		"throttled":  stats.Limiter.RejectedTotal,
	}
	if len(transports) == 0 {
		return result(start, StatusUnhealthy, "no transport configured", details)
	}

	for name, b := range stats.Breakers {
		if b.State == bus.BreakerOpen {
			return result(start, StatusDegraded, "status breaker open on "+name, details)
		}
	}

	last := c.probe.LastReceived()
	if !last.IsZero() {
		details["last_received"] = last
	}
	if c.silence > 0 && (last.IsZero() || c.now().Sub(last) > c.silence) {
		return result(start, StatusDegraded, "no inbound frames", details)
	}
	return result(start, StatusHealthy, "ok", details)
}

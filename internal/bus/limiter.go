package bus

import (
	"sync/atomic"

	"golang.org/x/time/rate"
)

// StatusLimiter 基于 Token Bucket 的状态帧限流器
type StatusLimiter struct {
	limiter  *rate.Limiter
	perSec   int
	burst    int
	allowed  atomic.Int64
	rejected atomic.Int64
}

// NewStatusLimiter 创建限流器；perSec<=0 时不限流
func NewStatusLimiter(perSec, burst int) *StatusLimiter {
	if burst <= 0 {
		burst = perSec
	}
	l := &StatusLimiter{perSec: perSec, burst: burst}
	if perSec > 0 {
		l.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
	}
	return l
}

// Allow 非阻塞检查
func (l *StatusLimiter) Allow() bool {
	if l.limiter == nil || l.limiter.Allow() {
		l.allowed.Add(1)
		return true
	}
	l.rejected.Add(1)
	return false
}

// Stats 统计信息
func (l *StatusLimiter) Stats() LimiterStats {
	return LimiterStats{
		RatePerSecond: l.perSec,
		Burst:         l.burst,
		AllowedTotal:  l.allowed.Load(),
		RejectedTotal: l.rejected.Load(),
	}
}

// LimiterStats 限流统计
type LimiterStats struct {
	RatePerSecond int   `json:"rate_per_second"`
	Burst         int   `json:"burst"`
	AllowedTotal  int64 `json:"allowed_total"`
	RejectedTotal int64 `json:"rejected_total"`
}

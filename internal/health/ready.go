package health

import "sync/atomic"

// Readiness 启动阶段的就绪标记：总线泵已启动、协调器控制循环已运行
type Readiness struct {
	busReady  atomic.Bool
	loopReady atomic.Bool
}

func New() *Readiness { return &Readiness{} }

func (r *Readiness) SetBusReady(v bool)  { r.busReady.Store(v) }
func (r *Readiness) SetLoopReady(v bool) { r.loopReady.Store(v) }

// Ready 总体就绪：各子系统均为 true
func (r *Readiness) Ready() bool {
	return r.busReady.Load() && r.loopReady.Load()
}

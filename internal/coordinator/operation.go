package coordinator

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/wiperlink/internal/protocol/wire"
)

// Phase 单组运动状态
type Phase int32

const (
	PhaseStopped Phase = iota
	PhaseForward
	PhaseBackward
)

func (p Phase) String() string {
	switch p {
	case PhaseStopped:
		return "stopped"
	case PhaseForward:
		return "sweeping_forward"
	case PhaseBackward:
		return "sweeping_backward"
	default:
		return "unknown"
	}
}

// group 单个执行器组的运行时状态
// op 只在 Coordinator.mu 下读写；其余字段由 worker 原子更新
type group struct {
	name     string
	elements int

	op *Operation

	position atomic.Int32
	phase    atomic.Int32
	speed    atomic.Int32
	opID     atomic.Uint64
	sweeps   atomic.Int64
}

// Operation 一次运行中的扫动序列：取消令牌 + worker 集合 + done
type Operation struct {
	ID      uint64
	Command wire.Command // 合并后的有效命令
	Groups  []string
	Mode    Mode
	Started time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
}

// Done 所有 worker 退出且输出已关闭后关闭
func (o *Operation) Done() <-chan struct{} { return o.done }

func (o *Operation) String() string {
	return strings.Join(o.Groups, "+")
}

// stepPosition 第 k 步（共 n 步）后的位置，四舍五入到 0..100
func stepPosition(k, n int) int {
	if n <= 0 {
		return 0
	}
	return (100*k + n/2) / n
}

// elementDelay 每个元素之后的等待：扫动周期 / 元素数
func (c *Coordinator) elementDelay(cmd wire.Command, n int) time.Duration {
	period := cmd.Period
	if period <= 0 {
		period = c.opts.NormalPeriod
		if cmd.Speed == wire.SpeedFast {
			period = c.opts.FastPeriod
		}
	}
	if n <= 0 {
		return period
	}
	d := period / time.Duration(n)
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}

// sweeper 单个 worker 的执行上下文
type sweeper struct {
	c     *Coordinator
	op    *Operation
	g     *group
	lit   []bool
	delay time.Duration
	log   *zap.Logger
}

// runWorker 按循环策略执行扫动；退出时关闭本组所有已点亮输出并归零位置
func (c *Coordinator) runWorker(op *Operation, g *group) {
	defer op.wg.Done()

	s := &sweeper{
		c:     c,
		op:    op,
		g:     g,
		lit:   make([]bool, g.elements),
		delay: c.elementDelay(op.Command, g.elements),
		log:   c.log.With(zap.String("group", g.name), zap.Uint64("op", op.ID)),
	}
	g.opID.Store(op.ID)
	g.speed.Store(int32(op.Command.Speed))
	defer s.release()

	cycles := int(op.Command.Cycles)
	for n := 0; cycles == 0 || n < cycles; n++ {
		if !s.sweep() {
			return
		}
		g.sweeps.Add(1)
		if c.m != nil {
			c.m.SweepsTotal.WithLabelValues(g.name).Inc()
		}
		if cycles != 0 && n+1 == cycles {
			s.log.Info("cycles completed", zap.Int("cycles", cycles))
			return
		}
		if op.Command.Intermittent && op.Command.Speed == wire.SpeedNormal {
			if !s.wait(c.opts.IntermittentPause) {
				return
			}
			if !c.intermittentHolds(op) {
				s.log.Info("intermittent run preempted", zap.Stringer("mode", c.Mode()))
				return
			}
		}
	}
}

// intermittentHolds 触发间歇运行的模式/速度/间歇标志组合是否仍成立
func (c *Coordinator) intermittentHolds(op *Operation) bool {
	cur := c.settings.Load()
	return c.Mode() == op.Mode && cur.intermittent && cur.speed == wire.SpeedNormal
}

// sweep 正向逐个点亮、反向逐个熄灭；每个元素边界检查取消
func (s *sweeper) sweep() bool {
	n := s.g.elements
	s.g.phase.Store(int32(PhaseForward))
	for i := 0; i < n; i++ {
		if s.op.ctx.Err() != nil {
			return false
		}
		s.set(i, true, stepPosition(i+1, n))
		if !s.wait(s.delay) {
			return false
		}
	}
	s.g.phase.Store(int32(PhaseBackward))
	for i := n - 1; i >= 0; i-- {
		if s.op.ctx.Err() != nil {
			return false
		}
		s.set(i, false, stepPosition(i, n))
		if !s.wait(s.delay) {
			return false
		}
	}
	return true
}

// set 驱动失败只影响本步
func (s *sweeper) set(i int, on bool, pos int) {
	if err := s.c.driver.Set(s.g.name, i, on); err != nil {
		s.log.Warn("output failed", zap.Int("index", i), zap.Bool("on", on), zap.Error(err))
	} else {
		s.lit[i] = on
	}
	s.g.position.Store(int32(pos))
	if s.c.opts.OnStep != nil {
		s.c.opts.OnStep(Step{OpID: s.op.ID, Group: s.g.name, Index: i, On: on, Position: pos})
	}
}

func (s *sweeper) wait(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.op.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// release 关闭仍点亮的元素，状态归为 Stopped
func (s *sweeper) release() {
	for i, on := range s.lit {
		if !on {
			continue
		}
		if err := s.c.driver.Set(s.g.name, i, false); err != nil {
			s.log.Error("output off failed", zap.Int("index", i), zap.Error(err))
		}
	}
	s.g.position.Store(0)
	s.g.phase.Store(int32(PhaseStopped))
	s.g.speed.Store(0)
	s.g.opID.Store(0)
	s.c.workers.Add(-1)
	if s.c.m != nil {
		s.c.m.ActiveWorkers.Dec()
	}
}

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/wiperlink/internal/actuator"
	"github.com/taoyao-code/wiperlink/internal/bus"
	"github.com/taoyao-code/wiperlink/internal/metrics"
	"github.com/taoyao-code/wiperlink/internal/protocol/wire"
)

// Sender 总线发送端（*bus.Channel 实现）
type Sender interface {
	SendCommand(ctx context.Context, t bus.Transport, cmd wire.Command) error
	SendStatus(ctx context.Context, t bus.Transport, st wire.Status) error
}

// Receiver 总线接收端（*bus.Channel 实现）
type Receiver interface {
	Receive(ctx context.Context, timeout time.Duration) (bus.Inbound, bool)
}

// StatusSink 状态帧的额外订阅方（如 MQTT 镜像）
type StatusSink interface {
	PublishStatus(ctx context.Context, st wire.Status) error
}

// Faults 外部提供的故障信号
type Faults struct {
	ConsumedPower  uint8 `json:"consumed_power"`
	Blocked        bool  `json:"blocked"`
	BlockageReason uint8 `json:"blockage_reason"`
	HWError        bool  `json:"hw_error"`
}

// RemoteStatus 从总线收到的对端状态
type RemoteStatus struct {
	Transport bus.Transport `json:"transport"`
	Status    wire.Status   `json:"status"`
	At        time.Time     `json:"at"`
}

// settings 最近一次命令留下的可选字段，供部分填充的命令合并
type settings struct {
	speed        wire.Speed
	intermittent bool
	period       time.Duration
}

func defaultSettings() *settings {
	return &settings{speed: wire.SpeedNormal}
}

// Coordinator 执行器协调器：命令 -> 可取消的扫动序列，手动/自动仲裁，状态上报
type Coordinator struct {
	opts    Options
	driver  actuator.Driver
	tx      Sender
	pending PendingQueue
	log     *zap.Logger
	m       *metrics.AppMetrics

	// pmu 串行化待处理命令与模式切换；锁顺序 pmu -> mu
	pmu sync.Mutex
	// mu 保护组注册表与启动序列（取消 -> 等待 -> 启动）
	mu         sync.Mutex
	groups     map[string]*group
	order      []*group
	nextOp     uint64
	lastSwitch time.Time

	mode     atomic.Uint32
	settings atomic.Pointer[settings]
	workers  atomic.Int32

	fmu    sync.RWMutex
	faults Faults

	rmu    sync.RWMutex
	remote map[bus.Transport]RemoteStatus

	failed    atomic.Bool
	failErr   error
	fatalOnce sync.Once
	fatal     chan error
}

// New 创建协调器；tx 为 nil 时不经总线发送，pending 为 nil 时使用进程内队列
func New(opts Options, driver actuator.Driver, tx Sender, pending PendingQueue, log *zap.Logger, m *metrics.AppMetrics) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	if pending == nil {
		pending = NewMemoryQueue(0)
	}
	opts = opts.normalize()
	c := &Coordinator{
		opts:    opts,
		driver:  driver,
		tx:      tx,
		pending: pending,
		log:     log,
		m:       m,
		groups:  make(map[string]*group),
		remote:  make(map[bus.Transport]RemoteStatus),
		fatal:   make(chan error, 1),
	}
	if opts.Layout != nil {
		for _, ag := range opts.Layout.Groups {
			g := &group{name: ag.Name, elements: ag.Elements}
			c.groups[ag.Name] = g
			c.order = append(c.order, g)
		}
	}
	c.mode.Store(uint32(Manual))
	c.settings.Store(defaultSettings())
	if m != nil {
		m.ModeGauge.Set(float64(Manual))
	}
	return c
}

// Mode 当前模式
func (c *Coordinator) Mode() Mode { return Mode(c.mode.Load()) }

// ActiveWorkers 当前扫动中的 worker 数
func (c *Coordinator) ActiveWorkers() int { return int(c.workers.Load()) }

// Fatal 致命错误通知（取消超时、停止未确认），最多一次
func (c *Coordinator) Fatal() <-chan error { return c.fatal }

// Err 失败原因；未失败时为 nil
func (c *Coordinator) Err() error {
	if !c.failed.Load() {
		return nil
	}
	return c.failErr
}

func (c *Coordinator) failure() error {
	return fmt.Errorf("%w: %w", ErrFailed, c.failErr)
}

// escalate 锁存失败状态：此后不再启动任何操作
func (c *Coordinator) escalate(err error) {
	c.fatalOnce.Do(func() {
		c.failErr = err
		c.failed.Store(true)
		c.log.Error("coordinator failed", zap.Error(err))
		c.fatal <- err
	})
}

// HandleCommand 处理一条总线命令：校验、合并、取消重叠操作、启动新操作、上报状态
func (c *Coordinator) HandleCommand(ctx context.Context, t bus.Transport, cmd wire.Command) error {
	return c.apply(ctx, t, cmd, "bus")
}

func (c *Coordinator) apply(ctx context.Context, t bus.Transport, cmd wire.Command, source string) error {
	if c.failed.Load() {
		return c.failure()
	}
	if err := cmd.Validate(); err != nil {
		c.countCommand(source, "invalid")
		c.log.Warn("invalid command dropped", zap.String("source", source), zap.Error(err))
		return err
	}

	c.mu.Lock()
	op, err := c.applyLocked(cmd)
	c.mu.Unlock()
	if err != nil {
		c.countCommand(source, "failed")
		c.escalate(err)
		return err
	}

	c.countCommand(source, "applied")
	fields := []zap.Field{
		zap.String("source", source),
		zap.String("transport", t.String()),
		zap.Stringer("group", cmd.Group),
	}
	if op != nil {
		fields = append(fields,
			zap.Uint64("op", op.ID),
			zap.Stringer("speed", op.Command.Speed),
			zap.Uint8("cycles", op.Command.Cycles),
			zap.Bool("intermittent", op.Command.Intermittent))
	}
	c.log.Info("command applied", fields...)
	c.EmitStatus(ctx)
	return nil
}

// applyLocked 启动序列：合并 -> 取消并等待重叠操作 -> 启动；调用方持有 mu
func (c *Coordinator) applyLocked(cmd wire.Command) (*Operation, error) {
	eff := c.mergeLocked(cmd)
	targets := c.targetsLocked(cmd.Group)
	if err := c.cancelLocked(targets); err != nil {
		return nil, err
	}
	if eff.IsStop() || len(targets) == 0 {
		return nil, nil
	}
	return c.startLocked(eff, targets), nil
}

// mergeLocked 未指定的可选字段沿用上次设置；停止命令重置设置
func (c *Coordinator) mergeLocked(cmd wire.Command) wire.Command {
	if cmd.IsStop() {
		c.settings.Store(defaultSettings())
		return cmd
	}
	cur := *c.settings.Load()
	if cmd.Speed != wire.SpeedUnset {
		cur.speed = cmd.Speed
	}
	if cmd.Intermittent {
		cur.intermittent = true
	}
	if cmd.Period > 0 {
		cur.period = cmd.Period
	}
	c.settings.Store(&cur)

	eff := cmd
	eff.Speed = cur.speed
	eff.Intermittent = cur.intermittent
	eff.Period = cur.period
	return eff
}

// targetsLocked 停止命令作用于所有本地组
func (c *Coordinator) targetsLocked(sel wire.Group) []*group {
	if sel == wire.GroupStop {
		return c.order
	}
	var out []*group
	for _, name := range sel.Names() {
		if g, ok := c.groups[name]; ok {
			out = append(out, g)
		}
	}
	return out
}

// cancelLocked 取消覆盖 targets 的全部操作并有界等待；跨组操作整体取消
func (c *Coordinator) cancelLocked(targets []*group) error {
	var ops []*Operation
	seen := make(map[*Operation]bool)
	for _, g := range targets {
		if g.op != nil && !seen[g.op] {
			seen[g.op] = true
			ops = append(ops, g.op)
		}
	}
	if len(ops) == 0 {
		return nil
	}
	for _, op := range ops {
		op.cancel()
	}
	timer := time.NewTimer(c.opts.JoinTimeout)
	defer timer.Stop()
	for _, op := range ops {
		select {
		case <-op.done:
		case <-timer.C:
			if c.m != nil {
				c.m.CancelTimeoutsTotal.Inc()
			}
			return fmt.Errorf("%w: operation %d (%s) after %v", ErrCancellationTimeout, op.ID, op, c.opts.JoinTimeout)
		}
		c.log.Debug("operation cancelled", zap.Uint64("op", op.ID), zap.Stringer("groups", op))
	}
	for _, g := range c.order {
		if g.op != nil && seen[g.op] {
			g.op = nil
		}
	}
	return nil
}

// startLocked 每个目标组启动一个 worker；调用方已确认这些组空闲
func (c *Coordinator) startLocked(cmd wire.Command, targets []*group) *Operation {
	c.nextOp++
	ctx, cancel := context.WithCancel(context.Background())
	op := &Operation{
		ID:      c.nextOp,
		Command: cmd,
		Mode:    c.Mode(),
		Started: c.opts.Now(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, g := range targets {
		op.Groups = append(op.Groups, g.name)
		g.op = op
		op.wg.Add(1)
		c.workers.Add(1)
		if c.m != nil {
			c.m.ActiveWorkers.Inc()
		}
		go c.runWorker(op, g)
	}
	go c.finish(op, targets)
	return op
}

// finish 等待全部 worker 退出后关闭 done；自然结束时注销并上报状态
func (c *Coordinator) finish(op *Operation, targets []*group) {
	op.wg.Wait()
	cancelled := op.ctx.Err() != nil
	close(op.done)
	op.cancel()
	if cancelled {
		return
	}

	c.mu.Lock()
	for _, g := range targets {
		if g.op == op {
			g.op = nil
		}
	}
	c.mu.Unlock()
	c.log.Info("operation finished", zap.Uint64("op", op.ID), zap.Stringer("groups", op))
	c.EmitStatus(context.Background())
}

// Trigger 外部模式触发；距上次切换不足 ModeDwell 时返回 ErrModeDebounced
func (c *Coordinator) Trigger(ctx context.Context, automatic bool) error {
	if c.failed.Load() {
		return c.failure()
	}
	target := Manual
	if automatic {
		target = Automatic
	}

	c.pmu.Lock()
	defer c.pmu.Unlock()

	c.mu.Lock()
	if c.Mode() == target {
		c.mu.Unlock()
		return nil
	}
	now := c.opts.Now()
	if !c.lastSwitch.IsZero() && now.Sub(c.lastSwitch) < c.opts.ModeDwell {
		c.mu.Unlock()
		return ErrModeDebounced
	}
	c.lastSwitch = now
	c.mode.Store(uint32(target))
	if c.m != nil {
		c.m.ModeGauge.Set(float64(target))
	}

	if err := c.cancelLocked(c.order); err != nil {
		c.mu.Unlock()
		c.escalate(err)
		return err
	}
	var autoErr error
	if automatic {
		_, autoErr = c.applyLocked(c.opts.AutoCommand)
	} else {
		c.mergeLocked(wire.StopCommand())
	}
	c.mu.Unlock()
	if autoErr != nil {
		c.escalate(autoErr)
		return autoErr
	}

	n, err := c.pending.SupersedeAll(ctx)
	if err != nil {
		c.log.Error("supersede pending failed", zap.Error(err))
	}
	c.countCommandN("api", "superseded", n)
	c.log.Info("mode switched", zap.Stringer("mode", target), zap.Int("superseded", n))

	if c.opts.Forward && c.tx != nil {
		if automatic {
			if err := c.tx.SendCommand(ctx, c.opts.DefaultTransport, c.opts.AutoCommand); err != nil {
				c.log.Error("automatic command not delivered", zap.Error(err))
			}
		} else if err := c.confirmStop(ctx, c.opts.DefaultTransport); err != nil {
			c.EmitStatus(ctx)
			return err
		}
	}
	c.EmitStatus(ctx)
	return nil
}

// confirmStop 按重试策略下发停止命令；耗尽即致命
func (c *Coordinator) confirmStop(ctx context.Context, t bus.Transport) error {
	if err := c.tx.SendCommand(ctx, t, wire.StopCommand()); err != nil {
		if c.m != nil {
			c.m.StopAttemptsTotal.WithLabelValues("error").Inc()
		}
		fatal := fmt.Errorf("%w: %s: %w", ErrStopNotConfirmed, t, err)
		c.escalate(fatal)
		return fatal
	}
	if c.m != nil {
		c.m.StopAttemptsTotal.WithLabelValues("ok").Inc()
	}
	c.log.Info("stop confirmed", zap.String("transport", t.String()))
	return nil
}

// SetFaults 更新外部故障信号；变化时立即上报状态
func (c *Coordinator) SetFaults(ctx context.Context, f Faults) {
	c.fmu.Lock()
	changed := c.faults != f
	c.faults = f
	c.fmu.Unlock()
	if !changed {
		return
	}
	c.log.Info("faults changed",
		zap.Bool("blocked", f.Blocked),
		zap.Uint8("reason", f.BlockageReason),
		zap.Bool("hw_error", f.HWError),
		zap.Uint8("power", f.ConsumedPower))
	c.EmitStatus(ctx)
}

// Faults 当前故障信号
func (c *Coordinator) Faults() Faults {
	c.fmu.RLock()
	defer c.fmu.RUnlock()
	return c.faults
}

// RecordRemote 记录对端状态
func (c *Coordinator) RecordRemote(t bus.Transport, st wire.Status) {
	c.rmu.Lock()
	c.remote[t] = RemoteStatus{Transport: t, Status: st, At: c.opts.Now()}
	c.rmu.Unlock()
}

// Remote 对端状态快照
func (c *Coordinator) Remote() []RemoteStatus {
	c.rmu.RLock()
	defer c.rmu.RUnlock()
	out := make([]RemoteStatus, 0, len(c.remote))
	for _, t := range []bus.Transport{bus.TransportLink, bus.TransportBroadcast} {
		if rs, ok := c.remote[t]; ok {
			out = append(out, rs)
		}
	}
	return out
}

// Shutdown 停止本地所有组；转发节点在每个传输上尽力下发停止
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	err := c.cancelLocked(c.order)
	c.mu.Unlock()
	if err != nil {
		c.escalate(err)
	}
	if c.opts.Forward && c.tx != nil {
		for _, t := range c.opts.Transports {
			if serr := c.tx.SendCommand(ctx, t, wire.StopCommand()); serr != nil {
				c.log.Error("shutdown stop not delivered", zap.String("transport", t.String()), zap.Error(serr))
				err = errors.Join(err, serr)
			}
		}
	}
	return err
}

func (c *Coordinator) countCommand(source, result string) {
	c.countCommandN(source, result, 1)
}

func (c *Coordinator) countCommandN(source, result string, n int) {
	if c.m != nil && n > 0 {
		c.m.CommandsTotal.WithLabelValues(source, result).Add(float64(n))
	}
}

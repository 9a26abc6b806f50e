package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taoyao-code/wiperlink/internal/bus"
	"github.com/taoyao-code/wiperlink/internal/protocol/wire"
)

// Submit 登记一条手动命令；自动模式下直接拒绝
func (c *Coordinator) Submit(ctx context.Context, t bus.Transport, cmd wire.Command) (*PendingCommand, error) {
	if c.failed.Load() {
		return nil, c.failure()
	}
	if err := cmd.Validate(); err != nil {
		c.countCommand("api", "invalid")
		return nil, err
	}
	if !t.Valid() {
		t = c.opts.DefaultTransport
	}

	c.pmu.Lock()
	defer c.pmu.Unlock()
	if c.Mode() == Automatic {
		c.countCommand("api", "superseded")
		return nil, ErrSuperseded
	}
	now := c.opts.Now()
	pc := &PendingCommand{
		ID:        uuid.NewString(),
		Transport: t,
		Command:   cmd,
		State:     PendingStatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.pending.Enqueue(ctx, pc); err != nil {
		return nil, err
	}
	c.log.Info("command queued", zap.String("id", pc.ID), zap.String("transport", t.String()), zap.Stringer("group", cmd.Group))
	return pc, nil
}

// Pending 待处理队列
func (c *Coordinator) Pending() PendingQueue { return c.pending }

// ProcessPending 按到达顺序处理待处理命令：转发节点先经总线下发，再在本地执行
func (c *Coordinator) ProcessPending(ctx context.Context) (int, error) {
	c.pmu.Lock()
	defer c.pmu.Unlock()

	done := 0
	for {
		if c.failed.Load() {
			return done, c.failure()
		}
		if err := ctx.Err(); err != nil {
			return done, err
		}
		pc, err := c.pending.Next(ctx)
		if err != nil {
			return done, err
		}
		if pc == nil {
			return done, nil
		}
		log := c.log.With(zap.String("id", pc.ID), zap.String("transport", pc.Transport.String()))

		if c.Mode() == Automatic {
			c.settle(ctx, log, pc, PendingStateSuperseded, ErrSuperseded)
			continue
		}
		if pc.Command.IsStop() {
			if err := c.processStop(ctx, pc); err != nil {
				c.settle(ctx, log, pc, PendingStateFailed, err)
				return done, err
			}
			c.settle(ctx, log, pc, PendingStateCompleted, nil)
			done++
			continue
		}
		if c.opts.Forward && c.tx != nil {
			if err := c.tx.SendCommand(ctx, pc.Transport, pc.Command); err != nil {
				c.countCommand("api", "failed")
				c.settle(ctx, log, pc, PendingStateFailed, err)
				continue
			}
		}
		if err := c.apply(ctx, pc.Transport, pc.Command, "api"); err != nil {
			c.settle(ctx, log, pc, PendingStateFailed, err)
			if errors.Is(err, ErrFailed) || errors.Is(err, ErrCancellationTimeout) {
				return done, err
			}
			continue
		}
		c.settle(ctx, log, pc, PendingStateCompleted, nil)
		done++
	}
}

// processStop 停止命令先在本地生效，再经总线确认；确认失败即致命
func (c *Coordinator) processStop(ctx context.Context, pc *PendingCommand) error {
	if err := c.apply(ctx, pc.Transport, pc.Command, "api"); err != nil {
		return err
	}
	if !c.opts.Forward || c.tx == nil {
		return nil
	}
	if err := c.confirmStop(ctx, pc.Transport); err != nil {
		c.countCommand("api", "failed")
		c.EmitStatus(ctx)
		return err
	}
	return nil
}

func (c *Coordinator) settle(ctx context.Context, log *zap.Logger, pc *PendingCommand, state PendingState, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := c.pending.Update(ctx, pc.ID, state, msg); err != nil {
		log.Error("pending update failed", zap.Error(err))
		return
	}
	log.Info("pending command settled", zap.String("state", string(state)), zap.String("error", msg))
}

// Run 控制循环：有界接收、待处理轮询、周期状态；失败或 ctx 结束时返回
func (c *Coordinator) Run(ctx context.Context, rx Receiver) error {
	statusTick := time.NewTicker(c.opts.StatusInterval)
	defer statusTick.Stop()
	pendingTick := time.NewTicker(c.opts.PendingInterval)
	defer pendingTick.Stop()

	c.log.Info("coordinator running",
		zap.Strings("groups", c.groupNames()),
		zap.Bool("forward", c.opts.Forward),
		zap.Stringer("mode", c.Mode()))

	for {
		if c.failed.Load() {
			return c.failure()
		}
		select {
		case <-ctx.Done():
			return nil
		case <-statusTick.C:
			c.EmitStatus(ctx)
		case <-pendingTick.C:
			if _, err := c.ProcessPending(ctx); err != nil && ctx.Err() == nil {
				c.log.Error("process pending failed", zap.Error(err))
			}
		default:
			if rx == nil {
				waitCtx(ctx, c.opts.ReceiveTimeout)
				continue
			}
			if in, ok := rx.Receive(ctx, c.opts.ReceiveTimeout); ok {
				c.handleInbound(ctx, in)
			}
		}
	}
}

func (c *Coordinator) handleInbound(ctx context.Context, in bus.Inbound) {
	switch in.Kind {
	case bus.KindCommand:
		if err := c.HandleCommand(ctx, in.Transport, in.Command); err != nil {
			c.log.Warn("bus command rejected", zap.String("transport", in.Transport.String()), zap.Error(err))
		}
	case bus.KindStatus:
		c.RecordRemote(in.Transport, in.Status)
	}
}

func (c *Coordinator) groupNames() []string {
	out := make([]string, 0, len(c.order))
	for _, g := range c.order {
		out = append(out, g.name)
	}
	return out
}

func waitCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

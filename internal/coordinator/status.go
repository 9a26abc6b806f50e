package coordinator

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/taoyao-code/wiperlink/internal/bus"
	"github.com/taoyao-code/wiperlink/internal/protocol/wire"
)

// Status 计算当前状态帧
// 位置取各组最大值；停止时速度为 0；operational = 未堵转且无硬件错误
func (c *Coordinator) Status() wire.Status {
	f := c.Faults()
	var pos int32
	var speed wire.Speed
	for _, g := range c.order {
		if p := g.position.Load(); p > pos {
			pos = p
		}
		if s := wire.Speed(g.speed.Load()); s > speed {
			speed = s
		}
	}
	if pos > 100 {
		pos = 100
	}
	return wire.Status{
		Operational:    !f.Blocked && !f.HWError,
		Speed:          speed,
		Position:       uint8(pos),
		Mode:           c.Mode(),
		ConsumedPower:  f.ConsumedPower,
		Blocked:        f.Blocked,
		BlockageReason: f.BlockageReason,
		HWError:        f.HWError,
	}
}

// EmitStatus 在所有配置的传输与订阅方上发送当前状态；失败记录后跳过
func (c *Coordinator) EmitStatus(ctx context.Context) {
	st := c.Status()
	if c.tx != nil {
		for _, t := range c.opts.Transports {
			if err := c.tx.SendStatus(ctx, t, st); err != nil {
				lvl := c.log.Warn
				if errors.Is(err, bus.ErrThrottled) || errors.Is(err, bus.ErrCircuitOpen) {
					lvl = c.log.Debug
				}
				lvl("status send skipped", zap.String("transport", t.String()), zap.Error(err))
			}
		}
	}
	for _, s := range c.opts.Sinks {
		if err := s.PublishStatus(ctx, st); err != nil {
			c.log.Warn("status publish failed", zap.Error(err))
		}
	}
}

// GroupSnapshot 单组运行快照
type GroupSnapshot struct {
	Name     string `json:"name"`
	Elements int    `json:"elements"`
	Phase    string `json:"phase"`
	Position int    `json:"position"`
	Speed    string `json:"speed"`
	Sweeps   int64  `json:"sweeps"`
	OpID     uint64 `json:"op_id,omitempty"`
}

// Snapshot 协调器整体快照（HTTP 查询）
type Snapshot struct {
	Mode    string          `json:"mode"`
	Status  wire.Status     `json:"status"`
	Groups  []GroupSnapshot `json:"groups"`
	Faults  Faults          `json:"faults"`
	Remote  []RemoteStatus  `json:"remote"`
	Workers int             `json:"workers"`
	Failed  string          `json:"failed,omitempty"`
}

// Snapshot 无锁读取各组原子状态
func (c *Coordinator) Snapshot() Snapshot {
	s := Snapshot{
		Mode:    c.Mode().String(),
		Status:  c.Status(),
		Faults:  c.Faults(),
		Remote:  c.Remote(),
		Workers: c.ActiveWorkers(),
	}
	for _, g := range c.order {
		s.Groups = append(s.Groups, GroupSnapshot{
			Name:     g.name,
			Elements: g.elements,
			Phase:    Phase(g.phase.Load()).String(),
			Position: int(g.position.Load()),
			Speed:    wire.Speed(g.speed.Load()).String(),
			Sweeps:   g.sweeps.Load(),
			OpID:     g.opID.Load(),
		})
	}
	if err := c.Err(); err != nil {
		s.Failed = err.Error()
	}
	return s
}

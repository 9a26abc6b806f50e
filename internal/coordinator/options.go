package coordinator

import (
	"time"

	"github.com/taoyao-code/wiperlink/internal/actuator"
	"github.com/taoyao-code/wiperlink/internal/bus"
	"github.com/taoyao-code/wiperlink/internal/protocol/wire"
)

// Mode 运行模式，取值与状态帧字节3一致
type Mode = wire.Mode

const (
	Manual    = wire.ModeManual
	Automatic = wire.ModeAutomatic
)

// Step 一次元素输出（测试与调试观察用）
type Step struct {
	OpID     uint64
	Group    string
	Index    int
	On       bool
	Position int
}

// Options 协调器参数
type Options struct {
	Layout *actuator.Layout // 本节点驱动的执行器组，主节点可为空

	// Forward 为 true 时，待处理命令与模式切换产生的命令经总线下发（主节点）
	Forward          bool
	Transports       []bus.Transport // 状态帧发送与关机停止使用的传输
	DefaultTransport bus.Transport   // 自动命令与停止确认使用的传输

	NormalPeriod      time.Duration // 普通档单次扫动周期
	FastPeriod        time.Duration // 快速档单次扫动周期
	IntermittentPause time.Duration
	ModeDwell         time.Duration
	JoinTimeout       time.Duration
	StatusInterval    time.Duration
	ReceiveTimeout    time.Duration
	PendingInterval   time.Duration

	AutoCommand wire.Command // 进入自动模式时启动的命令

	Sinks  []StatusSink
	OnStep func(Step)
	Now    func() time.Time
}

// DefaultAutoCommand 前后两组、普通速度、持续运行
func DefaultAutoCommand() wire.Command {
	return wire.Command{Group: wire.GroupBoth, Speed: wire.SpeedNormal, Cycles: 0}
}

func (o Options) normalize() Options {
	if o.DefaultTransport == 0 {
		o.DefaultTransport = bus.TransportLink
	}
	if o.NormalPeriod <= 0 {
		o.NormalPeriod = 300 * time.Millisecond
	}
	if o.FastPeriod <= 0 {
		o.FastPeriod = 150 * time.Millisecond
	}
	if o.IntermittentPause <= 0 {
		o.IntermittentPause = 1700 * time.Millisecond
	}
	if o.ModeDwell < 0 {
		o.ModeDwell = 0
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = 2 * time.Second
	}
	if o.StatusInterval <= 0 {
		o.StatusInterval = time.Second
	}
	if o.ReceiveTimeout <= 0 {
		o.ReceiveTimeout = 100 * time.Millisecond
	}
	if o.PendingInterval <= 0 {
		o.PendingInterval = 100 * time.Millisecond
	}
	if o.AutoCommand.IsStop() {
		o.AutoCommand = DefaultAutoCommand()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

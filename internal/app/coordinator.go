package app

import (
	"fmt"

	"github.com/taoyao-code/wiperlink/internal/actuator"
	"github.com/taoyao-code/wiperlink/internal/bus"
	cfgpkg "github.com/taoyao-code/wiperlink/internal/config"
	"github.com/taoyao-code/wiperlink/internal/coordinator"
	"github.com/taoyao-code/wiperlink/internal/protocol/wire"
)

// BuildLayout 布局来源优先级：布局文件 > 配置中的组 > 从节点默认布局；主节点无组时不驱动本地执行器
func BuildLayout(cfg *cfgpkg.Config) (*actuator.Layout, error) {
	if cfg.Actuators.LayoutFile != "" {
		return actuator.LoadLayout(cfg.Actuators.LayoutFile)
	}
	if len(cfg.Actuators.Groups) > 0 {
		l := &actuator.Layout{}
		for _, g := range cfg.Actuators.Groups {
			l.Groups = append(l.Groups, actuator.Group{Name: g.Name, Elements: g.Elements})
		}
		if err := l.Validate(); err != nil {
			return nil, err
		}
		return l, nil
	}
	if cfg.Node.IsMaster() {
		return nil, nil
	}
	return actuator.DefaultLayout(), nil
}

// EnabledTransports 已启用的传输，LIN 在前
func EnabledTransports(cfg *cfgpkg.Config) []bus.Transport {
	var out []bus.Transport
	if cfg.Link.Enable {
		out = append(out, bus.TransportLink)
	}
	if cfg.CAN.Enable {
		out = append(out, bus.TransportBroadcast)
	}
	return out
}

// CoordinatorOptions 由配置组装协调器参数
func CoordinatorOptions(cfg *cfgpkg.Config, layout *actuator.Layout) (coordinator.Options, error) {
	transports := EnabledTransports(cfg)
	if len(transports) == 0 {
		return coordinator.Options{}, fmt.Errorf("%w: no transport enabled", cfgpkg.ErrInvalidConfig)
	}
	def := transports[0]
	if cfg.Channel.DefaultTransport != "" {
		t, err := bus.ParseTransport(cfg.Channel.DefaultTransport)
		if err != nil {
			return coordinator.Options{}, fmt.Errorf("%w: channel.defaultTransport: %w", cfgpkg.ErrInvalidConfig, err)
		}
		for _, e := range transports {
			if e == t {
				def = t
			}
		}
	}

	auto, err := autoCommand(cfg.Coordinator.AutoCommand)
	if err != nil {
		return coordinator.Options{}, err
	}

	cc := cfg.Coordinator
	return coordinator.Options{
		Layout:            layout,
		Forward:           cfg.Node.Forward || cfg.Node.IsMaster(),
		Transports:        transports,
		DefaultTransport:  def,
		NormalPeriod:      cc.NormalPeriod,
		FastPeriod:        cc.FastPeriod,
		IntermittentPause: cc.IntermittentPause,
		ModeDwell:         cc.ModeDwell,
		JoinTimeout:       cc.JoinTimeout,
		StatusInterval:    cc.StatusInterval,
		ReceiveTimeout:    cc.ReceiveTimeout,
		PendingInterval:   cc.PendingInterval,
		AutoCommand:       auto,
	}, nil
}

func autoCommand(c cfgpkg.AutoCommandConfig) (wire.Command, error) {
	if c.Group == "" {
		return coordinator.DefaultAutoCommand(), nil
	}
	g, err := wire.ParseGroup(c.Group)
	if err != nil {
		return wire.Command{}, fmt.Errorf("%w: coordinator.autoCommand: %w", cfgpkg.ErrInvalidConfig, err)
	}
	sp, err := wire.ParseSpeed(c.Speed)
	if err != nil {
		return wire.Command{}, fmt.Errorf("%w: coordinator.autoCommand: %w", cfgpkg.ErrInvalidConfig, err)
	}
	if c.Cycles < 0 || c.Cycles > wire.MaxCycles {
		return wire.Command{}, fmt.Errorf("%w: coordinator.autoCommand.cycles %d", cfgpkg.ErrInvalidConfig, c.Cycles)
	}
	cmd := wire.Command{Group: g, Speed: sp, Cycles: uint8(c.Cycles)}
	if cmd.IsStop() {
		return wire.Command{}, fmt.Errorf("%w: coordinator.autoCommand cannot be stop", cfgpkg.ErrInvalidConfig)
	}
	return cmd, nil
}

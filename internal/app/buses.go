package app

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/taoyao-code/wiperlink/internal/bus"
	cfgpkg "github.com/taoyao-code/wiperlink/internal/config"
	"github.com/taoyao-code/wiperlink/internal/metrics"
	"github.com/taoyao-code/wiperlink/internal/protocol/lin"
)

// Buses 已打开的总线原语；字段为 nil 表示该传输未启用
type Buses struct {
	Link lin.Port
	CAN  bus.Broadcast
}

// Close 关闭全部原语
func (b Buses) Close() error {
	var errs []error
	if b.Link != nil {
		errs = append(errs, b.Link.Close())
	}
	if b.CAN != nil {
		errs = append(errs, b.CAN.Close())
	}
	return errors.Join(errs...)
}

// OpenBuses 按配置打开串口与 SocketCAN
func OpenBuses(cfg *cfgpkg.Config, log *zap.Logger) (Buses, error) {
	var b Buses
	if cfg.Link.Enable {
		port, err := lin.OpenSerial(cfg.Link.Device, lin.SerialOptions{
			BaudRate:     cfg.Link.BaudRate,
			BreakDivisor: cfg.Link.BreakDivisor,
		})
		if err != nil {
			return b, err
		}
		b.Link = port
		log.Info("link port opened", zap.String("device", cfg.Link.Device), zap.Int("baud", cfg.Link.BaudRate))
	}
	if cfg.CAN.Enable {
		sock, err := bus.OpenSocketCAN(cfg.CAN.Interface)
		if err != nil {
			_ = b.Close()
			return Buses{}, fmt.Errorf("open can %s: %w", cfg.CAN.Interface, err)
		}
		b.CAN = sock
		log.Info("can socket opened", zap.String("interface", cfg.CAN.Interface))
	}
	return b, nil
}

// NewChannel 在已打开的原语上建立双传输通道
func NewChannel(cfg *cfgpkg.Config, b Buses, log *zap.Logger, m *metrics.AppMetrics) *bus.Channel {
	var link *lin.Transport
	if b.Link != nil {
		link = lin.NewTransport(b.Link, lin.TransportOptions{
			ResyncBytes:      cfg.Link.ResyncBytes,
			InterByteTimeout: cfg.Link.InterByteTimeout,
		})
	}
	return bus.NewChannel(link, b.CAN, bus.Options{
		IDs: bus.IDs{
			LinkCommand:      cfg.Link.CommandID,
			LinkStatus:       cfg.Link.StatusID,
			BroadcastCommand: cfg.CAN.CommandID,
			BroadcastStatus:  cfg.CAN.StatusID,
		},
		RetryMax:         cfg.Channel.RetryMax,
		RetryBackoff:     cfg.Channel.RetryBackoff,
		StatusRate:       cfg.Channel.StatusRate,
		StatusBurst:      cfg.Channel.StatusBurst,
		BreakerThreshold: cfg.Channel.Breaker.Threshold,
		BreakerCooldown:  cfg.Channel.Breaker.Cooldown,
		PollInterval:     cfg.Channel.PollInterval,
	}, log.Named("bus"), m)
}

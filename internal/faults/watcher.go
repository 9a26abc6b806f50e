package faults

import (
	"context"
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/taoyao-code/wiperlink/internal/coordinator"
)

// 故障文件中的键（KEY=VALUE，大小写不敏感）
const (
	KeyConsumedPower  = "consumedpower"
	KeyBlocked        = "iswiperblocked"
	KeyBlockageReason = "blockagereason"
	KeyHWError        = "hwerror"
)

// Target 接收故障信号（*coordinator.Coordinator 实现）
type Target interface {
	SetFaults(ctx context.Context, f coordinator.Faults)
}

// Watcher 监视故障文件，变化时推送给 Target
type Watcher struct {
	path   string
	target Target
	log    *zap.Logger
	v      *viper.Viper

	mu   sync.Mutex
	last coordinator.Faults
}

// NewWatcher 创建监视器
func NewWatcher(path string, target Target, log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	return &Watcher{path: path, target: target, log: log, v: v}
}

// Start 读取一次并开始监视；ctx 用于推送
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.v.ReadInConfig(); err != nil {
		return fmt.Errorf("read faults file %s: %w", w.path, err)
	}
	w.apply(ctx)
	w.v.OnConfigChange(func(e fsnotify.Event) {
		if ctx.Err() != nil {
			return
		}
		w.log.Debug("faults file changed", zap.String("op", e.Op.String()))
		w.apply(ctx)
	})
	w.v.WatchConfig()
	return nil
}

// Last 最近一次推送的故障
func (w *Watcher) Last() coordinator.Faults {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

func (w *Watcher) apply(ctx context.Context) {
	f := Decode(w.v)
	w.mu.Lock()
	w.last = f
	w.mu.Unlock()
	w.log.Info("faults updated",
		zap.Uint8("consumed_power", f.ConsumedPower),
		zap.Bool("blocked", f.Blocked),
		zap.Uint8("blockage_reason", f.BlockageReason),
		zap.Bool("hw_error", f.HWError))
	if w.target != nil {
		w.target.SetFaults(ctx, f)
	}
}

// Decode 从 viper 读取故障字段；数值截断到 0..255
func Decode(v *viper.Viper) coordinator.Faults {
	return coordinator.Faults{
		ConsumedPower:  clampByte(v.GetInt(KeyConsumedPower)),
		Blocked:        v.GetBool(KeyBlocked),
		BlockageReason: clampByte(v.GetInt(KeyBlockageReason)),
		HWError:        v.GetBool(KeyHWError),
	}
}

func clampByte(n int) uint8 {
	switch {
	case n < 0:
		return 0
	case n > 255:
		return 255
	}
	return uint8(n)
}

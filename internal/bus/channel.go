package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/wiperlink/internal/metrics"
	"github.com/taoyao-code/wiperlink/internal/protocol/lin"
	"github.com/taoyao-code/wiperlink/internal/protocol/wire"
)

// IDs 两条总线上的命令/状态帧 ID
type IDs struct {
	LinkCommand      uint8
	LinkStatus       uint8
	BroadcastCommand uint32
	BroadcastStatus  uint32
}

// DefaultIDs 默认帧 ID
func DefaultIDs() IDs {
	return IDs{LinkCommand: 0x20, LinkStatus: 0x21, BroadcastCommand: 0x100, BroadcastStatus: 0x101}
}

// Options 通道参数
type Options struct {
	IDs              IDs
	RetryMax         int           // 命令最多尝试次数（含首次）
	RetryBackoff     time.Duration // 固定重试间隔
	StatusRate       int           // 状态帧每秒上限，0 不限
	StatusBurst      int
	BreakerThreshold int
	BreakerCooldown  time.Duration
	PollInterval     time.Duration // 接收泵单次等待
	InboxSize        int
}

func (o Options) normalize() Options {
	if o.IDs == (IDs{}) {
		o.IDs = DefaultIDs()
	}
	if o.RetryMax <= 0 {
		o.RetryMax = 5
	}
	if o.RetryBackoff < 0 {
		o.RetryBackoff = 0
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 20 * time.Millisecond
	}
	if o.InboxSize <= 0 {
		o.InboxSize = 64
	}
	return o
}

// Kind 入站帧类别
type Kind uint8

const (
	KindCommand Kind = iota + 1
	KindStatus
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindStatus:
		return "status"
	default:
		return "unknown"
	}
}

// Inbound 入站消息，携带来源传输标签
type Inbound struct {
	Transport Transport
	Kind      Kind
	Command   wire.Command
	Status    wire.Status
	Received  time.Time
}

// Channel 双传输通道：同一命令/状态载荷可经 LIN 链路或 CAN 广播收发
type Channel struct {
	link *lin.Transport
	can  Broadcast
	opts Options
	log  *zap.Logger
	m    *metrics.AppMetrics

	breakers map[Transport]*Breaker
	limiter  *StatusLimiter
	inbox    chan Inbound

	lastRx    atomic.Int64
	startOnce sync.Once
	wg        sync.WaitGroup
}

// NewChannel 创建通道；link 或 can 为 nil 表示该传输未配置
func NewChannel(link *lin.Transport, can Broadcast, opts Options, log *zap.Logger, m *metrics.AppMetrics) *Channel {
	if log == nil {
		log = zap.NewNop()
	}
	opts = opts.normalize()
	return &Channel{
		link: link,
		can:  can,
		opts: opts,
		log:  log,
		m:    m,
		breakers: map[Transport]*Breaker{
			TransportLink:      NewBreaker(opts.BreakerThreshold, opts.BreakerCooldown),
			TransportBroadcast: NewBreaker(opts.BreakerThreshold, opts.BreakerCooldown),
		},
		limiter: NewStatusLimiter(opts.StatusRate, opts.StatusBurst),
		inbox:   make(chan Inbound, opts.InboxSize),
	}
}

// Has 传输是否已配置
func (c *Channel) Has(t Transport) bool {
	switch t {
	case TransportLink:
		return c.link != nil
	case TransportBroadcast:
		return c.can != nil
	default:
		return false
	}
}

// Transports 已配置的传输
func (c *Channel) Transports() []Transport {
	var out []Transport
	for _, t := range []Transport{TransportLink, TransportBroadcast} {
		if c.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

// send 单次发送
func (c *Channel) send(t Transport, kind Kind, payload []byte) error {
	switch t {
	case TransportLink:
		if c.link == nil {
			return fmt.Errorf("%w: %s", ErrTransportUnavailable, t)
		}
		id := c.opts.IDs.LinkCommand
		if kind == KindStatus {
			id = c.opts.IDs.LinkStatus
		}
		return c.link.Send(id, payload)
	case TransportBroadcast:
		if c.can == nil {
			return fmt.Errorf("%w: %s", ErrTransportUnavailable, t)
		}
		id := c.opts.IDs.BroadcastCommand
		if kind == KindStatus {
			id = c.opts.IDs.BroadcastStatus
		}
		if err := c.can.Send(id, payload); err != nil {
			return err
		}
		if c.m != nil {
			c.m.BroadcastFramesTotal.WithLabelValues("tx").Inc()
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrTransportUnavailable, t)
	}
}

// SendCommand 发送命令；失败按固定间隔重试，耗尽后返回 ErrSendFailure
func (c *Channel) SendCommand(ctx context.Context, t Transport, cmd wire.Command) error {
	payload := cmd.Encode()
	var last error
	for attempt := 1; attempt <= c.opts.RetryMax; attempt++ {
		if attempt > 1 {
			if c.m != nil {
				c.m.SendRetriesTotal.WithLabelValues(t.String()).Inc()
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %s: %w", ErrSendFailure, t, ctx.Err())
			case <-time.After(c.opts.RetryBackoff):
			}
		}
		last = c.send(t, KindCommand, payload)
		if last == nil {
			c.log.Debug("command sent",
				zap.String("transport", t.String()),
				zap.Stringer("group", cmd.Group),
				zap.Int("attempt", attempt))
			return nil
		}
		c.log.Warn("command send failed",
			zap.String("transport", t.String()),
			zap.Int("attempt", attempt),
			zap.Int("max", c.opts.RetryMax),
			zap.Error(last))
		if errors.Is(last, ErrTransportUnavailable) {
			break
		}
	}
	if c.m != nil {
		c.m.SendFailuresTotal.WithLabelValues(t.String(), KindCommand.String()).Inc()
	}
	return fmt.Errorf("%w: %s: %w", ErrSendFailure, t, last)
}

// SendStatus 单次发送状态帧，受限流与熔断保护；失败由调用方记录后跳过
func (c *Channel) SendStatus(_ context.Context, t Transport, st wire.Status) error {
	if !c.limiter.Allow() {
		c.observeStatus("throttled")
		return ErrThrottled
	}
	br, ok := c.breakers[t]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTransportUnavailable, t)
	}
	err := br.Call(func() error { return c.send(t, KindStatus, st.Encode()) })
	switch {
	case err == nil:
		c.observeStatus("ok")
	case errors.Is(err, ErrCircuitOpen):
		c.observeStatus("open")
	default:
		c.observeStatus("error")
		if c.m != nil {
			c.m.SendFailuresTotal.WithLabelValues(t.String(), KindStatus.String()).Inc()
		}
	}
	return err
}

func (c *Channel) observeStatus(result string) {
	if c.m != nil {
		c.m.StatusSentTotal.WithLabelValues(result).Inc()
	}
}

// Start 为每个已配置的传输启动接收泵
func (c *Channel) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		if c.link != nil {
			c.wg.Add(1)
			go c.pumpLink(ctx)
		}
		if c.can != nil {
			c.wg.Add(1)
			go c.pumpBroadcast(ctx)
		}
	})
}

// Wait 等待接收泵退出
func (c *Channel) Wait() { c.wg.Wait() }

// Receive 取下一条入站消息，最多等待 timeout
func (c *Channel) Receive(ctx context.Context, timeout time.Duration) (Inbound, bool) {
	select {
	case in := <-c.inbox:
		return in, true
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case in := <-c.inbox:
		return in, true
	case <-timer.C:
		return Inbound{}, false
	case <-ctx.Done():
		return Inbound{}, false
	}
}

// LastReceived 最近一次收到有效帧的时间
func (c *Channel) LastReceived() time.Time {
	ns := c.lastRx.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Stats 通道统计
func (c *Channel) Stats() ChannelStats {
	s := ChannelStats{Limiter: c.limiter.Stats(), Breakers: map[string]BreakerStats{}}
	for _, t := range c.Transports() {
		s.Breakers[t.String()] = c.breakers[t].Stats()
	}
	return s
}

// ChannelStats 通道统计信息
type ChannelStats struct {
	Limiter  LimiterStats            `json:"limiter"`
	Breakers map[string]BreakerStats `json:"breakers"`
}

func (c *Channel) pumpLink(ctx context.Context) {
	defer c.wg.Done()
	log := c.log.With(zap.String("transport", TransportLink.String()))
	for ctx.Err() == nil {
		r, ok := c.link.Poll(c.opts.PollInterval)
		if !ok {
			continue
		}
		if r.Err != nil {
			if errors.Is(r.Err, io.EOF) || errors.Is(r.Err, lin.ErrPortClosed) {
				log.Info("link closed, pump exiting")
				return
			}
			result := linkErrorLabel(r.Err)
			if c.m != nil {
				c.m.LinkFramesTotal.WithLabelValues(result).Inc()
			}
			log.Warn("link frame dropped", zap.String("result", result), zap.Binary("raw", r.Raw), zap.Error(r.Err))
			if result == "io" {
				sleepCtx(ctx, c.opts.PollInterval)
			}
			continue
		}
		if c.m != nil {
			c.m.LinkFramesTotal.WithLabelValues("ok").Inc()
		}
		c.dispatch(ctx, log, TransportLink, uint32(r.Frame.ID), r.Frame.Data)
	}
}

func (c *Channel) pumpBroadcast(ctx context.Context) {
	defer c.wg.Done()
	log := c.log.With(zap.String("transport", TransportBroadcast.String()))
	for ctx.Err() == nil {
		f, ok, err := c.can.Receive(c.opts.PollInterval)
		if err != nil {
			if errors.Is(err, ErrBusClosed) {
				log.Info("broadcast closed, pump exiting")
				return
			}
			log.Warn("broadcast receive failed", zap.Error(err))
			sleepCtx(ctx, c.opts.PollInterval)
			continue
		}
		if !ok {
			continue
		}
		if c.m != nil {
			c.m.BroadcastFramesTotal.WithLabelValues("rx").Inc()
		}
		c.dispatch(ctx, log, TransportBroadcast, f.ID, f.Data)
	}
}

// dispatch 按帧 ID 解码为命令或状态并投递；解码错误记录后丢弃
func (c *Channel) dispatch(ctx context.Context, log *zap.Logger, t Transport, id uint32, data []byte) {
	cmdID, stID := c.ids(t)
	in := Inbound{Transport: t, Received: time.Now()}
	switch id {
	case cmdID:
		cmd, err := wire.DecodeCommand(data)
		if err != nil {
			if c.m != nil {
				c.m.CommandsTotal.WithLabelValues("bus", "invalid").Inc()
			}
			log.Warn("invalid command dropped", zap.Binary("payload", data), zap.Error(err))
			return
		}
		in.Kind, in.Command = KindCommand, cmd
	case stID:
		st, err := wire.DecodeStatus(data)
		if err != nil {
			log.Warn("invalid status dropped", zap.Binary("payload", data), zap.Error(err))
			return
		}
		in.Kind, in.Status = KindStatus, st
	default:
		log.Debug("frame ignored", zap.Uint32("id", id))
		return
	}
	c.lastRx.Store(in.Received.UnixNano())
	select {
	case c.inbox <- in:
	case <-ctx.Done():
	}
}

func (c *Channel) ids(t Transport) (cmd, status uint32) {
	if t == TransportLink {
		return uint32(c.opts.IDs.LinkCommand), uint32(c.opts.IDs.LinkStatus)
	}
	return c.opts.IDs.BroadcastCommand, c.opts.IDs.BroadcastStatus
}

func linkErrorLabel(err error) string {
	switch {
	case errors.Is(err, lin.ErrSync):
		return "sync"
	case errors.Is(err, lin.ErrParity):
		return "parity"
	case errors.Is(err, lin.ErrChecksum):
		return "checksum"
	case errors.Is(err, lin.ErrFrame):
		return "frame"
	default:
		return "io"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

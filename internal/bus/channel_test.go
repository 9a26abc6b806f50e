package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taoyao-code/wiperlink/internal/protocol/lin"
	"github.com/taoyao-code/wiperlink/internal/protocol/wire"
)

func fastOpts() Options {
	return Options{RetryMax: 3, RetryBackoff: time.Millisecond, PollInterval: 5 * time.Millisecond}
}

// pair 构造两个经 LIN 管道与 CAN 回环互联的通道
func pair(t *testing.T) (*Channel, *Channel, *LoopbackEndpoint, *LoopbackEndpoint) {
	t.Helper()
	pa, pb := lin.Pipe()
	hub := NewLoopback()
	ea, eb := hub.Endpoint(), hub.Endpoint()
	a := NewChannel(lin.NewTransport(pa, lin.TransportOptions{}), ea, fastOpts(), zap.NewNop(), nil)
	b := NewChannel(lin.NewTransport(pb, lin.TransportOptions{}), eb, fastOpts(), zap.NewNop(), nil)
	t.Cleanup(func() {
		_ = pa.Close()
		_ = ea.Close()
		_ = eb.Close()
	})
	return a, b, ea, eb
}

func TestChannel_CommandBothTransports(t *testing.T) {
	a, b, _, _ := pair(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	cmd := wire.Command{Group: wire.GroupBoth, Speed: wire.SpeedFast, Cycles: 2}

	for _, tr := range []Transport{TransportLink, TransportBroadcast} {
		t.Run(tr.String(), func(t *testing.T) {
			require.NoError(t, a.SendCommand(ctx, tr, cmd))
			in, ok := b.Receive(ctx, time.Second)
			require.True(t, ok)
			assert.Equal(t, tr, in.Transport)
			assert.Equal(t, KindCommand, in.Kind)
			assert.Equal(t, wire.GroupBoth, in.Command.Group)
			assert.Equal(t, wire.SpeedFast, in.Command.Speed)
			assert.Equal(t, uint8(2), in.Command.Cycles)
		})
	}
	assert.False(t, b.LastReceived().IsZero())
}

func TestChannel_Status(t *testing.T) {
	a, b, _, _ := pair(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	st := wire.Status{Operational: true, Speed: wire.SpeedNormal, Position: 67, Mode: wire.ModeManual}
	require.NoError(t, a.SendStatus(ctx, TransportBroadcast, st))
	in, ok := b.Receive(ctx, time.Second)
	require.True(t, ok)
	assert.Equal(t, KindStatus, in.Kind)
	assert.Equal(t, st, in.Status)
}

func TestChannel_SendRetry(t *testing.T) {
	a, _, ea, _ := pair(t)
	ctx := context.Background()
	boom := errors.New("tx error")

	t.Run("重试后成功", func(t *testing.T) {
		ea.FailNext(2, boom)
		require.NoError(t, a.SendCommand(ctx, TransportBroadcast, wire.StopCommand()))
	})

	t.Run("重试耗尽返回ErrSendFailure", func(t *testing.T) {
		ea.FailNext(3, boom)
		err := a.SendCommand(ctx, TransportBroadcast, wire.StopCommand())
		assert.ErrorIs(t, err, ErrSendFailure)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("未配置的传输不重试", func(t *testing.T) {
		c := NewChannel(nil, nil, fastOpts(), zap.NewNop(), nil)
		err := c.SendCommand(ctx, TransportLink, wire.StopCommand())
		assert.ErrorIs(t, err, ErrSendFailure)
		assert.ErrorIs(t, err, ErrTransportUnavailable)
	})

	t.Run("上下文取消中止等待", func(t *testing.T) {
		c := NewChannel(nil, ea, Options{RetryMax: 5, RetryBackoff: time.Hour}, zap.NewNop(), nil)
		ea.FailNext(5, boom)
		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		err := c.SendCommand(cctx, TransportBroadcast, wire.StopCommand())
		assert.ErrorIs(t, err, ErrSendFailure)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		ea.FailNext(0, nil)
	})
}

func TestChannel_StatusGuard(t *testing.T) {
	hub := NewLoopback()
	ep := hub.Endpoint()
	defer ep.Close()
	ctx := context.Background()

	t.Run("限流", func(t *testing.T) {
		c := NewChannel(nil, ep, Options{StatusRate: 1, StatusBurst: 1}, zap.NewNop(), nil)
		require.NoError(t, c.SendStatus(ctx, TransportBroadcast, wire.Status{}))
		assert.ErrorIs(t, c.SendStatus(ctx, TransportBroadcast, wire.Status{}), ErrThrottled)
	})

	t.Run("熔断", func(t *testing.T) {
		c := NewChannel(nil, ep, Options{BreakerThreshold: 2, BreakerCooldown: time.Hour}, zap.NewNop(), nil)
		ep.FailNext(2, errors.New("bus off"))
		assert.Error(t, c.SendStatus(ctx, TransportBroadcast, wire.Status{}))
		assert.Error(t, c.SendStatus(ctx, TransportBroadcast, wire.Status{}))
		assert.ErrorIs(t, c.SendStatus(ctx, TransportBroadcast, wire.Status{}), ErrCircuitOpen)
		assert.Equal(t, BreakerOpen, c.Stats().Breakers["can"].State)
	})
}

func TestChannel_DropsBadFrames(t *testing.T) {
	pa, pb := lin.Pipe()
	defer pa.Close()
	b := NewChannel(lin.NewTransport(pb, lin.TransportOptions{}), nil, fastOpts(), zap.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	good, err := lin.Encode(0x20, wire.Command{Group: wire.GroupFront}.Encode())
	require.NoError(t, err)
	badChecksum := append([]byte(nil), good...)
	badChecksum[len(badChecksum)-1] ^= 0x01
	invalidCmd, err := lin.Encode(0x20, []byte{9, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)

	require.NoError(t, pa.WriteRaw(badChecksum))
	require.NoError(t, pa.WriteRaw(invalidCmd))
	require.NoError(t, pa.WriteRaw(good))

	in, ok := b.Receive(ctx, time.Second)
	require.True(t, ok)
	assert.Equal(t, wire.GroupFront, in.Command.Group)

	_, ok = b.Receive(ctx, 30*time.Millisecond)
	assert.False(t, ok)
}

func TestChannel_PumpExitsOnClose(t *testing.T) {
	pa, pb := lin.Pipe()
	hub := NewLoopback()
	ep := hub.Endpoint()
	c := NewChannel(lin.NewTransport(pb, lin.TransportOptions{}), ep, fastOpts(), zap.NewNop(), nil)
	c.Start(context.Background())

	require.NoError(t, pa.Close())
	require.NoError(t, ep.Close())

	done := make(chan struct{})
	go func() { c.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("接收泵未退出")
	}
}

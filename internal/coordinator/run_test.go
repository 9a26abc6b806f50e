package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taoyao-code/wiperlink/internal/actuator"
	"github.com/taoyao-code/wiperlink/internal/bus"
	"github.com/taoyao-code/wiperlink/internal/protocol/lin"
	"github.com/taoyao-code/wiperlink/internal/protocol/wire"
)

func TestRun_MasterSlave(t *testing.T) {
	hub := bus.NewLoopback()
	mep, sep := hub.Endpoint(), hub.Endpoint()
	pa, pb := lin.Pipe()
	t.Cleanup(func() {
		_ = pa.Close()
		_ = mep.Close()
		_ = sep.Close()
	})
	chOpts := bus.Options{RetryMax: 2, RetryBackoff: time.Millisecond, PollInterval: 5 * time.Millisecond}
	mch := bus.NewChannel(lin.NewTransport(pa, lin.TransportOptions{}), mep, chOpts, zap.NewNop(), nil)
	sch := bus.NewChannel(lin.NewTransport(pb, lin.TransportOptions{}), sep, chOpts, zap.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mch.Start(ctx)
	sch.Start(ctx)

	mopts := testOptions()
	mopts.Layout = nil
	mopts.Forward = true
	mopts.Transports = []bus.Transport{bus.TransportLink, bus.TransportBroadcast}
	master := New(mopts, nil, mch, nil, zap.NewNop(), nil)

	sopts := testOptions()
	sopts.Transports = []bus.Transport{bus.TransportLink, bus.TransportBroadcast}
	sopts.StatusInterval = 20 * time.Millisecond
	driver := actuator.NewSimDriver(sopts.Layout, nil)
	slave := New(sopts, driver, sch, nil, zap.NewNop(), nil)

	errs := make(chan error, 2)
	go func() { errs <- master.Run(ctx, mch) }()
	go func() { errs <- slave.Run(ctx, sch) }()

	t.Run("经CAN下发", func(t *testing.T) {
		_, err := master.Submit(ctx, bus.TransportBroadcast, wire.Command{Group: wire.GroupFront, Cycles: 1})
		require.NoError(t, err)
		require.Eventually(t, func() bool { return len(driver.Events("front")) == 6 }, 2*time.Second, 5*time.Millisecond)
	})

	t.Run("经LIN下发", func(t *testing.T) {
		_, err := master.Submit(ctx, bus.TransportLink, wire.Command{Group: wire.GroupBack, Speed: wire.SpeedFast, Cycles: 1})
		require.NoError(t, err)
		require.Eventually(t, func() bool { return len(driver.Events("back")) == 6 }, 2*time.Second, 5*time.Millisecond)
	})

	t.Run("主节点记录两条总线上的从节点状态", func(t *testing.T) {
		require.Eventually(t, func() bool { return len(master.Remote()) == 2 }, 2*time.Second, 5*time.Millisecond)
		for _, rs := range master.Remote() {
			assert.Equal(t, wire.ModeManual, rs.Status.Mode)
			assert.True(t, rs.Status.Operational)
		}
	})

	all, err := master.Pending().List(ctx, PendingStateCompleted, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	cancel()
	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("Run did not return")
		}
	}
	waitIdle(t, slave, time.Second)
	assert.True(t, driver.AllOff())
}

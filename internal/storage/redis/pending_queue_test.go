package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/wiperlink/internal/bus"
	"github.com/taoyao-code/wiperlink/internal/coordinator"
	"github.com/taoyao-code/wiperlink/internal/protocol/wire"
)

// 需要本地 Redis（localhost:6379，DB 15），不可用时跳过
func setupQueue(t *testing.T) *PendingQueue {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		t.Skipf("Redis不可用，跳过测试: %v", err)
	}
	prefix := fmt.Sprintf("wipertest:%s", uuid.NewString())
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := rdb.Keys(ctx, prefix+":*").Result()
		if len(keys) > 0 {
			_ = rdb.Del(ctx, keys...).Err()
		}
		_ = rdb.Close()
	})
	return NewPendingQueue(Wrap(rdb), prefix, time.Minute, 2)
}

func newPending(group wire.Group) *coordinator.PendingCommand {
	now := time.Now()
	return &coordinator.PendingCommand{
		ID:        uuid.NewString(),
		Transport: bus.TransportBroadcast,
		Command:   wire.Command{Group: group, Speed: wire.SpeedFast, Cycles: 2, Period: 800 * time.Millisecond},
		State:     coordinator.PendingStatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestPendingQueue(t *testing.T) {
	q := setupQueue(t)
	ctx := context.Background()

	a, b, c := newPending(wire.GroupFront), newPending(wire.GroupBack), newPending(wire.GroupBoth)
	for _, pc := range []*coordinator.PendingCommand{a, b, c} {
		require.NoError(t, q.Enqueue(ctx, pc))
	}

	t.Run("按入队顺序取出", func(t *testing.T) {
		next, err := q.Next(ctx)
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, a.ID, next.ID)
		assert.Equal(t, bus.TransportBroadcast, next.Transport)
		assert.Equal(t, a.Command, next.Command)
	})

	t.Run("完成后出队并进入历史", func(t *testing.T) {
		require.NoError(t, q.Update(ctx, a.ID, coordinator.PendingStateCompleted, ""))
		next, err := q.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, b.ID, next.ID)

		done, err := q.List(ctx, coordinator.PendingStateCompleted, 0)
		require.NoError(t, err)
		require.Len(t, done, 1)
		assert.Equal(t, a.ID, done[0].ID)
	})

	t.Run("终态不可覆盖", func(t *testing.T) {
		require.NoError(t, q.Update(ctx, a.ID, coordinator.PendingStateFailed, "late"))
		got, err := q.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, coordinator.PendingStateCompleted, got.State)
	})

	t.Run("批量取代", func(t *testing.T) {
		n, err := q.SupersedeAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		next, err := q.Next(ctx)
		require.NoError(t, err)
		assert.Nil(t, next)

		got, err := q.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, coordinator.PendingStateSuperseded, got.State)
	})

	t.Run("历史按上限裁剪", func(t *testing.T) {
		stats, err := q.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), stats["pending"])
		assert.Equal(t, int64(2), stats["history"])
	})

	t.Run("不存在的命令", func(t *testing.T) {
		_, err := q.Get(ctx, "missing")
		assert.ErrorIs(t, err, coordinator.ErrPendingNotFound)
	})
}

func TestPendingQueue_WithCoordinator(t *testing.T) {
	q := setupQueue(t)
	ctx := context.Background()
	c := coordinator.New(coordinator.Options{}, nil, nil, q, nil, nil)

	pc, err := c.Submit(ctx, bus.TransportLink, wire.Command{Group: wire.GroupFront, Cycles: 1})
	require.NoError(t, err)
	n, err := c.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := q.Get(ctx, pc.ID)
	require.NoError(t, err)
	assert.Equal(t, coordinator.PendingStateCompleted, got.State)
}

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taoyao-code/wiperlink/internal/coordinator"
)

// PendingQueue Redis 持久化的手动命令队列
//
//	<prefix>:pending     Sorted Set，按入队序号排序的待处理ID
//	<prefix>:cmd:<id>    String，命令 JSON（带 TTL）
//	<prefix>:history     List，终态ID，最新在前
//	<prefix>:seq         入队序号
type PendingQueue struct {
	client       *Client
	prefix       string
	ttl          time.Duration
	historyLimit int64
	now          func() time.Time
}

// NewPendingQueue 创建队列
func NewPendingQueue(client *Client, prefix string, ttl time.Duration, historyLimit int) *PendingQueue {
	if prefix == "" {
		prefix = "wiper"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if historyLimit <= 0 {
		historyLimit = 1000
	}
	return &PendingQueue{
		client:       client,
		prefix:       prefix,
		ttl:          ttl,
		historyLimit: int64(historyLimit),
		now:          time.Now,
	}
}

var _ coordinator.PendingQueue = (*PendingQueue)(nil)

func (q *PendingQueue) pendingKey() string      { return q.prefix + ":pending" }
func (q *PendingQueue) historyKey() string      { return q.prefix + ":history" }
func (q *PendingQueue) seqKey() string          { return q.prefix + ":seq" }
func (q *PendingQueue) cmdKey(id string) string { return q.prefix + ":cmd:" + id }

// Enqueue 写入命令并加入待处理集合
func (q *PendingQueue) Enqueue(ctx context.Context, pc *coordinator.PendingCommand) error {
	data, err := json.Marshal(pc)
	if err != nil {
		return fmt.Errorf("marshal pending command: %w", err)
	}
	seq, err := q.client.Incr(ctx, q.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.cmdKey(pc.ID), data, q.ttl)
		pipe.ZAdd(ctx, q.pendingKey(), redis.Z{Score: float64(seq), Member: pc.ID})
		return nil
	})
	return err
}

// Next 最早的待处理命令；命令体已过期的ID顺带清理
func (q *PendingQueue) Next(ctx context.Context) (*coordinator.PendingCommand, error) {
	for {
		ids, err := q.client.ZRange(ctx, q.pendingKey(), 0, 0).Result()
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, nil
		}
		pc, err := q.Get(ctx, ids[0])
		if errors.Is(err, coordinator.ErrPendingNotFound) {
			if err := q.client.ZRem(ctx, q.pendingKey(), ids[0]).Err(); err != nil {
				return nil, err
			}
			continue
		}
		return pc, err
	}
}

// Update 设置状态；单进程内由协调器串行调用
func (q *PendingQueue) Update(ctx context.Context, id string, state coordinator.PendingState, errMsg string) error {
	pc, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if pc.State.Terminal() {
		return nil
	}
	pc.State = state
	pc.Error = errMsg
	pc.UpdatedAt = q.now()
	data, err := json.Marshal(pc)
	if err != nil {
		return fmt.Errorf("marshal pending command: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.cmdKey(id), data, q.ttl)
		if state.Terminal() {
			pipe.ZRem(ctx, q.pendingKey(), id)
			pipe.LPush(ctx, q.historyKey(), id)
			pipe.LTrim(ctx, q.historyKey(), 0, q.historyLimit-1)
		}
		return nil
	})
	return err
}

// SupersedeAll 将全部待处理命令标记为 superseded
func (q *PendingQueue) SupersedeAll(ctx context.Context) (int, error) {
	ids, err := q.client.ZRange(ctx, q.pendingKey(), 0, -1).Result()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		err := q.Update(ctx, id, coordinator.PendingStateSuperseded, coordinator.ErrSuperseded.Error())
		if errors.Is(err, coordinator.ErrPendingNotFound) {
			_ = q.client.ZRem(ctx, q.pendingKey(), id).Err()
			continue
		}
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Get 按ID读取
func (q *PendingQueue) Get(ctx context.Context, id string) (*coordinator.PendingCommand, error) {
	data, err := q.client.Get(ctx, q.cmdKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, coordinator.ErrPendingNotFound
	}
	if err != nil {
		return nil, err
	}
	var pc coordinator.PendingCommand
	if err := json.Unmarshal(data, &pc); err != nil {
		return nil, fmt.Errorf("unmarshal pending command: %w", err)
	}
	return &pc, nil
}

// List 待处理在前，终态按时间倒序
func (q *PendingQueue) List(ctx context.Context, state coordinator.PendingState, limit int) ([]*coordinator.PendingCommand, error) {
	pending, err := q.client.ZRange(ctx, q.pendingKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	history, err := q.client.LRange(ctx, q.historyKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	ids := append(pending, history...)
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = q.cmdKey(id)
	}
	vals, err := q.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var out []*coordinator.PendingCommand
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var pc coordinator.PendingCommand
		if err := json.Unmarshal([]byte(s), &pc); err != nil {
			continue
		}
		if state != "" && pc.State != state {
			continue
		}
		out = append(out, &pc)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Stats 队列统计
func (q *PendingQueue) Stats(ctx context.Context) (map[string]int64, error) {
	pending, err := q.client.ZCard(ctx, q.pendingKey()).Result()
	if err != nil {
		return nil, err
	}
	history, err := q.client.LLen(ctx, q.historyKey()).Result()
	if err != nil {
		return nil, err
	}
	return map[string]int64{"pending": pending, "history": history}, nil
}

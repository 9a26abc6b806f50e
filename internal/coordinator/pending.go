package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/taoyao-code/wiperlink/internal/bus"
	"github.com/taoyao-code/wiperlink/internal/protocol/wire"
)

// PendingState 待处理命令状态
type PendingState string

const (
	PendingStatePending    PendingState = "pending"
	PendingStateCompleted  PendingState = "completed"
	PendingStateFailed     PendingState = "failed"
	PendingStateSuperseded PendingState = "superseded"
)

// Terminal 是否为终态
func (s PendingState) Terminal() bool {
	return s == PendingStateCompleted || s == PendingStateFailed || s == PendingStateSuperseded
}

// PendingCommand 一条手动命令及其处理结果
type PendingCommand struct {
	ID        string        `json:"id"`
	Transport bus.Transport `json:"transport"`
	Command   wire.Command  `json:"command"`
	State     PendingState  `json:"state"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// PendingQueue 手动命令队列，按到达顺序处理
type PendingQueue interface {
	Enqueue(ctx context.Context, pc *PendingCommand) error
	// Next 返回最早的待处理命令但不移除；没有时返回 nil
	Next(ctx context.Context) (*PendingCommand, error)
	// Update 设置终态；已是终态的命令不再改变
	Update(ctx context.Context, id string, state PendingState, errMsg string) error
	SupersedeAll(ctx context.Context) (int, error)
	Get(ctx context.Context, id string) (*PendingCommand, error)
	// List 按状态列出；state 为空时返回全部（待处理在前）
	List(ctx context.Context, state PendingState, limit int) ([]*PendingCommand, error)
}

// MemoryQueue 进程内队列
type MemoryQueue struct {
	mu      sync.Mutex
	items   map[string]*PendingCommand
	order   []string // 待处理，FIFO
	history []string // 终态，最新在前
	keep    int
	now     func() time.Time
}

// NewMemoryQueue 创建进程内队列；keep 为保留的终态条数
func NewMemoryQueue(keep int) *MemoryQueue {
	if keep <= 0 {
		keep = 1000
	}
	return &MemoryQueue{items: make(map[string]*PendingCommand), keep: keep, now: time.Now}
}

func (q *MemoryQueue) Enqueue(_ context.Context, pc *PendingCommand) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	cp := *pc
	q.items[cp.ID] = &cp
	q.order = append(q.order, cp.ID)
	return nil
}

func (q *MemoryQueue) Next(_ context.Context) (*PendingCommand, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.order) == 0 {
		return nil, nil
	}
	cp := *q.items[q.order[0]]
	return &cp, nil
}

func (q *MemoryQueue) Update(_ context.Context, id string, state PendingState, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.updateLocked(id, state, errMsg)
}

func (q *MemoryQueue) updateLocked(id string, state PendingState, errMsg string) error {
	pc, ok := q.items[id]
	if !ok {
		return ErrPendingNotFound
	}
	if pc.State.Terminal() {
		return nil
	}
	pc.State = state
	pc.Error = errMsg
	pc.UpdatedAt = q.now()
	if !state.Terminal() {
		return nil
	}
	for i, oid := range q.order {
		if oid == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	q.history = append([]string{id}, q.history...)
	if len(q.history) > q.keep {
		for _, old := range q.history[q.keep:] {
			delete(q.items, old)
		}
		q.history = q.history[:q.keep]
	}
	return nil
}

func (q *MemoryQueue) SupersedeAll(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := append([]string(nil), q.order...)
	for _, id := range ids {
		if err := q.updateLocked(id, PendingStateSuperseded, ErrSuperseded.Error()); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

func (q *MemoryQueue) Get(_ context.Context, id string) (*PendingCommand, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	pc, ok := q.items[id]
	if !ok {
		return nil, ErrPendingNotFound
	}
	cp := *pc
	return &cp, nil
}

func (q *MemoryQueue) List(_ context.Context, state PendingState, limit int) ([]*PendingCommand, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*PendingCommand
	for _, id := range append(append([]string(nil), q.order...), q.history...) {
		pc := q.items[id]
		if state != "" && pc.State != state {
			continue
		}
		cp := *pc
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

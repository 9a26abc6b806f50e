package actuator

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Driver 输出驱动边界：点亮/熄灭某组的第 index 个元素
type Driver interface {
	Set(group string, index int, on bool) error
}

// Event 一次输出变化
type Event struct {
	Group string
	Index int
	On    bool
	At    time.Time
}

// SimDriver 仿真驱动：记录每次输出与当前电平
type SimDriver struct {
	mu     sync.Mutex
	state  map[string][]bool
	events []Event
	fail   map[string]error
	log    *zap.Logger
}

// NewSimDriver 按布局创建仿真驱动
func NewSimDriver(layout *Layout, log *zap.Logger) *SimDriver {
	if log == nil {
		log = zap.NewNop()
	}
	d := &SimDriver{
		state: make(map[string][]bool),
		fail:  make(map[string]error),
		log:   log,
	}
	if layout != nil {
		for _, g := range layout.Groups {
			d.state[g.Name] = make([]bool, g.Elements)
		}
	}
	return d
}

func failKey(group string, index int) string {
	return fmt.Sprintf("%s/%d", group, index)
}

// FailOn 让指定元素的输出返回 err；err 为 nil 时清除
func (d *SimDriver) FailOn(group string, index int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.fail, failKey(group, index))
		return
	}
	d.fail[failKey(group, index)] = err
}

func (d *SimDriver) Set(group string, index int, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.state[group]
	if !ok || index < 0 || index >= len(st) {
		return fmt.Errorf("actuator: %s[%d] out of range", group, index)
	}
	if err := d.fail[failKey(group, index)]; err != nil {
		return err
	}
	st[index] = on
	d.events = append(d.events, Event{Group: group, Index: index, On: on, At: time.Now()})
	d.log.Debug("output", zap.String("group", group), zap.Int("index", index), zap.Bool("on", on))
	return nil
}

// State 某组当前电平快照
func (d *SimDriver) State(group string) []bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]bool(nil), d.state[group]...)
}

// AllOff 所有元素是否熄灭
func (d *SimDriver) AllOff() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, st := range d.state {
		for _, on := range st {
			if on {
				return false
			}
		}
	}
	return true
}

// Events 输出事件快照；group 为空时返回全部
func (d *SimDriver) Events(group string) []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Event, 0, len(d.events))
	for _, e := range d.events {
		if group == "" || e.Group == group {
			out = append(out, e)
		}
	}
	return out
}

// Reset 清空事件记录
func (d *SimDriver) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = nil
}

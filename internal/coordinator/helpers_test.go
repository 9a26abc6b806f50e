package coordinator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/wiperlink/internal/actuator"
	"github.com/taoyao-code/wiperlink/internal/bus"
	"github.com/taoyao-code/wiperlink/internal/protocol/wire"
)

type sentCommand struct {
	T   bus.Transport
	Cmd wire.Command
}

// fakeSender 记录下发的命令与状态
type fakeSender struct {
	mu       sync.Mutex
	commands []sentCommand
	statuses []wire.Status
	cmdErr   error
}

func (f *fakeSender) SendCommand(_ context.Context, t bus.Transport, cmd wire.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cmdErr != nil {
		return fmt.Errorf("%w: %w", bus.ErrSendFailure, f.cmdErr)
	}
	f.commands = append(f.commands, sentCommand{T: t, Cmd: cmd})
	return nil
}

func (f *fakeSender) SendStatus(_ context.Context, _ bus.Transport, st wire.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, st)
	return nil
}

func (f *fakeSender) failCommands(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmdErr = err
}

func (f *fakeSender) sentCommands() []sentCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCommand(nil), f.commands...)
}

func (f *fakeSender) statusCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.statuses)
}

func (f *fakeSender) lastStatus() (wire.Status, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return wire.Status{}, false
	}
	return f.statuses[len(f.statuses)-1], true
}

// stepLog 收集 OnStep 回调
type stepLog struct {
	mu    sync.Mutex
	steps []Step
}

func (l *stepLog) add(s Step) {
	l.mu.Lock()
	l.steps = append(l.steps, s)
	l.mu.Unlock()
}

func (l *stepLog) of(group string) []Step {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Step
	for _, s := range l.steps {
		if s.Group == group {
			out = append(out, s)
		}
	}
	return out
}

// testOptions 缩短时间常数的默认参数
func testOptions() Options {
	return Options{
		Layout:            actuator.DefaultLayout(),
		Transports:        []bus.Transport{bus.TransportLink},
		DefaultTransport:  bus.TransportLink,
		NormalPeriod:      30 * time.Millisecond,
		FastPeriod:        15 * time.Millisecond,
		IntermittentPause: 20 * time.Millisecond,
		JoinTimeout:       500 * time.Millisecond,
		StatusInterval:    time.Hour,
		ReceiveTimeout:    10 * time.Millisecond,
		PendingInterval:   10 * time.Millisecond,
	}
}

func newTestCoordinator(t *testing.T, opts Options, driver actuator.Driver, tx Sender) *Coordinator {
	t.Helper()
	c := New(opts, driver, tx, nil, zap.NewNop(), nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return c
}

func waitIdle(t *testing.T, c *Coordinator, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for c.ActiveWorkers() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("workers still active: %d", c.ActiveWorkers())
		}
		time.Sleep(2 * time.Millisecond)
	}
}

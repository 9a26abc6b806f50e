package lin

import (
	"fmt"
	"sync"
	"time"
)

// Result 一次轮询的输出：有效帧或带类型的解码错误
type Result struct {
	Frame *Frame
	Err   error
	Raw   []byte // 出错时的原始缓冲（便于日志）
}

// LengthFunc 按帧ID返回期望的数据区长度（LIN 帧本身不携带长度）
type LengthFunc func(id uint8) int

// FixedLength 所有ID使用同一数据长度
func FixedLength(n int) LengthFunc {
	return func(uint8) int { return n }
}

type parseState int

const (
	stateIdle       parseState = iota // 等待 break
	stateAwaitSync                    // 已收到 break，等待 0x55
	stateAwaitPID                     // 等待受保护ID
	stateAccumulate                   // 累积数据区与校验和
)

func (s parseState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateAwaitSync:
		return "awaiting_sync"
	case stateAwaitPID:
		return "awaiting_pid"
	case stateAccumulate:
		return "accumulating"
	default:
		return "unknown"
	}
}

// TransportOptions 链路传输参数
type TransportOptions struct {
	Length           LengthFunc    // 帧长表，默认 8
	ResyncBytes      int           // 连续多少字节未见 break 时上报同步错误
	InterByteTimeout time.Duration // 帧内字节间隔上限
	Now              func() time.Time
}

func (o TransportOptions) normalize() TransportOptions {
	if o.Length == nil {
		o.Length = FixedLength(MaxDataLen)
	}
	if o.ResyncBytes <= 0 {
		o.ResyncBytes = 3 * MaxFrameLen
	}
	if o.InterByteTimeout <= 0 {
		o.InterByteTimeout = 50 * time.Millisecond
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Transport 字节流 -> 链路帧
// 状态机：Idle → AwaitingSync → AwaitingPID → Accumulating → 完成/丢弃
type Transport struct {
	port Port
	opts TransportOptions

	mu       sync.Mutex // 串行化 Poll
	st       parseState
	buf      []byte
	want     int
	noise    int // Idle 下连续丢弃的字节数
	lastByte time.Time
	pending  []byte
	rbuf     [64]byte

	wmu sync.Mutex // 串行化写入
}

// NewTransport 创建链路传输
func NewTransport(port Port, opts TransportOptions) *Transport {
	return &Transport{
		port: port,
		opts: opts.normalize(),
		buf:  make([]byte, 0, MaxFrameLen),
	}
}

// Send 编码并写出一帧
func (t *Transport) Send(id uint8, data []byte) error {
	raw, err := Encode(id, data)
	if err != nil {
		return err
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()
	return t.port.WriteFrame(raw)
}

// Poll 在 timeout 内尝试产出一个结果；没有完整帧时返回 false，不会无限阻塞
func (t *Transport) Poll(timeout time.Duration) (Result, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	deadline := t.opts.Now().Add(timeout)
	for {
		for len(t.pending) > 0 {
			b := t.pending[0]
			t.pending = t.pending[1:]
			if r, ok := t.feed(b); ok {
				return r, true
			}
		}

		now := t.opts.Now()
		if t.st != stateIdle && now.Sub(t.lastByte) > t.opts.InterByteTimeout {
			// 调用方轮询迟到时，已在端口中等待的字节仍属于本帧
			n, err := t.readNow()
			if err != nil {
				return Result{Err: err}, true
			}
			if n > 0 {
				continue
			}
			raw := t.discard()
			return Result{Err: fmt.Errorf("%w: inter-byte timeout", ErrFrame), Raw: raw}, true
		}

		remaining := deadline.Sub(now)
		if remaining <= 0 {
			return Result{}, false
		}
		wait := remaining
		if t.st != stateIdle && t.opts.InterByteTimeout < wait {
			wait = t.opts.InterByteTimeout
		}
		if err := t.port.SetReadTimeout(wait); err != nil {
			return Result{Err: fmt.Errorf("set read timeout: %w", err)}, true
		}
		n, err := t.port.Read(t.rbuf[:])
		if err != nil {
			return Result{Err: err}, true
		}
		if n > 0 {
			t.pending = append(t.pending, t.rbuf[:n]...)
		}
	}
}

// readNow 非阻塞读取端口中已到达的字节
func (t *Transport) readNow() (int, error) {
	if err := t.port.SetReadTimeout(0); err != nil {
		return 0, fmt.Errorf("set read timeout: %w", err)
	}
	n, err := t.port.Read(t.rbuf[:])
	if err != nil {
		return 0, err
	}
	t.pending = append(t.pending, t.rbuf[:n]...)
	return n, nil
}

// State 当前解析状态（调试用）
func (t *Transport) State() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st.String()
}

// feed 消费一个字节
func (t *Transport) feed(b byte) (Result, bool) {
	t.lastByte = t.opts.Now()

	switch t.st {
	case stateIdle:
		if b != BreakByte {
			t.noise++
			if t.noise > t.opts.ResyncBytes {
				t.noise = 0
				return Result{Err: fmt.Errorf("%w: no break within %d bytes", ErrSync, t.opts.ResyncBytes)}, true
			}
			return Result{}, false
		}
		t.noise = 0
		t.buf = append(t.buf[:0], b)
		t.st = stateAwaitSync

	case stateAwaitSync:
		switch b {
		case SyncByte:
			t.buf = append(t.buf, b)
			t.st = stateAwaitPID
		case BreakByte:
			// 连续 break，视为新的帧起点
			t.buf = append(t.buf[:0], b)
		default:
			t.buf = append(t.buf, b)
			raw := t.discard()
			return Result{Err: fmt.Errorf("%w: got 0x%02X after break", ErrSync, b), Raw: raw}, true
		}

	case stateAwaitPID:
		t.buf = append(t.buf, b)
		id, err := ParseID(b)
		if err != nil {
			raw := t.discard()
			return Result{Err: err, Raw: raw}, true
		}
		n := t.opts.Length(id)
		if n < 0 || n > MaxDataLen {
			raw := t.discard()
			return Result{Err: fmt.Errorf("%w: no length for id 0x%02X", ErrFrame, id), Raw: raw}, true
		}
		t.want = HeaderLen + n + 1
		t.st = stateAccumulate

	case stateAccumulate:
		t.buf = append(t.buf, b)
		if len(t.buf) < t.want {
			return Result{}, false
		}
		n := t.want - HeaderLen - 1
		raw := t.discard()
		f, err := DecodeLen(raw, n)
		if err != nil {
			return Result{Err: err, Raw: raw}, true
		}
		return Result{Frame: f}, true
	}
	return Result{}, false
}

// discard 丢弃当前缓冲并回到 Idle，返回被丢弃内容的拷贝
func (t *Transport) discard() []byte {
	raw := make([]byte, len(t.buf))
	copy(raw, t.buf)
	t.buf = t.buf[:0]
	t.want = 0
	t.st = stateIdle
	return raw
}

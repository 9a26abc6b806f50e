package bus

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

const (
	// MaxStandardID 11 位标准帧 ID 上限
	MaxStandardID = 0x7FF
	// MaxCANData 经典 CAN 数据长度上限
	MaxCANData = 8

	canFrameSize = 16 // struct can_frame
	canEFFFlag   = 0x80000000
	canRTRFlag   = 0x40000000
	canERRFlag   = 0x20000000
)

// CANFrame 广播帧：11 位 ID + 0..8 字节数据，无完整性层
type CANFrame struct {
	ID   uint32
	Data []byte
}

// Validate 检查 ID 与长度
func (f CANFrame) Validate() error {
	if f.ID > MaxStandardID {
		return fmt.Errorf("%w: id 0x%X exceeds 11 bits", ErrInvalidFrame, f.ID)
	}
	if len(f.Data) > MaxCANData {
		return fmt.Errorf("%w: %d data bytes", ErrInvalidFrame, len(f.Data))
	}
	return nil
}

// Broadcast 广播总线原语
type Broadcast interface {
	Send(id uint32, data []byte) error
	// Receive 最多等待 timeout；无帧时返回 ok=false
	Receive(timeout time.Duration) (frame CANFrame, ok bool, err error)
	Close() error
}

// marshalCANFrame 编码为 Linux SocketCAN can_frame 布局
//
//	0..3 can_id | 4 len | 5..7 pad | 8..15 data
func marshalCANFrame(f CANFrame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, canFrameSize)
	binary.LittleEndian.PutUint32(buf[0:4], f.ID)
	buf[4] = byte(len(f.Data))
	copy(buf[8:], f.Data)
	return buf, nil
}

// unmarshalCANFrame 解码 can_frame；扩展帧、远程帧与错误帧返回 ok=false
func unmarshalCANFrame(buf []byte) (CANFrame, bool, error) {
	if len(buf) != canFrameSize {
		return CANFrame{}, false, fmt.Errorf("%w: short can_frame (%d bytes)", ErrInvalidFrame, len(buf))
	}
	raw := binary.LittleEndian.Uint32(buf[0:4])
	if raw&(canEFFFlag|canRTRFlag|canERRFlag) != 0 {
		return CANFrame{}, false, nil
	}
	n := int(buf[4])
	if n > MaxCANData {
		return CANFrame{}, false, fmt.Errorf("%w: dlc %d", ErrInvalidFrame, n)
	}
	data := make([]byte, n)
	copy(data, buf[8:8+n])
	return CANFrame{ID: raw & MaxStandardID, Data: data}, true, nil
}

// LoopbackHub 内存广播总线：任一端点发送的帧投递给其他所有端点
type LoopbackHub struct {
	mu        sync.RWMutex
	endpoints []*LoopbackEndpoint
}

// NewLoopback 创建内存广播总线
func NewLoopback() *LoopbackHub {
	return &LoopbackHub{}
}

// Endpoint 挂接新端点
func (h *LoopbackHub) Endpoint() *LoopbackEndpoint {
	ep := &LoopbackEndpoint{
		hub:  h,
		rx:   make(chan CANFrame, 256),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.endpoints = append(h.endpoints, ep)
	h.mu.Unlock()
	return ep
}

func (h *LoopbackHub) deliver(from *LoopbackEndpoint, f CANFrame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ep := range h.endpoints {
		if ep == from {
			continue
		}
		select {
		case <-ep.done:
		case ep.rx <- f:
		default:
			// 接收端积压，按总线语义丢帧
		}
	}
}

// LoopbackEndpoint 内存总线端点，实现 Broadcast
type LoopbackEndpoint struct {
	hub  *LoopbackHub
	rx   chan CANFrame
	done chan struct{}
	once sync.Once

	mu       sync.Mutex
	failNext int
	failErr  error
	sent     int
}

// FailNext 让接下来 n 次发送返回 err（故障注入）
func (e *LoopbackEndpoint) FailNext(n int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failNext = n
	e.failErr = err
}

// Sent 成功发送的帧数
func (e *LoopbackEndpoint) Sent() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sent
}

func (e *LoopbackEndpoint) Send(id uint32, data []byte) error {
	f := CANFrame{ID: id, Data: append([]byte(nil), data...)}
	if err := f.Validate(); err != nil {
		return err
	}
	select {
	case <-e.done:
		return ErrBusClosed
	default:
	}
	e.mu.Lock()
	if e.failNext > 0 {
		e.failNext--
		err := e.failErr
		e.mu.Unlock()
		return err
	}
	e.sent++
	e.mu.Unlock()
	e.hub.deliver(e, f)
	return nil
}

func (e *LoopbackEndpoint) Receive(timeout time.Duration) (CANFrame, bool, error) {
	select {
	case f := <-e.rx:
		return f, true, nil
	case <-e.done:
		return CANFrame{}, false, ErrBusClosed
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-e.rx:
		return f, true, nil
	case <-e.done:
		return CANFrame{}, false, ErrBusClosed
	case <-timer.C:
		return CANFrame{}, false, nil
	}
}

func (e *LoopbackEndpoint) Close() error {
	e.once.Do(func() { close(e.done) })
	return nil
}

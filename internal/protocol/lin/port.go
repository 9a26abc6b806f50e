package lin

import (
	"errors"
	"io"
	"sync"
	"time"
)

// Port 链路字节原语：带超时读、整帧写（break 由实现负责生成）
type Port interface {
	Read(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	WriteFrame(raw []byte) error
	Close() error
}

// ErrPortClosed 端口已关闭
var ErrPortClosed = errors.New("lin: port closed")

// Pipe 返回一对内存互联端口，一端写出的字节可在另一端读到
func Pipe() (*PipePort, *PipePort) {
	ab := make(chan []byte, 256)
	ba := make(chan []byte, 256)
	done := make(chan struct{})
	once := &sync.Once{}
	a := &PipePort{rx: ba, tx: ab, done: done, once: once}
	b := &PipePort{rx: ab, tx: ba, done: done, once: once}
	return a, b
}

// PipePort 内存端口（仿真与测试）
type PipePort struct {
	rx   chan []byte
	tx   chan []byte
	done chan struct{}
	once *sync.Once

	mu       sync.Mutex
	leftover []byte
	timeout  time.Duration
}

// SetReadTimeout 设置读超时；<=0 表示非阻塞
func (p *PipePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	p.timeout = t
	p.mu.Unlock()
	return nil
}

// Read 超时返回 (0, nil)，与串口语义一致
func (p *PipePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.leftover) == 0 {
		var chunk []byte
		if p.timeout <= 0 {
			select {
			case chunk = <-p.rx:
			case <-p.done:
				return 0, io.EOF
			default:
				return 0, nil
			}
		} else {
			timer := time.NewTimer(p.timeout)
			defer timer.Stop()
			select {
			case chunk = <-p.rx:
			case <-p.done:
				return 0, io.EOF
			case <-timer.C:
				return 0, nil
			}
		}
		p.leftover = chunk
	}
	n := copy(b, p.leftover)
	p.leftover = p.leftover[n:]
	return n, nil
}

// WriteFrame 写出原始字节
func (p *PipePort) WriteFrame(raw []byte) error {
	return p.WriteRaw(raw)
}

// WriteRaw 写出任意字节（测试中用于注入噪声）
func (p *PipePort) WriteRaw(raw []byte) error {
	chunk := make([]byte, len(raw))
	copy(chunk, raw)
	select {
	case <-p.done:
		return ErrPortClosed
	default:
	}
	select {
	case p.tx <- chunk:
		return nil
	case <-p.done:
		return ErrPortClosed
	}
}

// Close 关闭两端
func (p *PipePort) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

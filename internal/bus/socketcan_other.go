//go:build !linux

package bus

import (
	"errors"
	"time"
)

// SocketCAN 仅在 Linux 上可用
type SocketCAN struct{}

// OpenSocketCAN 非 Linux 平台不支持
func OpenSocketCAN(ifname string) (*SocketCAN, error) {
	return nil, errors.New("socketcan: not supported on this platform")
}

func (s *SocketCAN) Send(id uint32, data []byte) error { return ErrBusClosed }

func (s *SocketCAN) Receive(timeout time.Duration) (CANFrame, bool, error) {
	return CANFrame{}, false, ErrBusClosed
}

func (s *SocketCAN) Close() error { return nil }

//go:build linux

package bus

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// SocketCAN 基于 Linux 原始 CAN 套接字的广播原语
type SocketCAN struct {
	fd     int
	ifname string
	closed atomic.Bool
}

// OpenSocketCAN 打开并绑定 CAN 接口（如 can0、vcan0）
func OpenSocketCAN(ifname string) (*SocketCAN, error) {
	iface, err := net.InterfaceByName(ifname)
	if err != nil {
		return nil, fmt.Errorf("socketcan: interface %s: %w", ifname, err)
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socketcan: socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: iface.Index}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("socketcan: bind %s: %w", ifname, err)
	}
	return &SocketCAN{fd: fd, ifname: ifname}, nil
}

func (s *SocketCAN) Send(id uint32, data []byte) error {
	if s.closed.Load() {
		return ErrBusClosed
	}
	buf, err := marshalCANFrame(CANFrame{ID: id, Data: data})
	if err != nil {
		return err
	}
	n, err := unix.Write(s.fd, buf)
	if err != nil {
		return fmt.Errorf("socketcan: write %s: %w", s.ifname, err)
	}
	if n != canFrameSize {
		return fmt.Errorf("socketcan: short write %d", n)
	}
	return nil
}

func (s *SocketCAN) Receive(timeout time.Duration) (CANFrame, bool, error) {
	if s.closed.Load() {
		return CANFrame{}, false, ErrBusClosed
	}
	// SO_RCVTIMEO 为 0 表示永久阻塞
	if timeout < time.Millisecond {
		timeout = time.Millisecond
	}
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(s.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return CANFrame{}, false, fmt.Errorf("socketcan: set timeout: %w", err)
	}
	buf := make([]byte, canFrameSize)
	n, err := unix.Read(s.fd, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR) {
			return CANFrame{}, false, nil
		}
		if s.closed.Load() {
			return CANFrame{}, false, ErrBusClosed
		}
		return CANFrame{}, false, fmt.Errorf("socketcan: read %s: %w", s.ifname, err)
	}
	return unmarshalCANFrame(buf[:n])
}

func (s *SocketCAN) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return unix.Close(s.fd)
}

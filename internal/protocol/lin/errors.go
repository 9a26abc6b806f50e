package lin

import "errors"

var (
	// ErrSync 未找到有效的 break/sync 序列
	ErrSync = errors.New("lin: sync error")
	// ErrParity 受保护ID奇偶校验失败
	ErrParity = errors.New("lin: parity error")
	// ErrChecksum 经典校验和不匹配
	ErrChecksum = errors.New("lin: checksum error")
	// ErrFrame 长度或结构异常
	ErrFrame = errors.New("lin: frame error")
)

package bus

import "errors"

var (
	// ErrSendFailure 按重试策略发送仍失败
	ErrSendFailure = errors.New("bus: send failure")
	// ErrTransportUnavailable 请求的传输未配置
	ErrTransportUnavailable = errors.New("bus: transport unavailable")
	// ErrThrottled 状态帧被限流丢弃
	ErrThrottled = errors.New("bus: status throttled")
	// ErrCircuitOpen 状态发送熔断中
	ErrCircuitOpen = errors.New("bus: circuit open")
	// ErrInvalidFrame CAN 帧 ID 或长度越界
	ErrInvalidFrame = errors.New("bus: invalid frame")
	// ErrBusClosed 广播端点已关闭
	ErrBusClosed = errors.New("bus: closed")
)

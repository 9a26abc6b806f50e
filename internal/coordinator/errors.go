package coordinator

import "errors"

var (
	// ErrCancellationTimeout worker 未在 JoinTimeout 内退出（致命）
	ErrCancellationTimeout = errors.New("coordinator: cancellation timeout")
	// ErrStopNotConfirmed 停止命令重试耗尽（致命）
	ErrStopNotConfirmed = errors.New("coordinator: stop not confirmed")
	// ErrSuperseded 自动模式下手动命令被取代
	ErrSuperseded = errors.New("coordinator: superseded by automatic mode")
	// ErrModeDebounced 距上次模式切换不足最小驻留时间
	ErrModeDebounced = errors.New("coordinator: mode switch debounced")
	// ErrFailed 协调器已进入失败状态，拒绝后续操作
	ErrFailed = errors.New("coordinator: failed")
	// ErrPendingNotFound 待处理命令不存在
	ErrPendingNotFound = errors.New("coordinator: pending command not found")
)

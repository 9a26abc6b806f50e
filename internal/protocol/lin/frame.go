package lin

import (
	"bytes"
	"fmt"
)

const (
	// BreakByte break 标记（低波特率下发送的 0x00）
	BreakByte byte = 0x00
	// SyncByte 同步字节
	SyncByte byte = 0x55
	// MaxDataLen 单帧最大数据长度
	MaxDataLen = 8
	// HeaderLen break + sync + pid
	HeaderLen = 3
	// MaxFrameLen 最大完整帧长度（含校验和）
	MaxFrameLen = HeaderLen + MaxDataLen + 1
)

// Frame LIN 链路帧
// 格式：break(1) + sync(1) + pid(1) + data(0..8) + checksum(1)
type Frame struct {
	ID       uint8
	PID      uint8
	Data     []byte
	Checksum uint8
}

// Equal 比较ID与数据区
func (f *Frame) Equal(other *Frame) bool {
	if f == nil || other == nil {
		return f == other
	}
	return f.ID == other.ID && bytes.Equal(f.Data, other.Data)
}

// Encode 构造一帧完整链路字节序列（与 Decode 对应）
func Encode(id uint8, data []byte) ([]byte, error) {
	if id > MaxID {
		return nil, fmt.Errorf("%w: id 0x%02X exceeds 6 bits", ErrFrame, id)
	}
	if len(data) > MaxDataLen {
		return nil, fmt.Errorf("%w: data length %d exceeds %d", ErrFrame, len(data), MaxDataLen)
	}
	pid := PID(id)
	buf := make([]byte, 0, HeaderLen+len(data)+1)
	buf = append(buf, BreakByte, SyncByte, pid)
	buf = append(buf, data...)
	buf = append(buf, Checksum(pid, data))
	return buf, nil
}

// Decode 解析一帧（严格校验：break/sync、奇偶、校验和）
// 数据区长度由整帧长度推导
func Decode(raw []byte) (*Frame, error) {
	if len(raw) < HeaderLen+1 {
		return nil, fmt.Errorf("%w: short frame (%d bytes)", ErrFrame, len(raw))
	}
	return DecodeLen(raw, len(raw)-HeaderLen-1)
}

// DecodeLen 按期望数据长度解析一帧
func DecodeLen(raw []byte, dataLen int) (*Frame, error) {
	if dataLen < 0 || dataLen > MaxDataLen {
		return nil, fmt.Errorf("%w: bad data length %d", ErrFrame, dataLen)
	}
	if len(raw) >= 2 && (raw[0] != BreakByte || raw[1] != SyncByte) {
		return nil, ErrSync
	}
	want := HeaderLen + dataLen + 1
	if len(raw) < want {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrFrame, want, len(raw))
	}
	if len(raw) > want {
		return nil, fmt.Errorf("%w: trailing %d bytes", ErrFrame, len(raw)-want)
	}

	pid := raw[2]
	id, err := ParseID(pid)
	if err != nil {
		return nil, err
	}
	data := make([]byte, dataLen)
	copy(data, raw[HeaderLen:HeaderLen+dataLen])
	sum := raw[want-1]
	if err := VerifyChecksum(pid, data, sum); err != nil {
		return nil, err
	}
	return &Frame{ID: id, PID: pid, Data: data, Checksum: sum}, nil
}

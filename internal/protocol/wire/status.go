package wire

import (
	"errors"
	"fmt"
)

// ErrBadStatus 状态载荷长度异常
var ErrBadStatus = errors.New("bad status payload")

// Mode 运行模式（状态字节3）
type Mode uint8

const (
	ModeManual    Mode = 1
	ModeAutomatic Mode = 2
)

func (m Mode) String() string {
	switch m {
	case ModeManual:
		return "manual"
	case ModeAutomatic:
		return "automatic"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Status 状态载荷
// 布局：operational | speed | position(0..100) | mode | consumedPower | blocked | blockageReason | hwError
type Status struct {
	Operational    bool  `json:"operational"`
	Speed          Speed `json:"speed"`
	Position       uint8 `json:"position"`
	Mode           Mode  `json:"mode"`
	ConsumedPower  uint8 `json:"consumed_power"`
	Blocked        bool  `json:"blocked"`
	BlockageReason uint8 `json:"blockage_reason"`
	HWError        bool  `json:"hw_error"`
}

func flag(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// Encode 编码为 8 字节
func (s Status) Encode() []byte {
	pos := s.Position
	if pos > 100 {
		pos = 100
	}
	return []byte{
		flag(s.Operational),
		byte(s.Speed),
		pos,
		byte(s.Mode),
		s.ConsumedPower,
		flag(s.Blocked),
		s.BlockageReason,
		flag(s.HWError),
	}
}

// DecodeStatus 解码状态载荷
func DecodeStatus(p []byte) (Status, error) {
	if len(p) != PayloadLen {
		return Status{}, fmt.Errorf("%w: length %d", ErrBadStatus, len(p))
	}
	return Status{
		Operational:    p[0] != 0,
		Speed:          Speed(p[1]),
		Position:       p[2],
		Mode:           Mode(p[3]),
		ConsumedPower:  p[4],
		Blocked:        p[5] != 0,
		BlockageReason: p[6],
		HWError:        p[7] != 0,
	}, nil
}

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PayloadLen 命令与状态载荷固定长度
const PayloadLen = 8

// ErrInvalidCommand 命令字段超出定义范围
var ErrInvalidCommand = errors.New("invalid command")

// Group 执行器组选择字
type Group uint8

const (
	GroupStop  Group = 0
	GroupFront Group = 1
	GroupBack  Group = 2
	GroupBoth  Group = 3
)

func (g Group) String() string {
	switch g {
	case GroupStop:
		return "stop"
	case GroupFront:
		return "front"
	case GroupBack:
		return "back"
	case GroupBoth:
		return "both"
	default:
		return fmt.Sprintf("group(%d)", uint8(g))
	}
}

// Names 返回选择字覆盖的组名
func (g Group) Names() []string {
	switch g {
	case GroupFront:
		return []string{"front"}
	case GroupBack:
		return []string{"back"}
	case GroupBoth:
		return []string{"front", "back"}
	default:
		return nil
	}
}

// ParseGroup 解析文本组名
func ParseGroup(s string) (Group, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stop":
		return GroupStop, nil
	case "front":
		return GroupFront, nil
	case "back":
		return GroupBack, nil
	case "both":
		return GroupBoth, nil
	}
	return 0, fmt.Errorf("%w: unknown group %q", ErrInvalidCommand, s)
}

// Speed 速度档位
type Speed uint8

const (
	SpeedUnset  Speed = 0
	SpeedNormal Speed = 1
	SpeedFast   Speed = 2
)

func (s Speed) String() string {
	switch s {
	case SpeedUnset:
		return "unset"
	case SpeedNormal:
		return "normal"
	case SpeedFast:
		return "fast"
	default:
		return fmt.Sprintf("speed(%d)", uint8(s))
	}
}

// ParseSpeed 解析文本档位，空串表示未指定
func ParseSpeed(s string) (Speed, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return SpeedUnset, nil
	case "normal":
		return SpeedNormal, nil
	case "fast":
		return SpeedFast, nil
	}
	return 0, fmt.Errorf("%w: unknown speed %q", ErrInvalidCommand, s)
}

// MaxCycles 有限循环次数上限（0 表示无限）
const MaxCycles = 5

// Field 标记载荷中实际携带的可选字段
type Field uint8

const (
	FieldSpeed Field = 1 << iota
	FieldIntermittent
	FieldPeriod
)

// Command 命令载荷
// 布局：group(1) | speed(1) | cycles(1) | intermittent(1) | periodMsLE(2) | reserved(2)
type Command struct {
	Group        Group         `json:"group"`
	Speed        Speed         `json:"speed"`
	Cycles       uint8         `json:"cycles"`
	Intermittent bool          `json:"intermittent"`
	Period       time.Duration `json:"period"`            // 单次扫动周期，0 表示按档位
	Present      Field         `json:"present,omitempty"` // 解码时置位：哪些可选字段非零
}

// StopCommand 显式停止（全零载荷）
func StopCommand() Command { return Command{} }

// IsStop 是否为显式停止
func (c Command) IsStop() bool { return c.Group == GroupStop }

// Has 可选字段是否在载荷中出现
func (c Command) Has(f Field) bool { return c.Present&f != 0 }

// Validate 校验枚举字段
func (c Command) Validate() error {
	if c.Group > GroupBoth {
		return fmt.Errorf("%w: group %d", ErrInvalidCommand, c.Group)
	}
	if c.Speed > SpeedFast {
		return fmt.Errorf("%w: speed %d", ErrInvalidCommand, c.Speed)
	}
	if c.Cycles > MaxCycles {
		return fmt.Errorf("%w: cycles %d", ErrInvalidCommand, c.Cycles)
	}
	if c.Period < 0 || c.Period/time.Millisecond > 0xFFFF {
		return fmt.Errorf("%w: period %v", ErrInvalidCommand, c.Period)
	}
	return nil
}

// Encode 编码为 8 字节载荷，缺省字段写 0
func (c Command) Encode() []byte {
	b := make([]byte, PayloadLen)
	b[0] = byte(c.Group)
	b[1] = byte(c.Speed)
	b[2] = c.Cycles
	if c.Intermittent {
		b[3] = 1
	}
	binary.LittleEndian.PutUint16(b[4:6], uint16(c.Period/time.Millisecond))
	return b
}

// DecodeCommand 宽松解码：0 值的可选字段视为未指定；不足 8 字节按 0 补齐
// 仅做结构解析，语义范围由 Validate 判定
func DecodeCommand(p []byte) (Command, error) {
	if len(p) > PayloadLen {
		return Command{}, fmt.Errorf("%w: payload length %d", ErrInvalidCommand, len(p))
	}
	var b [PayloadLen]byte
	copy(b[:], p)

	c := Command{
		Group:  Group(b[0]),
		Speed:  Speed(b[1]),
		Cycles: b[2],
	}
	if b[1] != 0 {
		c.Present |= FieldSpeed
	}
	if b[3] != 0 {
		c.Intermittent = true
		c.Present |= FieldIntermittent
	}
	if ms := binary.LittleEndian.Uint16(b[4:6]); ms != 0 {
		c.Period = time.Duration(ms) * time.Millisecond
		c.Present |= FieldPeriod
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

package bus

import (
	"fmt"
	"strings"
)

// Transport 传输标签，随命令与状态一起传递，从不根据载荷推断
type Transport uint8

const (
	TransportLink      Transport = iota + 1 // LIN 单线字节链路
	TransportBroadcast                      // CAN 广播总线
)

func (t Transport) String() string {
	switch t {
	case TransportLink:
		return "lin"
	case TransportBroadcast:
		return "can"
	default:
		return fmt.Sprintf("transport(%d)", uint8(t))
	}
}

// Valid 是否为已知传输
func (t Transport) Valid() bool {
	return t == TransportLink || t == TransportBroadcast
}

// ParseTransport 解析 "lin"/"can"（也接受 "link"/"broadcast"）
func ParseTransport(s string) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lin", "link":
		return TransportLink, nil
	case "can", "broadcast":
		return TransportBroadcast, nil
	}
	return 0, fmt.Errorf("%w: unknown transport %q", ErrTransportUnavailable, s)
}

// MarshalText 让 Transport 以文本形式出现在 JSON 中
func (t Transport) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid transport %d", uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText 解析文本形式的 Transport
func (t *Transport) UnmarshalText(b []byte) error {
	v, err := ParseTransport(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

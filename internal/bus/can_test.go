package bus

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCANFrame_MarshalLayout(t *testing.T) {
	buf, err := marshalCANFrame(CANFrame{ID: 0x101, Data: []byte{1, 2, 3}})
	require.NoError(t, err)
	require.Len(t, buf, canFrameSize)
	assert.Equal(t, []byte{0x01, 0x01, 0, 0}, buf[0:4])
	assert.Equal(t, byte(3), buf[4])
	assert.Equal(t, []byte{1, 2, 3, 0, 0, 0, 0, 0}, buf[8:])

	f, ok, err := unmarshalCANFrame(buf)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(0x101), f.ID)
	assert.Equal(t, []byte{1, 2, 3}, f.Data)
}

func TestCANFrame_Invalid(t *testing.T) {
	t.Run("ID超过11位", func(t *testing.T) {
		_, err := marshalCANFrame(CANFrame{ID: 0x800})
		assert.ErrorIs(t, err, ErrInvalidFrame)
	})
	t.Run("数据超过8字节", func(t *testing.T) {
		_, err := marshalCANFrame(CANFrame{ID: 1, Data: make([]byte, 9)})
		assert.ErrorIs(t, err, ErrInvalidFrame)
	})
	t.Run("扩展帧被忽略", func(t *testing.T) {
		buf := make([]byte, canFrameSize)
		buf[3] = 0x80
		_, ok, err := unmarshalCANFrame(buf)
		require.NoError(t, err)
		assert.False(t, ok)
	})
	t.Run("长度不足", func(t *testing.T) {
		_, _, err := unmarshalCANFrame(make([]byte, 8))
		assert.ErrorIs(t, err, ErrInvalidFrame)
	})
}

func TestLoopback(t *testing.T) {
	hub := NewLoopback()
	a, b, c := hub.Endpoint(), hub.Endpoint(), hub.Endpoint()

	require.NoError(t, a.Send(0x100, []byte{3, 1}))

	for _, ep := range []*LoopbackEndpoint{b, c} {
		f, ok, err := ep.Receive(100 * time.Millisecond)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, uint32(0x100), f.ID)
		assert.Equal(t, []byte{3, 1}, f.Data)
	}

	t.Run("发送方不会收到自己的帧", func(t *testing.T) {
		_, ok, err := a.Receive(10 * time.Millisecond)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("故障注入", func(t *testing.T) {
		boom := errors.New("boom")
		a.FailNext(2, boom)
		assert.ErrorIs(t, a.Send(0x100, nil), boom)
		assert.ErrorIs(t, a.Send(0x100, nil), boom)
		assert.NoError(t, a.Send(0x100, nil))
	})

	t.Run("关闭后返回ErrBusClosed", func(t *testing.T) {
		require.NoError(t, c.Close())
		_, _, err := c.Receive(10 * time.Millisecond)
		assert.ErrorIs(t, err, ErrBusClosed)
		assert.ErrorIs(t, c.Send(1, nil), ErrBusClosed)
	})
}

func TestParseTransport(t *testing.T) {
	tr, err := ParseTransport("lin")
	require.NoError(t, err)
	assert.Equal(t, TransportLink, tr)

	tr, err = ParseTransport(" CAN ")
	require.NoError(t, err)
	assert.Equal(t, TransportBroadcast, tr)

	_, err = ParseTransport("usb")
	assert.Error(t, err)

	b, err := TransportBroadcast.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "can", string(b))
}

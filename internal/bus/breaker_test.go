package bus

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreaker(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewBreaker(3, time.Second)
	b.now = func() time.Time { return now }
	fail := errors.New("write failed")

	t.Run("连续失败达到阈值后熔断", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			assert.ErrorIs(t, b.Call(func() error { return fail }), fail)
		}
		assert.Equal(t, BreakerOpen, b.State())

		called := false
		err := b.Call(func() error { called = true; return nil })
		assert.ErrorIs(t, err, ErrCircuitOpen)
		assert.False(t, called)
	})

	t.Run("冷却后半开试探失败重新熔断", func(t *testing.T) {
		now = now.Add(2 * time.Second)
		assert.ErrorIs(t, b.Call(func() error { return fail }), fail)
		assert.Equal(t, BreakerOpen, b.State())
	})

	t.Run("冷却后半开试探成功闭合", func(t *testing.T) {
		now = now.Add(2 * time.Second)
		assert.NoError(t, b.Call(func() error { return nil }))
		assert.Equal(t, BreakerClosed, b.State())
		assert.Equal(t, int64(2), b.Stats().TripCount)
	})

	t.Run("成功重置失败计数", func(t *testing.T) {
		_ = b.Call(func() error { return fail })
		_ = b.Call(func() error { return fail })
		_ = b.Call(func() error { return nil })
		_ = b.Call(func() error { return fail })
		assert.Equal(t, BreakerClosed, b.State())
	})
}

func TestBreakerStats_JSON(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	_ = b.Call(func() error { return errors.New("write failed") })

	st := b.Stats()
	assert.Equal(t, BreakerOpen, st.State)
	raw, err := json.Marshal(st)
	assert.NoError(t, err)
	assert.JSONEq(t, `{"state":"open","failures":1,"trip_count":1}`, string(raw))
}

func TestStatusLimiter(t *testing.T) {
	l := NewStatusLimiter(1, 2)
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
	assert.Equal(t, int64(1), l.Stats().RejectedTotal)

	unlimited := NewStatusLimiter(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, unlimited.Allow())
	}
}

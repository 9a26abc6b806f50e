package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/wiperlink/internal/bus"
	"github.com/taoyao-code/wiperlink/internal/coordinator"
)

// mockChecker 模拟检查器
type mockChecker struct {
	name   string
	status Status
}

func (m *mockChecker) Name() string { return m.name }

func (m *mockChecker) Check(context.Context) CheckResult {
	return CheckResult{Status: m.status, Message: "mock", Latency: time.Millisecond}
}

func TestAggregator(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		status []Status
		want   Status
		ready  bool
	}{
		{"全部健康", []Status{StatusHealthy, StatusHealthy}, StatusHealthy, true},
		{"部分降级", []Status{StatusHealthy, StatusDegraded}, StatusDegraded, true},
		{"部分不健康", []Status{StatusDegraded, StatusUnhealthy}, StatusUnhealthy, false},
		{"无检查器", nil, StatusHealthy, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := NewAggregator()
			for i, s := range tt.status {
				agg.AddChecker(&mockChecker{name: string(rune('a' + i)), status: s})
			}
			assert.Equal(t, tt.want, agg.OverallStatus(ctx))
			assert.Equal(t, tt.ready, agg.Ready(ctx))
			assert.Len(t, agg.CheckAll(ctx), len(tt.status))
		})
	}

	t.Run("Alive始终返回true", func(t *testing.T) {
		assert.True(t, NewAggregator().Alive())
	})
}

func TestReadiness(t *testing.T) {
	r := New()
	assert.False(t, r.Ready())
	r.SetBusReady(true)
	assert.False(t, r.Ready())
	r.SetLoopReady(true)
	assert.True(t, r.Ready())
}

type fakeBus struct {
	transports []bus.Transport
	last       time.Time
	stats      bus.ChannelStats
}

func (f *fakeBus) Transports() []bus.Transport { return f.transports }
func (f *fakeBus) LastReceived() time.Time     { return f.last }
func (f *fakeBus) Stats() bus.ChannelStats     { return f.stats }

func TestBusChecker(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	both := []bus.Transport{bus.TransportLink, bus.TransportBroadcast}
	tests := []struct {
		name    string
		probe   *fakeBus
		silence time.Duration
		want    Status
	}{
		{"无传输", &fakeBus{}, 0, StatusUnhealthy},
		{"不检查静默", &fakeBus{transports: both}, 0, StatusHealthy},
		{"近期有帧", &fakeBus{transports: both, last: now.Add(-time.Second)}, 5 * time.Second, StatusHealthy},
		{"静默超时", &fakeBus{transports: both, last: now.Add(-time.Minute)}, 5 * time.Second, StatusDegraded},
		{"从未收到", &fakeBus{transports: both}, 5 * time.Second, StatusDegraded},
		{"熔断打开", &fakeBus{transports: both, stats: bus.ChannelStats{
			Breakers: map[string]bus.BreakerStats{"can": {State: bus.BreakerOpen}},
		}}, 0, StatusDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewBusChecker(tt.probe, tt.silence)
			c.now = func() time.Time { return now }
			assert.Equal(t, tt.want, c.Check(context.Background()).Status)
		})
	}
}

type fakeCoordinator struct {
	err    error
	faults coordinator.Faults
}

func (f *fakeCoordinator) Err() error                 { return f.err }
func (f *fakeCoordinator) Mode() coordinator.Mode     { return coordinator.Manual }
func (f *fakeCoordinator) ActiveWorkers() int         { return 0 }
func (f *fakeCoordinator) Faults() coordinator.Faults { return f.faults }

func TestCoordinatorChecker(t *testing.T) {
	tests := []struct {
		name  string
		probe *fakeCoordinator
		want  Status
	}{
		{"正常", &fakeCoordinator{}, StatusHealthy},
		{"堵转", &fakeCoordinator{faults: coordinator.Faults{Blocked: true}}, StatusDegraded},
		{"硬件错误", &fakeCoordinator{faults: coordinator.Faults{HWError: true}}, StatusDegraded},
		{"协调器失败", &fakeCoordinator{err: errors.New("stop not confirmed")}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewCoordinatorChecker(tt.probe).Check(context.Background())
			assert.Equal(t, tt.want, res.Status)
			assert.Equal(t, "manual", res.Details["mode"])
		})
	}
}

func TestRegisterHTTPRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	serve := func(agg *Aggregator, path string) *httptest.ResponseRecorder {
		r := gin.New()
		RegisterHTTPRoutes(r, agg)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		return rr
	}

	t.Run("健康报告", func(t *testing.T) {
		rr := serve(NewAggregator(&mockChecker{"bus", StatusDegraded}), "/health")
		require.Equal(t, http.StatusOK, rr.Code)
		var report HealthReport
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
		assert.Equal(t, StatusDegraded, report.Status)
		assert.Contains(t, report.Checks, "bus")
	})

	t.Run("不健康返回503", func(t *testing.T) {
		agg := NewAggregator(&mockChecker{"coordinator", StatusUnhealthy})
		assert.Equal(t, http.StatusServiceUnavailable, serve(agg, "/health").Code)
		assert.Equal(t, http.StatusServiceUnavailable, serve(agg, "/health/ready").Code)
		assert.Equal(t, http.StatusOK, serve(agg, "/health/live").Code)
	})
}

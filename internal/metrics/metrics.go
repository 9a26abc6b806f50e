package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 自定义业务指标
type AppMetrics struct {
	LinkFramesTotal      *prometheus.CounterVec // labels: result=ok|sync|parity|checksum|frame|io
	BroadcastFramesTotal *prometheus.CounterVec // labels: direction=rx|tx
	CommandsTotal        *prometheus.CounterVec // labels: source=bus|api, result
	SendRetriesTotal     *prometheus.CounterVec // labels: transport
	SendFailuresTotal    *prometheus.CounterVec // labels: transport, kind=command|status
	StatusSentTotal      *prometheus.CounterVec // labels: result=ok|error|throttled
	StopAttemptsTotal    *prometheus.CounterVec // labels: result=ok|error
	SweepsTotal          *prometheus.CounterVec // labels: group
	ActiveWorkers        prometheus.Gauge       // 当前扫动中的 worker 数
	ModeGauge            prometheus.Gauge       // 1=manual 2=automatic
	CancelTimeoutsTotal  prometheus.Counter     // worker 未在安全时限内退出
}

// NewAppMetrics 注册并返回业务指标
func NewAppMetrics(reg prometheus.Registerer) *AppMetrics {
	m := &AppMetrics{
		LinkFramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "link_frames_total",
			Help: "LIN link frames received by decode result.",
		}, []string{"result"}),
		BroadcastFramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broadcast_frames_total",
			Help: "CAN broadcast frames by direction.",
		}, []string{"direction"}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commands_total",
			Help: "Commands handled by source and result.",
		}, []string{"source", "result"}),
		SendRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "send_retries_total",
			Help: "Command send retries by transport.",
		}, []string{"transport"}),
		SendFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "send_failures_total",
			Help: "Sends that failed after the retry policy.",
		}, []string{"transport", "kind"}),
		StatusSentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "status_sent_total",
			Help: "Status frames emitted by result.",
		}, []string{"result"}),
		StopAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stop_attempts_total",
			Help: "Confirmed-stop deliveries by result.",
		}, []string{"result"}),
		SweepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweeps_total",
			Help: "Completed forward+backward sweeps by group.",
		}, []string{"group"}),
		ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "active_workers",
			Help: "Sweep workers currently running.",
		}),
		ModeGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coordinator_mode",
			Help: "Current coordinator mode (1=manual, 2=automatic).",
		}),
		CancelTimeoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cancel_timeouts_total",
			Help: "Workers that did not stop within the join bound.",
		}),
	}
	reg.MustRegister(
		m.LinkFramesTotal, m.BroadcastFramesTotal, m.CommandsTotal, m.SendRetriesTotal,
		m.SendFailuresTotal, m.StatusSentTotal, m.StopAttemptsTotal, m.SweepsTotal,
		m.ActiveWorkers, m.ModeGauge, m.CancelTimeoutsTotal,
	)
	return m
}

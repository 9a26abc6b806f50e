package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/taoyao-code/wiperlink/internal/actuator"
	"github.com/taoyao-code/wiperlink/internal/api"
	"github.com/taoyao-code/wiperlink/internal/app"
	"github.com/taoyao-code/wiperlink/internal/bus"
	cfgpkg "github.com/taoyao-code/wiperlink/internal/config"
	"github.com/taoyao-code/wiperlink/internal/coordinator"
	"github.com/taoyao-code/wiperlink/internal/faults"
	"github.com/taoyao-code/wiperlink/internal/health"
	"github.com/taoyao-code/wiperlink/internal/httpserver"
	"github.com/taoyao-code/wiperlink/internal/metrics"
	redisstorage "github.com/taoyao-code/wiperlink/internal/storage/redis"
	"github.com/taoyao-code/wiperlink/internal/telemetry"
)

// shutdownTimeout 关机阶段（停止下发、HTTP 关闭）的总时限
const shutdownTimeout = 10 * time.Second

// App 一个节点（主或从）的全部组件
type App struct {
	cfg *cfgpkg.Config
	log *zap.Logger

	reg    *prometheus.Registry
	m      *metrics.AppMetrics
	ready  *health.Readiness
	agg    *health.Aggregator
	ch     *bus.Channel
	coord  *coordinator.Coordinator
	driver *actuator.SimDriver
	redis  *redisstorage.Client
	mqtt   *telemetry.MQTTPublisher
	http   *httpserver.Server
}

// Run 打开总线并运行到 ctx 结束或协调器失败
func Run(ctx context.Context, cfg *cfgpkg.Config, log *zap.Logger) error {
	log.Info("starting wiperd",
		zap.String("role", cfg.Node.Role),
		zap.Bool("link", cfg.Link.Enable),
		zap.Bool("can", cfg.CAN.Enable))

	buses, err := app.OpenBuses(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := buses.Close(); err != nil {
			log.Warn("close buses", zap.Error(err))
		}
	}()

	a, err := New(cfg, log, buses)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// New 在已打开的总线上组装节点
func New(cfg *cfgpkg.Config, log *zap.Logger, buses app.Buses) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, log: log, ready: health.New()}

	// ========== 阶段1: 指标与通道 ==========
	a.reg, a.m = app.NewMetrics()
	a.ch = app.NewChannel(cfg, buses, log, a.m)

	// ========== 阶段2: 布局与驱动 ==========
	layout, err := app.BuildLayout(cfg)
	if err != nil {
		return nil, err
	}
	var driver actuator.Driver
	if layout != nil {
		a.driver = actuator.NewSimDriver(layout, log.Named("driver"))
		driver = a.driver
	}

	// ========== 阶段3: 待处理队列（Redis 可选）==========
	a.redis, err = app.NewRedisClient(cfg.Redis, log)
	if err != nil {
		return nil, err
	}
	pending := app.NewPendingQueue(cfg.Redis, a.redis)

	// ========== 阶段4: 状态镜像（MQTT 可选，失败不阻断启动）==========
	opts, err := app.CoordinatorOptions(cfg, layout)
	if err != nil {
		a.close()
		return nil, err
	}
	if cfg.MQTT.Enable {
		pub, err := telemetry.NewMQTTPublisher(cfg.MQTT, cfg.App.Name, log.Named("mqtt"))
		if err != nil {
			log.Warn("mqtt publisher disabled", zap.Error(err))
		} else {
			a.mqtt = pub
			opts.Sinks = append(opts.Sinks, pub)
		}
	}

	// ========== 阶段5: 协调器 ==========
	a.coord = coordinator.New(opts, driver, a.ch, pending, log.Named("coordinator"), a.m)

	// ========== 阶段6: 健康检查与HTTP ==========
	a.agg = app.NewHealthAggregator(a.ch, a.coord, 0)
	app.AddRedisChecker(a.agg, a.redis)
	if cfg.HTTP.Enable {
		readyFn := func() bool { return a.ready.Ready() && a.agg.Ready(context.Background()) }
		var metricsHandler = metrics.Handler(a.reg)
		if !cfg.Metrics.Enable {
			metricsHandler = nil
		}
		a.http = app.NewHTTPServer(cfg.HTTP, cfg.Metrics.Path, metricsHandler, readyFn, log.Named("http"),
			func(r *gin.Engine) {
				api.RegisterRoutes(r, api.NewHandler(a.coord, a.ch, log.Named("api")), cfg.HTTP.Auth, cfg.HTTP.RateLimit, log)
				app.RegisterHealthRoutes(r, a.agg)
			})
	}
	return a, nil
}

// Coordinator 节点协调器
func (a *App) Coordinator() *coordinator.Coordinator { return a.coord }

// Driver 模拟输出驱动；主节点无本地执行器时为 nil
func (a *App) Driver() *actuator.SimDriver { return a.driver }

// Run 启动总线泵、故障监视、控制循环与 HTTP；返回后本地输出已全部关闭
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	g, gctx := errgroup.WithContext(ctx)

	a.ch.Start(gctx)
	a.ready.SetBusReady(true)

	if a.cfg.Faults.Enable {
		w := faults.NewWatcher(a.cfg.Faults.File, a.coord, a.log.Named("faults"))
		if err := w.Start(gctx); err != nil {
			a.log.Warn("faults watcher disabled", zap.Error(err))
		}
	}

	g.Go(func() error {
		a.ready.SetLoopReady(true)
		defer a.ready.SetLoopReady(false)
		return a.coord.Run(gctx, a.ch)
	})
	g.Go(func() error {
		select {
		case err := <-a.coord.Fatal():
			return fmt.Errorf("coordinator fatal: %w", err)
		case <-gctx.Done():
			return nil
		}
	})
	if a.http != nil {
		g.Go(a.http.Start)
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return a.http.Shutdown(sctx)
		})
	}

	a.log.Info("node ready", zap.String("role", a.cfg.Node.Role))
	err := g.Wait()
	if err != nil {
		a.log.Error("node stopping on error", zap.Error(err))
	} else {
		a.log.Info("received shutdown signal, gracefully shutting down...")
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := a.coord.Shutdown(sctx); serr != nil {
		a.log.Error("coordinator shutdown", zap.Error(serr))
		if !errors.Is(serr, bus.ErrSendFailure) {
			err = errors.Join(err, serr)
		}
	}
	a.ch.Wait()
	a.log.Info("shutdown complete")
	return err
}

func (a *App) close() {
	if a.mqtt != nil {
		a.mqtt.Close()
		a.mqtt = nil
	}
	if a.redis != nil {
		_ = a.redis.Close()
		a.redis = nil
	}
}

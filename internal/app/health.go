package app

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taoyao-code/wiperlink/internal/health"
	redisstorage "github.com/taoyao-code/wiperlink/internal/storage/redis"
)

// NewHealthAggregator 总线与协调器检查器
func NewHealthAggregator(busProbe health.BusProbe, coord health.CoordinatorProbe, silence time.Duration) *health.Aggregator {
	return health.NewAggregator(
		health.NewBusChecker(busProbe, silence),
		health.NewCoordinatorChecker(coord),
	)
}

// RegisterHealthRoutes 注册健康检查HTTP路由
func RegisterHealthRoutes(r *gin.Engine, aggregator *health.Aggregator) {
	health.RegisterHTTPRoutes(r, aggregator)
}

// AddRedisChecker 添加Redis检查器到聚合器
func AddRedisChecker(aggregator *health.Aggregator, redisClient *redisstorage.Client) {
	if redisClient != nil {
		aggregator.AddChecker(health.NewRedisChecker(redisClient))
	}
}

package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/wiperlink/internal/api/middleware"
)

// RegisterRoutes 注册控制面路由；写接口额外限流
func RegisterRoutes(r gin.IRouter, h *Handler, authCfg middleware.AuthConfig, rl middleware.RateLimitConfig, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	api := r.Group("/api")
	if authCfg.Enabled {
		api.Use(middleware.APIKeyAuth(authCfg, logger))
		logger.Info("api authentication enabled", zap.Int("api_keys_count", len(authCfg.APIKeys)))
	} else {
		logger.Warn("api authentication disabled")
	}

	api.GET("/status", h.GetStatus)
	api.GET("/commands", h.ListCommands)
	api.GET("/commands/:id", h.GetCommand)

	write := api.Group("", middleware.RateLimit(rl))
	write.POST("/commands", h.SubmitCommand)
	write.POST("/mode", h.SetMode)
	write.PUT("/faults", h.SetFaults)
}

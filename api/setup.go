package api

import (
	"jeesi/internal/metrics"
	"jeesi/internal/middleware"

	"github.com/gin-gonic/gin"
)

// SetupRouter 创建 Gin 引擎并注册中间件与路由
func SetupRouter(c *AppContainer) *gin.Engine {
	router := gin.New()

	router.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware(),
		RequestLogger(),
		metrics.PrometheusMiddleware(),
		CORS(),
	)

	RegisterRoutes(router, c)
	return router
}

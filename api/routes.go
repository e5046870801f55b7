package api

import (
	_ "jeesi/api/docs"
	"jeesi/internal/auth"
	"jeesi/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// RegisterRoutes 注册所有路由
func RegisterRoutes(r *gin.Engine, c *AppContainer) {
	// 运维端点
	r.GET("/health", HealthCheck())
	r.GET("/ready", ReadinessCheck(c.DB, c.Redis))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Swagger 文档
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 对话端点，预检请求由全局 CORS 中间件直接应答
	functions := r.Group(FunctionsPrefix)
	{
		functions.POST("/agent-chat",
			auth.OptionalSession(c.SessionVerifier),
			c.ChatHandler.AgentChat,
		)

		runtime := []gin.HandlerFunc{auth.RequireAPIKey(c.APIKeyService)}
		if c.RuntimeLimiter != nil {
			runtime = append(runtime, middleware.RateLimitMiddleware(c.RuntimeLimiter, apiKeyRateKey))
		}
		runtime = append(runtime, c.ChatHandler.AgentRuntime)

		functions.POST("/agent-runtime", runtime...)
	}

	// 控制台 API（需要会话）
	v1 := r.Group("/api/v1")
	v1.Use(auth.RequireSession(c.SessionVerifier))
	{
		v1.POST("/auth/logout", c.AuthHandler.Logout)

		keys := v1.Group("/api-keys")
		{
			keys.POST("", c.APIKeyHandler.CreateAPIKey)
			keys.GET("", c.APIKeyHandler.ListAPIKeys)
			keys.POST("/:id/revoke", c.APIKeyHandler.RevokeAPIKey)
		}

		v1.GET("/credits", c.CreditsHandler.GetBalance)
		v1.GET("/usage", c.CreditsHandler.ListUsage)

		agents := v1.Group("/agents")
		{
			agents.GET("", c.AgentHandler.ListAgents)
			agents.POST("", c.AgentHandler.CreateAgent)
			agents.GET("/:id", c.AgentHandler.GetAgent)
			agents.PUT("/:id", c.AgentHandler.UpdateAgent)
			agents.DELETE("/:id", c.AgentHandler.DeleteAgent)
			agents.POST("/:id/publish", c.AgentHandler.PublishAgent)
			agents.POST("/:id/unpublish", c.AgentHandler.UnpublishAgent)
		}
	}
}

// apiKeyRateKey 按 API Key 限流，RequireAPIKey 之后一定有身份
func apiKeyRateKey(c *gin.Context) string {
	if id, ok := auth.GetIdentity(c); ok && id.APIKeyID != "" {
		return "apikey:" + id.APIKeyID
	}
	return "ip:" + c.ClientIP()
}

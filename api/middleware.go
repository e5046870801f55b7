package api

import (
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"jeesi/internal/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// FunctionsPrefix 对话端点前缀，始终允许任意来源
const FunctionsPrefix = "/functions/v1"

// functionsAllowHeaders 对话端点预检允许的请求头
const functionsAllowHeaders = "authorization, x-client-info, apikey, content-type, x-api-key"

// RequestLogger 请求日志中间件
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		log := logger.WithContext(c.Request.Context())
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Warn("HTTP Request", fields...)
			return
		}
		log.Info("HTTP Request", fields...)
	}
}

// CORS 跨域中间件
// 对话端点始终返回通配来源；控制台接口可由 CORS_ALLOW_ORIGINS 收窄
func CORS() gin.HandlerFunc {
	allowedOrigins := getEnvList("CORS_ALLOW_ORIGINS")

	return func(c *gin.Context) {
		h := c.Writer.Header()

		if strings.HasPrefix(c.Request.URL.Path, FunctionsPrefix) {
			h.Set("Access-Control-Allow-Origin", "*")
			h.Set("Access-Control-Allow-Headers", functionsAllowHeaders)
			h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		} else {
			origin := c.GetHeader("Origin")
			switch {
			case len(allowedOrigins) == 0:
				h.Set("Access-Control-Allow-Origin", "*")
			case origin != "" && slices.Contains(allowedOrigins, origin):
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Accept, Origin, X-Request-ID")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		}
		h.Set("Access-Control-Max-Age", "600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// getEnvList 读取逗号分隔的环境变量列表
func getEnvList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var res []string
	for _, p := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(p); v != "" {
			res = append(res, v)
		}
	}
	return res
}

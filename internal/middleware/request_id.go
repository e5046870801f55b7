package middleware

import (
	"jeesi/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderRequestID 请求 ID 头
const HeaderRequestID = "X-Request-ID"

// requestIDKey Gin 上下文键
const requestIDKey = "request_id"

// maxRequestIDLen 上游传入的请求 ID 过长时重新生成
const maxRequestIDLen = 128

// RequestIDMiddleware 请求 ID 中间件
// 优先沿用上游传递的 X-Request-ID，并写入日志上下文与响应头
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" || len(requestID) > maxRequestIDLen {
			requestID = uuid.New().String()
		}

		c.Set(requestIDKey, requestID)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), requestID))
		c.Header(HeaderRequestID, requestID)

		c.Next()
	}
}

// GetRequestIDFromGin 从 Gin 上下文获取请求 ID
func GetRequestIDFromGin(c *gin.Context) string {
	if id, exists := c.Get(requestIDKey); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

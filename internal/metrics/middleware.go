package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// PrometheusMiddleware HTTP 请求指标中间件
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		path := normalizePath(c)
		status := strconv.Itoa(c.Writer.Status())

		APIRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		APIRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size >= 0 {
			APIResponseSize.WithLabelValues(c.Request.Method, path).Observe(float64(size))
		}
	}
}

// normalizePath 使用路由模板作为标签，未匹配路由统一归为 unmatched 防止标签爆炸
func normalizePath(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return "unmatched"
}

package api

import (
	"net/http"

	"jeesi/internal/infra"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// HealthCheck 存活检查
func HealthCheck() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "jeesi",
		})
	}
}

// ReadinessCheck 就绪检查，数据库不可用时返回 503
// Redis 未配置时视为就绪
func ReadinessCheck(db *gorm.DB, rdb redis.UniversalClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := infra.Ping(db); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not_ready",
				"reason": "database ping failed",
			})
			return
		}

		redisStatus := "disabled"
		if rdb != nil {
			if err := infra.PingRedis(c.Request.Context(), rdb); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status": "not_ready",
					"reason": "redis ping failed",
				})
				return
			}
			redisStatus = "connected"
		}

		c.JSON(http.StatusOK, gin.H{
			"status":   "ready",
			"database": "connected",
			"redis":    redisStatus,
		})
	}
}

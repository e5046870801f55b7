package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"jeesi/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitMessage 限流响应文案，与上游 429 保持一致
const RateLimitMessage = "Too many requests, please try again later."

// RateLimiterConfig 限流配置
type RateLimiterConfig struct {
	RequestsPerMinute int           // 每分钟请求数
	BurstSize         int           // 突发容量
	CleanupInterval   time.Duration // 清理间隔
}

// DefaultRateLimiterConfig 默认配置
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerMinute: 60,
		BurstSize:         10,
		CleanupInterval:   5 * time.Minute,
	}
}

// Limiter 限流器
type Limiter interface {
	// Allow 返回是否放行以及被拒绝时建议的重试等待时间
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

// NewLimiter 配置了 Redis 时使用分布式限流，否则使用进程内令牌桶
func NewLimiter(rdb redis.UniversalClient, cfg RateLimiterConfig) Limiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultRateLimiterConfig().RequestsPerMinute
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}
	if rdb != nil {
		return NewRedisLimiter(rdb, cfg)
	}
	return NewRateLimiter(cfg)
}

// clientState 客户端令牌桶状态
type clientState struct {
	tokens     float64
	lastUpdate time.Time
}

// RateLimiter 进程内令牌桶限流器
type RateLimiter struct {
	config  RateLimiterConfig
	clients map[string]*clientState
	mu      sync.Mutex
	stopCh  chan struct{}
	once    sync.Once
}

// NewRateLimiter 创建进程内限流器
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		config:  config,
		clients: make(map[string]*clientState),
		stopCh:  make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) ratePerSecond() float64 {
	return float64(rl.config.RequestsPerMinute) / 60.0
}

// Allow 令牌桶判断
func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	state, exists := rl.clients[key]
	if !exists {
		rl.clients[key] = &clientState{
			tokens:     float64(rl.config.BurstSize) - 1,
			lastUpdate: now,
		}
		return true, 0, nil
	}

	elapsed := now.Sub(state.lastUpdate).Seconds()
	state.tokens = min(float64(rl.config.BurstSize), state.tokens+elapsed*rl.ratePerSecond())
	state.lastUpdate = now

	if state.tokens < 1 {
		wait := time.Duration((1 - state.tokens) / rl.ratePerSecond() * float64(time.Second))
		return false, wait, nil
	}
	state.tokens--
	return true, 0, nil
}

// cleanup 定期清理长时间未访问的客户端
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, state := range rl.clients {
				if now.Sub(state.lastUpdate) > 10*time.Minute {
					delete(rl.clients, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop 停止清理协程
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stopCh) })
}

// RedisLimiter 基于 GCRA 的分布式限流（多实例部署共享配额）
type RedisLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
}

// NewRedisLimiter 创建分布式限流器
func NewRedisLimiter(rdb redis.UniversalClient, cfg RateLimiterConfig) *RedisLimiter {
	return &RedisLimiter{
		limiter: redis_rate.NewLimiter(rdb),
		limit: redis_rate.Limit{
			Rate:   cfg.RequestsPerMinute,
			Burst:  cfg.BurstSize,
			Period: time.Minute,
		},
		prefix: "ratelimit:",
	}
}

// Allow 查询 Redis 配额
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	res, err := rl.limiter.Allow(ctx, rl.prefix+key, rl.limit)
	if err != nil {
		return false, 0, err
	}
	return res.Allowed > 0, res.RetryAfter, nil
}

// KeyFunc 限流键提取，返回空字符串时不限流
type KeyFunc func(c *gin.Context) string

// RateLimitMiddleware 限流中间件
// 限流器自身故障时放行，避免 Redis 抖动影响对话接口
func RateLimitMiddleware(limiter Limiter, keyFn KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFn(c)
		if key == "" {
			c.Next()
			return
		}

		allowed, retryAfter, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			logger.WithContext(c.Request.Context()).Warn("限流检查失败，放行请求", zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			seconds := int(retryAfter.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": RateLimitMessage})
			return
		}

		c.Next()
	}
}

package agent

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"jeesi/internal/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ConfigCache 已发布 Agent 配置缓存，只缓存命中结果
type ConfigCache interface {
	Get(ctx context.Context, agentID string) (*AgentConfig, bool)
	Set(ctx context.Context, cfg *AgentConfig)
	Invalidate(ctx context.Context, agentID string)
}

// NewConfigCache 配置了 Redis 时使用 Redis，否则使用进程内缓存；ttl <= 0 时不缓存
func NewConfigCache(rdb redis.UniversalClient, ttl time.Duration) ConfigCache {
	switch {
	case ttl <= 0:
		return noopCache{}
	case rdb != nil:
		return &redisConfigCache{rdb: rdb, ttl: ttl, prefix: "agent:published:"}
	default:
		return NewInMemoryConfigCache(ttl)
	}
}

type noopCache struct{}

func (noopCache) Get(context.Context, string) (*AgentConfig, bool) { return nil, false }
func (noopCache) Set(context.Context, *AgentConfig)                {}
func (noopCache) Invalidate(context.Context, string)               {}

type cacheEntry struct {
	value     AgentConfig
	expiresAt time.Time
}

type inMemoryConfigCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
}

// NewInMemoryConfigCache 进程内 TTL 缓存
func NewInMemoryConfigCache(ttl time.Duration) ConfigCache {
	return &inMemoryConfigCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
	}
}

func (c *inMemoryConfigCache) Get(_ context.Context, agentID string) (*AgentConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, found := c.entries[agentID]
	if !found || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	cfg := entry.value
	return &cfg, true
}

func (c *inMemoryConfigCache) Set(_ context.Context, cfg *AgentConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cfg.ID] = cacheEntry{
		value:     *cfg,
		expiresAt: time.Now().Add(c.ttl),
	}
}

func (c *inMemoryConfigCache) Invalidate(_ context.Context, agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, agentID)
}

// redisConfigCache 多实例部署时共享缓存，Redis 故障时退化为直接查库
type redisConfigCache struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
}

func (c *redisConfigCache) Get(ctx context.Context, agentID string) (*AgentConfig, bool) {
	data, err := c.rdb.Get(ctx, c.prefix+agentID).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.WithContext(ctx).Warn("读取 Agent 缓存失败", zap.Error(err))
		}
		return nil, false
	}
	var cfg AgentConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, false
	}
	return &cfg, true
}

func (c *redisConfigCache) Set(ctx context.Context, cfg *AgentConfig) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.prefix+cfg.ID, data, c.ttl).Err(); err != nil {
		logger.WithContext(ctx).Warn("写入 Agent 缓存失败", zap.Error(err))
	}
}

func (c *redisConfigCache) Invalidate(ctx context.Context, agentID string) {
	if err := c.rdb.Del(ctx, c.prefix+agentID).Err(); err != nil {
		logger.WithContext(ctx).Warn("删除 Agent 缓存失败", zap.Error(err))
	}
}

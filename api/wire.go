package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	agentsHandlers "jeesi/api/handlers/agents"
	apikeyHandlers "jeesi/api/handlers/apikey"
	authHandlers "jeesi/api/handlers/auth"
	chatHandlers "jeesi/api/handlers/chat"
	creditsHandlers "jeesi/api/handlers/credits"
	"jeesi/internal/agent"
	"jeesi/internal/ai/openai"
	"jeesi/internal/auth"
	"jeesi/internal/config"
	"jeesi/internal/credits"
	"jeesi/internal/infra"
	"jeesi/internal/infra/queue"
	"jeesi/internal/logger"
	"jeesi/internal/middleware"
	"jeesi/internal/usage"
	"jeesi/internal/worker"
	"jeesi/pkg/aiinterface"
	"jeesi/pkg/httputil"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AppContainer 应用依赖容器
type AppContainer struct {
	DB     *gorm.DB
	Redis  redis.UniversalClient
	Config *config.Config

	// 认证
	SessionVerifier auth.SessionVerifier
	APIKeyService   *auth.APIKeyService

	// 业务服务
	CreditsService *credits.Service
	AgentService   *agent.Service
	UsageService   *usage.Service
	Recorder       *usage.Recorder

	// 上游与旁路
	Upstream    aiinterface.StreamingClient
	Dispatcher  usage.Dispatcher
	QueueClient queue.Client
	Worker      *worker.Server

	RuntimeLimiter middleware.Limiter

	// Handlers
	AuthHandler    *authHandlers.Handler
	ChatHandler    *chatHandlers.Handler
	APIKeyHandler  *apikeyHandlers.Handler
	CreditsHandler *creditsHandlers.Handler
	AgentHandler   *agentsHandlers.AgentHandler
}

// InitContainer 组装所有服务与处理器
// rdb 可以为 nil：缓存与限流回退到进程内实现，用量只能 inline 分发
func InitContainer(db *gorm.DB, rdb redis.UniversalClient, cfg *config.Config) (*AppContainer, error) {
	c := &AppContainer{DB: db, Redis: rdb, Config: cfg}

	verifier, err := newSessionVerifier(cfg.Auth, rdb)
	if err != nil {
		return nil, err
	}
	c.SessionVerifier = verifier

	upstream, err := openai.NewClient(openai.Config{
		BaseURL:               cfg.AI.BaseURL,
		APIKey:                cfg.AI.APIKey,
		ResponseHeaderTimeout: time.Duration(cfg.AI.ResponseHeaderTimeout) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化上游 AI 客户端失败: %w", err)
	}
	c.Upstream = upstream

	c.APIKeyService = auth.NewAPIKeyService(db)
	c.CreditsService = credits.NewService(db, credits.Config{
		DefaultCredits: cfg.Credits.DefaultCredits,
		DefaultPlan:    credits.PlanType(cfg.Credits.DefaultPlan),
	})
	c.AgentService = agent.NewService(db, agent.NewConfigCache(rdb, cfg.Agent.CacheTTLDuration()))
	c.AgentService.SetDefaults(cfg.AI.DefaultModel, cfg.AI.DefaultTemperature)
	c.UsageService = usage.NewService(db)
	c.Recorder = usage.NewRecorder(db, c.CreditsService, c.APIKeyService)

	switch cfg.Usage.Dispatch {
	case "queue":
		c.QueueClient = queue.NewClient(cfg.Redis)
		c.Dispatcher = usage.NewQueueDispatcher(c.QueueClient)
		c.Worker = worker.NewServer(cfg.Redis, c.Recorder, 0, logger.Get())
	default:
		c.Dispatcher = usage.NewInlineDispatcher(c.Recorder)
	}
	c.APIKeyService.SetToucher(c.Dispatcher)

	if cfg.RateLimit.Enabled {
		c.RuntimeLimiter = middleware.NewLimiter(rdb, middleware.RateLimiterConfig{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			BurstSize:         cfg.RateLimit.BurstSize,
			CleanupInterval:   5 * time.Minute,
		})
	}

	var estimator *usage.TokenEstimator
	if cfg.Usage.EstimateTokens {
		estimator = usage.NewTokenEstimator()
	}

	c.ChatHandler = chatHandlers.NewHandler(
		c.Upstream,
		c.CreditsService,
		c.AgentService,
		c.Dispatcher,
		estimator,
		cfg.Credits.CostPerRequest,
	)
	c.AuthHandler = authHandlers.NewHandler(c.SessionVerifier)
	c.APIKeyHandler = apikeyHandlers.NewHandler(c.APIKeyService)
	c.CreditsHandler = creditsHandlers.NewHandler(c.CreditsService, c.UsageService)
	c.AgentHandler = agentsHandlers.NewAgentHandler(c.AgentService)

	logger.Info("依赖容器初始化完成",
		zap.String("session_mode", cfg.Auth.SessionMode),
		zap.String("usage_dispatch", cfg.Usage.Dispatch),
		zap.Bool("redis", rdb != nil),
		zap.Bool("rate_limit", c.RuntimeLimiter != nil),
	)
	return c, nil
}

func newSessionVerifier(cfg config.AuthConfig, rdb redis.UniversalClient) (auth.SessionVerifier, error) {
	switch cfg.SessionMode {
	case "remote":
		client := httputil.NewClient(httputil.WithTimeout(10 * time.Second))
		return auth.NewRemoteVerifier(cfg.ProviderURL, cfg.ProviderKey, client, time.Duration(cfg.CacheTTL)*time.Second), nil
	default:
		if cfg.JWTSecret == "" {
			return nil, errors.New("jwt 会话模式需要配置 auth.jwt_secret")
		}
		return auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer, rdb), nil
	}
}

// Close 停止接收旁路任务并等待执行中的任务（queue 模式下关闭队列客户端）
func (c *AppContainer) Close(ctx context.Context) error {
	var errs []error
	if c.Dispatcher != nil {
		if err := c.Dispatcher.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if stopper, ok := c.RuntimeLimiter.(interface{ Stop() }); ok {
		stopper.Stop()
	}
	return errors.Join(errs...)
}

// Models 需要自动迁移的表
func Models() []any {
	return []any{
		&credits.CreditBalance{},
		&auth.APIKey{},
		&agent.AgentConfig{},
		&usage.UsageLog{},
	}
}

// AutoMigrateDB 执行所有业务表迁移
func AutoMigrateDB(db *gorm.DB) error {
	return infra.AutoMigrate(db, Models()...)
}

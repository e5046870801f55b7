package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jeesi/internal/common"
	"jeesi/internal/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrAgentNotFound 不存在、已删除、未发布（公开访问时）统一返回该错误
var ErrAgentNotFound = errors.New("agent not found")

// Service Agent 配置服务
type Service struct {
	db       *gorm.DB
	cache    ConfigCache
	defaults Behavior
}

// NewService 创建 Agent 配置服务，cache 为 nil 时不缓存
func NewService(db *gorm.DB, cache ConfigCache) *Service {
	if cache == nil {
		cache = noopCache{}
	}
	return &Service{db: db, cache: cache, defaults: DefaultConfig()}
}

// SetDefaults 覆盖默认模型与温度（来自配置文件），空值保持内置默认
func (s *Service) SetDefaults(model string, temperature float64) {
	if model != "" {
		s.defaults.Model = model
	}
	if temperature > 0 {
		s.defaults.Temperature = temperature
	}
}

// Defaults 预览模式使用的默认行为
func (s *Service) Defaults() Behavior {
	return s.defaults
}

// LoadPublished 公开运行时加载已发布的 Agent 配置
func (s *Service) LoadPublished(ctx context.Context, agentID string) (*AgentConfig, error) {
	if agentID == "" {
		return nil, ErrAgentNotFound
	}
	if cfg, ok := s.cache.Get(ctx, agentID); ok {
		return cfg, nil
	}

	var cfg AgentConfig
	err := s.db.WithContext(ctx).
		Scopes(common.NotDeleted()).
		Where("id = ? AND is_published = ?", agentID, true).
		First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAgentNotFound
		}
		return nil, fmt.Errorf("查询 Agent 配置失败: %w", err)
	}

	if cfg.Model == "" {
		cfg.Model = s.defaults.Model
	}
	s.cache.Set(ctx, &cfg)

	// 读库与写缓存之间可能插入下线或更新（其 Invalidate 已先执行），回查后撤销过期缓存
	var current AgentConfig
	err = s.db.WithContext(ctx).
		Scopes(common.NotDeleted()).
		Select("id", "updated_at").
		Where("id = ? AND is_published = ?", agentID, true).
		First(&current).Error
	if err != nil || !current.UpdatedAt.Equal(cfg.UpdatedAt) {
		s.cache.Invalidate(ctx, agentID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAgentNotFound
		}
	}
	return &cfg, nil
}

// Create 创建 Agent（默认未发布）
func (s *Service) Create(ctx context.Context, userID string, req *CreateAgentRequest) (*AgentConfig, error) {
	cfg := &AgentConfig{
		ID:           uuid.New().String(),
		UserID:       userID,
		Name:         req.Name,
		Description:  req.Description,
		SystemPrompt: req.SystemPrompt,
		Model:        req.Model,
		Temperature:  s.defaults.Temperature,
		MaxTokens:    req.MaxTokens,
	}
	if cfg.Model == "" {
		cfg.Model = s.defaults.Model
	}
	if req.Temperature != nil {
		cfg.Temperature = *req.Temperature
	}

	if err := s.db.WithContext(ctx).Create(cfg).Error; err != nil {
		return nil, fmt.Errorf("创建 Agent 失败: %w", err)
	}

	logger.WithContext(ctx).Info("创建 Agent", zap.String("agent_id", cfg.ID))
	return cfg, nil
}

// Get 获取当前用户的 Agent
func (s *Service) Get(ctx context.Context, userID, agentID string) (*AgentConfig, error) {
	var cfg AgentConfig
	err := s.db.WithContext(ctx).
		Scopes(common.NotDeleted(), common.ByOwner(userID)).
		Where("id = ?", agentID).
		First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAgentNotFound
		}
		return nil, fmt.Errorf("查询 Agent 失败: %w", err)
	}
	return &cfg, nil
}

// List 分页列出当前用户的 Agent，按创建时间倒序
func (s *Service) List(ctx context.Context, userID string, req common.PaginationRequest) ([]AgentConfig, int64, error) {
	query := s.db.WithContext(ctx).Model(&AgentConfig{}).
		Scopes(common.NotDeleted(), common.ByOwner(userID))

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计 Agent 数量失败: %w", err)
	}

	var agents []AgentConfig
	if err := query.Scopes(common.Paginate(req)).
		Order("created_at DESC").
		Find(&agents).Error; err != nil {
		return nil, 0, fmt.Errorf("查询 Agent 列表失败: %w", err)
	}
	return agents, total, nil
}

// Update 更新 Agent，只修改请求中出现的字段
func (s *Service) Update(ctx context.Context, userID, agentID string, req *UpdateAgentRequest) (*AgentConfig, error) {
	cfg, err := s.Get(ctx, userID, agentID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.SystemPrompt != nil {
		updates["system_prompt"] = *req.SystemPrompt
	}
	if req.Model != nil {
		updates["model"] = *req.Model
	}
	if req.Temperature != nil {
		updates["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		updates["max_tokens"] = *req.MaxTokens
	}
	if len(updates) == 0 {
		return cfg, nil
	}

	if err := s.db.WithContext(ctx).Model(cfg).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("更新 Agent 失败: %w", err)
	}
	s.cache.Invalidate(ctx, agentID)

	return s.Get(ctx, userID, agentID)
}

// SetPublished 发布或取消发布
func (s *Service) SetPublished(ctx context.Context, userID, agentID string, published bool) (*AgentConfig, error) {
	cfg, err := s.Get(ctx, userID, agentID)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(cfg).Update("is_published", published).Error; err != nil {
		return nil, fmt.Errorf("更新发布状态失败: %w", err)
	}
	s.cache.Invalidate(ctx, agentID)

	logger.WithContext(ctx).Info("Agent 发布状态变更",
		zap.String("agent_id", agentID),
		zap.Bool("published", published),
	)
	cfg.IsPublished = published
	return cfg, nil
}

// Delete 软删除 Agent，已删除的 Agent 对运行时接口不可见
func (s *Service) Delete(ctx context.Context, userID, agentID string) error {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).
		Model(&AgentConfig{}).
		Scopes(common.NotDeleted(), common.ByOwner(userID)).
		Where("id = ?", agentID).
		Updates(map[string]interface{}{
			"deleted_at":   now,
			"is_published": false,
		})
	if result.Error != nil {
		return fmt.Errorf("删除 Agent 失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAgentNotFound
	}
	s.cache.Invalidate(ctx, agentID)
	return nil
}

package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jeesi/internal/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInsufficientCredits = errors.New("积分不足")
	ErrInvalidAmount       = errors.New("无效的积分金额")
	ErrInvalidPlan         = errors.New("无效的订阅档位")
	ErrMissingUser         = errors.New("缺少用户 ID")
)

// Config 积分服务配置
type Config struct {
	DefaultCredits int64    // 首次访问自动创建账户时赠送的积分
	DefaultPlan    PlanType // 自动创建账户的档位
}

// Service 积分服务
type Service struct {
	db  *gorm.DB
	cfg Config
	now func() time.Time
}

// NewService 创建积分服务
func NewService(db *gorm.DB, cfg Config) *Service {
	if !cfg.DefaultPlan.Valid() {
		cfg.DefaultPlan = PlanFree
	}
	return &Service{db: db, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// GetOrCreate 获取积分余额，不存在时按默认积分创建
// 并发首次访问由唯一索引 + ON CONFLICT DO NOTHING 保证只创建一行
func (s *Service) GetOrCreate(ctx context.Context, userID string) (*CreditBalance, error) {
	var balance CreditBalance
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if err == nil {
		return s.rollPeriod(ctx, &balance)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("查询积分余额失败: %w", err)
	}

	now := s.now()
	balance = CreditBalance{
		ID:               uuid.New().String(),
		UserID:           userID,
		CreditsRemaining: s.cfg.DefaultCredits,
		PlanType:         s.cfg.DefaultPlan,
		PeriodStart:      monthStart(now),
	}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&balance).Error; err != nil {
		return nil, fmt.Errorf("创建积分余额失败: %w", err)
	}

	// 冲突时读取已存在的那一行
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error; err != nil {
		return nil, fmt.Errorf("查询积分余额失败: %w", err)
	}
	logger.WithContext(ctx).Info("自动创建积分账户",
		zap.String("user_id", userID),
		zap.Int64("credits", balance.CreditsRemaining),
	)
	return &balance, nil
}

// GetBalance 获取积分余额（控制台展示），不存在时同样自动创建
func (s *Service) GetBalance(ctx context.Context, userID string) (*CreditBalance, error) {
	return s.GetOrCreate(ctx, userID)
}

// Gate 调用上游之前的积分检查，余额 <= 0 返回 ErrInsufficientCredits
func (s *Service) Gate(ctx context.Context, userID string) (*CreditBalance, error) {
	balance, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if balance.CreditsRemaining <= 0 {
		return balance, ErrInsufficientCredits
	}
	return balance, nil
}

// Deduct 原子扣减：只在余额为正时扣减，扣减后不低于 0
// 没有命中任何行说明余额已被并发请求耗尽，返回 ErrInsufficientCredits
func (s *Service) Deduct(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	result := s.db.WithContext(ctx).
		Model(&CreditBalance{}).
		Where("user_id = ? AND credits_remaining > 0", userID).
		Updates(map[string]interface{}{
			"credits_remaining":       gorm.Expr("CASE WHEN credits_remaining > ? THEN credits_remaining - ? ELSE 0 END", amount, amount),
			"credits_used_this_month": gorm.Expr("credits_used_this_month + ?", amount),
			"updated_at":              s.now(),
		})
	if result.Error != nil {
		return fmt.Errorf("扣减积分失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInsufficientCredits
	}
	return nil
}

// Grant 增加积分，plan 非空时同时更新档位（充值 / 升级，由管理工具调用）
func (s *Service) Grant(ctx context.Context, userID string, amount int64, plan PlanType) (*CreditBalance, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	if amount < 0 {
		return nil, ErrInvalidAmount
	}
	if plan != "" && !plan.Valid() {
		return nil, ErrInvalidPlan
	}

	if _, err := s.GetOrCreate(ctx, userID); err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"credits_remaining": gorm.Expr("credits_remaining + ?", amount),
		"updated_at":        s.now(),
	}
	if plan != "" {
		updates["plan_type"] = plan
	}
	if err := s.db.WithContext(ctx).
		Model(&CreditBalance{}).
		Where("user_id = ?", userID).
		Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("增加积分失败: %w", err)
	}

	var balance CreditBalance
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error; err != nil {
		return nil, fmt.Errorf("查询积分余额失败: %w", err)
	}
	return &balance, nil
}

// ResetMonthlyUsage 跨月后清零本月用量，返回被重置的行数
func (s *Service) ResetMonthlyUsage(ctx context.Context) (int64, error) {
	start := monthStart(s.now())
	result := s.db.WithContext(ctx).
		Model(&CreditBalance{}).
		Where("period_start < ?", start).
		Updates(map[string]interface{}{
			"credits_used_this_month": 0,
			"period_start":            start,
			"updated_at":              s.now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("重置月度用量失败: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// rollPeriod 读取时发现跨月则重置该用户的本月用量
func (s *Service) rollPeriod(ctx context.Context, balance *CreditBalance) (*CreditBalance, error) {
	start := monthStart(s.now())
	if !balance.PeriodStart.Before(start) {
		return balance, nil
	}

	if err := s.db.WithContext(ctx).
		Model(&CreditBalance{}).
		Where("user_id = ? AND period_start < ?", balance.UserID, start).
		Updates(map[string]interface{}{
			"credits_used_this_month": 0,
			"period_start":            start,
		}).Error; err != nil {
		return nil, fmt.Errorf("重置月度用量失败: %w", err)
	}
	balance.CreditsUsedThisMonth = 0
	balance.PeriodStart = start
	return balance, nil
}

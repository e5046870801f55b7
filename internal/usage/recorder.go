package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jeesi/internal/credits"
	"jeesi/internal/logger"
	"jeesi/internal/metrics"
	"jeesi/internal/worker/tasks"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CreditDeductor 积分扣减
type CreditDeductor interface {
	Deduct(ctx context.Context, userID string, amount int64) error
}

// KeyToucher 更新 API Key 最近使用时间
type KeyToucher interface {
	TouchLastUsed(ctx context.Context, keyID string, usedAt time.Time) error
}

// Recorder 执行旁路任务：扣减积分 + 写用量日志、更新 Key 使用时间
type Recorder struct {
	db      *gorm.DB
	credits CreditDeductor
	keys    KeyToucher
}

// NewRecorder 创建用量记录器
func NewRecorder(db *gorm.DB, credits CreditDeductor, keys KeyToucher) *Recorder {
	return &Recorder{db: db, credits: credits, keys: keys}
}

// Record 扣减积分并追加一条用量日志
// 余额已被并发请求耗尽时仍记录日志（credits_used = 0），便于对账
func (r *Recorder) Record(ctx context.Context, p tasks.RecordUsagePayload) error {
	if p.UserID == "" {
		return nil
	}
	log := logger.WithContext(ctx).With(
		zap.String("user_id", p.UserID),
		zap.String("operation", p.Operation),
		zap.String("request_id", p.RequestID),
	)

	charged := p.Credits
	var deductErr error
	if p.Credits > 0 {
		deductErr = r.credits.Deduct(ctx, p.UserID, p.Credits)
	}
	switch {
	case deductErr == nil:
		if charged > 0 {
			metrics.CreditsDeducted.WithLabelValues(p.Operation).Add(float64(charged))
		}
	case errors.Is(deductErr, credits.ErrInsufficientCredits):
		charged = 0
		metrics.UnchargedRequests.WithLabelValues(p.Operation).Inc()
		log.Warn("余额已耗尽，本次请求未扣费", zap.Int64("credits", p.Credits))
	default:
		charged = 0
		log.Error("扣减积分失败", zap.Error(deductErr))
	}

	entry := &UsageLog{
		ID:            uuid.New().String(),
		UserID:        p.UserID,
		CreditsUsed:   charged,
		OperationType: p.Operation,
		Metadata:      buildMetadata(p, charged != p.Credits),
		CreatedAt:     p.OccurredAt,
	}
	if p.AgentID != "" {
		agentID := p.AgentID
		entry.AgentID = &agentID
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		log.Error("写入用量日志失败", zap.Error(err))
		return errors.Join(deductErr, fmt.Errorf("写入用量日志失败: %w", err))
	}
	if deductErr != nil && !errors.Is(deductErr, credits.ErrInsufficientCredits) {
		return deductErr
	}
	return nil
}

// Touch 更新 API Key 最近使用时间
func (r *Recorder) Touch(ctx context.Context, p tasks.TouchAPIKeyPayload) error {
	if p.KeyID == "" {
		return nil
	}
	usedAt := p.UsedAt
	if usedAt.IsZero() {
		usedAt = time.Now().UTC()
	}
	if err := r.keys.TouchLastUsed(ctx, p.KeyID, usedAt); err != nil {
		logger.WithContext(ctx).Warn("更新 API Key 使用时间失败",
			zap.String("key_id", p.KeyID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func buildMetadata(p tasks.RecordUsagePayload, uncharged bool) datatypes.JSONMap {
	meta := datatypes.JSONMap{
		"message_count":  p.MessageCount,
		"has_multimodal": p.HasMultimodal,
	}
	for k, v := range p.Extra {
		meta[k] = v
	}
	if p.Model != "" {
		meta["model"] = p.Model
	}
	if p.APIKeyID != "" {
		meta["api_key_id"] = p.APIKeyID
	}
	if p.RequestID != "" {
		meta["request_id"] = p.RequestID
	}
	if p.PromptTokens > 0 {
		meta["prompt_tokens"] = p.PromptTokens
	}
	if uncharged {
		meta["uncharged"] = true
	}
	return meta
}

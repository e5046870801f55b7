package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"jeesi/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// SideTaskRunner 旁路任务执行器抽象，便于注入 mock
type SideTaskRunner interface {
	Record(ctx context.Context, payload tasks.RecordUsagePayload) error
	Touch(ctx context.Context, payload tasks.TouchAPIKeyPayload) error
}

// UsageHandler 用量与 Key 使用时间任务处理器
type UsageHandler struct {
	runner SideTaskRunner
	logger *zap.Logger
}

func NewUsageHandler(runner SideTaskRunner, logger *zap.Logger) *UsageHandler {
	return &UsageHandler{
		runner: runner,
		logger: logger,
	}
}

// HandleRecordUsage 扣减积分并写用量日志
// 任务以 MaxRetry(0) 投递，返回错误只会进入 ErrorHandler 与归档队列
func (h *UsageHandler) HandleRecordUsage(ctx context.Context, t *asynq.Task) error {
	var p tasks.RecordUsagePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json unmarshal failed: %w: %w", err, asynq.SkipRetry)
	}

	if err := h.runner.Record(ctx, p); err != nil {
		h.logger.Error("用量记录失败",
			zap.String("user_id", p.UserID),
			zap.String("request_id", p.RequestID),
			zap.Error(err),
		)
		return err
	}

	h.logger.Debug("用量记录完成",
		zap.String("user_id", p.UserID),
		zap.String("operation", p.Operation),
	)
	return nil
}

// HandleTouchAPIKey 更新 API Key 最近使用时间
func (h *UsageHandler) HandleTouchAPIKey(ctx context.Context, t *asynq.Task) error {
	var p tasks.TouchAPIKeyPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json unmarshal failed: %w: %w", err, asynq.SkipRetry)
	}
	return h.runner.Touch(ctx, p)
}

package usage

import (
	"context"
	"fmt"

	"jeesi/internal/common"

	"gorm.io/gorm"
)

// Service 用量查询（控制台）
type Service struct {
	db *gorm.DB
}

// NewService 创建用量查询服务
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// ListUsage 按时间倒序分页列出用户的用量日志
func (s *Service) ListUsage(ctx context.Context, userID string, req ListUsageRequest) ([]UsageLog, int64, error) {
	query := s.db.WithContext(ctx).Model(&UsageLog{}).Scopes(common.ByOwner(userID))
	if req.OperationType != "" {
		query = query.Where("operation_type = ?", req.OperationType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计用量日志失败: %w", err)
	}

	page := common.PaginationRequest{Page: req.Page, PageSize: req.PageSize}
	var logs []UsageLog
	if err := query.Scopes(common.Paginate(page)).
		Order("created_at DESC").
		Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("查询用量日志失败: %w", err)
	}
	return logs, total, nil
}

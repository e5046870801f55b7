package usage

import (
	"time"

	"gorm.io/datatypes"
)

// UsageLog 一次成功转发的用量记录，写入后不再修改
type UsageLog struct {
	ID            string            `json:"id" gorm:"primaryKey;size:36"`
	UserID        string            `json:"userId" gorm:"size:64;not null;index:idx_usage_user_created"`
	AgentID       *string           `json:"agentId,omitempty" gorm:"size:36;index"`
	CreditsUsed   int64             `json:"creditsUsed" gorm:"not null"`
	OperationType string            `json:"operationType" gorm:"size:32;not null"`
	Metadata      datatypes.JSONMap `json:"metadata" gorm:"type:json"`
	CreatedAt     time.Time         `json:"createdAt" gorm:"not null;index:idx_usage_user_created"`
}

// TableName 表名
func (UsageLog) TableName() string {
	return "usage_logs"
}

// ListUsageRequest 用量分页查询
type ListUsageRequest struct {
	Page          int    `form:"page" binding:"omitempty,min=1"`
	PageSize      int    `form:"page_size" binding:"omitempty,min=1"`
	OperationType string `form:"operation" binding:"omitempty,oneof=agent_chat agent_runtime"`
}

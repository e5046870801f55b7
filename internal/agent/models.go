package agent

import "time"

// AgentConfig 用户创建的 Agent 配置
// 只有 IsPublished 为 true 的配置可以通过运行时接口访问
type AgentConfig struct {
	ID     string `json:"id" gorm:"primaryKey;size:36"`
	UserID string `json:"userId" gorm:"size:64;not null;index"`

	Name        string `json:"name" gorm:"size:255;not null"`
	Description string `json:"description" gorm:"type:text"`

	// 行为参数
	SystemPrompt string  `json:"systemPrompt" gorm:"type:text"`
	Model        string  `json:"model" gorm:"size:100;not null"`
	Temperature  float64 `json:"temperature" gorm:"not null"`
	MaxTokens    int     `json:"maxTokens" gorm:"not null"` // 0 表示使用上游默认值

	IsPublished bool `json:"isPublished" gorm:"not null;default:false;index"`

	CreatedAt time.Time  `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time  `json:"updatedAt" gorm:"not null;autoUpdateTime"`
	DeletedAt *time.Time `json:"deletedAt,omitempty" gorm:"index"`
}

// TableName 表名
func (AgentConfig) TableName() string {
	return "agent_configs"
}

// Behavior 返回构造上游请求所需的行为参数
func (a *AgentConfig) Behavior() Behavior {
	return Behavior{
		SystemPrompt: a.SystemPrompt,
		Model:        a.Model,
		Temperature:  a.Temperature,
		MaxTokens:    a.MaxTokens,
	}
}

// CreateAgentRequest 创建 Agent 请求
type CreateAgentRequest struct {
	Name         string   `json:"name" binding:"required,max=255"`
	Description  string   `json:"description"`
	SystemPrompt string   `json:"systemPrompt"`
	Model        string   `json:"model" binding:"omitempty,max=100"`
	Temperature  *float64 `json:"temperature" binding:"omitempty,gte=0,lte=2"`
	MaxTokens    int      `json:"maxTokens" binding:"omitempty,gte=0"`
}

// UpdateAgentRequest 更新 Agent 请求，空指针字段不修改
type UpdateAgentRequest struct {
	Name         *string  `json:"name" binding:"omitempty,min=1,max=255"`
	Description  *string  `json:"description"`
	SystemPrompt *string  `json:"systemPrompt"`
	Model        *string  `json:"model" binding:"omitempty,min=1,max=100"`
	Temperature  *float64 `json:"temperature" binding:"omitempty,gte=0,lte=2"`
	MaxTokens    *int     `json:"maxTokens" binding:"omitempty,gte=0"`
}

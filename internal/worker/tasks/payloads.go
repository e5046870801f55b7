package tasks

import "time"

// Task Types
const (
	TypeRecordUsage = "usage:record"
	TypeTouchAPIKey = "apikey:touch"
)

// QueueSideChannel 旁路任务所在队列
const QueueSideChannel = "side_channel"

// Operation 计费操作类型
const (
	OperationAgentChat    = "agent_chat"
	OperationAgentRuntime = "agent_runtime"
)

// RecordUsagePayload 扣减积分并写入用量日志
type RecordUsagePayload struct {
	UserID        string         `json:"user_id"`
	AgentID       string         `json:"agent_id,omitempty"`
	APIKeyID      string         `json:"api_key_id,omitempty"`
	Operation     string         `json:"operation"`
	Credits       int64          `json:"credits"`
	Model         string         `json:"model,omitempty"`
	MessageCount  int            `json:"message_count"`
	HasMultimodal bool           `json:"has_multimodal"`
	PromptTokens  int            `json:"prompt_tokens,omitempty"`
	RequestID     string         `json:"request_id,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

// TouchAPIKeyPayload 更新 API Key 最近使用时间
type TouchAPIKeyPayload struct {
	KeyID  string    `json:"key_id"`
	UsedAt time.Time `json:"used_at"`
}

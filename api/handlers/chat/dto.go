package chat

import (
	"fmt"

	"jeesi/internal/agent"
	"jeesi/pkg/aiinterface"
)

// AgentChatRequest 预览对话请求，agentConfig 缺省时使用构建助手人设
type AgentChatRequest struct {
	Messages    []aiinterface.Message `json:"messages" binding:"required,min=1,dive"`
	AgentConfig *agent.Overrides      `json:"agentConfig"`
}

// AgentRuntimeRequest 已发布 Agent 的运行时请求
type AgentRuntimeRequest struct {
	Messages []aiinterface.Message `json:"messages" binding:"required,min=1,dive"`
	AgentID  string                `json:"agentId" binding:"required,max=64"`
}

// ErrorResponse 对话接口统一错误体
type ErrorResponse struct {
	Error string `json:"error"`
}

// validateMessages 校验消息内容（字符串或分片数组）
func validateMessages(messages []aiinterface.Message) error {
	for i, m := range messages {
		if err := m.Content.Validate(); err != nil {
			return fmt.Errorf("messages[%d]: %w", i, err)
		}
	}
	return nil
}

// hasMultimodal 是否包含分片数组形式的消息
func hasMultimodal(messages []aiinterface.Message) bool {
	for _, m := range messages {
		if m.Content.IsMultimodal() {
			return true
		}
	}
	return false
}

package aiinterface

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// 消息角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// 多模态内容分片类型
const (
	PartTypeText     = "text"
	PartTypeImageURL = "image_url"
)

// Message 消息结构
type Message struct {
	Role    string         `json:"role" binding:"required,oneof=system user assistant"`
	Content MessageContent `json:"content"`
}

// ImageURL 图片分片
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// ContentPart 多模态内容分片
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// MessageContent 消息内容：纯文本或分片数组，两者互斥
type MessageContent struct {
	Text  string
	Parts []ContentPart
}

// TextContent 构造纯文本内容
func TextContent(text string) MessageContent {
	return MessageContent{Text: text}
}

// IsMultimodal 是否为分片数组形式
func (c MessageContent) IsMultimodal() bool {
	return c.Parts != nil
}

// IsEmpty 没有任何可发送的内容
func (c MessageContent) IsEmpty() bool {
	return c.Text == "" && len(c.Parts) == 0
}

// Validate 校验分片格式
func (c MessageContent) Validate() error {
	if c.IsEmpty() {
		return errors.New("content is required")
	}
	for i, p := range c.Parts {
		switch p.Type {
		case PartTypeText:
			if p.Text == "" {
				return fmt.Errorf("content[%d]: text part requires text", i)
			}
		case PartTypeImageURL:
			if p.ImageURL == nil || p.ImageURL.URL == "" {
				return fmt.Errorf("content[%d]: image_url part requires url", i)
			}
		default:
			return fmt.Errorf("content[%d]: unsupported part type %q", i, p.Type)
		}
	}
	return nil
}

// PlainText 拼接所有文本，用于 Token 估算
func (c MessageContent) PlainText() string {
	if !c.IsMultimodal() {
		return c.Text
	}
	var buf bytes.Buffer
	for _, p := range c.Parts {
		if p.Type == PartTypeText {
			if buf.Len() > 0 {
				buf.WriteByte('\n')
			}
			buf.WriteString(p.Text)
		}
	}
	return buf.String()
}

// UnmarshalJSON 接受字符串或分片数组
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*c = MessageContent{}
		return nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*c = MessageContent{Text: s}
		return nil
	case '[':
		parts := []ContentPart{}
		if err := json.Unmarshal(trimmed, &parts); err != nil {
			return err
		}
		*c = MessageContent{Parts: parts}
		return nil
	default:
		return errors.New("content must be a string or an array of parts")
	}
}

// MarshalJSON 按原始形式输出
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.IsMultimodal() {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// ChatCompletionRequest 对话补全请求
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"` // 0 表示使用上游默认值
}

// Stream 上游流式响应，调用方负责关闭 Body
type Stream struct {
	StatusCode  int
	ContentType string
	Body        io.ReadCloser
}

// StreamingClient 流式对话补全客户端
type StreamingClient interface {
	// ChatCompletionStream 发起流式请求，只在上游返回 2xx 时返回 Stream
	ChatCompletionStream(ctx context.Context, req *ChatCompletionRequest) (*Stream, error)
}

// ErrorType 错误类型
type ErrorType string

const (
	ErrorTypeAuth            ErrorType = "auth"             // 认证错误
	ErrorTypeRateLimit       ErrorType = "rate_limit"       // 上游 429
	ErrorTypePaymentRequired ErrorType = "payment_required" // 上游 402
	ErrorTypeInvalidParams   ErrorType = "invalid_params"   // 参数错误
	ErrorTypeServerError     ErrorType = "server_error"     // 其他非 2xx
	ErrorTypeNetwork         ErrorType = "network"          // 网络错误
	ErrorTypeUnknown         ErrorType = "unknown"          // 未知错误
)

// ClientError 客户端错误
type ClientError struct {
	Type       ErrorType // 错误类型
	StatusCode int       // 上游状态码，网络错误时为 0
	Message    string    // 错误消息
	Err        error     // 原始错误
}

// Error 实现error接口
func (e *ClientError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap 返回原始错误
func (e *ClientError) Unwrap() error {
	return e.Err
}

// ErrorTypeOf 提取错误类型，非 ClientError 返回 ErrorTypeUnknown
func ErrorTypeOf(err error) ErrorType {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Type
	}
	return ErrorTypeUnknown
}

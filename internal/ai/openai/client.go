package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"jeesi/internal/logger"
	"jeesi/pkg/aiinterface"
	"jeesi/pkg/httputil"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config 上游网关配置
type Config struct {
	BaseURL               string
	APIKey                string
	ResponseHeaderTimeout time.Duration
}

// Client OpenAI 兼容网关的流式客户端
// 请求体使用 go-openai 的类型构造，响应体不做解析，原样交给调用方转发
type Client struct {
	baseURL string
	apiKey  string
	http    *httputil.Client
	tracer  trace.Tracer
}

var _ aiinterface.StreamingClient = (*Client)(nil)

// NewClient 创建客户端
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, &aiinterface.ClientError{
			Type:    aiinterface.ErrorTypeInvalidParams,
			Message: "上游网关地址不能为空",
		}
	}
	if cfg.APIKey == "" {
		return nil, &aiinterface.ClientError{
			Type:    aiinterface.ErrorTypeAuth,
			Message: "上游网关 API Key 不能为空",
		}
	}

	opts := []httputil.ClientOption{httputil.WithTimeout(0)}
	if cfg.ResponseHeaderTimeout > 0 {
		opts = append(opts, httputil.WithResponseHeaderTimeout(cfg.ResponseHeaderTimeout))
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    httputil.NewClient(opts...),
		tracer:  otel.Tracer("jeesi/internal/ai/openai"),
	}, nil
}

// BuildRequest 转换为 OpenAI chat-completions 请求，始终开启 stream
func BuildRequest(req *aiinterface.ChatCompletionRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		m := openai.ChatCompletionMessage{Role: msg.Role}
		if msg.Content.IsMultimodal() {
			m.MultiContent = make([]openai.ChatMessagePart, 0, len(msg.Content.Parts))
			for _, p := range msg.Content.Parts {
				part := openai.ChatMessagePart{Type: openai.ChatMessagePartType(p.Type), Text: p.Text}
				if p.ImageURL != nil {
					part.ImageURL = &openai.ChatMessageImageURL{
						URL:    p.ImageURL.URL,
						Detail: openai.ImageURLDetail(p.ImageURL.Detail),
					}
				}
				m.MultiContent = append(m.MultiContent, part)
			}
		} else {
			m.Content = msg.Content.Text
		}
		messages = append(messages, m)
	}

	return openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: upstreamTemperature(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	}
}

// upstreamTemperature go-openai 对 Temperature 使用 omitempty，
// 0 会被省略而退化为上游默认值，这里改写为最小正数
func upstreamTemperature(t float64) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

// ChatCompletionStream 发起流式请求，不重试
func (c *Client) ChatCompletionStream(ctx context.Context, req *aiinterface.ChatCompletionRequest) (*aiinterface.Stream, error) {
	ctx, span := c.tracer.Start(ctx, "Upstream.ChatCompletionStream")
	defer span.End()
	span.SetAttributes(
		attribute.String("ai.model", req.Model),
		attribute.Int("ai.message_count", len(req.Messages)),
	)

	body, err := json.Marshal(BuildRequest(req))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "marshal request")
		return nil, &aiinterface.ClientError{
			Type:    aiinterface.ErrorTypeInvalidParams,
			Message: "构造上游请求失败",
			Err:     err,
		}
	}

	resp, err := c.http.Post(ctx, c.baseURL+"/chat/completions", "application/json", bytes.NewReader(body), map[string]string{
		"Authorization": "Bearer " + c.apiKey,
		"Accept":        "text/event-stream",
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return nil, &aiinterface.ClientError{
			Type:    aiinterface.ErrorTypeNetwork,
			Message: "上游网关请求失败",
			Err:     err,
		}
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		clientErr := statusError(resp)
		span.SetStatus(codes.Error, string(clientErr.Type))
		logger.WithContext(ctx).Warn("上游网关返回错误状态",
			zap.Int("status", resp.StatusCode),
			zap.String("type", string(clientErr.Type)),
			zap.String("detail", clientErr.Message),
		)
		return nil, clientErr
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/event-stream"
	}
	return &aiinterface.Stream{
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        resp.Body,
	}, nil
}

// statusError 按状态码映射错误类型，并尽量解析上游错误信息
func statusError(resp *http.Response) *aiinterface.ClientError {
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	message := fmt.Sprintf("上游网关返回状态码 %d", resp.StatusCode)
	var errResp openai.ErrorResponse
	if err := json.Unmarshal(excerpt, &errResp); err == nil && errResp.Error != nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	} else if len(excerpt) > 0 {
		message = string(excerpt)
	}

	errType := aiinterface.ErrorTypeServerError
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		errType = aiinterface.ErrorTypeRateLimit
	case http.StatusPaymentRequired:
		errType = aiinterface.ErrorTypePaymentRequired
	}

	return &aiinterface.ClientError{
		Type:       errType,
		StatusCode: resp.StatusCode,
		Message:    message,
	}
}

package chat

import (
	"context"
	"errors"
	"net/http"
	"time"

	"jeesi/internal/agent"
	"jeesi/internal/ai/relay"
	"jeesi/internal/auth"
	"jeesi/internal/credits"
	"jeesi/internal/logger"
	"jeesi/internal/metrics"
	"jeesi/internal/usage"
	"jeesi/internal/worker/tasks"
	"jeesi/pkg/aiinterface"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 对外错误文案
const (
	MsgInvalidRequest      = "Invalid request body"
	MsgInsufficientCredits = "Insufficient credits. Please upgrade your plan or purchase more credits."
	MsgAgentNotFound       = "Agent not found"
	MsgRateLimited         = "Too many requests, please try again later."
	MsgPaymentRequired     = "AI gateway payment required. Please contact support."
	MsgUpstreamFailed      = "AI gateway error"
	MsgInternalError       = "Internal server error"
)

// CreditGate 调用上游前的积分检查
type CreditGate interface {
	Gate(ctx context.Context, userID string) (*credits.CreditBalance, error)
}

// AgentLoader 加载已发布 Agent 与预览默认配置
type AgentLoader interface {
	LoadPublished(ctx context.Context, agentID string) (*agent.AgentConfig, error)
	Defaults() agent.Behavior
}

// UsageDispatcher 旁路记录用量
type UsageDispatcher interface {
	RecordUsage(ctx context.Context, payload tasks.RecordUsagePayload)
}

// Handler 对话接口
type Handler struct {
	upstream   aiinterface.StreamingClient
	credits    CreditGate
	agents     AgentLoader
	dispatcher UsageDispatcher
	estimator  *usage.TokenEstimator
	cost       int64
}

// NewHandler 创建对话 Handler，estimator 为 nil 时不估算 Token
func NewHandler(
	upstream aiinterface.StreamingClient,
	creditGate CreditGate,
	agents AgentLoader,
	dispatcher UsageDispatcher,
	estimator *usage.TokenEstimator,
	costPerRequest int64,
) *Handler {
	if costPerRequest <= 0 {
		costPerRequest = 1
	}
	return &Handler{
		upstream:   upstream,
		credits:    creditGate,
		agents:     agents,
		dispatcher: dispatcher,
		estimator:  estimator,
		cost:       costPerRequest,
	}
}

// AgentChat 预览对话
// 会话令牌可选：匿名调用不计费，登录用户先过积分检查
// @Summary Agent 预览对话（SSE）
// @Tags Functions
// @Accept json
// @Produce text/event-stream
// @Param request body AgentChatRequest true "对话消息与可选的 agentConfig"
// @Success 200 {string} string "上游 SSE 流"
// @Failure 400 {object} ErrorResponse
// @Failure 402 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /functions/v1/agent-chat [post]
func (h *Handler) AgentChat(c *gin.Context) {
	const op = tasks.OperationAgentChat

	var req AgentChatRequest
	if !h.bind(c, op, &req) {
		return
	}
	if err := validateMessages(req.Messages); err != nil {
		h.fail(c, op, "bad_request", http.StatusBadRequest, MsgInvalidRequest+": "+err.Error())
		return
	}

	identity, authenticated := auth.GetIdentity(c)
	if authenticated {
		if !h.gate(c, op, identity.UserID) {
			return
		}
	}

	behavior := h.agents.Defaults().Merge(req.AgentConfig)

	var payload *tasks.RecordUsagePayload
	if authenticated {
		payload = &tasks.RecordUsagePayload{UserID: identity.UserID}
	}
	h.proxy(c, op, behavior, req.Messages, payload)
}

// AgentRuntime 已发布 Agent 的运行时对话，需要 x-api-key
// @Summary 已发布 Agent 运行时对话（SSE）
// @Tags Functions
// @Security APIKeyAuth
// @Accept json
// @Produce text/event-stream
// @Param request body AgentRuntimeRequest true "对话消息与 agentId"
// @Success 200 {string} string "上游 SSE 流"
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 402 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /functions/v1/agent-runtime [post]
func (h *Handler) AgentRuntime(c *gin.Context) {
	const op = tasks.OperationAgentRuntime

	identity, ok := auth.GetIdentity(c)
	if !ok {
		h.fail(c, op, "unauthorized", http.StatusUnauthorized, "Invalid API key")
		return
	}

	var req AgentRuntimeRequest
	if !h.bind(c, op, &req) {
		return
	}
	if err := validateMessages(req.Messages); err != nil {
		h.fail(c, op, "bad_request", http.StatusBadRequest, MsgInvalidRequest+": "+err.Error())
		return
	}

	if !h.gate(c, op, identity.UserID) {
		return
	}

	cfg, err := h.agents.LoadPublished(c.Request.Context(), req.AgentID)
	if err != nil {
		if errors.Is(err, agent.ErrAgentNotFound) {
			h.fail(c, op, "not_found", http.StatusNotFound, MsgAgentNotFound)
			return
		}
		logger.WithContext(c.Request.Context()).Error("加载 Agent 配置失败", zap.Error(err))
		h.fail(c, op, "internal_error", http.StatusInternalServerError, MsgInternalError)
		return
	}

	behavior := cfg.Behavior()
	if behavior.Model == "" {
		behavior.Model = h.agents.Defaults().Model
	}

	h.proxy(c, op, behavior, req.Messages, &tasks.RecordUsagePayload{
		UserID:   identity.UserID,
		AgentID:  cfg.ID,
		APIKeyID: identity.APIKeyID,
	})
}

// bind 解析并校验请求体
func (h *Handler) bind(c *gin.Context, op string, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.fail(c, op, "bad_request", http.StatusBadRequest, MsgInvalidRequest+": "+err.Error())
		return false
	}
	return true
}

// gate 积分检查，失败时已写出响应
func (h *Handler) gate(c *gin.Context, op, userID string) bool {
	if _, err := h.credits.Gate(c.Request.Context(), userID); err != nil {
		if errors.Is(err, credits.ErrInsufficientCredits) {
			h.fail(c, op, "insufficient_credits", http.StatusPaymentRequired, MsgInsufficientCredits)
			return false
		}
		logger.WithContext(c.Request.Context()).Error("积分检查失败", zap.Error(err))
		h.fail(c, op, "internal_error", http.StatusInternalServerError, MsgInternalError)
		return false
	}
	return true
}

// proxy 调用上游并转发流，上游成功后才投递用量记录
func (h *Handler) proxy(c *gin.Context, op string, behavior agent.Behavior, messages []aiinterface.Message, payload *tasks.RecordUsagePayload) {
	ctx := c.Request.Context()

	upstreamReq := &aiinterface.ChatCompletionRequest{
		Model:       behavior.Model,
		Messages:    withSystemPrompt(behavior.SystemPrompt, messages),
		Temperature: behavior.Temperature,
		MaxTokens:   behavior.MaxTokens,
	}

	start := time.Now()
	stream, err := h.upstream.ChatCompletionStream(ctx, upstreamReq)
	if err != nil {
		h.upstreamFailed(c, op, start, err)
		return
	}
	defer stream.Body.Close()
	metrics.UpstreamLatency.WithLabelValues(op, "success").Observe(time.Since(start).Seconds())

	if payload != nil {
		payload.Operation = op
		payload.Credits = h.cost
		payload.Model = behavior.Model
		payload.MessageCount = len(messages)
		payload.HasMultimodal = hasMultimodal(messages)
		payload.RequestID = logger.GetRequestID(ctx)
		payload.OccurredAt = time.Now().UTC()
		if h.estimator != nil {
			payload.PromptTokens = h.estimator.Estimate(promptTexts(upstreamReq.Messages))
		}
	}
	metrics.RecordChatOutcome(op, "success")

	written, err := relay.Stream(c.Writer, stream.ContentType, stream.Body)
	metrics.StreamedBytes.WithLabelValues(op).Add(float64(written))
	if err != nil {
		// 客户端断开或上游中断，响应头已写出，只能记录
		logger.WithContext(ctx).Warn("流式转发中断",
			zap.String("operation", op),
			zap.Int64("bytes", written),
			zap.Error(err),
		)
	}

	// 上游已成功响应，转发中断同样计费；转发结束后再投递，队列延迟不影响首包
	if payload != nil {
		h.dispatcher.RecordUsage(ctx, *payload)
	}
}

// upstreamFailed 上游错误映射，任何失败都不扣费
func (h *Handler) upstreamFailed(c *gin.Context, op string, start time.Time, err error) {
	errType := aiinterface.ErrorTypeOf(err)
	metrics.UpstreamLatency.WithLabelValues(op, string(errType)).Observe(time.Since(start).Seconds())

	switch errType {
	case aiinterface.ErrorTypeRateLimit:
		h.fail(c, op, "rate_limited", http.StatusTooManyRequests, MsgRateLimited)
	case aiinterface.ErrorTypePaymentRequired:
		h.fail(c, op, "upstream_payment_required", http.StatusPaymentRequired, MsgPaymentRequired)
	case aiinterface.ErrorTypeServerError:
		logger.WithContext(c.Request.Context()).Error("上游网关错误", zap.Error(err))
		h.fail(c, op, "upstream_error", http.StatusInternalServerError, MsgUpstreamFailed)
	default:
		logger.WithContext(c.Request.Context()).Error("调用上游网关失败", zap.Error(err))
		h.fail(c, op, "internal_error", http.StatusInternalServerError, MsgInternalError)
	}
}

func (h *Handler) fail(c *gin.Context, op, outcome string, status int, message string) {
	metrics.RecordChatOutcome(op, outcome)
	c.AbortWithStatusJSON(status, ErrorResponse{Error: message})
}

// withSystemPrompt 把系统提示词放在调用方消息之前
func withSystemPrompt(systemPrompt string, messages []aiinterface.Message) []aiinterface.Message {
	if systemPrompt == "" {
		return messages
	}
	out := make([]aiinterface.Message, 0, len(messages)+1)
	out = append(out, aiinterface.Message{Role: aiinterface.RoleSystem, Content: aiinterface.TextContent(systemPrompt)})
	return append(out, messages...)
}

func promptTexts(messages []aiinterface.Message) []string {
	texts := make([]string, 0, len(messages))
	for _, m := range messages {
		texts = append(texts, m.Content.PlainText())
	}
	return texts
}

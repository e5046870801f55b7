package credits

import (
	"jeesi/internal/auth"
	"jeesi/internal/common"
	creditsSvc "jeesi/internal/credits"
	"jeesi/internal/usage"

	"github.com/gin-gonic/gin"
)

// Handler 积分与用量查询处理器
type Handler struct {
	credits *creditsSvc.Service
	usage   *usage.Service
}

// NewHandler 创建处理器
func NewHandler(credits *creditsSvc.Service, usage *usage.Service) *Handler {
	return &Handler{credits: credits, usage: usage}
}

// GetBalance 获取当前用户积分余额，首次访问自动创建
// @Summary 查询积分余额
// @Tags Credits
// @Security BearerAuth
// @Produce json
// @Success 200 {object} common.APIResponse{data=credits.CreditBalance}
// @Failure 401 {object} common.APIResponse
// @Router /api/v1/credits [get]
func (h *Handler) GetBalance(c *gin.Context) {
	balance, err := h.credits.GetBalance(c.Request.Context(), auth.MustUserID(c))
	if err != nil {
		common.ResponseServerError(c, err.Error())
		return
	}
	common.ResponseSuccess(c, balance)
}

// ListUsage 分页查询用量日志
// @Summary 查询用量日志
// @Tags Credits
// @Security BearerAuth
// @Produce json
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Param operation query string false "操作类型" Enums(agent_chat, agent_runtime)
// @Success 200 {object} common.APIResponse{data=common.ListResponse}
// @Failure 400 {object} common.APIResponse
// @Router /api/v1/usage [get]
func (h *Handler) ListUsage(c *gin.Context) {
	var req usage.ListUsageRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	logs, total, err := h.usage.ListUsage(c.Request.Context(), auth.MustUserID(c), req)
	if err != nil {
		common.ResponseServerError(c, err.Error())
		return
	}
	common.ResponseList(c, logs, total, common.PaginationRequest{Page: req.Page, PageSize: req.PageSize})
}

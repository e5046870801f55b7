package agents

import (
	"errors"

	"jeesi/internal/agent"
	"jeesi/internal/auth"
	"jeesi/internal/common"

	"github.com/gin-gonic/gin"
)

// AgentHandler Agent 配置管理 Handler
type AgentHandler struct {
	service *agent.Service
}

// NewAgentHandler 创建 AgentHandler 实例
func NewAgentHandler(service *agent.Service) *AgentHandler {
	return &AgentHandler{service: service}
}

// ListAgents 分页查询当前用户的 Agent
// @Summary 查询 Agent 列表
// @Tags Agents
// @Security BearerAuth
// @Produce json
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} common.APIResponse{data=common.ListResponse}
// @Failure 401 {object} common.APIResponse
// @Router /api/v1/agents [get]
func (h *AgentHandler) ListAgents(c *gin.Context) {
	var req common.PaginationRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	agents, total, err := h.service.List(c.Request.Context(), auth.MustUserID(c), req)
	if err != nil {
		common.ResponseServerError(c, err.Error())
		return
	}
	common.ResponseList(c, agents, total, req)
}

// GetAgent 查询单个 Agent
// @Summary 查询 Agent 配置详情
// @Tags Agents
// @Security BearerAuth
// @Produce json
// @Param id path string true "Agent ID"
// @Success 200 {object} common.APIResponse{data=agent.AgentConfig}
// @Failure 404 {object} common.APIResponse
// @Router /api/v1/agents/{id} [get]
func (h *AgentHandler) GetAgent(c *gin.Context) {
	cfg, err := h.service.Get(c.Request.Context(), auth.MustUserID(c), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	common.ResponseSuccess(c, cfg)
}

// CreateAgent 创建 Agent
// @Summary 创建 Agent
// @Tags Agents
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body agent.CreateAgentRequest true "Agent 配置"
// @Success 201 {object} common.APIResponse{data=agent.AgentConfig}
// @Failure 400 {object} common.APIResponse
// @Router /api/v1/agents [post]
func (h *AgentHandler) CreateAgent(c *gin.Context) {
	var req agent.CreateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	cfg, err := h.service.Create(c.Request.Context(), auth.MustUserID(c), &req)
	if err != nil {
		common.ResponseServerError(c, err.Error())
		return
	}
	common.ResponseCreated(c, cfg)
}

// UpdateAgent 更新 Agent
// @Summary 更新 Agent
// @Tags Agents
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Agent ID"
// @Param request body agent.UpdateAgentRequest true "需要修改的字段"
// @Success 200 {object} common.APIResponse{data=agent.AgentConfig}
// @Failure 400 {object} common.APIResponse
// @Failure 404 {object} common.APIResponse
// @Router /api/v1/agents/{id} [put]
func (h *AgentHandler) UpdateAgent(c *gin.Context) {
	var req agent.UpdateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	cfg, err := h.service.Update(c.Request.Context(), auth.MustUserID(c), c.Param("id"), &req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	common.ResponseSuccess(c, cfg)
}

// PublishAgent 发布 Agent
// @Summary 发布 Agent
// @Tags Agents
// @Security BearerAuth
// @Produce json
// @Param id path string true "Agent ID"
// @Success 200 {object} common.APIResponse{data=agent.AgentConfig}
// @Failure 404 {object} common.APIResponse
// @Router /api/v1/agents/{id}/publish [post]
func (h *AgentHandler) PublishAgent(c *gin.Context) {
	h.setPublished(c, true)
}

// UnpublishAgent 取消发布
// @Summary 取消发布 Agent
// @Tags Agents
// @Security BearerAuth
// @Produce json
// @Param id path string true "Agent ID"
// @Success 200 {object} common.APIResponse{data=agent.AgentConfig}
// @Failure 404 {object} common.APIResponse
// @Router /api/v1/agents/{id}/unpublish [post]
func (h *AgentHandler) UnpublishAgent(c *gin.Context) {
	h.setPublished(c, false)
}

func (h *AgentHandler) setPublished(c *gin.Context, published bool) {
	cfg, err := h.service.SetPublished(c.Request.Context(), auth.MustUserID(c), c.Param("id"), published)
	if err != nil {
		h.handleError(c, err)
		return
	}
	common.ResponseSuccess(c, cfg)
}

// DeleteAgent 删除 Agent（软删除）
// @Summary 删除 Agent
// @Tags Agents
// @Security BearerAuth
// @Produce json
// @Param id path string true "Agent ID"
// @Success 200 {object} common.APIResponse
// @Failure 404 {object} common.APIResponse
// @Router /api/v1/agents/{id} [delete]
func (h *AgentHandler) DeleteAgent(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), auth.MustUserID(c), c.Param("id")); err != nil {
		h.handleError(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{"id": c.Param("id"), "deleted": true})
}

func (h *AgentHandler) handleError(c *gin.Context, err error) {
	if errors.Is(err, agent.ErrAgentNotFound) {
		common.ResponseNotFound(c, "Agent 不存在")
		return
	}
	common.ResponseServerError(c, err.Error())
}

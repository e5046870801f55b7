package apikey

import (
	"errors"

	"jeesi/internal/auth"
	"jeesi/internal/common"

	"github.com/gin-gonic/gin"
)

// Handler API Key 管理 Handler
type Handler struct {
	service *auth.APIKeyService
}

// NewHandler 创建 Handler
func NewHandler(service *auth.APIKeyService) *Handler {
	return &Handler{service: service}
}

// CreateAPIKeyRequest 创建请求
type CreateAPIKeyRequest struct {
	Name string `json:"name" binding:"required,max=100"`
}

// CreateAPIKey 签发 API Key，明文只返回这一次
// @Summary 签发 API Key
// @Tags APIKeys
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body CreateAPIKeyRequest true "Key 名称"
// @Success 201 {object} common.APIResponse{data=auth.IssuedAPIKey}
// @Failure 400 {object} common.APIResponse
// @Router /api/v1/api-keys [post]
func (h *Handler) CreateAPIKey(c *gin.Context) {
	var req CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	issued, err := h.service.IssueAPIKey(c.Request.Context(), auth.MustUserID(c), req.Name)
	if err != nil {
		common.ResponseServerError(c, err.Error())
		return
	}
	common.ResponseCreated(c, issued)
}

// ListAPIKeys 列出 API Key 元数据
// @Summary 查询 API Key 列表
// @Tags APIKeys
// @Security BearerAuth
// @Produce json
// @Success 200 {object} common.APIResponse{data=[]auth.APIKey}
// @Router /api/v1/api-keys [get]
func (h *Handler) ListAPIKeys(c *gin.Context) {
	keys, err := h.service.ListAPIKeys(c.Request.Context(), auth.MustUserID(c))
	if err != nil {
		common.ResponseServerError(c, err.Error())
		return
	}
	if keys == nil {
		keys = []auth.APIKey{}
	}
	common.ResponseSuccess(c, keys)
}

// RevokeAPIKey 撤销 API Key
// @Summary 撤销 API Key
// @Tags APIKeys
// @Security BearerAuth
// @Produce json
// @Param id path string true "API Key ID"
// @Success 200 {object} common.APIResponse
// @Failure 404 {object} common.APIResponse
// @Router /api/v1/api-keys/{id}/revoke [post]
func (h *Handler) RevokeAPIKey(c *gin.Context) {
	err := h.service.RevokeAPIKey(c.Request.Context(), auth.MustUserID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, auth.ErrAPIKeyNotFound) {
			common.ResponseNotFound(c, "API Key 不存在")
			return
		}
		common.ResponseServerError(c, err.Error())
		return
	}
	common.ResponseSuccess(c, gin.H{"id": c.Param("id"), "revoked": true})
}

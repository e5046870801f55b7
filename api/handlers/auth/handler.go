package auth

import (
	authSvc "jeesi/internal/auth"
	"jeesi/internal/common"
	"jeesi/internal/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler 会话处理器
type Handler struct {
	verifier authSvc.SessionVerifier
}

// NewHandler 创建会话处理器
func NewHandler(verifier authSvc.SessionVerifier) *Handler {
	return &Handler{verifier: verifier}
}

// Logout 登出
// @Summary 登出
// @Description 将当前访问令牌加入黑名单直到其过期；remote 会话模式下由身份提供方负责吊销
// @Tags Auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} common.APIResponse "登出成功"
// @Failure 401 {object} common.APIResponse "未认证"
// @Router /api/v1/auth/logout [post]
func (h *Handler) Logout(c *gin.Context) {
	token := authSvc.ExtractTokenFromBearer(c.GetHeader("Authorization"))
	if invalidator, ok := h.verifier.(authSvc.TokenInvalidator); ok && token != "" {
		if err := invalidator.InvalidateToken(c.Request.Context(), token); err != nil {
			// 记录错误但不中断登出流程
			logger.WithContext(c.Request.Context()).Warn("吊销访问令牌失败",
				zap.String("user_id", authSvc.MustUserID(c)),
				zap.Error(err),
			)
		}
	}

	common.ResponseSuccess(c, gin.H{"message": "登出成功"})
}

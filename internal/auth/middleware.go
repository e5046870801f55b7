package auth

import (
	"errors"
	"net/http"

	"jeesi/internal/common"
	"jeesi/internal/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// identityKey Gin 上下文键
const identityKey = "identity"

// APIKeyHeader 运行时接口携带静态密钥的请求头
const APIKeyHeader = "x-api-key"

// OptionalSession 可选会话认证：令牌有效则写入身份，否则按匿名继续
func OptionalSession(verifier SessionVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractTokenFromBearer(c.GetHeader("Authorization"))
		if token != "" {
			if id, err := verifier.VerifySession(c.Request.Context(), token); err == nil {
				setIdentity(c, id)
			}
		}
		c.Next()
	}
}

// RequireSession 控制台接口的会话认证
func RequireSession(verifier SessionVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractTokenFromBearer(c.GetHeader("Authorization"))
		if token == "" {
			common.AbortWithError(c, http.StatusUnauthorized, "缺少认证令牌")
			return
		}

		id, err := verifier.VerifySession(c.Request.Context(), token)
		if err != nil {
			common.AbortWithError(c, http.StatusUnauthorized, "令牌验证失败")
			return
		}

		setIdentity(c, id)
		c.Next()
	}
}

// RequireAPIKey 运行时接口的静态密钥认证，错误体为 {"error": "..."}
func RequireAPIKey(service *APIKeyService) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := service.ValidateAPIKey(c.Request.Context(), c.GetHeader(APIKeyHeader))
		if err != nil {
			switch {
			case errors.Is(err, ErrAPIKeyMissing):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing API key"})
			case errors.Is(err, ErrAPIKeyInvalid):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			default:
				logger.WithContext(c.Request.Context()).Error("API Key 校验失败", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			}
			return
		}

		setIdentity(c, &Identity{UserID: key.UserID, Source: SourceAPIKey, APIKeyID: key.ID})
		c.Next()
	}
}

// GetIdentity 从 Gin Context 获取调用方身份
func GetIdentity(c *gin.Context) (*Identity, bool) {
	v, exists := c.Get(identityKey)
	if !exists {
		return nil, false
	}
	id, ok := v.(*Identity)
	return id, ok && id != nil
}

// MustUserID 控制台处理器使用，RequireSession 之后一定存在
func MustUserID(c *gin.Context) string {
	id, ok := GetIdentity(c)
	if !ok {
		return ""
	}
	return id.UserID
}

func setIdentity(c *gin.Context, id *Identity) {
	c.Set(identityKey, id)
	c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), id.UserID))
}

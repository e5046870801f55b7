package auth

import (
	"context"
	"errors"
	"strings"
)

var ErrUnauthenticated = errors.New("未认证")

// CredentialSource 身份来源
type CredentialSource string

const (
	SourceSession CredentialSource = "session"
	SourceAPIKey  CredentialSource = "api_key"
)

// Identity 已解析的调用方身份
type Identity struct {
	UserID   string
	Email    string
	Source   CredentialSource
	APIKeyID string
}

// SessionVerifier 校验会话令牌
// 令牌缺失、过期或无效时返回 ErrUnauthenticated
type SessionVerifier interface {
	VerifySession(ctx context.Context, token string) (*Identity, error)
}

// TokenInvalidator 支持主动吊销会话令牌的校验器
type TokenInvalidator interface {
	InvalidateToken(ctx context.Context, token string) error
}

// ExtractTokenFromBearer 从 Bearer 头中提取纯令牌，格式不符时返回空串
func ExtractTokenFromBearer(header string) string {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

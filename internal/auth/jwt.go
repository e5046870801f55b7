package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"jeesi/internal/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SessionClaims 身份提供方签发的访问令牌声明，sub 为用户 ID
type SessionClaims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier 本地校验 HS256 访问令牌
type JWTVerifier struct {
	secretKey   []byte
	issuer      string
	redisClient redis.UniversalClient // 为空时黑名单保存在进程内

	mu      sync.Mutex
	revoked map[string]time.Time // 令牌哈希 -> 过期时间
}

var (
	_ SessionVerifier  = (*JWTVerifier)(nil)
	_ TokenInvalidator = (*JWTVerifier)(nil)
)

// NewJWTVerifier 创建 JWT 校验器
func NewJWTVerifier(secretKey, issuer string, redisClient redis.UniversalClient) *JWTVerifier {
	return &JWTVerifier{
		secretKey:   []byte(secretKey),
		issuer:      issuer,
		redisClient: redisClient,
		revoked:     make(map[string]time.Time),
	}
}

// IssueAccessToken 签发访问令牌（本地开发与测试使用）
func (v *JWTVerifier) IssueAccessToken(userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &SessionClaims{
		Email: email,
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secretKey)
	if err != nil {
		return "", fmt.Errorf("签名令牌失败: %w", err)
	}
	return token, nil
}

// VerifySession 校验签名、有效期、签发方与黑名单
func (v *JWTVerifier) VerifySession(ctx context.Context, tokenString string) (*Identity, error) {
	if tokenString == "" || len(v.secretKey) == 0 {
		return nil, ErrUnauthenticated
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return v.secretKey, nil
	}, opts...)
	if err != nil || !token.Valid {
		logger.WithContext(ctx).Debug("会话令牌校验失败", zap.Error(err))
		return nil, ErrUnauthenticated
	}
	if claims.Subject == "" {
		return nil, ErrUnauthenticated
	}

	if v.IsTokenBlacklisted(ctx, tokenString) {
		return nil, ErrUnauthenticated
	}

	return &Identity{UserID: claims.Subject, Email: claims.Email, Source: SourceSession}, nil
}

// InvalidateToken 把令牌加入黑名单直到其过期
func (v *JWTVerifier) InvalidateToken(ctx context.Context, tokenString string) error {
	claims := &SessionClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return fmt.Errorf("解析令牌失败: %w", err)
	}
	if claims.ExpiresAt == nil {
		return errors.New("令牌缺少过期时间")
	}

	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}

	if v.redisClient == nil {
		v.revokeLocal(HashKey(tokenString), claims.ExpiresAt.Time)
		return nil
	}
	if err := v.redisClient.Set(ctx, blacklistKey(tokenString), "revoked", ttl).Err(); err != nil {
		return fmt.Errorf("加入黑名单失败: %w", err)
	}
	return nil
}

// IsTokenBlacklisted Redis 故障时放行，避免所有会话请求失败
func (v *JWTVerifier) IsTokenBlacklisted(ctx context.Context, tokenString string) bool {
	if v.redisClient == nil {
		return v.isRevokedLocal(HashKey(tokenString))
	}

	exists, err := v.redisClient.Exists(ctx, blacklistKey(tokenString)).Result()
	if err != nil {
		logger.WithContext(ctx).Warn("查询令牌黑名单失败", zap.Error(err))
		return false
	}
	return exists > 0
}

// revokeLocal 写入进程内黑名单，顺带清理已过期的条目
func (v *JWTVerifier) revokeLocal(hash string, expiresAt time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := time.Now()
	for k, exp := range v.revoked {
		if now.After(exp) {
			delete(v.revoked, k)
		}
	}
	v.revoked[hash] = expiresAt
}

func (v *JWTVerifier) isRevokedLocal(hash string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	exp, ok := v.revoked[hash]
	if !ok {
		return false
	}
	if time.Now().After(exp) {
		delete(v.revoked, hash)
		return false
	}
	return true
}

func blacklistKey(tokenString string) string {
	return "blacklist:token:" + HashKey(tokenString)
}

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTVerifier(t *testing.T) {
	ctx := context.Background()
	verifier := NewJWTVerifier("test-secret", "supabase", nil)

	t.Run("有效令牌", func(t *testing.T) {
		token, err := verifier.IssueAccessToken("user-1", "a@example.com", time.Hour)
		require.NoError(t, err)

		id, err := verifier.VerifySession(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, "user-1", id.UserID)
		assert.Equal(t, "a@example.com", id.Email)
		assert.Equal(t, SourceSession, id.Source)
	})

	t.Run("过期令牌", func(t *testing.T) {
		token, err := verifier.IssueAccessToken("user-1", "", -time.Minute)
		require.NoError(t, err)
		_, err = verifier.VerifySession(ctx, token)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("签名密钥不同", func(t *testing.T) {
		other := NewJWTVerifier("other-secret", "supabase", nil)
		token, err := other.IssueAccessToken("user-1", "", time.Hour)
		require.NoError(t, err)
		_, err = verifier.VerifySession(ctx, token)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("签发方不符", func(t *testing.T) {
		other := NewJWTVerifier("test-secret", "someone-else", nil)
		token, err := other.IssueAccessToken("user-1", "", time.Hour)
		require.NoError(t, err)
		_, err = verifier.VerifySession(ctx, token)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("缺少 sub", func(t *testing.T) {
		claims := &SessionClaims{RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "supabase",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		require.NoError(t, err)
		_, err = verifier.VerifySession(ctx, token)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("拒绝 none 算法", func(t *testing.T) {
		claims := &SessionClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1", Issuer: "supabase"}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = verifier.VerifySession(ctx, token)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("未启用 Redis 时使用进程内黑名单", func(t *testing.T) {
		token, err := verifier.IssueAccessToken("user-logout", "", time.Hour)
		require.NoError(t, err)
		other, err := verifier.IssueAccessToken("user-2", "", time.Hour)
		require.NoError(t, err)

		_, err = verifier.VerifySession(ctx, token)
		require.NoError(t, err)

		require.NoError(t, verifier.InvalidateToken(ctx, token))
		assert.True(t, verifier.IsTokenBlacklisted(ctx, token))
		_, err = verifier.VerifySession(ctx, token)
		assert.ErrorIs(t, err, ErrUnauthenticated)

		assert.False(t, verifier.IsTokenBlacklisted(ctx, other))
		_, err = verifier.VerifySession(ctx, other)
		assert.NoError(t, err)
	})

	t.Run("已过期令牌无需加入黑名单", func(t *testing.T) {
		token, err := verifier.IssueAccessToken("user-1", "", -time.Minute)
		require.NoError(t, err)
		assert.NoError(t, verifier.InvalidateToken(ctx, token))
		assert.False(t, verifier.IsTokenBlacklisted(ctx, token))
	})
}

func TestExtractTokenFromBearer(t *testing.T) {
	assert.Equal(t, "abc", ExtractTokenFromBearer("Bearer abc"))
	assert.Equal(t, "abc", ExtractTokenFromBearer("bearer abc"))
	assert.Equal(t, "", ExtractTokenFromBearer("Basic abc"))
	assert.Equal(t, "", ExtractTokenFromBearer("Bearer "))
	assert.Equal(t, "", ExtractTokenFromBearer(""))
}

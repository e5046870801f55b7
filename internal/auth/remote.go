package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"jeesi/internal/logger"
	"jeesi/pkg/httputil"

	"go.uber.org/zap"
)

const maxRemoteCacheEntries = 10000

// remoteUser 身份提供方 /auth/v1/user 的响应
type remoteUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type identityEntry struct {
	identity  *Identity
	expiresAt time.Time
}

// RemoteVerifier 把令牌交给身份提供方换取用户信息，成功结果在进程内缓存
type RemoteVerifier struct {
	baseURL string
	anonKey string
	client  *httputil.Client
	ttl     time.Duration

	mu      sync.RWMutex
	entries map[string]identityEntry
}

var _ SessionVerifier = (*RemoteVerifier)(nil)

// NewRemoteVerifier 创建远程校验器，ttl 为 0 时不缓存
func NewRemoteVerifier(baseURL, anonKey string, client *httputil.Client, ttl time.Duration) *RemoteVerifier {
	if client == nil {
		client = httputil.NewClient(httputil.WithTimeout(10*time.Second), httputil.WithRetries(1))
	}
	return &RemoteVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		client:  client,
		ttl:     ttl,
		entries: make(map[string]identityEntry),
	}
}

// VerifySession 调用身份提供方校验令牌
func (v *RemoteVerifier) VerifySession(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}

	key := HashKey(token)
	if id, ok := v.get(key); ok {
		return id, nil
	}

	headers := map[string]string{"Authorization": "Bearer " + token}
	if v.anonKey != "" {
		headers["apikey"] = v.anonKey
	}

	var user remoteUser
	if err := v.client.GetJSON(ctx, v.baseURL+"/auth/v1/user", headers, &user); err != nil {
		var statusErr *httputil.StatusError
		if errors.As(err, &statusErr) && (statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden) {
			return nil, ErrUnauthenticated
		}
		logger.WithContext(ctx).Warn("身份提供方请求失败", zap.Error(err))
		return nil, ErrUnauthenticated
	}
	if user.ID == "" {
		return nil, ErrUnauthenticated
	}

	identity := &Identity{UserID: user.ID, Email: user.Email, Source: SourceSession}
	v.set(key, identity)
	return identity, nil
}

func (v *RemoteVerifier) get(key string) (*Identity, bool) {
	if v.ttl <= 0 {
		return nil, false
	}
	v.mu.RLock()
	defer v.mu.RUnlock()

	entry, found := v.entries[key]
	if !found || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.identity, true
}

func (v *RemoteVerifier) set(key string, identity *Identity) {
	if v.ttl <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	now := time.Now()
	if len(v.entries) >= maxRemoteCacheEntries {
		for k, e := range v.entries {
			if now.After(e.expiresAt) {
				delete(v.entries, k)
			}
		}
		if len(v.entries) >= maxRemoteCacheEntries {
			v.entries = make(map[string]identityEntry)
		}
	}
	v.entries[key] = identityEntry{identity: identity, expiresAt: now.Add(v.ttl)}
}

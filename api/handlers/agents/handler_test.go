package agents

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"jeesi/internal/agent"
	"jeesi/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func setupRouter(t *testing.T) (*gin.Engine, *auth.JWTVerifier) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dsn := fmt.Sprintf("file:agents_handler_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormLogger.Default.LogMode(gormLogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&agent.AgentConfig{}))

	verifier := auth.NewJWTVerifier("secret", "", nil)
	h := NewAgentHandler(agent.NewService(db, nil))

	r := gin.New()
	g := r.Group("/api/v1/agents", auth.RequireSession(verifier))
	g.GET("", h.ListAgents)
	g.POST("", h.CreateAgent)
	g.GET("/:id", h.GetAgent)
	g.PUT("/:id", h.UpdateAgent)
	g.POST("/:id/publish", h.PublishAgent)
	g.POST("/:id/unpublish", h.UnpublishAgent)
	g.DELETE("/:id", h.DeleteAgent)
	return r, verifier
}

func tokenFor(t *testing.T, v *auth.JWTVerifier, userID string) string {
	token, err := v.IssueAccessToken(userID, "", time.Hour)
	require.NoError(t, err)
	return token
}

func do(t *testing.T, r *gin.Engine, token, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func TestAgentHandlers(t *testing.T) {
	r, v := setupRouter(t)
	owner := tokenFor(t, v, "owner")
	other := tokenFor(t, v, "other")

	w, env := do(t, r, owner, http.MethodPost, "/api/v1/agents",
		`{"name":"Support bot","systemPrompt":"Help with billing","temperature":0.2}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var created agent.AgentConfig
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, agent.DefaultModel, created.Model)
	assert.InDelta(t, 0.2, created.Temperature, 1e-9)
	assert.False(t, created.IsPublished)

	base := "/api/v1/agents/" + created.ID

	t.Run("发布与取消发布", func(t *testing.T) {
		w, env := do(t, r, owner, http.MethodPost, base+"/publish", "")
		require.Equal(t, http.StatusOK, w.Code)
		var cfg agent.AgentConfig
		require.NoError(t, json.Unmarshal(env.Data, &cfg))
		assert.True(t, cfg.IsPublished)

		w, env = do(t, r, owner, http.MethodPost, base+"/unpublish", "")
		require.Equal(t, http.StatusOK, w.Code)
		require.NoError(t, json.Unmarshal(env.Data, &cfg))
		assert.False(t, cfg.IsPublished)
	})

	t.Run("部分更新", func(t *testing.T) {
		w, env := do(t, r, owner, http.MethodPut, base, `{"maxTokens":512}`)
		require.Equal(t, http.StatusOK, w.Code)
		var cfg agent.AgentConfig
		require.NoError(t, json.Unmarshal(env.Data, &cfg))
		assert.Equal(t, 512, cfg.MaxTokens)
		assert.Equal(t, "Help with billing", cfg.SystemPrompt)
	})

	t.Run("非法温度返回 400", func(t *testing.T) {
		w, _ := do(t, r, owner, http.MethodPut, base, `{"temperature":3}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("其他用户不可见", func(t *testing.T) {
		w, _ := do(t, r, other, http.MethodGet, base, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		w, _ = do(t, r, other, http.MethodPost, base+"/publish", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("列表", func(t *testing.T) {
		w, env := do(t, r, owner, http.MethodGet, "/api/v1/agents?page=1&page_size=10", "")
		require.Equal(t, http.StatusOK, w.Code)
		var list struct {
			Items      []agent.AgentConfig `json:"items"`
			Pagination struct {
				Total int64 `json:"total"`
			} `json:"pagination"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &list))
		assert.Len(t, list.Items, 1)
		assert.Equal(t, int64(1), list.Pagination.Total)
	})

	t.Run("删除", func(t *testing.T) {
		w, _ := do(t, r, owner, http.MethodDelete, base, "")
		assert.Equal(t, http.StatusOK, w.Code)
		w, _ = do(t, r, owner, http.MethodGet, base, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

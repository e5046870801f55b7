package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(PrometheusMiddleware())
	r.GET("/api/v1/agents/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/v1/agents/:id", "204"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/agents/abc", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	after := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/v1/agents/:id", "204"))
	assert.Equal(t, before+1, after)

	t.Run("未匹配路由统一标签", func(t *testing.T) {
		before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "unmatched", "404"))
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/random/path", nil))
		assert.Equal(t, before+1, testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "unmatched", "404")))
	})
}

func TestRecordHelpers(t *testing.T) {
	before := testutil.ToFloat64(ChatRequestsTotal.WithLabelValues("agent_runtime", "success"))
	RecordChatOutcome("agent_runtime", "success")
	assert.Equal(t, before+1, testutil.ToFloat64(ChatRequestsTotal.WithLabelValues("agent_runtime", "success")))

	before = testutil.ToFloat64(SideTasksTotal.WithLabelValues("usage:record", "failed"))
	RecordSideTask("usage:record", "failed")
	assert.Equal(t, before+1, testutil.ToFloat64(SideTasksTotal.WithLabelValues("usage:record", "failed")))
}

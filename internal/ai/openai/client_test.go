package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"jeesi/pkg/aiinterface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRequest() *aiinterface.ChatCompletionRequest {
	return &aiinterface.ChatCompletionRequest{
		Model:       "google/gemini-2.5-flash",
		Temperature: 0.7,
		Messages: []aiinterface.Message{
			{Role: aiinterface.RoleSystem, Content: aiinterface.TextContent("You are helpful.")},
			{Role: aiinterface.RoleUser, Content: aiinterface.MessageContent{Parts: []aiinterface.ContentPart{
				{Type: aiinterface.PartTypeText, Text: "What is this?"},
				{Type: aiinterface.PartTypeImageURL, ImageURL: &aiinterface.ImageURL{URL: "https://example.com/cat.png"}},
			}}},
		},
	}
}

func TestChatCompletionStream_Success(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer gw-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[]}\n\ndata: [DONE]\n\n")
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL + "/v1/", APIKey: "gw-key"})
	require.NoError(t, err)

	stream, err := client.ChatCompletionStream(context.Background(), newTestRequest())
	require.NoError(t, err)
	defer stream.Body.Close()

	body, err := io.ReadAll(stream.Body)
	require.NoError(t, err)
	assert.Equal(t, "data: {\"choices\":[]}\n\ndata: [DONE]\n\n", string(body))
	assert.Equal(t, "text/event-stream", stream.ContentType)

	assert.Equal(t, true, captured["stream"])
	assert.Equal(t, "google/gemini-2.5-flash", captured["model"])
	assert.InDelta(t, 0.7, captured["temperature"], 1e-6)
	_, hasMaxTokens := captured["max_tokens"]
	assert.False(t, hasMaxTokens)

	messages := captured["messages"].([]any)
	require.Len(t, messages, 2)
	first := messages[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
	assert.Equal(t, "You are helpful.", first["content"])
	parts := messages[1].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, "image_url", parts[1].(map[string]any)["type"])
}

func TestChatCompletionStream_StatusMapping(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		wantType aiinterface.ErrorType
		wantMsg  string
	}{
		{"429 映射为限流", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, aiinterface.ErrorTypeRateLimit, "slow down"},
		{"402 映射为上游欠费", http.StatusPaymentRequired, `payment required`, aiinterface.ErrorTypePaymentRequired, "payment required"},
		{"其他状态映射为上游错误", http.StatusBadGateway, ``, aiinterface.ErrorTypeServerError, "上游网关返回状态码 502"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer server.Close()

			client, err := NewClient(Config{BaseURL: server.URL, APIKey: "k"})
			require.NoError(t, err)

			stream, err := client.ChatCompletionStream(context.Background(), newTestRequest())
			assert.Nil(t, stream)

			var clientErr *aiinterface.ClientError
			require.ErrorAs(t, err, &clientErr)
			assert.Equal(t, tc.wantType, clientErr.Type)
			assert.Equal(t, tc.status, clientErr.StatusCode)
			assert.Equal(t, tc.wantMsg, clientErr.Message)
			// 不重试
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		})
	}
}

func TestChatCompletionStream_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client, err := NewClient(Config{BaseURL: url, APIKey: "k"})
	require.NoError(t, err)

	_, err = client.ChatCompletionStream(context.Background(), newTestRequest())
	assert.Equal(t, aiinterface.ErrorTypeNetwork, aiinterface.ErrorTypeOf(err))
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{APIKey: "k"})
	assert.Equal(t, aiinterface.ErrorTypeInvalidParams, aiinterface.ErrorTypeOf(err))

	_, err = NewClient(Config{BaseURL: "http://x"})
	assert.Equal(t, aiinterface.ErrorTypeAuth, aiinterface.ErrorTypeOf(err))
}

func TestBuildRequest_ZeroTemperature(t *testing.T) {
	req := newTestRequest()
	req.Temperature = 0

	data, err := json.Marshal(BuildRequest(req))
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))
	temp, ok := body["temperature"]
	require.True(t, ok, "temperature 为 0 时仍需出现在请求体中")
	assert.Greater(t, temp.(float64), 0.0)
	assert.Less(t, temp.(float64), 1e-6)
}

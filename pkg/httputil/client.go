package httputil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const defaultUserAgent = "Jeesi-Gateway/1.0"

// Client HTTP 客户端包装器，提供便利的请求方法
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	headers    map[string]string
	retries    int
}

// ClientOption 客户端配置选项
type ClientOption func(*Client)

// WithTimeout 设置整体请求超时，0 表示不限制（流式响应）
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
		c.httpClient.Timeout = timeout
	}
}

// WithResponseHeaderTimeout 只限制等待响应头的时间，不影响 body 读取
func WithResponseHeaderTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = timeout
		transport.DialContext = (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext
		c.httpClient.Transport = transport
	}
}

// WithRetries 设置重试次数，仅对无请求体的幂等请求生效
func WithRetries(retries int) ClientOption {
	return func(c *Client) {
		c.retries = retries
	}
}

// NewClient 创建 HTTP 客户端
func NewClient(opts ...ClientOption) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		timeout: 30 * time.Second,
		headers: make(map[string]string),
	}

	for _, opt := range opts {
		opt(client)
	}

	if _, ok := client.headers["User-Agent"]; !ok {
		client.headers["User-Agent"] = defaultUserAgent
	}

	return client
}

// StatusError 非 2xx 响应
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP请求返回错误状态: %d", e.StatusCode)
}

// applyHeaders 将默认 headers 应用到请求，已显式设置的请求头不覆盖
func (c *Client) applyHeaders(req *http.Request) {
	for k, v := range c.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
}

func canRetry(req *http.Request) bool {
	return req.Body == nil && (req.Method == http.MethodGet || req.Method == http.MethodHead)
}

// Do 执行 HTTP 请求
// 带请求体的请求只发送一次，避免重复触发上游计费
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	c.applyHeaders(req)
	req = req.WithContext(ctx)

	attempts := 1
	if canRetry(req) {
		attempts += c.retries
	}

	var resp *http.Response
	var err error
	for i := 0; i < attempts; i++ {
		resp, err = c.httpClient.Do(req)
		if err == nil && resp.StatusCode < 500 {
			break
		}
		if i == attempts-1 {
			break
		}
		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(i+1) * 100 * time.Millisecond):
		}
	}

	return resp, err
}

// Get 发送 GET 请求
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("创建GET请求失败: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.Do(ctx, req)
}

// Post 发送 POST 请求
func (c *Client) Post(ctx context.Context, url string, contentType string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("创建POST请求失败: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.Do(ctx, req)
}

// GetJSON 发送 GET 请求并解析 JSON 响应，非 2xx 返回 *StatusError
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, result interface{}) error {
	resp, err := c.Get(ctx, url, headers)
	if err != nil {
		return fmt.Errorf("GET请求失败: %w", err)
	}
	defer resp.Body.Close()
	return decodeJSON(resp, result)
}

func decodeJSON(resp *http.Response, result interface{}) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: excerpt}
	}
	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("解析JSON响应失败: %w", err)
	}
	return nil
}

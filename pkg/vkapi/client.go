package vkapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL     = "https://api.vk.com/method"
	defaultVersion     = "5.103"
	defaultCallTimeout = 10 * time.Second
)

// Client 基于 net/http 的平台 API 客户端，同时实现 Caller 与 LongPoller。
type Client struct {
	httpClient  *http.Client
	baseURL     string
	token       string
	version     string
	callTimeout time.Duration
}

// ClientOption 自定义 Client 行为。
type ClientOption func(*Client)

// WithHTTPClient 替换底层 http.Client。
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBaseURL 指定方法调用的根地址。
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithVersion 指定 API 版本号参数 v。
func WithVersion(v string) ClientOption {
	return func(c *Client) {
		if v != "" {
			c.version = v
		}
	}
}

// WithCallTimeout 指定单次方法调用的超时，长轮询请求不受此限制。
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// NewClient 创建一个新的 Client。
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		// 不设置整体超时：长轮询需要挂起 wait 秒，超时由调用方 ctx 控制。
		httpClient:  &http.Client{},
		baseURL:     defaultBaseURL,
		token:       token,
		version:     defaultVersion,
		callTimeout: defaultCallTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Call 以表单 POST 调用 {baseURL}/{method}，自动附加 access_token 与 v。
// 平台返回 error 字段时，同时返回解析出的响应与 *APIError。
func (c *Client) Call(ctx context.Context, method string, params Params) (*Response, error) {
	if method == "" {
		return nil, fmt.Errorf("method is empty")
	}
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	form := params.Values()
	if form.Get("access_token") == "" {
		form.Set("access_token", c.token)
	}
	if form.Get("v") == "" {
		form.Set("v", c.version)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if resp.Error != nil {
		return &resp, resp.Error
	}
	return &resp, nil
}

// Check 向长轮询服务器发起一次 GET 请求。server 中已有的查询参数会被保留。
func (c *Client) Check(ctx context.Context, server string, params Params) (*LongPollResponse, error) {
	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("parse long poll server: %w", err)
	}
	q := u.Query()
	for k, vs := range params.Values() {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var resp LongPollResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode long poll response: %w", err)
	}
	return &resp, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vk api error: status=%d body=%s", resp.StatusCode, string(body))
	}
	return body, nil
}

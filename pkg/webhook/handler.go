// Package webhook 处理平台以回调方式推送的事件。
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// ResponseOK 事件已接收。
	ResponseOK = "ok"
	// ResponseError 事件被拒绝（密钥不符或请求体非法）。
	ResponseError = "error"

	confirmationType = "confirmation"
	maxBodySize      = 1 << 20
)

// Sink 接收通过校验的原始事件。
type Sink interface {
	HandleUpdate(ctx context.Context, raw json.RawMessage)
}

// Handler 回调入口：确认请求、校验密钥、分发事件。
type Handler struct {
	sink         Sink
	confirmation string
	secret       string
	logger       *zap.Logger
}

// Option 自定义 Handler。
type Option func(*Handler)

// WithConfirmation 设置 confirmation 事件需要返回的确认串。
func WithConfirmation(token string) Option {
	return func(h *Handler) {
		h.confirmation = token
	}
}

// WithSecret 设置回调密钥，为空时不校验。
func WithSecret(secret string) Option {
	return func(h *Handler) {
		h.secret = secret
	}
}

// WithLogger 设置日志。
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// New 创建 Handler。
func New(sink Sink, opts ...Option) *Handler {
	h := &Handler{sink: sink, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Callback 处理一次回调请求体并返回应写回平台的响应文本。
// Parameters:
//   - ctx: 分发使用的上下文
//   - body: 原始 JSON 请求体
//
// Returns:
//   - confirmation 事件返回确认串；密钥不符或 JSON 非法返回 "error"；其余分发后返回 "ok"
func (h *Handler) Callback(ctx context.Context, body []byte) string {
	var env struct {
		Type   string `json:"type"`
		Secret string `json:"secret"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		h.logger.Warn("Invalid callback body", zap.Error(err))
		return ResponseError
	}

	if env.Type == confirmationType {
		return h.confirmation
	}

	if h.secret != "" && env.Secret != h.secret {
		h.logger.Warn("Callback secret mismatch", zap.String("type", env.Type))
		return ResponseError
	}

	if h.sink != nil {
		h.sink.HandleUpdate(ctx, json.RawMessage(body))
	}
	return ResponseOK
}

// ServeHTTP 实现 http.Handler 接口，只接受 POST。
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(h.Callback(r.Context(), body)))
}

// Gin 返回 gin 路由使用的处理函数。
func (h *Handler) Gin() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodySize))
		if err != nil {
			c.String(http.StatusBadRequest, "read body failed")
			return
		}
		c.String(http.StatusOK, h.Callback(c.Request.Context(), body))
	}
}

// Package ai 使用 langchaingo 模型为非命令消息生成回复，对话历史保存在会话中。
package ai

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/IMBotPlatform/VKBotCore/pkg/botcore"
	"github.com/IMBotPlatform/VKBotCore/pkg/command"
)

const (
	// HistoryKey 对话历史在会话中的保留字段名。
	HistoryKey = "__ai_history"

	defaultHistoryLimit = 20
)

// Turn 一条对话历史。
type Turn struct {
	Role llms.ChatMessageType
	Text string
}

// Service 是 AI 逻辑的主要入口点。
// 它负责管理模型实例以及与 LLM 的交互。
type Service struct {
	config *Config
	logger *zap.Logger

	mu         sync.Mutex
	modelCache map[string]llms.Model
}

var _ command.LLMProvider = (*Service)(nil)

// Option 自定义 Service。
type Option func(*Service)

// WithLogger 设置日志。
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithModelInstance 以指定名称预置模型实例，跳过按配置创建。
func WithModelInstance(name string, m llms.Model) Option {
	return func(s *Service) {
		if m != nil {
			s.modelCache[name] = m
		}
	}
}

// NewService 创建一个新的 AI 服务实例。
func NewService(config *Config, opts ...Option) *Service {
	if config == nil {
		config = &Config{}
	}
	s := &Service{
		config:     config,
		logger:     zap.NewNop(),
		modelCache: make(map[string]llms.Model),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// resolveAPIKey 解析 API 密钥。
// 如果密钥以 "env:" 开头，则从环境变量中获取实际值。
func resolveAPIKey(key string) string {
	if strings.HasPrefix(key, "env:") {
		return os.Getenv(strings.TrimPrefix(key, "env:"))
	}
	return key
}

// getModel 获取模型实例。
// 如果缓存中存在则直接返回，否则按配置初始化并缓存。
func (s *Service) getModel(ctx context.Context, modelName string) (llms.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if model, ok := s.modelCache[modelName]; ok {
		return model, nil
	}

	cfg, ok := s.config.Model(modelName)
	if !ok {
		return nil, fmt.Errorf("model '%s' not found in configuration", modelName)
	}

	var llm llms.Model
	var err error

	apiKey := resolveAPIKey(cfg.APIKey)

	switch cfg.Provider {
	case "openai":
		opts := []openai.Option{
			openai.WithToken(apiKey),
			openai.WithModel(cfg.ModelName),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err = openai.New(opts...)
	case "google":
		llm, err = googleai.New(ctx,
			googleai.WithAPIKey(apiKey),
			googleai.WithDefaultModel(cfg.ModelName),
		)
	case "anthropic":
		opts := []anthropic.Option{
			anthropic.WithToken(apiKey),
			anthropic.WithModel(cfg.ModelName),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		llm, err = anthropic.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create model provider: %w", err)
	}

	s.modelCache[modelName] = llm
	return llm, nil
}

// callOptions 合并模型配置与调用方选项。
func (s *Service) callOptions(modelName string, options command.ChatOptions) []llms.CallOption {
	var opts []llms.CallOption
	cfg, _ := s.config.Model(modelName)
	if cfg.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(cfg.MaxTokens))
	}
	temperature := cfg.Temperature
	if options.Temperature > 0 {
		temperature = options.Temperature
	}
	if temperature > 0 {
		opts = append(opts, llms.WithTemperature(temperature))
	}
	return opts
}

// Chat 在会话历史的基础上回答 prompt，并把本轮问答写回会话。
//
// 核心流程:
//
//	prompt -> [System + Session History + prompt] -> LLM -> answer
//	                                                           |
//	                                          Session History <+
func (s *Service) Chat(ctx context.Context, session *botcore.Session, prompt string, opts ...command.ChatOption) (string, error) {
	// Step 0: 解析选项（默认使用配置中的 default_model，可被 WithModel 覆盖）
	options := command.ChatOptions{Model: s.config.DefaultModel}
	for _, o := range opts {
		if o != nil {
			o(&options)
		}
	}

	// Step 1: 获取模型
	llm, err := s.getModel(ctx, options.Model)
	if err != nil {
		return "", err
	}

	// Step 2: 组装消息
	messages := s.buildMessages(session, prompt)

	// Step 3: 调用 LLM
	resp, err := llm.GenerateContent(ctx, messages, s.callOptions(options.Model, options)...)
	if err != nil {
		return "", fmt.Errorf("llm generate error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from llm")
	}
	answer := resp.Choices[0].Content

	// Step 4: 写回历史
	s.remember(session, Turn{Role: llms.ChatMessageTypeHuman, Text: prompt}, Turn{Role: llms.ChatMessageTypeAI, Text: answer})
	return answer, nil
}

// History 返回会话中的对话历史副本。
func History(session *botcore.Session) []Turn {
	turns, _ := botcore.SessionValue[[]Turn](session, HistoryKey)
	return append([]Turn(nil), turns...)
}

// ClearHistory 清空会话中的对话历史。
func ClearHistory(session *botcore.Session) {
	session.Delete(HistoryKey)
}

func (s *Service) buildMessages(session *botcore.Session, prompt string) []llms.MessageContent {
	var messages []llms.MessageContent
	if s.config.SystemPrompt != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, s.config.SystemPrompt))
	}
	for _, turn := range History(session) {
		messages = append(messages, llms.TextParts(turn.Role, turn.Text))
	}
	return append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))
}

// remember 追加历史并裁剪到 HistoryLimit 条。
func (s *Service) remember(session *botcore.Session, turns ...Turn) {
	limit := s.config.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	session.Update(HistoryKey, func(cur any, ok bool) (any, bool) {
		history, _ := cur.([]Turn)
		next := append(append([]Turn(nil), history...), turns...)
		if len(next) > limit {
			next = next[len(next)-limit:]
		}
		return next, true
	})
}

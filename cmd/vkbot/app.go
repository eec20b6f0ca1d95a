package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/IMBotPlatform/VKBotCore/pkg/ai"
	"github.com/IMBotPlatform/VKBotCore/pkg/bot"
	"github.com/IMBotPlatform/VKBotCore/pkg/config"
)

// application 汇总一次进程运行所需的组件。
type application struct {
	settings *config.Settings
	logger   *zap.Logger
	bot      *bot.Bot
}

// setup 读取配置、创建日志与 Bot 并挂载中间件。
func setup(flags *globalFlags) (*application, error) {
	settings, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	log, err := newLogger(settings)
	if err != nil {
		return nil, err
	}

	b, err := bot.New(*settings, bot.WithLogger(log))
	if err != nil {
		return nil, err
	}
	b.OnError(func(component string, err error) {
		log.Warn("Bot error", zap.String("component", component), zap.Error(err))
	})

	svc, err := newAIService(flags.aiConfig, log)
	if err != nil {
		return nil, err
	}

	wire(b, svc, log)

	return &application{settings: settings, logger: log, bot: b}, nil
}

// newAIService 优先读取模型配置文件；没有配置文件但存在 OPENAI_API_KEY 时使用单个 OpenAI 模型。
// 两者都没有时返回 nil，机器人不启用 AI 回复。
func newAIService(path string, log *zap.Logger) (*ai.Service, error) {
	if path != "" {
		cfg, err := ai.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		return ai.NewService(cfg, ai.WithLogger(log.Named("ai"))), nil
	}

	key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if key == "" {
		return nil, nil
	}
	opts := []openai.Option{openai.WithToken(key)}
	if model := strings.TrimSpace(os.Getenv("OPENAI_MODEL")); model != "" {
		opts = append(opts, openai.WithModel(model))
	}
	if baseURL := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("init openai: %w", err)
	}
	return ai.NewService(&ai.Config{DefaultModel: "openai"},
		ai.WithLogger(log.Named("ai")),
		ai.WithModelInstance("openai", llm),
	), nil
}

package command

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/IMBotPlatform/VKBotCore/pkg/botcore"
)

const commandLogSnippet = 256

// Manager 负责串联解析、构建 Cobra 命令树并执行，以中间件形式挂到链上。
type Manager struct {
	factory CommandFactory
	parser  Parser
	llm     LLMProvider
	logger  *zap.Logger
}

// ManagerOption 自定义 Manager 行为。
type ManagerOption func(*Manager)

// WithLogger 注入日志记录器。
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithParser 替换命令解析器（例如自定义前缀）。
func WithParser(p Parser) ManagerOption {
	return func(m *Manager) {
		m.parser = p
	}
}

// WithLLM 注入 AI 服务，命令内通过 ExecutionContext.LLM 获取。
func WithLLM(llm LLMProvider) ManagerOption {
	return func(m *Manager) {
		m.llm = llm
	}
}

// NewManager 绑定命令工厂，返回管理器。
func NewManager(factory CommandFactory, opts ...ManagerOption) *Manager {
	mgr := &Manager{
		factory: factory,
		parser:  NewParser(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(mgr)
		}
	}
	return mgr
}

// Handler 返回中间件：命令消息由命令树处理并消费，其余事件调用 next。
func (m *Manager) Handler() botcore.HandlerFunc {
	return func(ctx *botcore.Context, next botcore.Next) error {
		if !ctx.Update.IsMessage() {
			next()
			return nil
		}
		parsed := m.parser.Parse(ctx.Update.Text)
		if !parsed.IsCommand {
			next()
			return nil
		}
		return m.Execute(ctx, parsed)
	}
}

// Execute 为本次事件构建独立的命令树并执行，输出回复到原会话。
// 命令自身的错误以文本形式回复给用户；只有回复失败时返回错误。
func (m *Manager) Execute(ctx *botcore.Context, parsed ParseResult) error {
	if m == nil || m.factory == nil {
		return errors.New("command manager not initialized")
	}

	// 1. 创建 Cobra 命令树
	rootCmd := m.factory()

	// 2. 配置 IO 重定向
	writer := NewReplyWriter(ctx)
	rootCmd.SetOut(writer)
	rootCmd.SetErr(writer)
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// 3. 准备上下文
	execCtx := &ExecutionContext{
		Bot:    ctx,
		Parsed: parsed,
		llm:    m.llm,
		writer: writer,
	}

	// 4. 设置参数并执行
	args := parsed.Tokens
	// 第一个 token 与根命令同名时移除，避免 "unknown command X for X"
	if len(args) > 0 && strings.EqualFold(args[0], rootCmd.Name()) {
		args = args[1:]
	}
	fields := append(ctx.LogFields(), zap.String("command", truncateForLog(strings.Join(args, " "), commandLogSnippet)))

	if len(args) == 0 {
		m.logger.Debug("Empty command", fields...)
		fmt.Fprintf(writer, "%v, try /help\n", ErrCommandRequired)
	} else {
		rootCmd.SetArgs(args)
		m.logger.Info("Executing command", fields...)
		if err := rootCmd.ExecuteContext(WithExecutionContext(ctx.Context(), execCtx)); err != nil {
			err = classify(err)
			m.logger.Warn("Command execution error", append(fields, zap.Error(err))...)
			if errors.Is(err, ErrCommandNotFound) {
				fmt.Fprintf(writer, "%v: %s, try /help\n", ErrCommandNotFound, args[0])
			} else {
				fmt.Fprintf(writer, "❌ %v\n", err)
			}
		}
	}

	if _, err := writer.Flush(); err != nil {
		return fmt.Errorf("reply command output: %w", err)
	}
	return nil
}

// classify 把 Cobra 的未知命令错误映射为 ErrCommandNotFound。
func classify(err error) error {
	if err != nil && strings.HasPrefix(err.Error(), "unknown command") {
		return fmt.Errorf("%w: %s", ErrCommandNotFound, err.Error())
	}
	return err
}

// truncateForLog 限制日志中输出的文本长度。
func truncateForLog(src string, limit int) string {
	if limit <= 0 || len(src) <= limit {
		return src
	}
	return fmt.Sprintf("%s...(truncated)", src[:limit])
}

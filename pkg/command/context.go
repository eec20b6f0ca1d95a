package command

import (
	"context"

	"github.com/IMBotPlatform/VKBotCore/pkg/botcore"
	"github.com/IMBotPlatform/VKBotCore/pkg/executor"
)

// keyExecutionContext 是 context.Context 中存储 ExecutionContext 的键。
type keyExecutionContext struct{}

// ExecutionContext 为命令 handler 提供必要的环境信息。
type ExecutionContext struct {
	Bot    *botcore.Context
	Parsed ParseResult

	llm    LLMProvider
	writer *ReplyWriter
}

// Update 返回触发命令的事件。
func (ctx *ExecutionContext) Update() botcore.Update {
	return ctx.Bot.Update
}

// Session 返回当前会话，未挂载 session 中间件时为 nil。
func (ctx *ExecutionContext) Session() *botcore.Session {
	return ctx.Bot.Session
}

// Scene 返回场景控制器，未挂载 Stage 中间件时为 nil。
func (ctx *ExecutionContext) Scene() botcore.SceneControl {
	return ctx.Bot.Scene
}

// LLM 返回 AI 服务提供者。
func (ctx *ExecutionContext) LLM() LLMProvider {
	return ctx.llm
}

// Reply 立即回复一条独立消息，不经过命令输出缓冲。
func (ctx *ExecutionContext) Reply(text string, opts ...botcore.MessageOption) (*executor.Call, error) {
	return ctx.Bot.Reply(text, opts...)
}

// SetKeyboard 为命令输出附带键盘。
func (ctx *ExecutionContext) SetKeyboard(k botcore.Keyboard) {
	if ctx.writer != nil {
		ctx.writer.SetOptions(botcore.WithKeyboard(k))
	}
}

// WithExecutionContext 将 ExecutionContext 注入到标准 context.Context 中。
func WithExecutionContext(ctx context.Context, execCtx *ExecutionContext) context.Context {
	return context.WithValue(ctx, keyExecutionContext{}, execCtx)
}

// FromContext 从标准 context.Context 中提取 ExecutionContext。
func FromContext(ctx context.Context) *ExecutionContext {
	if ctx == nil {
		return nil
	}
	val, _ := ctx.Value(keyExecutionContext{}).(*ExecutionContext)
	return val
}

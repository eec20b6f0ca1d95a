package command

import (
	"context"

	"github.com/IMBotPlatform/VKBotCore/pkg/botcore"
)

// ChatOptions 定义调用 LLM 时的可选参数。
type ChatOptions struct {
	Model       string // 指定使用的模型名称
	Temperature float64
}

// ChatOption 是设置 ChatOptions 的函数类型。
type ChatOption func(*ChatOptions)

// WithModel 指定本次调用使用的模型。
func WithModel(name string) ChatOption {
	return func(o *ChatOptions) {
		o.Model = name
	}
}

// WithTemperature 指定采样温度。
func WithTemperature(t float64) ChatOption {
	return func(o *ChatOptions) {
		o.Temperature = t
	}
}

// LLMProvider 定义命令层依赖的 AI 能力接口，实现见 pkg/ai。
type LLMProvider interface {
	// Chat 在会话历史的基础上回答 prompt。
	Chat(ctx context.Context, session *botcore.Session, prompt string, opts ...ChatOption) (string, error)
}

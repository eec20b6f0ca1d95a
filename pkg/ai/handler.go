package ai

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/IMBotPlatform/VKBotCore/pkg/botcore"
	"github.com/IMBotPlatform/VKBotCore/pkg/command"
)

// Handler 返回消息兜底处理器：用模型回答文本消息并回复到原会话。
// 配置了工具时走 Agent 循环，否则直接对话。空文本调用 next。
func (s *Service) Handler(tools ...ToolDefinition) botcore.HandlerFunc {
	return func(ctx *botcore.Context, next botcore.Next) error {
		text := strings.TrimSpace(ctx.Update.Text)
		if text == "" {
			next()
			return nil
		}

		var (
			answer string
			err    error
		)
		if len(tools) > 0 {
			answer, err = s.RunAgent(ctx.Context(), ctx.Session, text, AgentOptions{Tools: tools})
		} else {
			answer, err = s.Chat(ctx.Context(), ctx.Session, text)
		}
		if err != nil {
			return fmt.Errorf("ai reply: %w", err)
		}

		answer = strings.TrimSpace(answer)
		if answer == "" {
			s.logger.Debug("Empty model answer", ctx.LogFields()...)
			return nil
		}
		for _, part := range command.SplitMessage(answer, command.MaxMessageLength) {
			if _, err := ctx.Reply(part); err != nil {
				return err
			}
		}
		s.logger.Debug("AI reply queued", append(ctx.LogFields(), zap.Int("length", len(answer)))...)
		return nil
	}
}

package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/IMBotPlatform/VKBotCore/pkg/botcore"
	"github.com/IMBotPlatform/VKBotCore/pkg/command"
)

// ToolDefinition 定义工具的接口
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON Schema
	Function    func(ctx context.Context, args string) (string, error)
}

// AgentOptions 定义 Agent 运行时的选项
type AgentOptions struct {
	Model      string
	Tools      []ToolDefinition
	MaxTurns   int
	StreamFunc func(string) // 中间步骤（工具调用与结果）的回调
}

// RunAgent 运行一个支持工具调用的 Agent 循环，最终回复写回会话历史。
func (s *Service) RunAgent(ctx context.Context, session *botcore.Session, prompt string, opts AgentOptions) (string, error) {
	if opts.MaxTurns == 0 {
		opts.MaxTurns = 10
	}

	modelName := opts.Model
	if modelName == "" {
		modelName = s.config.DefaultModel
	}

	llm, err := s.getModel(ctx, modelName)
	if err != nil {
		return "", err
	}

	// 1. 构建初始消息：系统提示 + 会话历史 + 当前 prompt。
	// 工具调用的中间步骤不写入会话历史。
	messages := s.buildMessages(session, prompt)

	// 2. 转换工具定义
	var llmTools []llms.Tool
	toolMap := make(map[string]ToolDefinition)

	for _, t := range opts.Tools {
		toolMap[t.Name] = t
		llmTools = append(llmTools, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	callOpts := s.callOptions(modelName, command.ChatOptions{})
	if len(llmTools) > 0 {
		callOpts = append(callOpts, llms.WithTools(llmTools))
	}

	// 3. Agent Loop
	for i := 0; i < opts.MaxTurns; i++ {
		resp, err := llm.GenerateContent(ctx, messages, callOpts...)
		if err != nil {
			return "", fmt.Errorf("llm generate error: %w", err)
		}

		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("empty response from llm")
		}

		choice := resp.Choices[0]

		if len(choice.ToolCalls) == 0 {
			// 没有工具调用，说明是最终回复
			if opts.StreamFunc != nil {
				opts.StreamFunc(choice.Content)
			}
			s.remember(session, Turn{Role: llms.ChatMessageTypeHuman, Text: prompt}, Turn{Role: llms.ChatMessageTypeAI, Text: choice.Content})
			return choice.Content, nil
		}

		if choice.Content != "" && opts.StreamFunc != nil {
			opts.StreamFunc(choice.Content + "\n")
		}

		// 添加 Assistant 消息 (包含 ToolCalls)
		msg := llms.MessageContent{
			Role:  llms.ChatMessageTypeAI,
			Parts: []llms.ContentPart{llms.TextPart(choice.Content)},
		}
		for _, tc := range choice.ToolCalls {
			msg.Parts = append(msg.Parts, llms.ToolCall{
				ID:   tc.ID,
				Type: tc.Type,
				FunctionCall: &llms.FunctionCall{
					Name:      tc.FunctionCall.Name,
					Arguments: tc.FunctionCall.Arguments,
				},
			})
		}
		messages = append(messages, msg)

		// 执行所有工具
		for _, tc := range choice.ToolCalls {
			result := s.runTool(ctx, toolMap, tc, opts.StreamFunc)
			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{
					llms.ToolCallResponse{
						ToolCallID: tc.ID,
						Name:       tc.FunctionCall.Name,
						Content:    result,
					},
				},
			})
		}
	}

	return "", fmt.Errorf("max turns reached")
}

func (s *Service) runTool(ctx context.Context, tools map[string]ToolDefinition, tc llms.ToolCall, stream func(string)) string {
	name := tc.FunctionCall.Name
	args := tc.FunctionCall.Arguments
	s.logger.Debug("Executing tool", zap.String("tool", name), zap.String("args", args))

	tool, exists := tools[name]
	if !exists || tool.Function == nil {
		return fmt.Sprintf("Error: Tool %s not found", name)
	}

	result, err := tool.Function(ctx, args)
	if err != nil {
		s.logger.Warn("Tool failed", zap.String("tool", name), zap.Error(err))
		result = fmt.Sprintf("Error: %v", err)
	}
	if stream != nil {
		stream(fmt.Sprintf("🛠 %s: %s\n", name, result))
	}
	return result
}

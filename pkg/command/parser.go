package command

import (
	"regexp"
	"strings"
)

// mentionPattern 群聊中点击机器人命令时平台会在文本前加上 [club123|@name] 提及。
var mentionPattern = regexp.MustCompile(`^\[(?:club|public)\d+\|[^\]]*\][,:]?\s*`)

// ParseResult 承载文本命令解析后的结构化结果。
type ParseResult struct {
	IsCommand   bool     // 是否检测到命令前缀
	Tokens      []string // 解析后的命令及参数 token（包含命令本身）
	Raw         string   // 原始输入文本
	ArgumentRaw string   // 去除命令后的原始参数串
}

// Parser 解析消息文本，判定是否命令并拆分 token。
type Parser struct {
	Prefixes []string // 命令前缀，默认 "/" 与 "!"
}

// NewParser 创建带默认前缀的解析器。
func NewParser(prefixes ...string) Parser {
	if len(prefixes) == 0 {
		prefixes = []string{"/", "!"}
	}
	return Parser{Prefixes: prefixes}
}

// Parse 将文本拆解为命令 token。
func (p Parser) Parse(text string) ParseResult {
	trimmed := strings.TrimSpace(mentionPattern.ReplaceAllString(strings.TrimSpace(text), ""))
	if trimmed == "" {
		return ParseResult{Raw: text}
	}

	fields := strings.Fields(trimmed)
	first := fields[0]
	prefix, ok := p.matchPrefix(first)
	if !ok {
		return ParseResult{Raw: text}
	}

	commandToken := strings.TrimPrefix(first, prefix)
	if idx := strings.IndexRune(commandToken, '@'); idx >= 0 {
		commandToken = commandToken[:idx]
	}
	if commandToken == "" {
		return ParseResult{Raw: text}
	}

	tokens := make([]string, 0, len(fields))
	tokens = append(tokens, strings.ToLower(commandToken))
	tokens = append(tokens, fields[1:]...)

	return ParseResult{
		IsCommand:   true,
		Tokens:      tokens,
		Raw:         text,
		ArgumentRaw: strings.TrimSpace(strings.TrimPrefix(trimmed, first)),
	}
}

func (p Parser) matchPrefix(token string) (string, bool) {
	prefixes := p.Prefixes
	if len(prefixes) == 0 {
		prefixes = []string{"/"}
	}
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(token, prefix) && len(token) > len(prefix) {
			return prefix, true
		}
	}
	return "", false
}

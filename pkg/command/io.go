package command

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/IMBotPlatform/VKBotCore/pkg/botcore"
	"github.com/IMBotPlatform/VKBotCore/pkg/executor"
)

// MaxMessageLength 单条消息允许的最大字符数。
const MaxMessageLength = 4096

// ReplyWriter 实现 io.Writer 接口，缓存 Cobra 命令的输出，Flush 时回复到原会话。
// 这允许命令像操作 stdout 一样直接打印。
type ReplyWriter struct {
	mu   sync.Mutex
	buf  strings.Builder
	ctx  *botcore.Context
	opts []botcore.MessageOption
}

// NewReplyWriter 创建绑定到分发上下文的 ReplyWriter。
func NewReplyWriter(ctx *botcore.Context) *ReplyWriter {
	return &ReplyWriter{ctx: ctx}
}

// Write 追加输出。
func (w *ReplyWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

// SetOptions 追加作用于最后一条消息的选项（例如键盘）。
func (w *ReplyWriter) SetOptions(opts ...botcore.MessageOption) {
	w.mu.Lock()
	w.opts = append(w.opts, opts...)
	w.mu.Unlock()
}

// Flush 把缓冲内容按长度切分后依次回复，空输出不发送。
func (w *ReplyWriter) Flush() ([]*executor.Call, error) {
	w.mu.Lock()
	text := strings.TrimRight(w.buf.String(), "\n")
	w.buf.Reset()
	opts := w.opts
	w.opts = nil
	w.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	parts := SplitMessage(text, MaxMessageLength)
	calls := make([]*executor.Call, 0, len(parts))
	for i, part := range parts {
		var partOpts []botcore.MessageOption
		if i == len(parts)-1 {
			partOpts = opts
		}
		call, err := w.ctx.Reply(part, partOpts...)
		if err != nil {
			return calls, err
		}
		calls = append(calls, call)
	}
	return calls, nil
}

// SplitMessage 把文本切分为不超过 limit 个字符的片段，优先在换行处断开。
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var parts []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

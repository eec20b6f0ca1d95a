package botcore

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/IMBotPlatform/VKBotCore/pkg/executor"
)

// ErrNoResponder 表示 Context 未绑定 Bot，无法回复。
var ErrNoResponder = errors.New("context has no responder")

// Context 单次分发过程的上下文。
// 由创建它的分发过程独占；中间件可在调用 next 之前填充 Session 与 Scene。
type Context struct {
	ID      string    // 本次分发的唯一标识，用于日志关联
	Update  Update    // 触发本次分发的事件
	Bot     Responder // 回调 Bot 的句柄
	Session *Session  // 由 session 中间件填充
	Scene   SceneControl

	ctx context.Context
}

// NewContext 为一条 Update 创建分发上下文。
func NewContext(parent context.Context, update Update, bot Responder) *Context {
	if parent == nil {
		parent = context.Background()
	}
	return &Context{
		ID:     uuid.NewString(),
		Update: update,
		Bot:    bot,
		ctx:    parent,
	}
}

// Context 返回与本次分发关联的 context.Context。
func (c *Context) Context() context.Context {
	if c == nil || c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// Reply 向事件来源会话回复文本。
func (c *Context) Reply(text string, opts ...MessageOption) (*executor.Call, error) {
	if c == nil || c.Bot == nil {
		return nil, ErrNoResponder
	}
	return c.Bot.SendMessage(NewMessage([]int64{c.Update.ReplyTarget()}, text, opts...))
}

// LogFields 返回日志中标识本次分发的字段。
func (c *Context) LogFields() []zap.Field {
	if c == nil {
		return nil
	}
	return []zap.Field{
		zap.String("dispatch_id", c.ID),
		zap.String("type", c.Update.Type),
		zap.Int64("peer_id", c.Update.PeerID),
		zap.Int64("from_id", c.Update.FromID),
	}
}

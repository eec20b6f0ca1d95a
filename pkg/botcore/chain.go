package botcore

import (
	"fmt"
	"regexp"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

// Next 让分发在当前 Handler 返回后继续匹配后续条目。
type Next func()

// HandlerFunc 中间件/处理器签名。不调用 next 即表示消费该事件。
type HandlerFunc func(ctx *Context, next Next) error

// Entry 中间件链上的一个条目。
type Entry struct {
	Triggers []Trigger
	Handler  HandlerFunc
}

// ErrorHook 接收 Handler 返回的错误或 panic。
type ErrorHook func(ctx *Context, err error)

// Chain 有序、只追加的中间件链，注册顺序即匹配优先级。
type Chain struct {
	mu      sync.RWMutex
	entries []Entry
	logger  *zap.Logger
	onError ErrorHook
}

// ChainOption 自定义 Chain。
type ChainOption func(*Chain)

// WithChainLogger 设置日志。
func WithChainLogger(logger *zap.Logger) ChainOption {
	return func(c *Chain) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithErrorHook 设置错误回调。
func WithErrorHook(hook ErrorHook) ChainOption {
	return func(c *Chain) {
		c.onError = hook
	}
}

// NewChain 创建空链。
func NewChain(opts ...ChainOption) *Chain {
	c := &Chain{logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// On 以同一组触发器注册若干 Handler，多个 Handler 依次成为相邻条目。
func (c *Chain) On(triggers []Trigger, handlers ...HandlerFunc) *Chain {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range handlers {
		if h == nil {
			continue
		}
		c.entries = append(c.entries, Entry{Triggers: triggers, Handler: h})
	}
	return c
}

// Use 注册对任意事件生效的中间件。
func (c *Chain) Use(handlers ...HandlerFunc) *Chain {
	return c.On([]Trigger{Always()}, handlers...)
}

// Command 注册文本前缀触发的 Handler，texts 之间为逻辑或。
func (c *Chain) Command(texts []string, handlers ...HandlerFunc) *Chain {
	triggers := make([]Trigger, 0, len(texts))
	for _, t := range texts {
		triggers = append(triggers, Text(t))
	}
	return c.On(triggers, handlers...)
}

// Hears 注册正则触发的 Handler。
func (c *Chain) Hears(re *regexp.Regexp, handlers ...HandlerFunc) *Chain {
	return c.On([]Trigger{Pattern(re)}, handlers...)
}

// Event 注册按事件类型触发的 Handler。
func (c *Chain) Event(types []string, handlers ...HandlerFunc) *Chain {
	triggers := make([]Trigger, 0, len(types))
	for _, t := range types {
		triggers = append(triggers, Type(t))
	}
	return c.On(triggers, handlers...)
}

// Button 注册按钮 payload 触发的 Handler。
func (c *Chain) Button(payload any, handlers ...HandlerFunc) *Chain {
	return c.On([]Trigger{Payload(payload)}, handlers...)
}

// NoCommand 注册消息兜底 Handler。
func (c *Chain) NoCommand(handlers ...HandlerFunc) *Chain {
	return c.On(nil, handlers...)
}

// Len 返回条目数量。
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Dispatch 从第一个条目开始分发。
func (c *Chain) Dispatch(ctx *Context) bool {
	return c.DispatchFrom(ctx, 0)
}

// DispatchFrom 从 start 开始遍历条目，返回是否有 Handler 被调用。
// 命中的 Handler 调用 next 后，循环在其返回时从下一个条目继续；
// 未调用 next 或返回错误则本次分发结束。
func (c *Chain) DispatchFrom(ctx *Context, start int) bool {
	if ctx == nil {
		return false
	}
	c.mu.RLock()
	entries := c.entries
	c.mu.RUnlock()

	handled := false
	for i := max(start, 0); i < len(entries); i++ {
		entry := entries[i]
		if !MatchAny(entry.Triggers, ctx.Update) {
			continue
		}

		handled = true
		cont, err := c.invoke(ctx, entry.Handler)
		if err != nil {
			c.report(ctx, i, err)
			return true
		}
		if !cont {
			return true
		}
	}

	if !handled {
		c.logger.Debug("no handler matched", ctx.LogFields()...)
	}
	return handled
}

// invoke 调用单个 Handler 并捕获 panic。
func (c *Chain) invoke(ctx *Context, h HandlerFunc) (cont bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panic", append(ctx.LogFields(),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)...)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	err = h(ctx, func() { cont = true })
	return cont, err
}

func (c *Chain) report(ctx *Context, index int, err error) {
	c.logger.Error("handler failed", append(ctx.LogFields(),
		zap.Int("entry", index),
		zap.Error(err),
	)...)
	if c.onError != nil {
		c.onError(ctx, err)
	}
}

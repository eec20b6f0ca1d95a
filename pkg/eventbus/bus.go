package eventbus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event 事件接口
type Event interface {
	Type() string
	Timestamp() time.Time
	Payload() any
}

// BaseEvent 基础事件实现
type BaseEvent struct {
	EventType      string
	EventTimestamp time.Time
	EventPayload   any
}

// Type 返回事件类型
func (e *BaseEvent) Type() string {
	return e.EventType
}

// Timestamp 返回事件时间戳
func (e *BaseEvent) Timestamp() time.Time {
	return e.EventTimestamp
}

// Payload 返回事件载荷
func (e *BaseEvent) Payload() any {
	return e.EventPayload
}

// NewEvent 创建新事件
func NewEvent(eventType string, payload any) *BaseEvent {
	return &BaseEvent{
		EventType:      eventType,
		EventTimestamp: time.Now(),
		EventPayload:   payload,
	}
}

// Handler 事件处理函数
type Handler func(ctx context.Context, event Event)

// Publisher 只需要发布能力的组件依赖此接口。
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Bus 同步事件总线。
// Publish 在调用方 goroutine 上按订阅顺序依次执行处理器，
// 因此轮询循环发出的 poll 事件与更新分发保持同一顺序。
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *zap.Logger
}

// New 创建事件总线
func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe 订阅事件，eventType 为 "*" 时接收全部事件
func (b *Bus) Subscribe(eventType string, handler Handler) {
	if b == nil || handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)

	b.logger.Debug("Handler subscribed",
		zap.String("event_type", eventType),
	)
}

// Publish 发布事件
func (b *Bus) Publish(ctx context.Context, event Event) {
	if b == nil || event == nil {
		return
	}
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[event.Type()])+len(b.handlers["*"]))
	handlers = append(handlers, b.handlers[event.Type()]...)
	handlers = append(handlers, b.handlers["*"]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(ctx, event, h)
	}
}

// invoke 执行单个处理器，处理器 panic 不影响后续处理器
func (b *Bus) invoke(ctx context.Context, event Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Handler panicked",
				zap.String("event_type", event.Type()),
				zap.Any("panic", r),
			)
		}
	}()
	h(ctx, event)
}

// 预定义事件类型常量
const (
	EventTypePollStarted = "poll_started"
	EventTypePoll        = "poll"
	EventTypeError       = "error"
)

// PollStartedPayload 获取到长轮询参数并即将开始轮询
type PollStartedPayload struct {
	GroupID int64
	Server  string
	TS      string
}

// PollPayload 一次成功轮询后的进度
type PollPayload struct {
	TS      string
	Updates int
}

// ErrorPayload 错误事件载荷
type ErrorPayload struct {
	Component string
	Err       error
}

// PublishError 以统一载荷发布错误事件。
func PublishError(ctx context.Context, p Publisher, component string, err error) {
	if p == nil || err == nil {
		return
	}
	p.Publish(ctx, NewEvent(EventTypeError, ErrorPayload{Component: component, Err: err}))
}

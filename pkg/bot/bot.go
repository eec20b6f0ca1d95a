// Package bot 把中间件链、批量调用执行器、长轮询与回调入口组装成一个机器人。
package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"

	"go.uber.org/zap"

	"github.com/IMBotPlatform/VKBotCore/pkg/botcore"
	"github.com/IMBotPlatform/VKBotCore/pkg/config"
	"github.com/IMBotPlatform/VKBotCore/pkg/eventbus"
	"github.com/IMBotPlatform/VKBotCore/pkg/executor"
	"github.com/IMBotPlatform/VKBotCore/pkg/poller"
	"github.com/IMBotPlatform/VKBotCore/pkg/vkapi"
	"github.com/IMBotPlatform/VKBotCore/pkg/webhook"
)

// Transport 同时提供方法调用与长轮询能力，vkapi.Client 即为其实现。
type Transport interface {
	vkapi.Caller
	vkapi.LongPoller
}

// Bot 机器人门面。Handler 通过 ctx.Bot 回调 Execute 与 SendMessage。
type Bot struct {
	settings  config.Settings
	transport Transport
	adapter   botcore.Adapter
	chain     *botcore.Chain
	exec      *executor.Executor
	events    *eventbus.Bus
	logger    *zap.Logger

	mu      sync.Mutex
	poller  *poller.Poller
	started bool
}

var (
	_ botcore.Responder = (*Bot)(nil)
	_ poller.Sink       = (*Bot)(nil)
	_ webhook.Sink      = (*Bot)(nil)
)

// Option 自定义 Bot。
type Option func(*Bot)

// WithLogger 设置日志。
func WithLogger(l *zap.Logger) Option {
	return func(b *Bot) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithTransport 替换访问平台的传输层，默认按配置创建 vkapi.Client。
func WithTransport(t Transport) Option {
	return func(b *Bot) {
		b.transport = t
	}
}

// WithAdapter 替换事件适配器。
func WithAdapter(a botcore.Adapter) Option {
	return func(b *Bot) {
		if a != nil {
			b.adapter = a
		}
	}
}

// WithEventBus 使用外部事件总线。
func WithEventBus(bus *eventbus.Bus) Option {
	return func(b *Bot) {
		if bus != nil {
			b.events = bus
		}
	}
}

// New 校验配置并创建 Bot。需要显式调用 Start 或 StartPolling 才会发送请求。
func New(settings config.Settings, opts ...Option) (*Bot, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	b := &Bot{
		settings: settings,
		adapter:  botcore.JSONAdapter{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if b.events == nil {
		b.events = eventbus.New(b.logger)
	}
	if b.transport == nil {
		b.transport = vkapi.NewClient(settings.Token,
			vkapi.WithBaseURL(settings.APIURL),
			vkapi.WithVersion(settings.APIVersion),
		)
	}

	b.chain = botcore.NewChain(
		botcore.WithChainLogger(b.logger.Named("chain")),
		botcore.WithErrorHook(func(ctx *botcore.Context, err error) {
			eventbus.PublishError(ctx.Context(), b.events, "chain", err)
		}),
	)
	b.exec = executor.New(b.transport,
		executor.WithInterval(settings.ExecuteInterval),
		executor.WithRateLimit(settings.RateLimit, settings.RateBurst),
		executor.WithPublisher(b.events),
		executor.WithLogger(b.logger.Named("executor")),
	)
	return b, nil
}

// Settings 返回当前配置副本。
func (b *Bot) Settings() config.Settings {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.settings
}

// Events 返回事件总线，可订阅 poll_started、poll 与 error 事件。
func (b *Bot) Events() *eventbus.Bus {
	return b.events
}

// Chain 返回中间件链。
func (b *Bot) Chain() *botcore.Chain {
	return b.chain
}

// Executor 返回批量调用执行器。
func (b *Bot) Executor() *executor.Executor {
	return b.exec
}

// OnError 订阅错误事件。
func (b *Bot) OnError(fn func(component string, err error)) {
	b.events.Subscribe(eventbus.EventTypeError, func(ctx context.Context, ev eventbus.Event) {
		if p, ok := ev.Payload().(eventbus.ErrorPayload); ok {
			fn(p.Component, p.Err)
		}
	})
}

// Use 注册对任意事件生效的中间件。
func (b *Bot) Use(handlers ...botcore.HandlerFunc) *Bot {
	b.chain.Use(handlers...)
	return b
}

// Command 注册文本前缀触发的 Handler。
func (b *Bot) Command(texts []string, handlers ...botcore.HandlerFunc) *Bot {
	b.chain.Command(texts, handlers...)
	return b
}

// Hears 注册正则触发的 Handler。
func (b *Bot) Hears(re *regexp.Regexp, handlers ...botcore.HandlerFunc) *Bot {
	b.chain.Hears(re, handlers...)
	return b
}

// Event 注册按事件类型触发的 Handler。
func (b *Bot) Event(types []string, handlers ...botcore.HandlerFunc) *Bot {
	b.chain.Event(types, handlers...)
	return b
}

// Button 注册按钮 payload 触发的 Handler。
func (b *Bot) Button(payload any, handlers ...botcore.HandlerFunc) *Bot {
	b.chain.Button(payload, handlers...)
	return b
}

// NoCommand 注册消息兜底 Handler。
func (b *Bot) NoCommand(handlers ...botcore.HandlerFunc) *Bot {
	b.chain.NoCommand(handlers...)
	return b
}

// Execute 入队一次方法调用，不访问网络。
func (b *Bot) Execute(method string, params vkapi.Params) *executor.Call {
	return b.exec.Execute(method, params)
}

// SendMessage 校验并入队 messages.send。收件人为空或超过 100 个时同步返回 ValidationError，不入队。
func (b *Bot) SendMessage(msg botcore.OutgoingMessage) (*executor.Call, error) {
	params, err := msg.Params()
	if err != nil {
		return nil, err
	}
	return b.exec.Execute("messages.send", params), nil
}

// Send 向单个会话发送文本。
func (b *Bot) Send(peerID int64, text string, opts ...botcore.MessageOption) (*executor.Call, error) {
	return b.SendMessage(botcore.NewMessage([]int64{peerID}, text, opts...))
}

// HandleUpdate 解析原始事件并分发，实现 poller.Sink 与 webhook.Sink。
func (b *Bot) HandleUpdate(ctx context.Context, raw json.RawMessage) {
	update, err := b.adapter.Normalize(raw)
	if err != nil {
		b.logger.Warn("Drop undecodable update", zap.Error(err), zap.ByteString("raw", truncate(raw, 512)))
		return
	}
	b.Dispatch(ctx, update)
}

// Dispatch 为 update 创建上下文并走一遍中间件链，返回是否有 Handler 被调用。
func (b *Bot) Dispatch(ctx context.Context, update botcore.Update) bool {
	return b.chain.Dispatch(botcore.NewContext(ctx, update, b))
}

// Init 在 group_id 未配置时通过 groups.getById 解析一次，之后配置不再变化。
func (b *Bot) Init(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.settings.GroupID != 0 {
		return nil
	}
	id, err := vkapi.GetGroupID(ctx, b.transport)
	if err != nil {
		return fmt.Errorf("resolve group id: %w", err)
	}
	b.settings = b.settings.WithGroupID(id)
	b.logger.Info("Group resolved", zap.Int64("group_id", id))
	return nil
}

// Start 启动执行器的定时刷新，重复调用无副作用。
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	if err := b.exec.Start(ctx); err != nil {
		return err
	}
	b.started = true
	return nil
}

// StartPolling 解析配置、启动执行器并在后台开始长轮询。ts 为空时使用服务器游标。
func (b *Bot) StartPolling(ctx context.Context, ts string) error {
	if err := b.Init(ctx); err != nil {
		return err
	}
	if err := b.Start(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.poller == nil {
		b.poller = b.newPoller()
	}
	return b.poller.Start(ctx, ts)
}

// Poll 阻塞运行长轮询，直到 ctx 取消或获取参数失败；返回前停止执行器并刷新剩余调用。
func (b *Bot) Poll(ctx context.Context, ts string) error {
	if err := b.Init(ctx); err != nil {
		return err
	}
	if err := b.Start(ctx); err != nil {
		return err
	}
	defer b.Stop()

	b.mu.Lock()
	p := b.newPoller()
	b.poller = p
	b.mu.Unlock()
	return p.Run(ctx, ts)
}

// Stop 停止长轮询与执行器，执行器会对剩余队列做最后一次刷新。
func (b *Bot) Stop() {
	b.mu.Lock()
	p := b.poller
	started := b.started
	b.started = false
	b.mu.Unlock()

	if p != nil {
		if err := p.Stop(); err != nil {
			b.logger.Warn("Poller stopped with error", zap.Error(err))
		}
	}
	if started {
		b.exec.Stop()
	}
}

// Webhook 返回回调入口，确认串与密钥来自配置。
func (b *Bot) Webhook() *webhook.Handler {
	s := b.Settings()
	return webhook.New(b,
		webhook.WithConfirmation(s.Confirmation),
		webhook.WithSecret(s.Secret),
		webhook.WithLogger(b.logger.Named("webhook")),
	)
}

// newPoller 调用方需持有 b.mu。
func (b *Bot) newPoller() *poller.Poller {
	return poller.New(b.transport, b.transport, b,
		poller.WithGroupID(b.settings.GroupID),
		poller.WithWait(b.settings.PollTimeout),
		poller.WithVersion(b.settings.PollingVersion),
		poller.WithPublisher(b.events),
		poller.WithLogger(b.logger.Named("poller")),
	)
}

func truncate(raw []byte, limit int) []byte {
	if len(raw) <= limit {
		return raw
	}
	return raw[:limit]
}

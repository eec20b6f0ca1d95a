// Package poller 实现社区长轮询循环：获取参数、轮询、按失败码恢复。
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	boterrors "github.com/IMBotPlatform/VKBotCore/pkg/errors"
	"github.com/IMBotPlatform/VKBotCore/pkg/eventbus"
	"github.com/IMBotPlatform/VKBotCore/pkg/safego"
	"github.com/IMBotPlatform/VKBotCore/pkg/vkapi"
)

const (
	defaultWait       = 25 * time.Second
	defaultVersion    = 3
	defaultRetryDelay = time.Second
	// requestSlack 长轮询请求在 wait 之外额外允许的时间
	requestSlack = 5 * time.Second

	component = "poller"
)

// 平台返回的失败码。
const (
	FailedTSOutdated = 1 // 游标过旧，使用平台返回的 ts 重试
	FailedKeyExpired = 2 // key 过期，需要重新获取参数
	FailedInfoLost   = 3 // key 与 ts 均失效，丢弃参数后重新获取
)

// State 轮询状态机的状态。
type State int

const (
	StateUninitialized State = iota
	StateAcquiring
	StatePolling
	StateError
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAcquiring:
		return "acquiring"
	case StatePolling:
		return "polling"
	case StateError:
		return "error"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Sink 接收轮询到的原始事件，同一次响应中的事件按到达顺序依次交付。
type Sink interface {
	HandleUpdate(ctx context.Context, raw json.RawMessage)
}

// SinkFunc 函数形式的 Sink。
type SinkFunc func(ctx context.Context, raw json.RawMessage)

// HandleUpdate 实现 Sink 接口。
func (f SinkFunc) HandleUpdate(ctx context.Context, raw json.RawMessage) {
	if f != nil {
		f(ctx, raw)
	}
}

// Poller 长轮询循环。参数只由 Poller 自身持有与刷新。
type Poller struct {
	caller     vkapi.Caller
	lp         vkapi.LongPoller
	sink       Sink
	groupID    int64
	wait       time.Duration
	version    int
	retryDelay time.Duration
	publisher  eventbus.Publisher
	logger     *zap.Logger

	mu     sync.RWMutex
	state  State
	params *vkapi.LongPollServer

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Option 自定义 Poller。
type Option func(*Poller)

// WithGroupID 指定社区 ID，为 0 时启动时通过 groups.getById 查询。
func WithGroupID(id int64) Option {
	return func(p *Poller) {
		p.groupID = id
	}
}

// WithWait 设置长轮询等待时长。
func WithWait(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.wait = d
		}
	}
}

// WithVersion 设置长轮询协议版本。
func WithVersion(v int) Option {
	return func(p *Poller) {
		if v > 0 {
			p.version = v
		}
	}
}

// WithRetryDelay 设置网络错误后重新获取参数前的等待，0 表示立即重试。
func WithRetryDelay(d time.Duration) Option {
	return func(p *Poller) {
		if d >= 0 {
			p.retryDelay = d
		}
	}
}

// WithPublisher 设置事件发布者。
func WithPublisher(pub eventbus.Publisher) Option {
	return func(p *Poller) {
		p.publisher = pub
	}
}

// WithLogger 设置日志。
func WithLogger(logger *zap.Logger) Option {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New 创建 Poller。caller 用于获取参数，lp 用于发起长轮询请求。
func New(caller vkapi.Caller, lp vkapi.LongPoller, sink Sink, opts ...Option) *Poller {
	p := &Poller{
		caller:     caller,
		lp:         lp,
		sink:       sink,
		wait:       defaultWait,
		version:    defaultVersion,
		retryDelay: defaultRetryDelay,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// State 返回当前状态。
func (p *Poller) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Params 返回当前长轮询参数的副本，未获取或已失效时为 nil。
func (p *Poller) Params() *vkapi.LongPollServer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.params == nil {
		return nil
	}
	cp := *p.params
	return &cp
}

// GroupID 返回正在轮询的社区 ID。
func (p *Poller) GroupID() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.groupID
}

func (p *Poller) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Poller) setParams(srv *vkapi.LongPollServer) {
	p.mu.Lock()
	p.params = srv
	p.mu.Unlock()
}

// Start 在后台运行轮询循环，ts 为空时使用服务器返回的游标。
func (p *Poller) Start(ctx context.Context, ts string) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.cancel != nil {
		return fmt.Errorf("poller already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	p.err = nil

	safego.Go(p.logger, "long-poll", func() {
		defer close(done)
		err := p.Run(runCtx, ts)
		p.runMu.Lock()
		p.err = err
		p.runMu.Unlock()
	})
	return nil
}

// Stop 取消正在进行的请求并等待循环退出，返回循环的退出错误。
func (p *Poller) Stop() error {
	p.runMu.Lock()
	cancel, done := p.cancel, p.done
	p.runMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	p.runMu.Lock()
	defer p.runMu.Unlock()
	p.cancel, p.done = nil, nil
	return p.err
}

// Run 阻塞运行轮询循环，直到 ctx 取消（返回 nil）或获取参数失败（返回 AcquisitionError）。
func (p *Poller) Run(ctx context.Context, ts string) error {
	defer p.setState(StateStopped)

	var srv *vkapi.LongPollServer
	acquire := true
	for {
		if ctx.Err() != nil {
			return nil
		}

		if acquire {
			next, err := p.acquire(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.setState(StateError)
				aerr := boterrors.NewAcquisitionError("acquire long poll params", err)
				p.logger.Error("Long poll acquisition failed, polling stopped", zap.Error(err))
				eventbus.PublishError(ctx, p.publisher, component, aerr)
				return aerr
			}
			srv, acquire = next, false
			if ts == "" {
				ts = srv.TS.String()
			}
			p.setState(StatePolling)
			p.logger.Info("Long polling started",
				zap.Int64("group_id", p.GroupID()),
				zap.String("server", srv.Server),
				zap.String("ts", ts),
			)
			p.publish(ctx, eventbus.EventTypePollStarted, eventbus.PollStartedPayload{
				GroupID: p.GroupID(),
				Server:  srv.Server,
				TS:      ts,
			})
		}

		resp, err := p.check(ctx, srv, ts)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.fail(ctx, boterrors.NewPollingError("long poll request failed", err))
			if !sleep(ctx, p.retryDelay) {
				return nil
			}
			acquire = true
			continue
		}

		switch resp.Failed {
		case 0:
			p.setState(StatePolling)
			for _, raw := range resp.Updates {
				p.sink.HandleUpdate(ctx, raw)
			}
			if resp.TS != "" {
				ts = resp.TS.String()
			}
			p.publish(ctx, eventbus.EventTypePoll, eventbus.PollPayload{TS: ts, Updates: len(resp.Updates)})
		case FailedTSOutdated:
			p.logger.Debug("Long poll ts outdated", zap.String("ts", ts), zap.String("new_ts", resp.TS.String()))
			if resp.TS != "" {
				ts = resp.TS.String()
			}
		case FailedKeyExpired:
			p.logger.Debug("Long poll key expired, re-acquiring")
			acquire = true
		case FailedInfoLost:
			p.logger.Debug("Long poll info lost, discarding params")
			p.setParams(nil)
			acquire = true
		default:
			p.fail(ctx, boterrors.NewPollingError(fmt.Sprintf("unknown long poll failure code %d", resp.Failed), nil))
			if !sleep(ctx, p.retryDelay) {
				return nil
			}
			acquire = true
		}
	}
}

// acquire 必要时查询社区 ID，然后获取新的长轮询参数。
func (p *Poller) acquire(ctx context.Context) (*vkapi.LongPollServer, error) {
	p.setState(StateAcquiring)

	groupID := p.GroupID()
	if groupID == 0 {
		id, err := vkapi.GetGroupID(ctx, p.caller)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.groupID = id
		p.mu.Unlock()
		groupID = id
	}

	srv, err := vkapi.GetLongPollServer(ctx, p.caller, groupID)
	if err != nil {
		return nil, err
	}
	p.setParams(srv)
	return srv, nil
}

func (p *Poller) check(ctx context.Context, srv *vkapi.LongPollServer, ts string) (*vkapi.LongPollResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.wait+requestSlack)
	defer cancel()
	return p.lp.Check(reqCtx, srv.Server, vkapi.Params{
		"act":     "a_check",
		"key":     srv.Key,
		"ts":      ts,
		"wait":    int(p.wait / time.Second),
		"version": p.version,
	})
}

func (p *Poller) fail(ctx context.Context, err error) {
	p.setState(StateError)
	p.logger.Warn("Long poll failed", zap.Error(err))
	eventbus.PublishError(ctx, p.publisher, component, err)
}

func (p *Poller) publish(ctx context.Context, eventType string, payload any) {
	if p.publisher == nil {
		return
	}
	p.publisher.Publish(ctx, eventbus.NewEvent(eventType, payload))
}

// sleep 等待 d 或 ctx 取消，取消时返回 false。
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

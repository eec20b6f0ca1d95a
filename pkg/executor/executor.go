package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	boterrors "github.com/IMBotPlatform/VKBotCore/pkg/errors"
	"github.com/IMBotPlatform/VKBotCore/pkg/eventbus"
	"github.com/IMBotPlatform/VKBotCore/pkg/logger"
	"github.com/IMBotPlatform/VKBotCore/pkg/safego"
	"github.com/IMBotPlatform/VKBotCore/pkg/vkapi"
)

const (
	// MaxBatchSize 平台 execute 方法单次允许的最大调用数。
	MaxBatchSize = 25

	defaultInterval     = 50 * time.Millisecond
	defaultConcurrency  = 4
	defaultStopDeadline = 10 * time.Second

	component = "executor"
)

// Executor 累积外发调用，按固定间隔以 execute 批量提交。
// Execute 只入队，从不同步访问网络。
type Executor struct {
	caller      vkapi.Caller
	interval    time.Duration
	limiter     *rate.Limiter
	concurrency int
	publisher   eventbus.Publisher
	logger      *zap.Logger

	mu    sync.Mutex
	queue []*Call

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option 自定义 Executor 行为。
type Option func(*Executor)

// WithInterval 设置刷新间隔。
func WithInterval(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithRateLimit 限制每秒发出的 execute 请求数，r<=0 表示不限速。
func WithRateLimit(r float64, burst int) Option {
	return func(e *Executor) {
		if r <= 0 {
			e.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
}

// WithConcurrency 设置单次刷新中并发提交的批次数上限。
func WithConcurrency(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithPublisher 注入错误事件发布者。
func WithPublisher(p eventbus.Publisher) Option {
	return func(e *Executor) {
		e.publisher = p
	}
}

// WithLogger 注入日志记录器。
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		e.logger = l
	}
}

// New 创建 Executor，需要显式调用 Start 才会定时刷新。
func New(caller vkapi.Caller, opts ...Option) *Executor {
	e := &Executor{
		caller:      caller,
		interval:    defaultInterval,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.logger = logger.OrNop(e.logger)
	return e
}

// Execute 将一次方法调用入队并返回结果句柄。
func (e *Executor) Execute(method string, params vkapi.Params) *Call {
	call := newCall(method, params)
	e.mu.Lock()
	e.queue = append(e.queue, call)
	e.mu.Unlock()
	return call
}

// Pending 返回当前队列长度。
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Flush 取走当前队列并按 MaxBatchSize 切分提交，等待所有批次完成。
// 刷新期间新入队的调用进入新的队列，留给下一次刷新。
// 返回第一个批次级传输错误；单个调用的错误只体现在对应 Call 上。
func (e *Executor) Flush(ctx context.Context) error {
	e.mu.Lock()
	calls := e.queue
	e.queue = nil
	e.mu.Unlock()

	batches := Partition(calls, MaxBatchSize)
	if len(batches) == 0 {
		return nil
	}

	// 批次之间互不取消：一个批次失败不影响其余批次。
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for _, batch := range batches {
		g.Go(func() error {
			return e.submit(ctx, batch)
		})
	}
	return g.Wait()
}

// Partition 按顺序把调用切分为不超过 size 的连续批次。
func Partition(calls []*Call, size int) [][]*Call {
	if size <= 0 {
		size = MaxBatchSize
	}
	var batches [][]*Call
	for start := 0; start < len(calls); start += size {
		end := min(start+size, len(calls))
		batches = append(batches, calls[start:end])
	}
	return batches
}

// submit 提交一个批次并结算其中每个调用。
//
//	[生成 execute 代码] -> [限速等待] -> [调用 execute]
//	                                        |
//	                         失败 ----------+---------- 成功
//	                          |                          |
//	          [整批 reject + 一次错误事件]   [逐个 execute_errors 发事件]
//	                                                     |
//	                                        [按下标 resolve / reject]
func (e *Executor) submit(ctx context.Context, batch []*Call) error {
	code, err := buildCode(batch)
	if err != nil {
		return e.failBatch(ctx, batch, err)
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return e.failBatch(ctx, batch, err)
		}
	}

	resp, err := e.caller.Call(ctx, "execute", vkapi.Params{"code": code})
	if err != nil {
		return e.failBatch(ctx, batch, err)
	}

	e.settle(ctx, batch, resp)
	return nil
}

// failBatch 以 BatchTransportError 拒绝整批调用，并只上报一次。
func (e *Executor) failBatch(ctx context.Context, batch []*Call, cause error) error {
	batchErr := boterrors.NewBatchTransportError(fmt.Sprintf("execute batch of %d calls failed", len(batch)), cause)
	for _, call := range batch {
		call.reject(batchErr)
	}
	e.logger.Error("Execute batch failed",
		zap.Int("calls", len(batch)),
		zap.Error(cause),
	)
	eventbus.PublishError(ctx, e.publisher, component, batchErr)
	return batchErr
}

// settle 按响应数组下标结算调用。
// 约定：平台返回的 response 顺序与提交顺序一致；失败的调用位置为 false，
// 对应错误按出现顺序列在 execute_errors 中。
func (e *Executor) settle(ctx context.Context, batch []*Call, resp *vkapi.Response) {
	pending := make([]vkapi.ExecuteError, len(resp.ExecuteErrors))
	copy(pending, resp.ExecuteErrors)
	for _, ee := range resp.ExecuteErrors {
		e.logger.Warn("Execute call failed",
			zap.String("method", ee.Method),
			zap.Int("code", ee.Code),
			zap.String("message", ee.Message),
		)
		eventbus.PublishError(ctx, e.publisher, component, boterrors.NewExecuteError(ee.Method, ee))
	}

	var items []json.RawMessage
	if err := json.Unmarshal(resp.Response, &items); err != nil {
		malformed := boterrors.NewExecuteError("malformed execute response", err)
		for _, call := range batch {
			call.reject(malformed)
		}
		eventbus.PublishError(ctx, e.publisher, component, malformed)
		return
	}

	for i, call := range batch {
		if i >= len(items) {
			call.reject(boterrors.NewExecuteError(call.Method+": missing from execute response", nil))
			continue
		}
		item := items[i]
		if isFalse(item) && len(pending) > 0 {
			var ee vkapi.ExecuteError
			ee, pending = takeError(pending, call.Method)
			call.reject(boterrors.NewExecuteError(call.Method, ee))
			continue
		}
		call.resolve(item)
	}
}

// takeError 取出第一个与 method 匹配的错误，没有匹配时取第一个。
func takeError(pending []vkapi.ExecuteError, method string) (vkapi.ExecuteError, []vkapi.ExecuteError) {
	idx := 0
	for i, ee := range pending {
		if ee.Method == method {
			idx = i
			break
		}
	}
	ee := pending[idx]
	rest := append(pending[:idx:idx], pending[idx+1:]...)
	return ee, rest
}

func isFalse(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("false"))
}

// buildCode 生成 execute 使用的 VKScript：return [API.a({...}),API.b({...})];
func buildCode(batch []*Call) (string, error) {
	parts := make([]string, 0, len(batch))
	for _, call := range batch {
		s, err := call.script()
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return "return [" + strings.Join(parts, ",") + "];", nil
}

// Start 启动定时刷新协程。重复调用返回错误。
func (e *Executor) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.cancel != nil {
		return fmt.Errorf("executor already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.cancel = cancel
	e.done = done

	safego.Go(e.logger, "execute-flush", func() {
		defer close(done)
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := e.Flush(runCtx); err != nil {
					e.logger.Debug("Flush finished with errors", zap.Error(err))
				}
			}
		}
	})
	e.logger.Info("Executor started", zap.Duration("interval", e.interval))
	return nil
}

// Stop 停止定时刷新，并对剩余队列做最后一次刷新。
func (e *Executor) Stop() {
	e.runMu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	ctx, cancelFlush := context.WithTimeout(context.Background(), defaultStopDeadline)
	defer cancelFlush()
	if err := e.Flush(ctx); err != nil {
		e.logger.Warn("Final flush failed", zap.Error(err))
	}
	e.logger.Info("Executor stopped")
}

package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	boterrors "github.com/IMBotPlatform/VKBotCore/pkg/errors"
	"github.com/IMBotPlatform/VKBotCore/pkg/eventbus"
	"github.com/IMBotPlatform/VKBotCore/pkg/vkapi"
)

// fakeAPI 模拟 groups.getById 与 groups.getLongPollServer，每次获取返回新的 key。
type fakeAPI struct {
	mu        sync.Mutex
	acquired  int
	groupByID int
	failAfter int // 第 n 次获取起失败，0 表示从不失败
}

func (f *fakeAPI) Call(ctx context.Context, method string, params vkapi.Params) (*vkapi.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch method {
	case "groups.getById":
		f.groupByID++
		return &vkapi.Response{Response: json.RawMessage(`[{"id":77}]`)}, nil
	case "groups.getLongPollServer":
		f.acquired++
		if f.failAfter > 0 && f.acquired >= f.failAfter {
			return nil, &vkapi.APIError{Code: 5, Message: "auth failed"}
		}
		if params["group_id"] != int64(77) {
			return nil, fmt.Errorf("unexpected group %v", params["group_id"])
		}
		raw := fmt.Sprintf(`{"key":"k%d","server":"https://lp.example/%d","ts":"%d"}`, f.acquired, f.acquired, 100*f.acquired)
		return &vkapi.Response{Response: json.RawMessage(raw)}, nil
	}
	return nil, fmt.Errorf("unexpected method %s", method)
}

func (f *fakeAPI) acquisitions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquired
}

type step struct {
	resp *vkapi.LongPollResponse
	err  error
}

type request struct {
	server string
	key    string
	ts     string
}

// fakeLP 按脚本返回响应，脚本耗尽后取消循环。
type fakeLP struct {
	mu       sync.Mutex
	script   []step
	requests []request
	stop     context.CancelFunc
}

func (f *fakeLP) Check(ctx context.Context, server string, params vkapi.Params) (*vkapi.LongPollResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, request{
		server: server,
		key:    vkapi.EncodeValue(params["key"]),
		ts:     vkapi.EncodeValue(params["ts"]),
	})
	if len(f.script) == 0 {
		f.mu.Unlock()
		f.stop()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s := f.script[0]
	f.script = f.script[1:]
	f.mu.Unlock()
	return s.resp, s.err
}

func (f *fakeLP) seen() []request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]request(nil), f.requests...)
}

type recorder struct {
	mu      sync.Mutex
	events  []eventbus.Event
	updates []string
}

func (r *recorder) HandleUpdate(ctx context.Context, raw json.RawMessage) {
	r.mu.Lock()
	r.updates = append(r.updates, string(raw))
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type())
	}
	return out
}

func (r *recorder) errs() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []error
	for _, e := range r.events {
		if p, ok := e.Payload().(eventbus.ErrorPayload); ok {
			out = append(out, p.Err)
		}
	}
	return out
}

func run(t *testing.T, api *fakeAPI, script []step, ts string, opts ...Option) (*fakeLP, *recorder, *Poller, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	lp := &fakeLP{script: script, stop: cancel}
	rec := &recorder{}
	bus := eventbus.New(nil)
	bus.Subscribe("*", func(ctx context.Context, ev eventbus.Event) {
		rec.mu.Lock()
		rec.events = append(rec.events, ev)
		rec.mu.Unlock()
	})

	opts = append([]Option{WithPublisher(bus), WithRetryDelay(0)}, opts...)
	p := New(api, lp, rec, opts...)
	err := p.Run(ctx, ts)
	return lp, rec, p, err
}

func ok(ts string, updates ...string) step {
	raws := make([]json.RawMessage, 0, len(updates))
	for _, u := range updates {
		raws = append(raws, json.RawMessage(u))
	}
	return step{resp: &vkapi.LongPollResponse{TS: vkapi.Timestamp(ts), Updates: raws}}
}

func failed(code int, ts string) step {
	return step{resp: &vkapi.LongPollResponse{Failed: code, TS: vkapi.Timestamp(ts)}}
}

func TestPollerDispatchesInOrderAndAdvancesTS(t *testing.T) {
	api := &fakeAPI{}
	lp, rec, p, err := run(t, api, []step{
		ok("101", `{"n":1}`, `{"n":2}`),
		ok("102", `{"n":3}`),
	}, "")
	require.NoError(t, err)

	require.Equal(t, []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}, rec.updates)
	reqs := lp.seen()
	require.Len(t, reqs, 3)
	require.Equal(t, "100", reqs[0].ts)
	require.Equal(t, "101", reqs[1].ts)
	require.Equal(t, "102", reqs[2].ts)
	require.Equal(t, "k1", reqs[0].key)
	require.Equal(t, 1, api.groupByID)
	require.Equal(t, int64(77), p.GroupID())
	require.Equal(t, []string{eventbus.EventTypePollStarted, eventbus.EventTypePoll, eventbus.EventTypePoll}, rec.types())
	require.Equal(t, StateStopped, p.State())
}

func TestPollerUsesCallerTimestamp(t *testing.T) {
	lp, _, _, err := run(t, &fakeAPI{}, nil, "555", WithGroupID(77))
	require.NoError(t, err)
	require.Equal(t, "555", lp.seen()[0].ts)
}

func TestPollerFailed1UsesPlatformTSWithoutReacquire(t *testing.T) {
	api := &fakeAPI{}
	lp, rec, _, err := run(t, api, []step{failed(FailedTSOutdated, "900")}, "50", WithGroupID(77))
	require.NoError(t, err)

	reqs := lp.seen()
	require.Len(t, reqs, 2)
	require.Equal(t, "50", reqs[0].ts)
	require.Equal(t, "900", reqs[1].ts)
	require.Equal(t, "k1", reqs[1].key)
	require.Equal(t, 1, api.acquisitions())
	require.Empty(t, rec.errs())
}

func TestPollerFailed2ReacquiresKeepingTS(t *testing.T) {
	api := &fakeAPI{}
	lp, _, p, err := run(t, api, []step{failed(FailedKeyExpired, "")}, "50", WithGroupID(77))
	require.NoError(t, err)

	reqs := lp.seen()
	require.Len(t, reqs, 2)
	require.Equal(t, 2, api.acquisitions())
	require.Equal(t, "k2", reqs[1].key)
	require.Equal(t, "50", reqs[1].ts)
	require.Equal(t, "k2", p.Params().Key)
}

func TestPollerFailed3ReacquiresFreshParams(t *testing.T) {
	api := &fakeAPI{}
	lp, rec, _, err := run(t, api, []step{failed(FailedInfoLost, "")}, "50", WithGroupID(77))
	require.NoError(t, err)

	reqs := lp.seen()
	require.Len(t, reqs, 2)
	require.Equal(t, 2, api.acquisitions())
	require.Equal(t, "k2", reqs[1].key)
	require.Equal(t, "https://lp.example/2", reqs[1].server)
	require.Equal(t, "50", reqs[1].ts)
	require.Equal(t, []string{eventbus.EventTypePollStarted, eventbus.EventTypePollStarted}, rec.types())
}

func TestPollerUnknownFailureCodeReportsAndContinues(t *testing.T) {
	api := &fakeAPI{}
	lp, rec, _, err := run(t, api, []step{failed(42, "")}, "50", WithGroupID(77))
	require.NoError(t, err)

	errs := rec.errs()
	require.Len(t, errs, 1)
	require.True(t, boterrors.IsPolling(errs[0]))
	require.Len(t, lp.seen(), 2)
	require.Equal(t, 2, api.acquisitions())
}

func TestPollerUnknownFailureCodeWaitsBeforeReacquiring(t *testing.T) {
	api := &fakeAPI{}
	var checks int
	var mu sync.Mutex
	lp := vkLongPollerFunc(func(ctx context.Context, server string, params vkapi.Params) (*vkapi.LongPollResponse, error) {
		mu.Lock()
		checks++
		mu.Unlock()
		return &vkapi.LongPollResponse{Failed: 4}, nil
	})
	p := New(api, lp, SinkFunc(nil), WithGroupID(77), WithRetryDelay(20*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx, "1"))

	// 每次未知错误码之后等待 retry delay，150ms 内最多约 8 次
	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, checks, 2)
	require.LessOrEqual(t, checks, 10)
	require.LessOrEqual(t, api.acquisitions(), 10)
}

func TestPollerTransportErrorReacquires(t *testing.T) {
	api := &fakeAPI{}
	lp, rec, _, err := run(t, api, []step{
		{err: errors.New("connection reset")},
		ok("51", `{"n":1}`),
	}, "50", WithGroupID(77))
	require.NoError(t, err)

	errs := rec.errs()
	require.Len(t, errs, 1)
	require.True(t, boterrors.IsPolling(errs[0]))
	require.Equal(t, []string{`{"n":1}`}, rec.updates)
	reqs := lp.seen()
	require.Len(t, reqs, 3)
	require.Equal(t, "k2", reqs[1].key)
	require.Equal(t, "50", reqs[1].ts)
	require.Equal(t, "51", reqs[2].ts)
}

func TestPollerAcquisitionFailureStopsLoop(t *testing.T) {
	api := &fakeAPI{failAfter: 1}
	lp, rec, p, err := run(t, api, nil, "", WithGroupID(77))
	require.Error(t, err)
	require.True(t, boterrors.IsAcquisition(err))
	require.Empty(t, lp.seen())

	errs := rec.errs()
	require.Len(t, errs, 1)
	require.True(t, boterrors.IsAcquisition(errs[0]))
	require.Nil(t, p.Params())
}

func TestPollerReacquisitionFailureStopsLoop(t *testing.T) {
	api := &fakeAPI{failAfter: 2}
	lp, _, _, err := run(t, api, []step{failed(FailedKeyExpired, "")}, "1", WithGroupID(77))
	require.True(t, boterrors.IsAcquisition(err))
	require.Len(t, lp.seen(), 1)
}

func TestPollerStartStop(t *testing.T) {
	block := make(chan struct{})
	lp := vkLongPollerFunc(func(ctx context.Context, server string, params vkapi.Params) (*vkapi.LongPollResponse, error) {
		close(block)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	p := New(&fakeAPI{}, lp, SinkFunc(nil), WithGroupID(77))

	require.NoError(t, p.Start(context.Background(), ""))
	require.Error(t, p.Start(context.Background(), ""))

	<-block
	require.Equal(t, StatePolling, p.State())
	require.NoError(t, p.Stop())
	require.Equal(t, StateStopped, p.State())
	require.NoError(t, p.Stop())
}

type vkLongPollerFunc func(ctx context.Context, server string, params vkapi.Params) (*vkapi.LongPollResponse, error)

func (f vkLongPollerFunc) Check(ctx context.Context, server string, params vkapi.Params) (*vkapi.LongPollResponse, error) {
	return f(ctx, server, params)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "polling", StatePolling.String())
	require.Equal(t, "state(9)", State(9).String())
}

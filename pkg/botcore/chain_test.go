package botcore

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func newCtx(u Update) *Context {
	return NewContext(context.Background(), u, nil)
}

func record(log *[]string, name string, callNext bool) HandlerFunc {
	return func(ctx *Context, next Next) error {
		*log = append(*log, name)
		if callNext {
			next()
		}
		return nil
	}
}

func TestChainFirstMatchWins(t *testing.T) {
	var log []string
	c := NewChain()
	c.Command([]string{"/start"}, record(&log, "start", false))
	c.NoCommand(record(&log, "fallback", false))

	require.True(t, c.Dispatch(newCtx(msg("/start"))))
	require.Equal(t, []string{"start"}, log)

	log = nil
	require.True(t, c.Dispatch(newCtx(msg("hello"))))
	require.Equal(t, []string{"fallback"}, log)
}

func TestChainNextContinuesToFollowingEntries(t *testing.T) {
	var log []string
	c := NewChain()
	c.Use(record(&log, "mw1", true), record(&log, "mw2", true))
	c.Command([]string{"ping"}, record(&log, "ping", false))
	c.NoCommand(record(&log, "fallback", false))

	require.True(t, c.Dispatch(newCtx(msg("ping"))))
	require.Equal(t, []string{"mw1", "mw2", "ping"}, log)
}

func TestChainNextRunsAfterHandlerReturns(t *testing.T) {
	var log []string
	c := NewChain()
	c.Use(func(ctx *Context, next Next) error {
		log = append(log, "before")
		next()
		log = append(log, "after")
		return nil
	})
	c.NoCommand(record(&log, "handler", false))

	c.Dispatch(newCtx(msg("x")))
	require.Equal(t, []string{"before", "after", "handler"}, log)
}

func TestChainReturnsFalseWhenNothingMatches(t *testing.T) {
	var log []string
	c := NewChain()
	c.Command([]string{"a"}, record(&log, "a", false))

	require.False(t, c.Dispatch(newCtx(msg("b"))))
	require.False(t, c.Dispatch(newCtx(Update{Type: "group_leave"})))
	require.Empty(t, log)
}

func TestChainExhaustedAfterNextStillReportsHandled(t *testing.T) {
	var log []string
	c := NewChain()
	c.Use(record(&log, "mw", true))

	require.True(t, c.Dispatch(newCtx(msg("x"))))
	require.Equal(t, []string{"mw"}, log)
}

func TestChainDispatchFrom(t *testing.T) {
	var log []string
	c := NewChain()
	c.Use(record(&log, "0", true), record(&log, "1", true), record(&log, "2", false))

	c.DispatchFrom(newCtx(msg("x")), 1)
	require.Equal(t, []string{"1", "2"}, log)

	log = nil
	require.False(t, c.DispatchFrom(newCtx(msg("x")), 5))
	require.Empty(t, log)
}

func TestChainCatchesErrorsAndPanics(t *testing.T) {
	var reported []error
	var log []string
	c := NewChain(WithErrorHook(func(ctx *Context, err error) {
		reported = append(reported, err)
	}))
	c.Hears(regexp.MustCompile("boom"), func(ctx *Context, next Next) error {
		panic("kaboom")
	})
	c.Command([]string{"fail"}, func(ctx *Context, next Next) error {
		next()
		return errors.New("bad")
	})
	c.NoCommand(record(&log, "fallback", false))

	require.True(t, c.Dispatch(newCtx(msg("boom"))))
	require.True(t, c.Dispatch(newCtx(msg("fail"))))
	require.Empty(t, log)
	require.Len(t, reported, 2)
	require.Contains(t, reported[0].Error(), "kaboom")
	require.EqualError(t, reported[1], "bad")

	// 之后的事件不受影响
	require.True(t, c.Dispatch(newCtx(msg("hello"))))
	require.Equal(t, []string{"fallback"}, log)
}

func TestChainEventAndButton(t *testing.T) {
	var log []string
	c := NewChain()
	c.Event([]string{TypeMessageEvent}, record(&log, "event", false))
	c.Button(map[string]string{"cmd": "ok"}, record(&log, "button", false))
	c.NoCommand(record(&log, "fallback", false))

	c.Dispatch(newCtx(Update{Type: TypeMessageEvent}))
	u := msg("OK")
	u.Payload = `{"cmd":"ok"}`
	c.Dispatch(newCtx(u))
	c.Dispatch(newCtx(msg("OK")))

	require.Equal(t, []string{"event", "button", "fallback"}, log)
	require.Equal(t, 3, c.Len())
}

func TestContextReplyWithoutResponder(t *testing.T) {
	ctx := newCtx(msg("x"))
	_, err := ctx.Reply("hi")
	require.ErrorIs(t, err, ErrNoResponder)
	require.NotEmpty(t, ctx.ID)
	require.NotNil(t, ctx.Context())
}

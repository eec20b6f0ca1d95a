package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/IMBotPlatform/VKBotCore/pkg/botcore"
)

func dispatch(t *testing.T, chain *botcore.Chain, from int64, text string) {
	t.Helper()
	u := botcore.Update{Type: botcore.TypeMessageNew, PeerID: from, FromID: from, Text: text}
	chain.Dispatch(botcore.NewContext(context.Background(), u, nil))
}

func TestSessionIsolationBetweenSenders(t *testing.T) {
	store := NewMemoryStore()
	seen := map[int64][]any{}

	chain := botcore.NewChain()
	chain.Use(Middleware(WithStore(store)))
	chain.NoCommand(func(ctx *botcore.Context, next botcore.Next) error {
		v, _ := ctx.Session.Get("note")
		seen[ctx.Update.FromID] = append(seen[ctx.Update.FromID], v)
		ctx.Session.Set("note", ctx.Update.Text)
		return nil
	})

	dispatch(t, chain, 1, "from one")
	dispatch(t, chain, 2, "from two")
	dispatch(t, chain, 1, "again")
	dispatch(t, chain, 2, "again")

	require.Equal(t, []any{nil, "from one"}, seen[1])
	require.Equal(t, []any{nil, "from two"}, seen[2])
	require.Equal(t, 2, store.Len())
}

func TestDefaultKey(t *testing.T) {
	require.Equal(t, "2000000001:5", DefaultKey(botcore.Update{PeerID: 2000000001, FromID: 5}))
	require.Equal(t, "5:5", DefaultKey(botcore.Update{FromID: 5}))
}

func TestCustomKeyFuncSharesSessionPerPeer(t *testing.T) {
	store := NewMemoryStore()
	chain := botcore.NewChain()
	chain.Use(Middleware(WithStore(store), WithKeyFunc(func(u botcore.Update) string {
		return "chat"
	})))
	chain.NoCommand(func(ctx *botcore.Context, next botcore.Next) error {
		ctx.Session.Update("count", func(cur any, ok bool) (any, bool) {
			n, _ := cur.(int)
			return n + 1, true
		})
		return nil
	})

	dispatch(t, chain, 1, "a")
	dispatch(t, chain, 2, "b")

	n, ok := botcore.SessionValue[int](store.Load("chat"), "count")
	require.True(t, ok)
	require.Equal(t, 2, n)
}

func TestMemoryStoreReturnsSameSession(t *testing.T) {
	store := NewMemoryStore()
	require.Same(t, store.Load("a"), store.Load("a"))
	require.NotSame(t, store.Load("a"), store.Load("b"))
}

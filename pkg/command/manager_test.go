package command

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/IMBotPlatform/VKBotCore/pkg/botcore"
)

type echoLLM struct{}

func (echoLLM) Chat(ctx context.Context, session *botcore.Session, prompt string, opts ...ChatOption) (string, error) {
	o := ChatOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	return "llm(" + o.Model + "):" + prompt, nil
}

func testFactory() *cobra.Command {
	root := &cobra.Command{Use: "vkbot", SilenceUsage: true, SilenceErrors: true}
	root.AddCommand(&cobra.Command{
		Use: "ping",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Println("pong")
			return nil
		},
	})
	root.AddCommand(&cobra.Command{
		Use:  "echo <text>",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Println(strings.Join(args, " "))
			return nil
		},
	})
	root.AddCommand(&cobra.Command{
		Use: "fail",
		RunE: func(cmd *cobra.Command, args []string) error {
			return errors.New("boom")
		},
	})
	root.AddCommand(&cobra.Command{
		Use: "ask",
		RunE: func(cmd *cobra.Command, args []string) error {
			execCtx := FromContext(cmd.Context())
			answer, err := execCtx.LLM().Chat(cmd.Context(), execCtx.Session(), execCtx.Parsed.ArgumentRaw, WithModel("m"))
			if err != nil {
				return err
			}
			cmd.Print(answer)
			return nil
		},
	})
	return root
}

func dispatchText(t *testing.T, chain *botcore.Chain, bot botcore.Responder, text string) bool {
	t.Helper()
	return chain.Dispatch(newBotContext(bot, text))
}

func TestManagerRunsCommandAndReplies(t *testing.T) {
	bot := newFakeBot()
	var fallback []string
	chain := botcore.NewChain()
	chain.Use(NewManager(testFactory, WithLLM(echoLLM{})).Handler())
	chain.NoCommand(func(ctx *botcore.Context, next botcore.Next) error {
		fallback = append(fallback, ctx.Update.Text)
		return nil
	})

	dispatchText(t, chain, bot, "/ping")
	dispatchText(t, chain, bot, "!echo hello   world")
	dispatchText(t, chain, bot, "/vkbot ping")
	dispatchText(t, chain, bot, "/ask what is go")
	dispatchText(t, chain, bot, "just chatting")

	require.Equal(t, []string{"pong", "hello world", "pong", "llm(m):what is go"}, bot.texts())
	require.Equal(t, []string{"just chatting"}, fallback)
}

func TestManagerReportsErrorsToUser(t *testing.T) {
	bot := newFakeBot()
	chain := botcore.NewChain()
	chain.Use(NewManager(testFactory).Handler())

	dispatchText(t, chain, bot, "/nope")
	dispatchText(t, chain, bot, "/fail")
	dispatchText(t, chain, bot, "/vkbot")

	texts := bot.texts()
	require.Len(t, texts, 3)
	require.Contains(t, texts[0], ErrCommandNotFound.Error())
	require.Contains(t, texts[0], "nope")
	require.Contains(t, texts[1], "boom")
	require.Contains(t, texts[2], ErrCommandRequired.Error())
}

func TestManagerIgnoresNonMessageUpdates(t *testing.T) {
	bot := newFakeBot()
	called := false
	chain := botcore.NewChain()
	chain.Use(NewManager(testFactory).Handler())
	chain.Event([]string{"message_edit"}, func(ctx *botcore.Context, next botcore.Next) error {
		called = true
		return nil
	})

	chain.Dispatch(botcore.NewContext(context.Background(), botcore.Update{Type: "message_edit", Text: "/ping"}, bot))
	require.True(t, called)
	require.Empty(t, bot.sent)
}

func TestManagerNotInitialized(t *testing.T) {
	var m *Manager
	require.Error(t, m.Execute(newBotContext(newFakeBot(), "/x"), ParseResult{}))
}

func TestParser(t *testing.T) {
	p := NewParser()

	res := p.Parse("  /Start@vkbot arg1  arg2 ")
	require.True(t, res.IsCommand)
	require.Equal(t, []string{"start", "arg1", "arg2"}, res.Tokens)
	require.Equal(t, "arg1  arg2", res.ArgumentRaw)

	res = p.Parse("[club123|@mybot] /help")
	require.True(t, res.IsCommand)
	require.Equal(t, []string{"help"}, res.Tokens)

	require.False(t, p.Parse("hello /start").IsCommand)
	require.False(t, p.Parse("/").IsCommand)
	require.False(t, p.Parse("").IsCommand)
	require.False(t, NewParser("#").Parse("/x").IsCommand)
	require.True(t, NewParser("#").Parse("#x").IsCommand)
}

func TestFromContextWithoutValue(t *testing.T) {
	require.Nil(t, FromContext(context.Background()))
}

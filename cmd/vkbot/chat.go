package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/IMBotPlatform/VKBotCore/pkg/ai"
	"github.com/IMBotPlatform/VKBotCore/pkg/bot"
	"github.com/IMBotPlatform/VKBotCore/pkg/botcore"
	"github.com/IMBotPlatform/VKBotCore/pkg/command"
	"github.com/IMBotPlatform/VKBotCore/pkg/markup"
	"github.com/IMBotPlatform/VKBotCore/pkg/scene"
	"github.com/IMBotPlatform/VKBotCore/pkg/session"
)

const (
	surveyScene = "survey"

	surveyNameKey = "survey.name"
)

var (
	pingPayload   = map[string]string{"cmd": "ping"}
	surveyPayload = map[string]string{"cmd": "survey"}
)

// wire 按顺序挂载中间件：会话 -> 场景 -> 命令 -> 键盘按钮 -> 兜底。
// svc 为 nil 时兜底回复帮助信息。
func wire(b *bot.Bot, svc *ai.Service, log *zap.Logger) {
	stage := scene.NewStage(newSurveyScene()).SetLogger(log.Named("scene"))

	managerOpts := []command.ManagerOption{command.WithLogger(log.Named("command"))}
	if svc != nil {
		managerOpts = append(managerOpts, command.WithLLM(svc))
	}
	manager := command.NewManager(newChatCommands, managerOpts...)

	b.Use(session.Middleware(session.WithLogger(log.Named("session"))))
	b.Use(stage.Middleware())
	b.Use(manager.Handler())

	b.Button(pingPayload, func(ctx *botcore.Context, next botcore.Next) error {
		_, err := ctx.Reply("pong")
		return err
	})
	b.Button(surveyPayload, func(ctx *botcore.Context, next botcore.Next) error {
		return ctx.Scene.Enter(surveyScene, 0)
	})

	if svc != nil {
		b.NoCommand(svc.Handler())
		return
	}
	b.NoCommand(func(ctx *botcore.Context, next botcore.Next) error {
		_, err := ctx.Reply("Send /help to see what I can do.")
		return err
	})
}

// newChatCommands 构建聊天内命令树，每条命令消息创建一个新实例。
func newChatCommands() *cobra.Command {
	root := &cobra.Command{
		Use:           "vkbot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "ping",
		Short: "健康检查",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Println("pong")
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "echo <text>",
		Short: "回显输入文本",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Println(strings.Join(args, " "))
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "whoami",
		Short: "显示会话信息",
		RunE: func(cmd *cobra.Command, args []string) error {
			u := command.FromContext(cmd.Context()).Update()
			cmd.Printf("peer_id: %d\nfrom_id: %d\n", u.PeerID, u.FromID)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "menu",
		Short: "显示快捷键盘",
		RunE: func(cmd *cobra.Command, args []string) error {
			execCtx := command.FromContext(cmd.Context())
			execCtx.SetKeyboard(menuKeyboard())
			cmd.Println("Choose an action:")
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "survey",
		Short: "开始问卷",
		RunE: func(cmd *cobra.Command, args []string) error {
			scn := command.FromContext(cmd.Context()).Scene()
			if scn == nil {
				return errors.New("scenes are not enabled")
			}
			return scn.Enter(surveyScene, 0)
		},
	})

	aiCmd := &cobra.Command{
		Use:   "ai <prompt>",
		Short: "向模型提问，保留会话上下文",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			execCtx := command.FromContext(cmd.Context())
			llm := execCtx.LLM()
			if llm == nil {
				return errors.New("ai is not configured")
			}
			var opts []command.ChatOption
			if model, _ := cmd.Flags().GetString("model"); model != "" {
				opts = append(opts, command.WithModel(model))
			}
			answer, err := llm.Chat(cmd.Context(), execCtx.Session(), strings.Join(args, " "), opts...)
			if err != nil {
				return err
			}
			cmd.Println(answer)
			return nil
		},
	}
	aiCmd.Flags().StringP("model", "m", "", "使用的模型名称")
	root.AddCommand(aiCmd)

	root.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "清空对话历史",
		RunE: func(cmd *cobra.Command, args []string) error {
			ai.ClearHistory(command.FromContext(cmd.Context()).Session())
			cmd.Println("History cleared.")
			return nil
		},
	})

	return root
}

func menuKeyboard() *markup.Keyboard {
	return markup.New(
		[]markup.Button{
			markup.TextButton("Ping", markup.WithPayload(pingPayload), markup.WithColor(markup.ColorPrimary)),
			markup.TextButton("Survey", markup.WithPayload(surveyPayload), markup.WithColor(markup.ColorPositive)),
		},
	).SetOneTime(true)
}

// newSurveyScene 两步问卷：姓名、年龄。/cancel 随时退出。
func newSurveyScene() *scene.Scene {
	s := scene.New(surveyScene,
		func(ctx *botcore.Context, next botcore.Next) error {
			ctx.Scene.Next()
			_, err := ctx.Reply("What is your name?", botcore.WithKeyboard(markup.Empty()))
			return err
		},
		func(ctx *botcore.Context, next botcore.Next) error {
			name := strings.TrimSpace(ctx.Update.Text)
			if name == "" {
				_, err := ctx.Reply("Please send your name as text.")
				return err
			}
			ctx.Session.Set(surveyNameKey, name)
			ctx.Scene.Next()
			_, err := ctx.Reply("How old are you?")
			return err
		},
		func(ctx *botcore.Context, next botcore.Next) error {
			age, err := strconv.Atoi(strings.TrimSpace(ctx.Update.Text))
			if err != nil || age <= 0 {
				_, err := ctx.Reply("Please send a number.")
				return err
			}
			name, _ := botcore.SessionValue[string](ctx.Session, surveyNameKey)
			ctx.Session.Delete(surveyNameKey)
			ctx.Scene.Leave()
			_, err = ctx.Reply(fmt.Sprintf("Nice to meet you, %s (%d).", name, age))
			return err
		},
	)
	s.Command([]botcore.Trigger{botcore.Text("/cancel")}, func(ctx *botcore.Context, next botcore.Next) error {
		ctx.Session.Delete(surveyNameKey)
		ctx.Scene.Leave()
		_, err := ctx.Reply("Survey cancelled.")
		return err
	})
	return s
}

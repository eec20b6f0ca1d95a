package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/IMBotPlatform/VKBotCore/pkg/config"
	"github.com/IMBotPlatform/VKBotCore/pkg/logger"
)

// version 在构建时通过 -ldflags "-X main.version=..." 注入。
var version = "dev"

const shutdownTimeout = 10 * time.Second

type globalFlags struct {
	configPath string
	aiConfig   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCmd 构建进程级命令树：run、webhook、config、version。
func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "vkbot",
		Short:         "VK 社区机器人",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "配置文件路径（YAML），未指定时只读取 VKBOT_ 环境变量")
	root.PersistentFlags().StringVar(&flags.aiConfig, "ai-config", "", "模型配置文件路径，为空时尝试 OPENAI_API_KEY")

	root.AddCommand(newRunCmd(flags), newWebhookCmd(flags), newConfigCmd(flags), newVersionCmd())
	return root
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	var ts string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "以长轮询方式接收事件",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := setup(flags)
			if err != nil {
				return err
			}
			defer app.logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app.logger.Info("Starting long polling")
			return app.bot.Poll(ctx, ts)
		},
	}
	cmd.Flags().StringVar(&ts, "ts", "", "起始事件游标，为空时从服务器当前位置开始")
	return cmd
}

func newWebhookCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "webhook",
		Short: "以回调 API 方式接收事件",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := setup(flags)
			if err != nil {
				return err
			}
			defer app.logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := app.bot.Start(ctx); err != nil {
				return err
			}
			defer app.bot.Stop()

			return serveWebhook(ctx, app)
		},
	}
}

// serveWebhook 运行回调 HTTP 服务直到 ctx 取消。
func serveWebhook(ctx context.Context, app *application) error {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	engine.POST(app.settings.Webhook.Path, app.bot.Webhook().Gin())

	srv := &http.Server{
		Addr:              app.settings.Webhook.Listen,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("Webhook listening",
			zap.String("addr", srv.Addr),
			zap.String("path", app.settings.Webhook.Path),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	app.logger.Info("Shutting down webhook server")
	return srv.Shutdown(shutdownCtx)
}

func newConfigCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "打印合并后的配置（敏感字段已遮蔽）",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			out, err := settings.YAML()
			if err != nil {
				return err
			}
			cmd.Print(string(out))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "打印版本",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	}
}

// newLogger 按配置创建日志。
func newLogger(settings *config.Settings) (*zap.Logger, error) {
	l, err := logger.NewLogger(logger.Config{
		Level:  settings.Log.Level,
		Format: settings.Log.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return l, nil
}

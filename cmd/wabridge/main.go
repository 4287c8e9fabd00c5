package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/application"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/application/usecase"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/infrastructure/config"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/infrastructure/logger"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/infrastructure/persistence"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/infrastructure/transcode"
)

const (
	cliVersion = "0.3.0"
	cliName    = "wabridge"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:          cliName,
		Short:        "WhatsApp gateway bridge",
		Long:         "wabridge: 接收 Wuzapi webhook, 落地媒体, 并把工单消息发回网关",
		SilenceUsage: true,
		RunE:         runServe,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径 (默认搜索 ./config, ., ~/.wabridge)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务 (webhook + API + websocket)",
		RunE:  runServe,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "显示版本",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", cliName, cliVersion)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "环境诊断",
		RunE:  runDoctor,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "写入默认配置到 ~/.wabridge/config.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = filepath.Join(config.HomeDir(), "config.yaml")
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.WriteFile(config.Default(), path); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})

	rootCmd.AddCommand(instanceCommand())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// ─── Gateway Server Mode ───

func runServe(cmd *cobra.Command, args []string) error {
	cfg, v, err := config.LoadWithViper(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, level, err := logger.NewWithLevel(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.Output,
	})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	log.Info("Starting wabridge", zap.String("version", cliVersion))

	if err := config.Bootstrap(cfg, v.ConfigFileUsed(), log); err != nil {
		log.Warn("Bootstrap failed (non-fatal)", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := application.NewApp(cfg, log)
	if err != nil {
		log.Error("Failed to initialize application", zap.Error(err))
		return err
	}
	app.WatchConfig(v, level)

	if err := app.Start(ctx); err != nil {
		log.Error("Failed to start application", zap.Error(err))
		return err
	}

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		log.Error("Error during shutdown", zap.Error(err))
		return err
	}
	return nil
}

// ─── Instance admin ───

func instanceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instance",
		Short: "管理网关实例",
	}

	var (
		baseURL    string
		adminToken string
		farewell   string
	)

	create := &cobra.Command{
		Use:   "create <name>",
		Short: "在网关上注册用户并创建实例",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCLIApp(cmd.Context(), func(ctx context.Context, app *application.App) error {
				cfg := app.AppConfig()
				in := usecase.ProvisionInput{
					Name:            args[0],
					BaseURL:         firstNonEmpty(baseURL, cfg.Wuzapi.BaseURL),
					AdminToken:      firstNonEmpty(adminToken, cfg.Wuzapi.AdminToken),
					FarewellMessage: farewell,
				}
				instance, err := app.Provisioning().Provision(ctx, in)
				if err != nil {
					return err
				}
				fmt.Printf("instance %d created (%s)\n", instance.ID, instance.Status)
				fmt.Printf("webhook: %s\n", app.Provisioning().WebhookURL(instance.ID))
				return nil
			})
		},
	}
	create.Flags().StringVar(&baseURL, "base-url", "", "网关地址 (默认 wuzapi.base_url)")
	create.Flags().StringVar(&adminToken, "admin-token", "", "网关管理令牌 (默认 wuzapi.admin_token)")
	create.Flags().StringVar(&farewell, "farewell", "", "告别语模板, 支持 {{name}} {{number}}")

	remove := &cobra.Command{
		Use:   "delete <id>",
		Short: "删除网关用户和实例",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withCLIApp(cmd.Context(), func(ctx context.Context, app *application.App) error {
				token := firstNonEmpty(adminToken, app.AppConfig().Wuzapi.AdminToken)
				if err := app.Provisioning().Deprovision(ctx, id, token); err != nil {
					return err
				}
				fmt.Printf("instance %d deleted\n", id)
				return nil
			})
		},
	}
	remove.Flags().StringVar(&adminToken, "admin-token", "", "网关管理令牌 (默认 wuzapi.admin_token)")

	status := &cobra.Command{
		Use:   "status <id>",
		Short: "查询并同步会话状态",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withCLIApp(cmd.Context(), func(ctx context.Context, app *application.App) error {
				instance, err := app.Sessions().Status(ctx, id)
				if err != nil {
					return err
				}
				fmt.Printf("%d\t%s\t%s\n", instance.ID, instance.Name, instance.Status)
				return nil
			})
		},
	}

	connect := &cobra.Command{
		Use:   "connect <id>",
		Short: "连接会话并打印二维码数据",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withCLIApp(cmd.Context(), func(ctx context.Context, app *application.App) error {
				instance, err := app.Sessions().Connect(ctx, id)
				if err != nil {
					return err
				}
				fmt.Printf("%d\t%s\t%s\n", instance.ID, instance.Name, instance.Status)
				if instance.QRCode != "" {
					fmt.Println(instance.QRCode)
				}
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "列出实例",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCLIApp(cmd.Context(), func(ctx context.Context, app *application.App) error {
				instances, err := app.Instances().List(ctx)
				if err != nil {
					return err
				}
				for _, i := range instances {
					fmt.Printf("%d\t%s\t%s\t%s\n", i.ID, i.Name, i.Transport, i.Status)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(create, remove, status, connect, list)
	return cmd
}

func withCLIApp(ctx context.Context, fn func(context.Context, *application.App) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Database.Type == "memory" {
		return fmt.Errorf("instance commands need a persistent database, got %q", cfg.Database.Type)
	}
	// Quiet logger for CLI
	log, err := logger.NewLogger(logger.Config{Level: "error", Format: "console", OutputPath: "stderr"})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	app, err := application.NewAppCLI(cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Wuzapi.Timeout+10*time.Second)
	defer cancel()
	return fn(ctx, app)
}

// ─── Doctor ───

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Printf("◇ wabridge doctor v%s\n\n", cliVersion)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("  \033[91m✗\033[0m 配置: %v\n", err)
		return nil
	}

	checks := []struct {
		name  string
		check func() (string, bool)
	}{
		{"配置", func() (string, bool) { return checkConfig(cfg) }},
		{"ffmpeg", func() (string, bool) { return checkFFmpeg(cfg) }},
		{"数据库", func() (string, bool) { return checkDatabase(cfg) }},
		{"公共目录", func() (string, bool) { return checkPublicDir(cfg) }},
	}

	allOK := true
	for _, c := range checks {
		val, ok := c.check()
		icon := "\033[92m✓\033[0m"
		if !ok {
			icon = "\033[91m✗\033[0m"
			allOK = false
		}
		fmt.Printf("  %s %s: %s\n", icon, c.name, val)
	}

	fmt.Println()
	if allOK {
		fmt.Println("所有检查通过 ✓")
	} else {
		fmt.Println("存在问题, 请检查上方标记")
	}
	return nil
}

func checkConfig(cfg *config.Config) (string, bool) {
	if cfg.Wuzapi.AdminToken == "" {
		return "wuzapi.admin_token 未设置, 无法创建实例", false
	}
	return fmt.Sprintf("server %s, gateway %s", cfg.Server.Addr(), cfg.Wuzapi.BaseURL), true
}

func checkFFmpeg(cfg *config.Config) (string, bool) {
	ff := transcode.NewFFmpeg(transcode.Config{
		FFmpegPath:  cfg.Media.FFmpegPath,
		FFprobePath: cfg.Media.FFprobePath,
	}, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ff.Available(ctx); err != nil {
		return err.Error(), false
	}
	return cfg.Media.FFmpegPath, true
}

func checkDatabase(cfg *config.Config) (string, bool) {
	if cfg.Database.Type == "memory" {
		return "memory (重启后丢失)", true
	}
	db, err := persistence.NewDBConnection(&cfg.Database)
	if err != nil {
		return err.Error(), false
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
		if err := sqlDB.Ping(); err != nil {
			return err.Error(), false
		}
	}
	return cfg.Database.Type, true
}

func checkPublicDir(cfg *config.Config) (string, bool) {
	probe := filepath.Join(cfg.Storage.PublicDir, ".doctor")
	if err := os.MkdirAll(cfg.Storage.PublicDir, 0o755); err != nil {
		return err.Error(), false
	}
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		return err.Error(), false
	}
	_ = os.Remove(probe)
	return cfg.Storage.PublicDir, true
}

func parseID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid instance id %q", s)
	}
	return uint(id), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/application/ticketing"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/application/usecase"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/repository"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/infrastructure/config"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/infrastructure/eventbus"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/infrastructure/logger"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/infrastructure/media"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/infrastructure/monitoring"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/infrastructure/persistence"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/infrastructure/transcode"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/infrastructure/wuzapi"
	httpServer "github.com/ngoclaw/ngoclaw/wabridge/internal/interfaces/http"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/interfaces/websocket"
	"github.com/ngoclaw/ngoclaw/wabridge/pkg/safego"
)

const statsInterval = time.Minute

// App 应用程序
type App struct {
	// 配置
	config *config.Config
	logger *zap.Logger
	db     *gorm.DB

	// 仓储层
	messageRepo  repository.MessageRepository
	contactRepo  repository.ContactRepository
	ticketRepo   repository.TicketRepository
	instanceRepo repository.InstanceRepository

	// 应用服务
	webhookRouter *usecase.WebhookRouter
	dispatch      *usecase.DispatchMessageUseCase
	sessions      *usecase.SessionUseCase
	provisioning  *usecase.ProvisioningUseCase
	poller        *usecase.StatusPoller

	// 基础设施
	bus        *eventbus.InMemoryBus
	hub        *websocket.Hub
	monitor    *monitoring.Monitor
	transcoder *transcode.FFmpeg
	store      *media.LocalStore
	gateway    *wuzapi.Client
	httpServer *httpServer.Server

	cancel context.CancelFunc
}

// NewApp 创建应用程序（依赖注入容器）
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{
		config: cfg,
		logger: logger,
	}

	if err := app.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}
	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to initialize infrastructure: %w", err)
	}
	app.initApplicationServices()
	app.initInterfaces()

	return app, nil
}

// NewAppCLI builds only what the admin commands need: repositories, the
// gateway client and the session/provisioning use cases. No HTTP server.
func NewAppCLI(cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{
		config: cfg,
		logger: logger,
	}
	if err := app.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}
	app.bus = eventbus.NewInMemoryBus(logger, cfg.Realtime.BufferSize)
	app.gateway = wuzapi.NewClient(cfg.Wuzapi.Timeout, logger)
	notifier := eventbus.NewNotifier(app.bus)
	app.sessions = usecase.NewSessionUseCase(app.instanceRepo, app.gateway, notifier, logger)
	app.provisioning = usecase.NewProvisioningUseCase(app.instanceRepo, app.gateway, app.sessions, cfg.Wuzapi.WebhookBaseURL, logger)
	return app, nil
}

// initRepositories 初始化仓储层
func (app *App) initRepositories() error {
	if app.config.Database.Type == "memory" {
		app.logger.Warn("Using in-memory repositories, state is lost on restart")
		app.messageRepo = persistence.NewMemoryMessageRepository()
		app.contactRepo = persistence.NewMemoryContactRepository()
		app.ticketRepo = persistence.NewMemoryTicketRepository()
		app.instanceRepo = persistence.NewMemoryInstanceRepository()
		return nil
	}

	db, err := persistence.NewDBConnection(&app.config.Database)
	if err != nil {
		return err
	}
	app.db = db
	app.messageRepo = persistence.NewGormMessageRepository(db)
	app.contactRepo = persistence.NewGormContactRepository(db)
	app.ticketRepo = persistence.NewGormTicketRepository(db)
	app.instanceRepo = persistence.NewGormInstanceRepository(db)

	app.logger.Info("Database connected", zap.String("type", app.config.Database.Type))
	return nil
}

// initInfrastructure 初始化基础设施
func (app *App) initInfrastructure() error {
	cfg := app.config

	store, err := media.NewLocalStore(cfg.Storage.PublicDir)
	if err != nil {
		return err
	}
	app.store = store

	app.transcoder = transcode.NewFFmpeg(transcode.Config{
		FFmpegPath:      cfg.Media.FFmpegPath,
		FFprobePath:     cfg.Media.FFprobePath,
		Timeout:         cfg.Media.TranscodeTimeout,
		MaxConcurrent:   cfg.Media.MaxConcurrent,
		VoiceBitrate:    cfg.Media.VoiceBitrate,
		VoiceSampleRate: cfg.Media.VoiceSampleRate,
		VoiceChannels:   cfg.Media.VoiceChannels,
	}, app.logger)

	app.gateway = wuzapi.NewClient(cfg.Wuzapi.Timeout, app.logger)
	app.bus = eventbus.NewInMemoryBus(app.logger, cfg.Realtime.BufferSize)
	app.hub = websocket.NewHub(app.logger)
	app.hub.Attach(app.bus)
	app.monitor = monitoring.NewMonitor(app.logger)
	return nil
}

// initApplicationServices 初始化应用服务
func (app *App) initApplicationServices() {
	cfg := app.config
	resolver := media.URLResolver{BaseURL: cfg.Storage.PublicBaseURL}
	notifier := eventbus.NewNotifier(app.bus)

	contacts := ticketing.NewContactService(app.contactRepo, app.logger)
	tickets := ticketing.NewTicketService(app.ticketRepo, app.logger)
	materializer := media.NewMaterializer(app.store, app.gateway, app.transcoder, app.monitor, app.logger)

	ingest := usecase.NewIngestMessageUseCase(
		app.messageRepo, contacts, tickets, materializer, app.store, resolver, notifier, app.monitor, app.logger,
	)
	events := usecase.NewMessageEventsUseCase(app.messageRepo, resolver, notifier, app.logger)
	app.webhookRouter = usecase.NewWebhookRouter(
		app.instanceRepo, wuzapi.NewAdapter(app.logger), ingest, events, app.monitor, app.logger,
	)
	app.dispatch = usecase.NewDispatchMessageUseCase(
		app.instanceRepo, app.contactRepo, tickets, app.messageRepo, app.gateway,
		app.store, resolver, app.transcoder, notifier, app.monitor, app.logger,
	)
	app.sessions = usecase.NewSessionUseCase(app.instanceRepo, app.gateway, notifier, app.logger)
	app.provisioning = usecase.NewProvisioningUseCase(
		app.instanceRepo, app.gateway, app.sessions, cfg.Wuzapi.WebhookBaseURL, app.logger,
	)
	app.poller = usecase.NewStatusPoller(app.instanceRepo, app.sessions, cfg.Wuzapi.StatusPollInterval, app.logger)
}

// initInterfaces 初始化接口层
func (app *App) initInterfaces() {
	app.httpServer = httpServer.NewServer(
		httpServer.Config{
			Host:      app.config.Server.Host,
			Port:      app.config.Server.Port,
			Mode:      app.config.Server.Mode,
			PublicDir: app.config.Storage.PublicDir,
		},
		httpServer.Dependencies{
			Webhooks: app.webhookRouter,
			Sessions: app.sessions,
			Dispatch: app.dispatch,
			Messages: app.messageRepo,
			Resolver: media.URLResolver{BaseURL: app.config.Storage.PublicBaseURL},
			Realtime: websocket.NewHandler(app.hub, app.logger).ServeWS,
			Monitor:  app.monitor,
		},
		app.logger,
	)
}

// Start 启动应用程序
func (app *App) Start(ctx context.Context) error {
	app.logger.Info("Starting application")
	runCtx, cancel := context.WithCancel(ctx)
	app.cancel = cancel

	if err := app.transcoder.Available(runCtx); err != nil {
		app.logger.Warn("ffmpeg unavailable, audio and video conversion will fail", zap.Error(err))
	}

	safego.Go(app.logger, "realtime-hub", func() { app.hub.Run(runCtx) })
	safego.Go(app.logger, "stats-collector", func() { app.monitor.StartCollector(runCtx, statsInterval) })

	if err := app.httpServer.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := app.poller.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start status poller: %w", err)
	}

	app.logger.Info("Application started successfully",
		zap.String("address", app.config.Server.Addr()),
		zap.String("webhook_base", strings.TrimRight(app.config.Wuzapi.WebhookBaseURL, "/")+usecase.WebhookPath),
	)
	return nil
}

// Stop 停止应用程序
func (app *App) Stop(ctx context.Context) error {
	app.logger.Info("Stopping application")

	if app.httpServer != nil {
		if err := app.httpServer.Stop(ctx); err != nil {
			app.logger.Error("Failed to stop HTTP server", zap.Error(err))
		}
	}
	if app.poller != nil {
		app.poller.Stop()
	}
	if app.cancel != nil {
		app.cancel()
	}
	if app.bus != nil {
		app.bus.Close()
		if dropped := app.bus.Dropped(); dropped > 0 {
			app.logger.Warn("Realtime events dropped during run", zap.Uint64("dropped", dropped))
		}
	}

	// 关闭数据库连接
	if app.db != nil {
		sqlDB, err := app.db.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				app.logger.Error("Failed to close database connection", zap.Error(err))
			}
		}
	}

	app.logger.Info("Application stopped successfully")
	return nil
}

// WatchConfig applies log level changes from the config file without a
// restart. Other settings need a restart.
func (app *App) WatchConfig(v *viper.Viper, level zap.AtomicLevel) {
	config.Watch(v, func(cfg *config.Config) {
		next := logger.ParseLevel(cfg.Log.Level)
		if next != level.Level() {
			level.SetLevel(next)
			app.logger.Info("Log level changed", zap.String("level", next.String()))
		}
	}, func(err error) {
		app.logger.Warn("Ignoring invalid config change", zap.Error(err))
	})
}

// Logger returns the application logger
func (app *App) Logger() *zap.Logger {
	return app.logger
}

// AppConfig returns the application config
func (app *App) AppConfig() *config.Config {
	return app.config
}

// Sessions returns the session use case (used by CLI)
func (app *App) Sessions() *usecase.SessionUseCase {
	return app.sessions
}

// Provisioning returns the provisioning use case (used by CLI)
func (app *App) Provisioning() *usecase.ProvisioningUseCase {
	return app.provisioning
}

// Instances returns the instance repository (used by CLI)
func (app *App) Instances() repository.InstanceRepository {
	return app.instanceRepo
}

// Close releases what NewAppCLI opened.
func (app *App) Close() {
	if app.bus != nil {
		app.bus.Close()
	}
	if app.db != nil {
		if sqlDB, err := app.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

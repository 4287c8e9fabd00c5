package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/application/usecase"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/repository"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/service"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/infrastructure/monitoring"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/interfaces/http/handlers"
)

const requestIDHeader = "X-Request-ID"

// Server HTTP服务器
type Server struct {
	server *http.Server
	router *gin.Engine
	logger *zap.Logger
}

// Config HTTP服务器配置
type Config struct {
	Host      string
	Port      int
	Mode      string // local, production, test
	PublicDir string
}

// Dependencies are the use cases and side channels the routes serve.
type Dependencies struct {
	Webhooks handlers.WebhookRouter
	Sessions *usecase.SessionUseCase
	Dispatch *usecase.DispatchMessageUseCase
	Messages repository.MessageRepository
	Resolver service.URLResolver
	Realtime http.HandlerFunc // optional
	Monitor  *monitoring.Monitor
}

// NewServer 创建HTTP服务器
func NewServer(cfg Config, deps Dependencies, logger *zap.Logger) *Server {
	// 设置Gin模式
	switch cfg.Mode {
	case "production":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(ginLogger(logger))
	if deps.Monitor != nil {
		router.Use(monitoring.MetricsHook(deps.Monitor))
	}

	setupRoutes(router, cfg, deps, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		router: router,
		logger: logger,
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 启动服务器
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// setupRoutes 设置路由
func setupRoutes(router *gin.Engine, cfg Config, deps Dependencies, logger *zap.Logger) {
	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	if deps.Monitor != nil {
		router.GET("/metrics", gin.WrapH(deps.Monitor.PrometheusHandler()))
	}
	if deps.Realtime != nil {
		router.GET("/ws", gin.WrapF(deps.Realtime))
	}
	if cfg.PublicDir != "" {
		router.Static("/public", cfg.PublicDir)
	}

	if deps.Webhooks != nil {
		webhookHandler := handlers.NewWebhookHandler(deps.Webhooks, logger)
		router.POST(usecase.WebhookPath+":instanceId", webhookHandler.Receive)
	}

	// API版本1
	v1 := router.Group("/api/v1")
	{
		v1.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"message": "pong",
			})
		})

		if deps.Monitor != nil {
			v1.GET("/stats", func(c *gin.Context) {
				c.JSON(http.StatusOK, deps.Monitor.GetDashboardData())
			})
		}

		if deps.Sessions != nil {
			instanceHandler := handlers.NewInstanceHandler(deps.Sessions, logger)
			instances := v1.Group("/instances/:id")
			instances.GET("/qr", instanceHandler.QRCode)
			instances.GET("/status", instanceHandler.Status)
			instances.POST("/connect", instanceHandler.Connect)
			instances.POST("/disconnect", instanceHandler.Disconnect)
		}

		if deps.Dispatch != nil {
			messageHandler := handlers.NewMessageHandler(deps.Dispatch, deps.Messages, deps.Resolver, logger)
			v1.POST("/tickets/:ticketId/messages", messageHandler.Store)
			if deps.Messages != nil {
				v1.GET("/tickets/:ticketId/messages", messageHandler.Index)
			}
		}
	}
}

// requestID 透传或生成 X-Request-ID 并写入请求上下文
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = service.NewTraceID()
		}
		c.Request = c.Request.WithContext(service.WithTraceID(c.Request.Context(), id))
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// ginLogger Gin日志中间件
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
			zap.String("request_id", service.TraceIDFromContext(c.Request.Context())),
		)
	}
}

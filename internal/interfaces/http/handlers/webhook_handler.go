package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/service"
)

// maxWebhookBody bounds a webhook body; inline media arrives base64 encoded.
const maxWebhookBody = 128 << 20

// WebhookRouter routes one raw webhook body for an instance.
type WebhookRouter interface {
	Handle(ctx context.Context, instanceID uint, raw []byte) error
}

// WebhookHandler 网关 webhook 入口
type WebhookHandler struct {
	router WebhookRouter
	logger *zap.Logger
}

// NewWebhookHandler 创建 webhook 处理器
func NewWebhookHandler(router WebhookRouter, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		router: router,
		logger: logger.With(zap.String("component", "webhook-handler")),
	}
}

// Receive handles POST /webhooks/wuzapi/:instanceId. Payload problems are
// acknowledged with 200 so the gateway does not keep redelivering them.
func (h *WebhookHandler) Receive(c *gin.Context) {
	id, ok := uintParam(c, "instanceId")
	if !ok {
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		h.logger.Warn("Webhook body unreadable",
			zap.Uint("instance_id", id),
			zap.String("trace_id", service.TraceIDFromContext(c.Request.Context())),
			zap.Error(err),
		)
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	if err := h.router.Handle(c.Request.Context(), id, raw); err != nil {
		h.logger.Error("Webhook processing failed",
			zap.Uint("instance_id", id),
			zap.String("trace_id", service.TraceIDFromContext(c.Request.Context())),
			zap.Error(err),
		)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

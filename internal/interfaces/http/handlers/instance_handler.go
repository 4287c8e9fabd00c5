package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/application/usecase"
)

// InstanceHandler 实例会话控制
type InstanceHandler struct {
	sessions *usecase.SessionUseCase
	logger   *zap.Logger
}

// NewInstanceHandler 创建实例处理器
func NewInstanceHandler(sessions *usecase.SessionUseCase, logger *zap.Logger) *InstanceHandler {
	return &InstanceHandler{
		sessions: sessions,
		logger:   logger.With(zap.String("component", "instance-handler")),
	}
}

// QRCode GET /api/v1/instances/:id/qr
func (h *InstanceHandler) QRCode(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	qr, err := h.sessions.QRCode(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"qrcode": qr})
}

// Status GET /api/v1/instances/:id/status
func (h *InstanceHandler) Status(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	instance, err := h.sessions.Status(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, usecase.NewInstanceView(instance))
}

// Connect POST /api/v1/instances/:id/connect
func (h *InstanceHandler) Connect(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	instance, err := h.sessions.Connect(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Connect failed", zap.Uint("instance_id", id), zap.Error(err))
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, usecase.NewInstanceView(instance))
}

// Disconnect POST /api/v1/instances/:id/disconnect
func (h *InstanceHandler) Disconnect(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	instance, err := h.sessions.Disconnect(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Disconnect failed", zap.Uint("instance_id", id), zap.Error(err))
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, usecase.NewInstanceView(instance))
}

package handlers

import (
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/application/usecase"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/repository"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/service"
	domainErrors "github.com/ngoclaw/ngoclaw/wabridge/pkg/errors"
)

const maxUploadMemory = 32 << 20

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type MessageHandler struct {
	dispatch *usecase.DispatchMessageUseCase
	messages repository.MessageRepository
	resolver service.URLResolver
	logger   *zap.Logger
}

func NewMessageHandler(
	dispatch *usecase.DispatchMessageUseCase,
	messages repository.MessageRepository,
	resolver service.URLResolver,
	logger *zap.Logger,
) *MessageHandler {
	return &MessageHandler{
		dispatch: dispatch,
		messages: messages,
		resolver: resolver,
		logger:   logger.With(zap.String("component", "message-handler")),
	}
}

type SendMessageRequest struct {
	Body        string `json:"body"`
	QuotedMsgID string `json:"quotedMsgId"`
	MediaURL    string `json:"mediaUrl"`
	MediaType   string `json:"mediaType"`
}

type SendMessageResponse struct {
	Messages []usecase.MessageView `json:"messages"`
}

type ListMessagesResponse struct {
	Messages []usecase.MessageView `json:"messages"`
	HasMore  bool                  `json:"hasMore"`
}

// Index handles GET /api/v1/tickets/:ticketId/messages?limit=&offset=,
// oldest first.
func (h *MessageHandler) Index(c *gin.Context) {
	ticketID, ok := uintParam(c, "ticketId")
	if !ok {
		return
	}
	limit := queryInt(c, "limit", defaultPageSize)
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	// 多取一条判断是否还有下一页
	list, err := h.messages.ListByTicket(c.Request.Context(), ticketID, limit+1, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := ListMessagesResponse{HasMore: len(list) > limit}
	if resp.HasMore {
		list = list[:limit]
	}
	resp.Messages = make([]usecase.MessageView, 0, len(list))
	for _, m := range list {
		resp.Messages = append(resp.Messages, usecase.NewMessageView(m, h.resolver))
	}
	c.JSON(http.StatusOK, resp)
}

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}

// Store handles POST /api/v1/tickets/:ticketId/messages, as JSON or as a
// multipart form with medias[] files and an optional body.
func (h *MessageHandler) Store(c *gin.Context) {
	ticketID, ok := uintParam(c, "ticketId")
	if !ok {
		return
	}

	in := usecase.SendInput{TicketID: ticketID}
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if err := c.Request.ParseMultipartForm(maxUploadMemory); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		form := c.Request.MultipartForm
		in.Body = c.PostForm("body")
		in.QuotedMsgID = c.PostForm("quotedMsgId")
		files := form.File["medias"]
		if len(files) == 0 {
			files = form.File["medias[]"]
		}
		for _, fh := range files {
			up, err := readUpload(fh)
			if err != nil {
				respondError(c, domainErrors.NewInvalidInputError("unreadable upload "+fh.Filename))
				return
			}
			in.Files = append(in.Files, up)
		}
	} else {
		var req SendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		in.Body = req.Body
		in.QuotedMsgID = req.QuotedMsgID
		in.MediaURL = req.MediaURL
		in.MediaType = req.MediaType
	}

	sent, err := h.dispatch.Execute(c.Request.Context(), in)
	if err != nil {
		h.logger.Error("Failed to send message",
			zap.Uint("ticket_id", ticketID),
			zap.Int("sent", len(sent)),
			zap.Error(err),
		)
		respondError(c, err)
		return
	}

	resp := SendMessageResponse{Messages: make([]usecase.MessageView, 0, len(sent))}
	for _, m := range sent {
		resp.Messages = append(resp.Messages, usecase.NewMessageView(m, h.resolver))
	}
	c.JSON(http.StatusOK, resp)
}

func readUpload(fh *multipart.FileHeader) (usecase.Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return usecase.Upload{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return usecase.Upload{}, err
	}
	return usecase.Upload{
		FileName: fh.Filename,
		MimeType: fh.Header.Get("Content-Type"),
		Data:     data,
	}, nil
}

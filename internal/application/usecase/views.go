package usecase

import (
	"time"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/service"
)

// MessageView is the realtime and REST representation of a message.
type MessageView struct {
	ID          string    `json:"id"`
	TicketID    uint      `json:"ticketId"`
	ContactID   *uint     `json:"contactId,omitempty"`
	QuotedMsgID *string   `json:"quotedMsgId,omitempty"`
	Body        string    `json:"body"`
	MediaType   string    `json:"mediaType"`
	MediaURL    string    `json:"mediaUrl,omitempty"`
	FileName    string    `json:"fileName,omitempty"`
	FromMe      bool      `json:"fromMe"`
	Read        bool      `json:"read"`
	Ack         int       `json:"ack"`
	IsDeleted   bool      `json:"isDeleted"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewMessageView resolves the stored file name to a fetchable URL. A nil
// resolver leaves the stored reference as is.
func NewMessageView(m *entity.Message, resolver service.URLResolver) MessageView {
	mediaURL := m.MediaURL()
	if resolver != nil {
		mediaURL = resolver.Resolve(mediaURL)
	}
	return MessageView{
		ID:          m.ID(),
		TicketID:    m.TicketID(),
		ContactID:   m.ContactID(),
		QuotedMsgID: m.QuotedMsgID(),
		Body:        m.Body(),
		MediaType:   m.MediaType().String(),
		MediaURL:    mediaURL,
		FileName:    m.FileName(),
		FromMe:      m.FromMe(),
		Read:        m.Read(),
		Ack:         int(m.Ack()),
		IsDeleted:   m.IsDeleted(),
		CreatedAt:   m.CreatedAt(),
	}
}

// TicketView 工单视图
type TicketView struct {
	ID             uint      `json:"id"`
	ContactID      uint      `json:"contactId"`
	InstanceID     uint      `json:"whatsappId"`
	Status         string    `json:"status"`
	UnreadMessages int       `json:"unreadMessages"`
	LastMessage    string    `json:"lastMessage"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// NewTicketView 构建工单视图
func NewTicketView(t *entity.Ticket) TicketView {
	return TicketView{
		ID:             t.ID,
		ContactID:      t.ContactID,
		InstanceID:     t.InstanceID,
		Status:         t.Status,
		UnreadMessages: t.UnreadMessages,
		LastMessage:    t.LastMessage,
		UpdatedAt:      t.UpdatedAt,
	}
}

// InstanceView 实例视图。Token 不对外暴露。
type InstanceView struct {
	ID                 uint   `json:"id"`
	Name               string `json:"name"`
	Transport          string `json:"type"`
	Status             string `json:"status"`
	QRCode             string `json:"qrcode,omitempty"`
	Retries            int    `json:"retries"`
	ProviderInstanceID string `json:"providerInstanceId,omitempty"`
}

// NewInstanceView 构建实例视图
func NewInstanceView(i *entity.Instance) InstanceView {
	return InstanceView{
		ID:                 i.ID,
		Name:               i.Name,
		Transport:          i.Transport,
		Status:             i.Status,
		QRCode:             i.QRCode,
		Retries:            i.Retries,
		ProviderInstanceID: i.ProviderInstanceID,
	}
}

// ticketEvent / messageEvent / instanceEvent are the realtime payloads.
type ticketEvent struct {
	Action string     `json:"action"`
	Ticket TicketView `json:"ticket"`
}

type messageEvent struct {
	Action  string      `json:"action"`
	Message MessageView `json:"message"`
}

type instanceEvent struct {
	Action   string       `json:"action"`
	Instance InstanceView `json:"session"`
}

package entity

import (
	"time"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/valueobject"
)

// Message 持久化的消息实体
type Message struct {
	id          string
	ticketID    uint
	contactID   *uint
	quotedMsgID *string
	body        string
	mediaType   valueobject.MessageKind
	mediaURL    string
	fileName    string
	fromMe      bool
	read        bool
	ack         valueobject.AckLevel
	isDeleted   bool
	createdAt   time.Time
}

// MessageParams 创建消息的参数
type MessageParams struct {
	ID          string
	TicketID    uint
	ContactID   *uint
	QuotedMsgID string
	Body        string
	MediaType   valueobject.MessageKind
	MediaURL    string // bare stored file name or caller-hosted URL
	FileName    string
	FromMe      bool
	CreatedAt   time.Time
}

// NewInboundMessage builds a message received through the webhook. Echoes of
// our own sends carry no contact and are already read.
func NewInboundMessage(p MessageParams) (*Message, error) {
	if p.ID == "" {
		return nil, ErrInvalidMessageID
	}
	if p.TicketID == 0 {
		return nil, ErrInvalidTicketID
	}
	m := newMessage(p)
	m.read = p.FromMe
	if p.FromMe {
		m.contactID = nil
	}
	return m, nil
}

// NewOutboundMessage builds a message dispatched by this system under a
// pre-assigned correlation id.
func NewOutboundMessage(p MessageParams) (*Message, error) {
	if p.ID == "" {
		return nil, ErrInvalidMessageID
	}
	if p.TicketID == 0 {
		return nil, ErrInvalidTicketID
	}
	p.FromMe = true
	m := newMessage(p)
	m.read = true
	m.contactID = nil
	m.ack = valueobject.AckSent
	return m, nil
}

func newMessage(p MessageParams) *Message {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	kind := p.MediaType
	if kind == "" {
		kind = valueobject.KindText
	}
	m := &Message{
		id:        p.ID,
		ticketID:  p.TicketID,
		contactID: p.ContactID,
		body:      p.Body,
		mediaType: kind,
		mediaURL:  p.MediaURL,
		fileName:  p.FileName,
		fromMe:    p.FromMe,
		createdAt: createdAt.UTC(),
	}
	if p.QuotedMsgID != "" {
		q := p.QuotedMsgID
		m.quotedMsgID = &q
	}
	return m
}

// ReconstructMessage 重建消息（用于从持久化层恢复）
func ReconstructMessage(
	id string,
	ticketID uint,
	contactID *uint,
	quotedMsgID *string,
	body string,
	mediaType valueobject.MessageKind,
	mediaURL string,
	fileName string,
	fromMe, read bool,
	ack valueobject.AckLevel,
	isDeleted bool,
	createdAt time.Time,
) *Message {
	return &Message{
		id:          id,
		ticketID:    ticketID,
		contactID:   contactID,
		quotedMsgID: quotedMsgID,
		body:        body,
		mediaType:   mediaType,
		mediaURL:    mediaURL,
		fileName:    fileName,
		fromMe:      fromMe,
		read:        read,
		ack:         ack,
		isDeleted:   isDeleted,
		createdAt:   createdAt,
	}
}

func (m *Message) ID() string                         { return m.id }
func (m *Message) TicketID() uint                     { return m.ticketID }
func (m *Message) ContactID() *uint                   { return m.contactID }
func (m *Message) QuotedMsgID() *string               { return m.quotedMsgID }
func (m *Message) Body() string                       { return m.body }
func (m *Message) MediaType() valueobject.MessageKind { return m.mediaType }
func (m *Message) MediaURL() string                   { return m.mediaURL }
func (m *Message) FileName() string                   { return m.fileName }
func (m *Message) FromMe() bool                       { return m.fromMe }
func (m *Message) Read() bool                         { return m.read }
func (m *Message) Ack() valueobject.AckLevel          { return m.ack }
func (m *Message) IsDeleted() bool                    { return m.isDeleted }
func (m *Message) CreatedAt() time.Time               { return m.createdAt }

// HasMedia 是否关联了存储的媒体文件
func (m *Message) HasMedia() bool {
	return m.mediaURL != ""
}

// Summary is the text shown as the ticket's last message.
func (m *Message) Summary() string {
	if m.mediaType == valueobject.KindVoiceNote {
		return VoiceNoteSummary
	}
	if m.body != "" {
		return m.body
	}
	return m.fileName
}

// VoiceNoteSummary is the fixed placeholder used for voice notes.
const VoiceNoteSummary = "🎤 Audio"

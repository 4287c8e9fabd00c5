package entity

import (
	"encoding/json"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/valueobject"
)

// AdaptedMessage is one provider message event in canonical form. It lives
// for a single ingestion call and is never stored.
type AdaptedMessage struct {
	ID           string
	FromMe       bool
	From         valueobject.Address
	Body         string
	Kind         valueobject.MessageKind
	DeclaredType string // provider type string, kept for unknown kinds
	Timestamp    int64  // epoch ms
	DisplayName  string
	Media        *MediaDescriptor
	QuotedID     string
	Raw          json.RawMessage
}

// HasMedia 是否携带媒体
func (m *AdaptedMessage) HasMedia() bool {
	return m.Media != nil
}

// RevocationEvent is a protocol message announcing that a message was deleted.
type RevocationEvent struct {
	TargetID string
	From     valueobject.Address
	FromMe   bool
}

// ReceiptEvent is a read/delivery receipt for one or more messages.
type ReceiptEvent struct {
	MessageIDs []string
	Level      valueobject.AckLevel
	Chat       valueobject.Address
}

// InboundKind classifies a decoded webhook.
type InboundKind int

const (
	InboundIgnored InboundKind = iota
	InboundMessage
	InboundRevocation
	InboundReceipt
)

// InboundEvent is one decoded webhook. Exactly one payload matches Kind.
type InboundEvent struct {
	Kind       InboundKind
	Message    *AdaptedMessage
	Revocation *RevocationEvent
	Receipt    *ReceiptEvent
	Reason     string // why an event was ignored
}

// IgnoredEvent 构造被忽略的事件
func IgnoredEvent(reason string) *InboundEvent {
	return &InboundEvent{Kind: InboundIgnored, Reason: reason}
}

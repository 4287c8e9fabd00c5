package wuzapi

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Webhook event types.
const (
	EventMessage     = "Message"
	EventReadReceipt = "ReadReceipt"
)

// WebhookEnvelope is the top-level webhook body. Inline media arrives in the
// top-level base64/fileName/mimeType fields, not inside event.
type WebhookEnvelope struct {
	Type     string          `json:"type"`
	State    string          `json:"state,omitempty"`
	Event    json.RawMessage `json:"event,omitempty"`
	Base64   string          `json:"base64,omitempty"`
	FileName string          `json:"fileName,omitempty"`
	MimeType string          `json:"mimeType,omitempty"`
}

// MessageEvent is event for type "Message".
type MessageEvent struct {
	Info    MessageInfo    `json:"Info"`
	Message MessagePayload `json:"Message"`
}

// MessageInfo 消息元信息
type MessageInfo struct {
	ID        string    `json:"ID"`
	Chat      string    `json:"Chat"`
	Sender    string    `json:"Sender"`
	SenderAlt string    `json:"SenderAlt"`
	IsFromMe  bool      `json:"IsFromMe"`
	IsGroup   bool      `json:"IsGroup"`
	Type      string    `json:"Type"`
	MediaType string    `json:"MediaType"`
	PushName  string    `json:"PushName"`
	Timestamp Timestamp `json:"Timestamp"`
}

// MessagePayload mirrors the protobuf-JSON message body. Only fields the
// adapter reads are declared.
type MessagePayload struct {
	Conversation        string               `json:"conversation,omitempty"`
	ExtendedTextMessage *ExtendedTextMessage `json:"extendedTextMessage,omitempty"`
	ImageMessage        *MediaMessage        `json:"imageMessage,omitempty"`
	VideoMessage        *MediaMessage        `json:"videoMessage,omitempty"`
	AudioMessage        *MediaMessage        `json:"audioMessage,omitempty"`
	DocumentMessage     *MediaMessage        `json:"documentMessage,omitempty"`
	StickerMessage      *MediaMessage        `json:"stickerMessage,omitempty"`
	ContactMessage      *ContactMessage      `json:"contactMessage,omitempty"`
	LocationMessage     *LocationMessage     `json:"locationMessage,omitempty"`
	ProtocolMessage     *ProtocolMessage     `json:"protocolMessage,omitempty"`
}

// ExtendedTextMessage 带引用/链接预览的文本
type ExtendedTextMessage struct {
	Text        string       `json:"text"`
	ContextInfo *ContextInfo `json:"contextInfo,omitempty"`
}

// ContextInfo carries the quoted message id.
type ContextInfo struct {
	StanzaID string `json:"stanzaId,omitempty"`
}

// MediaMessage covers image/video/audio/document/sticker messages.
type MediaMessage struct {
	URL           string       `json:"URL,omitempty"`
	DirectPath    string       `json:"directPath,omitempty"`
	MediaKey      string       `json:"mediaKey,omitempty"`
	Mimetype      string       `json:"mimetype,omitempty"`
	FileEncSHA256 string       `json:"fileEncSHA256,omitempty"`
	FileSHA256    string       `json:"fileSHA256,omitempty"`
	FileLength    FlexInt      `json:"fileLength,omitempty"`
	Caption       string       `json:"caption,omitempty"`
	FileName      string       `json:"fileName,omitempty"`
	PTT           bool         `json:"PTT,omitempty"`
	ContextInfo   *ContextInfo `json:"contextInfo,omitempty"`
}

// ContactMessage 名片
type ContactMessage struct {
	DisplayName string `json:"displayName"`
	Vcard       string `json:"vcard"`
}

// LocationMessage 位置
type LocationMessage struct {
	DegreesLatitude  float64 `json:"degreesLatitude"`
	DegreesLongitude float64 `json:"degreesLongitude"`
	Name             string  `json:"name,omitempty"`
	Address          string  `json:"address,omitempty"`
}

// ProtocolMessage signals revocation among other control events.
type ProtocolMessage struct {
	Type json.RawMessage `json:"type,omitempty"`
	Key  *MessageKey     `json:"key,omitempty"`
}

// MessageKey accepts both "ID" and "id" spellings.
type MessageKey struct {
	ID        string `json:"ID,omitempty"`
	LowerID   string `json:"id,omitempty"`
	RemoteJID string `json:"remoteJID,omitempty"`
	FromMe    bool   `json:"fromMe,omitempty"`
}

// TargetID 返回被引用消息的ID
func (k *MessageKey) TargetID() string {
	if k == nil {
		return ""
	}
	if k.ID != "" {
		return k.ID
	}
	return k.LowerID
}

// IsRevoke reports whether the protocol message is a REVOKE (type 0, absent
// type, or the enum name).
func (p *ProtocolMessage) IsRevoke() bool {
	if p == nil {
		return false
	}
	raw := bytes.TrimSpace(p.Type)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return true
	}
	if n, err := strconv.Atoi(string(raw)); err == nil {
		return n == 0
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.EqualFold(s, "REVOKE") || s == "0"
	}
	return false
}

// ReceiptEvent is event for type "ReadReceipt".
type ReceiptEvent struct {
	Chat       string    `json:"Chat"`
	Sender     string    `json:"Sender"`
	IsFromMe   bool      `json:"IsFromMe"`
	MessageIDs []string  `json:"MessageIDs"`
	Type       string    `json:"Type"`
	Timestamp  Timestamp `json:"Timestamp"`
}

// Timestamp decodes RFC3339 strings as well as epoch seconds or milliseconds.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if raw == "" || raw == "null" {
		return nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		// 大于 1e12 视为毫秒
		if n > 1_000_000_000_000 {
			t.Time = time.UnixMilli(n)
		} else {
			t.Time = time.Unix(n, 0)
		}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// FlexInt decodes numbers that protobuf-JSON may emit as strings.
type FlexInt int64

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if raw == "" || raw == "null" {
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return err
	}
	*f = FlexInt(n)
	return nil
}

// gatewayResponse is the common envelope of gateway REST replies.
// Some gateway builds answer downloads with a bare top-level Data field.
type gatewayResponse struct {
	Code     int             `json:"code"`
	Success  bool            `json:"success"`
	Error    string          `json:"error,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	RootData json.RawMessage `json:"Data,omitempty"`
}

type sendResponseData struct {
	Details string `json:"Details"`
	ID      string `json:"Id"`
}

type qrResponseData struct {
	QRCode string `json:"QRCode"`
}

type statusResponseData struct {
	Connected bool   `json:"connected"`
	LoggedIn  bool   `json:"loggedIn"`
	JID       string `json:"jid"`
	QRCode    string `json:"qrcode"`
}

// downloadResponseData accepts both data.Data and data.data.Data shapes.
// A root-level Data is carried by gatewayResponse.RootData.
type downloadResponseData struct {
	Data     string `json:"Data"`
	Mimetype string `json:"Mimetype"`
	Inner    *struct {
		Data string `json:"Data"`
	} `json:"data,omitempty"`
}

type adminUserData struct {
	ID    json.RawMessage `json:"id"`
	Token string          `json:"token"`
}

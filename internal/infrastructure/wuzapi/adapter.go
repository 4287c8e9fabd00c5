package wuzapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/valueobject"
)

// Adapter turns raw gateway webhooks into domain events. It never returns an
// error: anything it cannot use becomes a skip with a logged reason, because
// the gateway would otherwise redeliver an unfixable payload forever.
type Adapter struct {
	logger *zap.Logger
}

// NewAdapter 创建 webhook 适配器
func NewAdapter(logger *zap.Logger) *Adapter {
	return &Adapter{
		logger: logger.With(zap.String("component", "wuzapi-adapter")),
	}
}

// skipError is an adaptation skip, not a failure.
type skipError struct {
	reason string
}

func (e *skipError) Error() string { return e.reason }

func skip(format string, args ...any) error {
	return &skipError{reason: fmt.Sprintf(format, args...)}
}

// Decode classifies a webhook body for the router.
func (a *Adapter) Decode(raw []byte) *entity.InboundEvent {
	var env WebhookEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		a.logSkip(skip("malformed webhook body: %v", err))
		return entity.IgnoredEvent("malformed body")
	}

	switch env.Type {
	case EventReadReceipt:
		receipt, err := a.adaptReceipt(&env)
		if err != nil {
			a.logSkip(err)
			return entity.IgnoredEvent(err.Error())
		}
		return &entity.InboundEvent{Kind: entity.InboundReceipt, Receipt: receipt}

	case EventMessage:
		_, evt, err := a.decodeMessage(raw)
		if err != nil {
			a.logSkip(err)
			return entity.IgnoredEvent(err.Error())
		}
		if pm := evt.Message.ProtocolMessage; pm != nil {
			if !pm.IsRevoke() {
				return entity.IgnoredEvent("protocol message is not a revocation")
			}
			rev, err := a.adaptRevocation(evt)
			if err != nil {
				a.logSkip(err)
				return entity.IgnoredEvent(err.Error())
			}
			return &entity.InboundEvent{Kind: entity.InboundRevocation, Revocation: rev}
		}
		msg, err := a.adaptMessage(&env, evt, raw)
		if err != nil {
			a.logSkip(err)
			return entity.IgnoredEvent(err.Error())
		}
		return &entity.InboundEvent{Kind: entity.InboundMessage, Message: msg}
	}

	return entity.IgnoredEvent("unhandled event type " + env.Type)
}

func (a *Adapter) decodeMessage(raw []byte) (*WebhookEnvelope, *MessageEvent, error) {
	var env WebhookEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, skip("malformed webhook body: %v", err)
	}
	if env.Type != EventMessage || len(env.Event) == 0 || string(env.Event) == "null" {
		return nil, nil, skip("not a Message event (type=%q)", env.Type)
	}
	var evt MessageEvent
	if err := json.Unmarshal(env.Event, &evt); err != nil {
		return nil, nil, skip("malformed message event: %v", err)
	}
	if evt.Info.ID == "" || evt.Info.Timestamp.IsZero() {
		return nil, nil, skip("message event missing ID or Timestamp")
	}
	return &env, &evt, nil
}

func (a *Adapter) adaptMessage(env *WebhookEnvelope, evt *MessageEvent, raw []byte) (*entity.AdaptedMessage, error) {
	info := evt.Info
	from, err := valueobject.NormalizeAddress(info.Chat, info.SenderAlt)
	if err != nil {
		if errors.Is(err, valueobject.ErrBroadcastAddress) {
			return nil, skip("broadcast source %s for %s", info.Chat, info.ID)
		}
		return nil, skip("bad chat address %q: %v", info.Chat, err)
	}

	declared := declaredType(info, &evt.Message)
	kind := valueobject.KindFromProvider(declared)
	body, quoted := extractBody(kind, &evt.Message)

	msg := &entity.AdaptedMessage{
		ID:           info.ID,
		FromMe:       info.IsFromMe,
		From:         from,
		Body:         body,
		Kind:         kind,
		DeclaredType: declared,
		Timestamp:    info.Timestamp.UnixMilli(),
		DisplayName:  info.PushName,
		QuotedID:     quoted,
		Raw:          json.RawMessage(raw),
	}

	if kind.IsMedia() {
		media := extractMedia(kind, env, &evt.Message)
		if err := media.Validate(); err != nil {
			return nil, skip("%s message %s carries no usable media payload", kind, info.ID)
		}
		msg.Media = media
	}

	a.logger.Debug("Message adapted",
		zap.String("id", msg.ID),
		zap.String("kind", kind.String()),
		zap.Bool("from_me", msg.FromMe),
	)
	return msg, nil
}

func (a *Adapter) adaptRevocation(evt *MessageEvent) (*entity.RevocationEvent, error) {
	from, err := valueobject.NormalizeAddress(evt.Info.Chat, evt.Info.SenderAlt)
	if err != nil {
		return nil, skip("revocation from unusable address %q: %v", evt.Info.Chat, err)
	}
	target := evt.Message.ProtocolMessage.Key.TargetID()
	if target == "" {
		return nil, skip("revocation %s carries no target id", evt.Info.ID)
	}
	return &entity.RevocationEvent{TargetID: target, From: from, FromMe: evt.Info.IsFromMe}, nil
}

func (a *Adapter) adaptReceipt(env *WebhookEnvelope) (*entity.ReceiptEvent, error) {
	var evt ReceiptEvent
	if len(env.Event) > 0 {
		if err := json.Unmarshal(env.Event, &evt); err != nil {
			return nil, skip("malformed receipt event: %v", err)
		}
	}
	if len(evt.MessageIDs) == 0 {
		return nil, skip("receipt without message ids")
	}
	receiptType := evt.Type
	if receiptType == "" {
		receiptType = env.State
	}
	level, ok := valueobject.AckFromReceipt(receiptType)
	if !ok {
		return nil, skip("unhandled receipt type %q", receiptType)
	}
	// 聊天地址仅用于日志，解析失败不影响回执
	chat, _ := valueobject.NormalizeAddress(evt.Chat, "")
	return &entity.ReceiptEvent{MessageIDs: evt.MessageIDs, Level: level, Chat: chat}, nil
}

func (a *Adapter) logSkip(err error) {
	var s *skipError
	if errors.As(err, &s) {
		a.logger.Info("Webhook event skipped", zap.String("reason", s.reason))
		return
	}
	a.logger.Warn("Webhook event skipped", zap.Error(err))
}

// declaredType resolves the provider type string. "media" defers to
// Info.MediaType, then to whichever media field is present.
func declaredType(info MessageInfo, m *MessagePayload) string {
	t := strings.TrimSpace(info.Type)
	if t == "" {
		return "chat"
	}
	if t != "media" {
		return t
	}
	if info.MediaType != "" {
		return info.MediaType
	}
	switch {
	case m.ImageMessage != nil:
		return "image"
	case m.VideoMessage != nil:
		return "video"
	case m.AudioMessage != nil:
		if m.AudioMessage.PTT {
			return "ptt"
		}
		return "audio"
	case m.DocumentMessage != nil:
		return "document"
	case m.StickerMessage != nil:
		return "sticker"
	case m.ContactMessage != nil:
		return "vcard"
	case m.LocationMessage != nil:
		return "location"
	}
	return t
}

// extractBody applies the one extraction rule for each kind.
func extractBody(kind valueobject.MessageKind, m *MessagePayload) (body, quoted string) {
	switch kind {
	case valueobject.KindText:
		if m.Conversation != "" {
			return m.Conversation, ""
		}
		if ext := m.ExtendedTextMessage; ext != nil {
			return ext.Text, stanzaID(ext.ContextInfo)
		}
	case valueobject.KindImage:
		return captionOf(m.ImageMessage)
	case valueobject.KindVideo:
		return captionOf(m.VideoMessage)
	case valueobject.KindDocument:
		return captionOf(m.DocumentMessage)
	case valueobject.KindAudio, valueobject.KindVoiceNote:
		return "", quotedOf(m.AudioMessage)
	case valueobject.KindSticker:
		return "", quotedOf(m.StickerMessage)
	case valueobject.KindContactCard:
		if m.ContactMessage != nil {
			return m.ContactMessage.Vcard, ""
		}
	case valueobject.KindLocation:
		if loc := m.LocationMessage; loc != nil {
			return fmt.Sprintf("%g,%g", loc.DegreesLatitude, loc.DegreesLongitude), ""
		}
	}
	return "", ""
}

func captionOf(mm *MediaMessage) (string, string) {
	if mm == nil {
		return "", ""
	}
	return mm.Caption, stanzaID(mm.ContextInfo)
}

func quotedOf(mm *MediaMessage) string {
	if mm == nil {
		return ""
	}
	return stanzaID(mm.ContextInfo)
}

func stanzaID(ci *ContextInfo) string {
	if ci == nil {
		return ""
	}
	return ci.StanzaID
}

// extractMedia picks the remote reference for videos that carry one, else the
// inline top-level payload. Never both.
func extractMedia(kind valueobject.MessageKind, env *WebhookEnvelope, m *MessagePayload) *entity.MediaDescriptor {
	if kind == valueobject.KindVideo && m.VideoMessage != nil && m.VideoMessage.URL != "" {
		v := m.VideoMessage
		return &entity.MediaDescriptor{Remote: &entity.RemoteMedia{
			URL:           v.URL,
			DirectPath:    v.DirectPath,
			MediaKey:      v.MediaKey,
			Mimetype:      v.Mimetype,
			FileEncSHA256: v.FileEncSHA256,
			FileSHA256:    v.FileSHA256,
			FileLength:    int64(v.FileLength),
			FileName:      env.FileName,
		}}
	}

	data := stripDataURI(env.Base64)
	if data == "" {
		return &entity.MediaDescriptor{}
	}
	mime := env.MimeType
	if m.AudioMessage != nil && m.AudioMessage.Mimetype != "" {
		mime = m.AudioMessage.Mimetype
	}
	if mime == "" {
		mime = mediaMime(kind, m)
	}
	name := env.FileName
	if name == "" && m.DocumentMessage != nil {
		name = m.DocumentMessage.FileName
	}
	return &entity.MediaDescriptor{Inline: &entity.InlineMedia{
		Data:     data,
		FileName: name,
		MimeType: mime,
	}}
}

func mediaMime(kind valueobject.MessageKind, m *MessagePayload) string {
	var mm *MediaMessage
	switch kind {
	case valueobject.KindImage:
		mm = m.ImageMessage
	case valueobject.KindVideo:
		mm = m.VideoMessage
	case valueobject.KindDocument:
		mm = m.DocumentMessage
	case valueobject.KindSticker:
		mm = m.StickerMessage
	}
	if mm == nil {
		return ""
	}
	return mm.Mimetype
}

// stripDataURI removes a "data:<mime>;base64," prefix if present.
func stripDataURI(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			return s[i+1:]
		}
	}
	return s
}

package wuzapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/valueobject"
)

func newTestAdapter() *Adapter {
	return NewAdapter(zap.NewNop())
}

// chatMessage decodes raw and returns the chat message, or nil when the
// event is anything else.
func chatMessage(a *Adapter, raw []byte) *entity.AdaptedMessage {
	evt := a.Decode(raw)
	if evt == nil || evt.Kind != entity.InboundMessage {
		return nil
	}
	return evt.Message
}

func TestDecode_TextMessage(t *testing.T) {
	raw := []byte(`{"type":"Message","event":{"Info":{"ID":"ABC123","Chat":"5511999@s.whatsapp.net","Type":"text","Timestamp":"2024-01-01T00:00:00Z"},"Message":{"conversation":"hello"}}}`)

	msg := chatMessage(newTestAdapter(), raw)
	require.NotNil(t, msg)

	assert.Equal(t, "ABC123", msg.ID)
	assert.Equal(t, "hello", msg.Body)
	assert.False(t, msg.FromMe)
	assert.Equal(t, valueobject.KindText, msg.Kind)
	assert.Equal(t, valueobject.Address("5511999@c.us"), msg.From)
	assert.Equal(t, int64(1704067200000), msg.Timestamp)
	assert.Nil(t, msg.Media)
}

func TestDecode_ExtendedTextWithQuote(t *testing.T) {
	raw := []byte(`{"type":"Message","event":{"Info":{"ID":"Q1","Chat":"5511999@s.whatsapp.net","Type":"text","PushName":"Ana","Timestamp":"2024-01-01T00:00:00Z"},"Message":{"extendedTextMessage":{"text":"re: hi","contextInfo":{"stanzaId":"ORIG"}}}}}`)

	msg := chatMessage(newTestAdapter(), raw)
	require.NotNil(t, msg)
	assert.Equal(t, "re: hi", msg.Body)
	assert.Equal(t, "ORIG", msg.QuotedID)
	assert.Equal(t, "Ana", msg.DisplayName)
}

func TestDecode_LinkedIdentifierUsesAlternate(t *testing.T) {
	raw := []byte(`{"type":"Message","event":{"Info":{"ID":"L1","Chat":"8888@lid","SenderAlt":"5511999@s.whatsapp.net","Type":"text","Timestamp":"2024-01-01T00:00:00Z"},"Message":{"conversation":"x"}}}`)

	msg := chatMessage(newTestAdapter(), raw)
	require.NotNil(t, msg)
	assert.Equal(t, valueobject.Address("5511999@c.us"), msg.From)
}

func TestDecode_Skips(t *testing.T) {
	cases := map[string]string{
		"broadcast":       `{"type":"Message","event":{"Info":{"ID":"B1","Chat":"status@broadcast","Type":"text","Timestamp":"2024-01-01T00:00:00Z"},"Message":{"conversation":"x"}}}`,
		"not a message":   `{"type":"Presence","event":{}}`,
		"missing id":      `{"type":"Message","event":{"Info":{"Chat":"1@s.whatsapp.net","Timestamp":"2024-01-01T00:00:00Z"},"Message":{}}}`,
		"missing ts":      `{"type":"Message","event":{"Info":{"ID":"X","Chat":"1@s.whatsapp.net"},"Message":{}}}`,
		"malformed":       `{"type":"Message","event":`,
		"no event":        `{"type":"Message"}`,
		"media w/o bytes": `{"type":"Message","event":{"Info":{"ID":"M1","Chat":"1@s.whatsapp.net","Type":"media","MediaType":"image","Timestamp":"2024-01-01T00:00:00Z"},"Message":{"imageMessage":{"caption":"c"}}}}`,
	}
	a := newTestAdapter()
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Nil(t, chatMessage(a, []byte(raw)))
		})
	}
}

func TestDecode_InlineAudio(t *testing.T) {
	raw := []byte(`{"type":"Message","base64":"T2dnUw==","fileName":"voice.ogg","mimeType":"audio/ogg","event":{"Info":{"ID":"A1","Chat":"5511999@s.whatsapp.net","Type":"media","MediaType":"ptt","IsFromMe":true,"Timestamp":"1704067200"},"Message":{"audioMessage":{"mimetype":"audio/ogg; codecs=opus","PTT":true}}}}`)

	msg := chatMessage(newTestAdapter(), raw)
	require.NotNil(t, msg)
	assert.Equal(t, valueobject.KindVoiceNote, msg.Kind)
	assert.True(t, msg.FromMe)
	assert.Equal(t, int64(1704067200000), msg.Timestamp)
	require.NotNil(t, msg.Media)
	require.NoError(t, msg.Media.Validate())
	assert.Equal(t, "T2dnUw==", msg.Media.Inline.Data)
	assert.Equal(t, "audio/ogg; codecs=opus", msg.Media.Inline.MimeType)
	assert.Nil(t, msg.Media.Remote)
}

func TestDecode_RemoteVideoWinsOverInline(t *testing.T) {
	raw := []byte(`{"type":"Message","base64":"AAAA","fileName":"clip.mp4","mimeType":"video/mp4","event":{"Info":{"ID":"V1","Chat":"5511999@s.whatsapp.net","Type":"media","MediaType":"video","Timestamp":"2024-01-01T00:00:00Z"},"Message":{"videoMessage":{"URL":"https://mmg.example/v","directPath":"/v/t62","mediaKey":"k","mimetype":"video/mp4","fileLength":"2048","caption":"look"}}}}`)

	msg := chatMessage(newTestAdapter(), raw)
	require.NotNil(t, msg)
	assert.Equal(t, "look", msg.Body)
	require.NotNil(t, msg.Media.Remote)
	assert.Nil(t, msg.Media.Inline)
	assert.Equal(t, int64(2048), msg.Media.Remote.FileLength)
	assert.Equal(t, "clip.mp4", msg.Media.Remote.FileName)
}

func TestDecode_UnknownTypePassesThrough(t *testing.T) {
	raw := []byte(`{"type":"Message","event":{"Info":{"ID":"R1","Chat":"1@s.whatsapp.net","Type":"reaction","Timestamp":"2024-01-01T00:00:00Z"},"Message":{}}}`)

	msg := chatMessage(newTestAdapter(), raw)
	require.NotNil(t, msg)
	assert.Equal(t, valueobject.KindUnknown, msg.Kind)
	assert.Equal(t, "reaction", msg.DeclaredType)
	assert.Equal(t, "", msg.Body)
}

func TestDecode_Revocation(t *testing.T) {
	a := newTestAdapter()

	raw := []byte(`{"type":"Message","event":{"Info":{"ID":"P1","Chat":"5511999@s.whatsapp.net","Type":"text","Timestamp":"2024-01-01T00:00:00Z"},"Message":{"protocolMessage":{"type":0,"key":{"ID":"GONE"}}}}}`)
	evt := a.Decode(raw)
	require.Equal(t, entity.InboundRevocation, evt.Kind)
	assert.Equal(t, "GONE", evt.Revocation.TargetID)

	lower := []byte(`{"type":"Message","event":{"Info":{"ID":"P2","Chat":"5511999@s.whatsapp.net","Timestamp":"2024-01-01T00:00:00Z"},"Message":{"protocolMessage":{"type":"REVOKE","key":{"id":"GONE2"}}}}}`)
	evt = a.Decode(lower)
	require.Equal(t, entity.InboundRevocation, evt.Kind)
	assert.Equal(t, "GONE2", evt.Revocation.TargetID)

	other := []byte(`{"type":"Message","event":{"Info":{"ID":"P3","Chat":"5511999@s.whatsapp.net","Timestamp":"2024-01-01T00:00:00Z"},"Message":{"protocolMessage":{"type":14,"key":{"ID":"E"}}}}}`)
	assert.Equal(t, entity.InboundIgnored, a.Decode(other).Kind)

	// 协议消息不会被当成聊天消息
	assert.Nil(t, chatMessage(a, raw))
	assert.Nil(t, chatMessage(a, other))
}

func TestDecode_Receipt(t *testing.T) {
	raw := []byte(`{"type":"ReadReceipt","state":"Read","event":{"Chat":"5511999@s.whatsapp.net","MessageIDs":["m1","m2"],"Type":"read"}}`)

	evt := newTestAdapter().Decode(raw)
	require.Equal(t, entity.InboundReceipt, evt.Kind)
	assert.Equal(t, []string{"m1", "m2"}, evt.Receipt.MessageIDs)
	assert.Equal(t, valueobject.AckRead, evt.Receipt.Level)
}

func TestDecode_UnknownType(t *testing.T) {
	evt := newTestAdapter().Decode([]byte(`{"type":"ChatPresence","event":{}}`))
	assert.Equal(t, entity.InboundIgnored, evt.Kind)
	assert.NotEmpty(t, evt.Reason)
}

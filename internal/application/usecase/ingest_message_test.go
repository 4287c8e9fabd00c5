package usecase_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/service"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/valueobject"
)

const helloPayload = `{"type":"Message","event":{"Info":{"ID":"ABC123","Chat":"5511999@s.whatsapp.net","Type":"text","Timestamp":"2024-01-01T00:00:00Z"},"Message":{"conversation":"hello"}}}`

func textPayload(id, body string, fromMe bool) []byte {
	return []byte(fmt.Sprintf(
		`{"type":"Message","event":{"Info":{"ID":%q,"Chat":"5511999@s.whatsapp.net","Type":"text","IsFromMe":%t,"PushName":"Ana","Timestamp":"2024-01-01T00:00:00Z"},"Message":{"conversation":%q}}}`,
		id, fromMe, body,
	))
}

func TestIngest_TextMessageScenario(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.router.Handle(f.ctx, f.instance.ID, []byte(helloPayload)))

	msg, err := f.messages.FindByID(f.ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Body())
	assert.False(t, msg.FromMe())
	assert.Equal(t, valueobject.KindText, msg.MediaType())
	assert.True(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Equal(msg.CreatedAt()))
	require.NotNil(t, msg.ContactID())

	ticket, err := f.tickets.FindByID(f.ctx, msg.TicketID())
	require.NoError(t, err)
	assert.Equal(t, entity.TicketPending, ticket.Status)
	assert.Equal(t, 1, ticket.UnreadMessages)
	assert.Equal(t, "hello", ticket.LastMessage)

	assert.Len(t, f.notifier.find(entity.TicketPending, service.EventTicketUpdate), 1)
	created := f.notifier.find(ticket.MessageChannel(), service.EventMessageCreate)
	require.Len(t, created, 1)
	assert.Equal(t, int32(1), f.observer.webhooks.Load())
	assert.Equal(t, int32(1), f.observer.ingested.Load())
}

func TestIngest_DuplicateDeliveryIsNoOp(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.router.Handle(f.ctx, f.instance.ID, []byte(helloPayload)))
	require.NoError(t, f.router.Handle(f.ctx, f.instance.ID, []byte(helloPayload)))

	msg, err := f.messages.FindByID(f.ctx, "ABC123")
	require.NoError(t, err)
	list, err := f.messages.ListByTicket(f.ctx, msg.TicketID(), 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, int32(1), f.observer.duplicates.Load())

	// 重复投递不再增加未读
	ticket, err := f.tickets.FindByID(f.ctx, msg.TicketID())
	require.NoError(t, err)
	assert.Equal(t, 1, ticket.UnreadMessages)
}

func TestIngest_ConcurrentDuplicatesPersistOnce(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.router.Handle(f.ctx, f.instance.ID, []byte(helloPayload))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	msg, err := f.messages.FindByID(f.ctx, "ABC123")
	require.NoError(t, err)
	list, err := f.messages.ListByTicket(f.ctx, msg.TicketID(), 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, int32(1), f.observer.ingested.Load())
	assert.Equal(t, int32(7), f.observer.duplicates.Load())
}

func TestIngest_FromMeEcho(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.router.Handle(f.ctx, f.instance.ID, textPayload("OUT1", "sent from phone", true)))

	msg, err := f.messages.FindByID(f.ctx, "OUT1")
	require.NoError(t, err)
	assert.True(t, msg.FromMe())
	assert.True(t, msg.Read())
	assert.Nil(t, msg.ContactID())

	ticket, err := f.tickets.FindByID(f.ctx, msg.TicketID())
	require.NoError(t, err)
	assert.Equal(t, 0, ticket.UnreadMessages)
}

func TestIngest_FarewellEchoSuppressed(t *testing.T) {
	f := newFixture(t)
	f.instance.FarewellMessage = "Bye {{number}}"
	require.NoError(t, f.instances.Save(f.ctx, f.instance))

	require.NoError(t, f.router.Handle(f.ctx, f.instance.ID, textPayload("BYE1", "Bye 5511999", true)))

	exists, err := f.messages.Exists(f.ctx, "BYE1")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Empty(t, f.notifier.find(entity.TicketPending, service.EventTicketUpdate))

	// 联系人发来的同样文本照常处理
	require.NoError(t, f.router.Handle(f.ctx, f.instance.ID, textPayload("BYE2", "Bye 5511999", false)))
	exists, err = f.messages.Exists(f.ctx, "BYE2")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestIngest_InlineOggIsTranscoded(t *testing.T) {
	f := newFixture(t)
	raw := []byte(`{"type":"Message","base64":"T2dnUw==","fileName":"voice.ogg","mimeType":"audio/ogg","event":{"Info":{"ID":"A1","Chat":"5511999@s.whatsapp.net","Type":"media","MediaType":"ptt","Timestamp":"1704067200"},"Message":{"audioMessage":{"mimetype":"audio/ogg; codecs=opus","PTT":true}}}}`)

	require.NoError(t, f.router.Handle(f.ctx, f.instance.ID, raw))

	msg, err := f.messages.FindByID(f.ctx, "A1")
	require.NoError(t, err)
	// 保留网关声明的种类
	assert.Equal(t, valueobject.KindVoiceNote, msg.MediaType())
	assert.True(t, strings.HasSuffix(msg.MediaURL(), ".mp4"))
	assert.NotContains(t, msg.MediaURL(), "/")
	assert.Equal(t, []string{msg.MediaURL()}, f.storedFiles(t))

	ticket, err := f.tickets.FindByID(f.ctx, msg.TicketID())
	require.NoError(t, err)
	assert.Equal(t, entity.VoiceNoteSummary, ticket.LastMessage)

	created := f.notifier.find(ticket.MessageChannel(), service.EventMessageCreate)
	require.Len(t, created, 1)
	view := fmt.Sprintf("%+v", created[0].Payload)
	assert.Contains(t, view, publicBase+"/public/")
}

func TestIngest_TranscodeFailureKeepsOriginal(t *testing.T) {
	f := newFixture(t)
	f.transcoder.fail = true
	raw := []byte(`{"type":"Message","base64":"T2dnUw==","fileName":"voice.ogg","mimeType":"audio/ogg","event":{"Info":{"ID":"A2","Chat":"5511999@s.whatsapp.net","Type":"media","MediaType":"audio","Timestamp":"1704067200"},"Message":{"audioMessage":{"mimetype":"audio/ogg"}}}}`)

	require.NoError(t, f.router.Handle(f.ctx, f.instance.ID, raw))

	msg, err := f.messages.FindByID(f.ctx, "A2")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(msg.MediaURL(), ".ogg"))
	assert.Equal(t, []string{msg.MediaURL()}, f.storedFiles(t))
}

func TestIngest_SenderGivesUpDuringTranscode(t *testing.T) {
	f := newSQLiteFixture(t)
	ctx, cancel := context.WithCancel(f.ctx)
	defer cancel()
	f.transcoder.before = cancel
	f.transcoder.fail = true
	raw := []byte(`{"type":"Message","base64":"T2dnUw==","fileName":"voice.ogg","mimeType":"audio/ogg","event":{"Info":{"ID":"A3","Chat":"5511999@s.whatsapp.net","Type":"media","MediaType":"ptt","Timestamp":"1704067200"},"Message":{"audioMessage":{"mimetype":"audio/ogg; codecs=opus","PTT":true}}}}`)

	require.NoError(t, f.router.Handle(ctx, f.instance.ID, raw))
	assert.Error(t, ctx.Err())

	msg, err := f.messages.FindByID(f.ctx, "A3")
	require.NoError(t, err)
	assert.Equal(t, valueobject.KindVoiceNote, msg.MediaType())
	assert.True(t, strings.HasSuffix(msg.MediaURL(), ".ogg"))
	assert.Equal(t, []string{msg.MediaURL()}, f.storedFiles(t))
}

func TestIngest_MediaFailureDropsMessage(t *testing.T) {
	f := newFixture(t)
	raw := []byte(`{"type":"Message","event":{"Info":{"ID":"V1","Chat":"5511999@s.whatsapp.net","Type":"media","MediaType":"video","Timestamp":"2024-01-01T00:00:00Z"},"Message":{"videoMessage":{"URL":"https://mmg.example/v","directPath":"/v/t62","mediaKey":"k","mimetype":"video/mp4"}}}}`)

	require.NoError(t, f.router.Handle(f.ctx, f.instance.ID, raw))

	exists, err := f.messages.Exists(f.ctx, "V1")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, int32(1), f.observer.mediaFailures.Load())
	assert.Empty(t, f.storedFiles(t))
}

func TestIngest_UnsupportedKindDropped(t *testing.T) {
	f := newFixture(t)
	raw := []byte(`{"type":"Message","event":{"Info":{"ID":"R1","Chat":"5511999@s.whatsapp.net","Type":"reaction","Timestamp":"2024-01-01T00:00:00Z"},"Message":{}}}`)

	require.NoError(t, f.router.Handle(f.ctx, f.instance.ID, raw))

	exists, err := f.messages.Exists(f.ctx, "R1")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, int32(1), f.observer.skips.Load())
}

func TestIngest_ExecuteDirectly(t *testing.T) {
	f := newFixture(t)
	addr, err := valueobject.NormalizeAddress("5511777@s.whatsapp.net", "")
	require.NoError(t, err)

	msg := &entity.AdaptedMessage{
		ID:          "D1",
		From:        addr,
		Body:        "-23.5,-46.6",
		Kind:        valueobject.KindLocation,
		Timestamp:   1704067200000,
		DisplayName: "Bruno",
		QuotedID:    "ABC123",
	}
	require.NoError(t, f.ingest.Execute(f.ctx, f.instance, msg))

	stored, err := f.messages.FindByID(f.ctx, "D1")
	require.NoError(t, err)
	require.NotNil(t, stored.QuotedMsgID())
	assert.Equal(t, "ABC123", *stored.QuotedMsgID())

	contact, err := f.contacts.FindByID(f.ctx, *stored.ContactID())
	require.NoError(t, err)
	assert.Equal(t, "Bruno", contact.Name)
	assert.Equal(t, "5511777", contact.Number)
}

package usecase_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/service"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/valueobject"
	domainErrors "github.com/ngoclaw/ngoclaw/wabridge/pkg/errors"
)

func TestRouter_UnknownInstance(t *testing.T) {
	f := newFixture(t)
	err := f.router.Handle(f.ctx, 999, []byte(helloPayload))
	assert.True(t, domainErrors.IsNotFound(err))
}

func TestRouter_LegacyTransportRejected(t *testing.T) {
	f := newFixture(t)
	legacy, err := entity.NewInstance("legacy", entity.TransportWWebJS, "")
	require.NoError(t, err)
	require.NoError(t, f.instances.Create(f.ctx, legacy))

	err = f.router.Handle(f.ctx, legacy.ID, []byte(helloPayload))
	assert.True(t, domainErrors.IsUnsupportedTransport(err))
	assert.Equal(t, int32(0), f.observer.webhooks.Load())
}

func TestRouter_IgnoredPayloadsAreAcknowledged(t *testing.T) {
	f := newFixture(t)
	payloads := []string{
		`not json`,
		`{"type":"ChatPresence","event":{}}`,
		`{"type":"Message","event":{"Info":{"ID":"B1","Chat":"status@broadcast","Type":"text","Timestamp":"2024-01-01T00:00:00Z"},"Message":{"conversation":"x"}}}`,
	}
	for _, p := range payloads {
		assert.NoError(t, f.router.Handle(f.ctx, f.instance.ID, []byte(p)), p)
	}
	assert.Equal(t, int32(len(payloads)), f.observer.skips.Load())
	assert.Equal(t, int32(0), f.observer.ingested.Load())
}

func TestRouter_RevocationOfMissingMessageIsNoOp(t *testing.T) {
	f := newFixture(t)
	raw := []byte(`{"type":"Message","event":{"Info":{"ID":"P1","Chat":"5511999@s.whatsapp.net","Timestamp":"2024-01-01T00:00:00Z"},"Message":{"protocolMessage":{"type":0,"key":{"ID":"NOPE"}}}}}`)

	require.NoError(t, f.router.Handle(f.ctx, f.instance.ID, raw))

	exists, err := f.messages.Exists(f.ctx, "NOPE")
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = f.messages.Exists(f.ctx, "P1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRouter_RevocationMarksDeleted(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.router.Handle(f.ctx, f.instance.ID, []byte(helloPayload)))
	raw := []byte(`{"type":"Message","event":{"Info":{"ID":"P2","Chat":"5511999@s.whatsapp.net","Timestamp":"2024-01-01T00:00:01Z"},"Message":{"protocolMessage":{"type":"REVOKE","key":{"id":"ABC123"}}}}}`)

	require.NoError(t, f.router.Handle(f.ctx, f.instance.ID, raw))

	msg, err := f.messages.FindByID(f.ctx, "ABC123")
	require.NoError(t, err)
	assert.True(t, msg.IsDeleted())
	assert.Equal(t, "hello", msg.Body())
	assert.Len(t, f.notifier.find(entity.TicketChannel(msg.TicketID()), service.EventMessageUpdate), 1)
}

func TestRouter_ReadReceipt(t *testing.T) {
	f := newFixture(t)
	ticket := f.openTicket(t, "5511999", "Ana")
	sent, err := f.dispatch.Execute(f.ctx, usecaseText(ticket.ID, "hi"))
	require.NoError(t, err)
	id := sent[0].ID()

	receipt := []byte(`{"type":"ReadReceipt","state":"Read","event":{"Chat":"5511999@s.whatsapp.net","MessageIDs":["` + id + `","MISSING"],"Type":"read"}}`)
	require.NoError(t, f.router.Handle(f.ctx, f.instance.ID, receipt))

	msg, err := f.messages.FindByID(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, valueobject.AckRead, msg.Ack())
	assert.Len(t, f.notifier.find(ticket.MessageChannel(), service.EventMessageUpdate), 1)

	// 较低级别的回执不会回退
	delivered := []byte(`{"type":"ReadReceipt","event":{"Chat":"5511999@s.whatsapp.net","MessageIDs":["` + id + `"],"Type":"delivered"}}`)
	require.NoError(t, f.router.Handle(f.ctx, f.instance.ID, delivered))
	msg, err = f.messages.FindByID(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, valueobject.AckRead, msg.Ack())
}

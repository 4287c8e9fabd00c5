package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/repository"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/service"
	domainErrors "github.com/ngoclaw/ngoclaw/wabridge/pkg/errors"
)

// IngestMessageUseCase persists one adapted inbound message exactly once and
// attaches it to its contact and ticket.
type IngestMessageUseCase struct {
	messages repository.MessageRepository
	contacts service.ContactService
	tickets  service.TicketService
	media    service.MediaMaterializer
	store    service.FileStore
	resolver service.URLResolver
	notifier service.Notifier
	observer service.PipelineObserver
	logger   *zap.Logger
}

// NewIngestMessageUseCase 创建入站消息用例
func NewIngestMessageUseCase(
	messages repository.MessageRepository,
	contacts service.ContactService,
	tickets service.TicketService,
	media service.MediaMaterializer,
	store service.FileStore,
	resolver service.URLResolver,
	notifier service.Notifier,
	observer service.PipelineObserver,
	logger *zap.Logger,
) *IngestMessageUseCase {
	if observer == nil {
		observer = service.NoOpObserver{}
	}
	return &IngestMessageUseCase{
		messages: messages,
		contacts: contacts,
		tickets:  tickets,
		media:    media,
		store:    store,
		resolver: resolver,
		notifier: notifier,
		observer: observer,
		logger:   logger.With(zap.String("component", "ingest")),
	}
}

// Execute ingests msg for instance. Unsupported kinds, duplicates, farewell
// echoes and undownloadable media return nil. Storage failures are returned.
func (uc *IngestMessageUseCase) Execute(ctx context.Context, instance *entity.Instance, msg *entity.AdaptedMessage) error {
	log := uc.logger.With(
		zap.Uint("instance_id", instance.ID),
		zap.String("message_id", msg.ID),
		zap.String("kind", msg.Kind.String()),
	)

	if !msg.Kind.Supported() {
		log.Debug("Unsupported message kind dropped", zap.String("declared", msg.DeclaredType))
		uc.observer.AdaptationSkipped()
		return nil
	}

	// 重复投递和自身发送的回显在下载媒体之前就被吸收
	exists, err := uc.messages.Exists(ctx, msg.ID)
	if err != nil {
		return err
	}
	if exists {
		log.Debug("Duplicate message absorbed")
		uc.observer.DuplicateAbsorbed()
		return nil
	}

	name := msg.DisplayName
	if msg.FromMe {
		// PushName is our own name on echoes
		name = ""
	}
	contact, err := uc.contacts.FindOrCreate(ctx, msg.From.Number(), name, msg.From.IsGroup())
	if err != nil {
		return err
	}

	unread := 1
	if msg.FromMe {
		unread = 0
	}

	if unread == 0 && instance.FarewellMessage != "" && contact.Render(instance.FarewellMessage) == msg.Body {
		log.Debug("Farewell echo suppressed")
		return nil
	}

	ticket, err := uc.tickets.FindOrCreate(ctx, contact, instance.ID, unread)
	if err != nil {
		return err
	}

	contactID := contact.ID
	params := entity.MessageParams{
		ID:          msg.ID,
		TicketID:    ticket.ID,
		ContactID:   &contactID,
		QuotedMsgID: msg.QuotedID,
		Body:        msg.Body,
		MediaType:   msg.Kind,
		FromMe:      msg.FromMe,
		CreatedAt:   time.UnixMilli(msg.Timestamp),
	}

	var stored string
	if msg.HasMedia() {
		media, err := uc.media.Materialize(ctx, service.EndpointFor(instance), msg.Media)
		if err != nil {
			if domainErrors.IsMediaDownload(err) {
				log.Error("Media could not be materialized, message dropped", zap.Error(err))
				uc.observer.MediaFailed()
				return nil
			}
			return err
		}
		stored = media.StoredFileName
		params.MediaURL = stored
		params.FileName = msg.Media.OriginalName()
		if params.FileName == "" {
			params.FileName = stored
		}
	}

	message, err := entity.NewInboundMessage(params)
	if err != nil {
		uc.discard(stored)
		return domainErrors.NewInvalidInputError(err.Error())
	}

	inserted, err := uc.messages.CreateIfAbsent(ctx, message)
	if err != nil {
		uc.discard(stored)
		return err
	}
	if !inserted {
		// 并发的重复投递先一步写入
		log.Debug("Duplicate message absorbed on insert")
		uc.discard(stored)
		uc.observer.DuplicateAbsorbed()
		return nil
	}

	if err := uc.tickets.UpdateLastMessage(ctx, ticket, message.Summary()); err != nil {
		log.Warn("Failed to update ticket summary", zap.Error(err))
	}

	uc.observer.MessageIngested()
	uc.notifier.Notify(ticket.Channel(), service.EventTicketUpdate, ticketEvent{Action: "update", Ticket: NewTicketView(ticket)})
	uc.notifier.Notify(ticket.MessageChannel(), service.EventMessageCreate, messageEvent{Action: "create", Message: NewMessageView(message, uc.resolver)})

	log.Info("Message ingested",
		zap.Uint("ticket_id", ticket.ID),
		zap.Bool("from_me", msg.FromMe),
		zap.Bool("media", stored != ""),
	)
	return nil
}

func (uc *IngestMessageUseCase) discard(stored string) {
	if stored == "" || uc.store == nil {
		return
	}
	if err := uc.store.Remove(stored); err != nil {
		uc.logger.Warn("Failed to remove orphaned media", zap.String("file", stored), zap.Error(err))
	}
}

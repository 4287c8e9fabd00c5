package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/repository"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/service"
)

// MessageEventsUseCase applies receipts and revocations to stored messages.
// A missing target is never an error: receipts and deletions can arrive
// before the message row.
type MessageEventsUseCase struct {
	messages repository.MessageRepository
	resolver service.URLResolver
	notifier service.Notifier
	logger   *zap.Logger
}

// NewMessageEventsUseCase 创建消息状态用例
func NewMessageEventsUseCase(
	messages repository.MessageRepository,
	resolver service.URLResolver,
	notifier service.Notifier,
	logger *zap.Logger,
) *MessageEventsUseCase {
	return &MessageEventsUseCase{
		messages: messages,
		resolver: resolver,
		notifier: notifier,
		logger:   logger.With(zap.String("component", "message-events")),
	}
}

// ApplyReceipt raises the ack level of every referenced message.
func (uc *MessageEventsUseCase) ApplyReceipt(ctx context.Context, receipt *entity.ReceiptEvent) error {
	for _, id := range receipt.MessageIDs {
		changed, err := uc.messages.UpdateAck(ctx, id, receipt.Level)
		if err != nil {
			return err
		}
		if !changed {
			uc.logger.Debug("Receipt without effect",
				zap.String("message_id", id),
				zap.Int("ack", int(receipt.Level)),
			)
			continue
		}
		uc.publishUpdate(ctx, id)
	}
	return nil
}

// ApplyRevocation marks the referenced message deleted.
func (uc *MessageEventsUseCase) ApplyRevocation(ctx context.Context, rev *entity.RevocationEvent) error {
	changed, err := uc.messages.MarkDeleted(ctx, rev.TargetID)
	if err != nil {
		return err
	}
	if !changed {
		uc.logger.Debug("Revocation target not found", zap.String("message_id", rev.TargetID))
		return nil
	}
	uc.logger.Info("Message marked deleted", zap.String("message_id", rev.TargetID))
	uc.publishUpdate(ctx, rev.TargetID)
	return nil
}

func (uc *MessageEventsUseCase) publishUpdate(ctx context.Context, id string) {
	message, err := uc.messages.FindByID(ctx, id)
	if err != nil {
		uc.logger.Warn("Updated message not readable", zap.String("message_id", id), zap.Error(err))
		return
	}
	uc.notifier.Notify(
		entity.TicketChannel(message.TicketID()),
		service.EventMessageUpdate,
		messageEvent{Action: "update", Message: NewMessageView(message, uc.resolver)},
	)
}

package repository

import (
	"context"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/valueobject"
)

// MessageRepository 消息仓储接口
type MessageRepository interface {
	// CreateIfAbsent inserts the message unless one with the same id exists.
	// It reports whether a row was inserted. Must be atomic at the storage layer.
	CreateIfAbsent(ctx context.Context, message *entity.Message) (bool, error)

	// FindByID 根据ID查找消息
	FindByID(ctx context.Context, id string) (*entity.Message, error)

	// Exists 消息是否已存在
	Exists(ctx context.Context, id string) (bool, error)

	// MarkDeleted sets isDeleted. Returns false when no row matched.
	MarkDeleted(ctx context.Context, id string) (bool, error)

	// UpdateAck raises the ack level (never lowers it) and sets read when the
	// level implies it. Returns false when no row was changed.
	UpdateAck(ctx context.Context, id string, level valueobject.AckLevel) (bool, error)

	// ListByTicket 按工单列出消息（按创建时间升序）
	ListByTicket(ctx context.Context, ticketID uint, limit, offset int) ([]*entity.Message, error)
}

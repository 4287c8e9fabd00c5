package repository

import (
	"context"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/entity"
)

// ContactRepository 联系人仓储接口
type ContactRepository interface {
	// FindOrCreate returns the contact with this number, creating it atomically.
	FindOrCreate(ctx context.Context, contact *entity.Contact) (*entity.Contact, error)
	FindByID(ctx context.Context, id uint) (*entity.Contact, error)
}

// TicketRepository 工单仓储接口
type TicketRepository interface {
	// FindActive returns the newest non-closed ticket for (contact, instance).
	FindActive(ctx context.Context, contactID, instanceID uint) (*entity.Ticket, error)
	Create(ctx context.Context, ticket *entity.Ticket) error
	FindByID(ctx context.Context, id uint) (*entity.Ticket, error)
	// AddUnread increments the unread counter by n.
	AddUnread(ctx context.Context, id uint, n int) error
	UpdateLastMessage(ctx context.Context, id uint, summary string) error
}

// InstanceRepository 实例仓储接口
type InstanceRepository interface {
	Create(ctx context.Context, instance *entity.Instance) error
	Save(ctx context.Context, instance *entity.Instance) error
	FindByID(ctx context.Context, id uint) (*entity.Instance, error)
	List(ctx context.Context) ([]*entity.Instance, error)
	Delete(ctx context.Context, id uint) error
}
